// Package transport provides the byte-level connection between the driver
// and a physical modem: a blocking write of a byte buffer, a nonblocking
// "how many bytes are available / read one" pair used by the response
// parser's polling matchers, and a small clock abstraction used for deadline
// arithmetic and poll back-off.
package transport

import "time"

// Port is the byte transport consumed by the rest of the driver. Writes are
// all-or-nothing at the logical level: a short write from the underlying
// device is retried internally until every byte has been written or an
// error occurs. Reads are nonblocking: Available reports how many bytes are
// already buffered and ReadByte pops one of them, returning ok=false if none
// are ready yet. Callers that need to wait for more bytes do so by polling,
// sleeping between attempts via the Clock.
type Port interface {
	// Write writes all of p to the device, blocking until complete or an
	// error occurs.
	Write(p []byte) error

	// Available returns the number of bytes currently buffered and ready
	// to be read without blocking.
	Available() int

	// ReadByte returns the next buffered byte. ok is false if no byte is
	// currently available.
	ReadByte() (b byte, ok bool)

	// Close releases the underlying device.
	Close() error
}

// Clock provides the monotonic time source used for slot deadlines and the
// poll back-off used while waiting for bytes to arrive. Tests substitute a
// fake clock to make timeout behaviour deterministic.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the default Clock, backed by the standard library.
type SystemClock struct{}

// Now returns the current time. time.Time differences are monotonic as long
// as both values come from time.Now, which satisfies the "monotonic
// millisecond clock" requirement without needing a dedicated clock source.
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep blocks for d.
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// PollInterval bounds how long a polling read waits between unsuccessful
// attempts to pull a byte off the transport. The spec calls for "a polling
// strategy (<= 50ms sleep)"; 10ms keeps line reads and slot timeouts
// reasonably tight while not busy-spinning.
const PollInterval = 10 * time.Millisecond
