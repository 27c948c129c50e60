package transport

import (
	"sync"

	"github.com/tarm/serial"
)

// SerialPort is a Port backed by a physical UART, opened via tarm/serial.
//
// A background goroutine continuously drains the OS file descriptor into an
// internal byte buffer so that Available/ReadByte can be nonblocking, the
// same producer/consumer shape the teacher's at.go used for its line reader
// goroutine, just operating a byte at a time instead of a line at a time.
type SerialPort struct {
	port rwc

	mu     sync.Mutex
	rx     []byte
	err    error
	closed chan struct{}
}

// this indirection exists solely so tests can substitute a plain
// io.ReadWriteCloser without pulling in the real serial.Port type.
type rwc interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Option configures Open.
type Option func(*config)

type config struct {
	name string
	baud int
}

// WithPort sets the OS device path, e.g. "/dev/ttyUSB0".
func WithPort(name string) Option {
	return func(c *config) { c.name = name }
}

// WithBaud sets the baud rate.
func WithBaud(baud int) Option {
	return func(c *config) { c.baud = baud }
}

// Open opens a serial device and returns a Port ready for use by the driver.
func Open(opts ...Option) (*SerialPort, error) {
	c := config{baud: 115200}
	for _, opt := range opts {
		opt(&c)
	}
	p, err := serial.OpenPort(&serial.Config{Name: c.name, Baud: c.baud})
	if err != nil {
		return nil, err
	}
	return newSerialPort(p), nil
}

func newSerialPort(rw rwc) *SerialPort {
	p := &SerialPort{port: rw, closed: make(chan struct{})}
	go p.pump()
	return p
}

// pump is the sole reader of the underlying device; it feeds bytes into the
// internal buffer that Available/ReadByte drain from.
func (p *SerialPort) pump() {
	buf := make([]byte, 256)
	for {
		n, err := p.port.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.rx = append(p.rx, buf[:n]...)
			p.mu.Unlock()
		}
		if err != nil {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			close(p.closed)
			return
		}
	}
}

// Write writes all of b to the device, retrying partial writes.
func (p *SerialPort) Write(b []byte) error {
	for len(b) > 0 {
		n, err := p.port.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Available returns the number of bytes buffered and ready to read.
func (p *SerialPort) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rx)
}

// ReadByte pops the next buffered byte, if any.
func (p *SerialPort) ReadByte() (byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rx) == 0 {
		return 0, false
	}
	b := p.rx[0]
	p.rx = p.rx[1:]
	return b, true
}

// Close releases the underlying device.
func (p *SerialPort) Close() error {
	return p.port.Close()
}
