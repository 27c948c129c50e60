package atwire

import "time"

// SliceSource adapts a fixed in-memory byte slice to the Source interface,
// for parsing argument tuples already captured by a slot (e.g. the text
// after "+USORF: " in a collected response line) with the same matcher
// vocabulary used for the live transport.
type SliceSource struct {
	b   []byte
	pos int
}

// NewSliceSource wraps s for reading.
func NewSliceSource(s []byte) *SliceSource {
	return &SliceSource{b: s}
}

// Available returns the number of unread bytes remaining in the slice.
func (s *SliceSource) Available() int {
	return len(s.b) - s.pos
}

// ReadByte returns the next byte, or ok=false once the slice is exhausted.
func (s *SliceSource) ReadByte() (byte, bool) {
	if s.pos >= len(s.b) {
		return 0, false
	}
	b := s.b[s.pos]
	s.pos++
	return b, true
}

// instantClock never sleeps: a SliceSource never produces more bytes no
// matter how long a Parser waits, so there is no point blocking at all. A
// Parser reading a SliceSource should always use a timeout of 0, which
// instantClock also accepts for convenience should one be needed.
type instantClock struct{}

func (instantClock) Now() time.Time      { return time.Time{} }
func (instantClock) Sleep(time.Duration) {}

// NewArgParser returns a Parser over line, suitable for parsing
// comma/EOL-delimited argument tuples out of an already-received response
// line. Every matcher call against it should use a timeout of 0: the
// underlying bytes are already all present, so either a match succeeds
// immediately or it never will.
func NewArgParser(line string) *Parser {
	return NewParser(NewSliceSource([]byte(line)), instantClock{})
}
