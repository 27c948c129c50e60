package atwire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// queueSource is a Source backed by a byte queue, for feeding a Parser
// deterministically in tests.
type queueSource struct {
	q []byte
}

func (s *queueSource) push(b []byte) { s.q = append(s.q, b...) }

func (s *queueSource) Available() int { return len(s.q) }

func (s *queueSource) ReadByte() (byte, bool) {
	if len(s.q) == 0 {
		return 0, false
	}
	b := s.q[0]
	s.q = s.q[1:]
	return b, true
}

// fakeClock advances virtual time on Sleep instead of actually blocking, so
// timeout tests run instantly.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func TestParserMatchByteAndCommit(t *testing.T) {
	src := &queueSource{}
	src.push([]byte("OK\r\n"))
	p := NewParser(src, newFakeClock())

	assert.NoError(t, p.MatchLiteral(100, "OK"))
	assert.NoError(t, p.MatchEOL(100))
	matched := p.Commit()
	assert.Equal(t, "OK\r\n", string(matched))
	assert.Equal(t, 0, src.Available())
}

func TestParserAbortPreservesBytes(t *testing.T) {
	src := &queueSource{}
	src.push([]byte("ERROR\r\n"))
	p := NewParser(src, newFakeClock())

	err := p.MatchLiteral(100, "OK")
	assert.ErrorIs(t, err, ErrNoMatch)
	p.Abort()

	// the same bytes are visible to a fresh attempt.
	line, err := p.MatchLine(100)
	assert.NoError(t, err)
	assert.Equal(t, "ERROR", line)
}

func TestParserReadTimeoutRollsBack(t *testing.T) {
	src := &queueSource{}
	p := NewParser(src, newFakeClock())
	_, err := p.MatchUint(50)
	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.Equal(t, 0, p.index)
}

func TestParserIntRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 42, -42, 1234567, -1234567}
	for _, v := range values {
		b := &buf{}
		w := NewWriter(b)
		w.Int(v, 0, false)
		assert.NoError(t, w.Err())

		src := &queueSource{}
		src.push(b.b)
		p := NewParser(src, newFakeClock())
		got, err := p.MatchInt(0)
		assert.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestParserHexRoundTrip(t *testing.T) {
	b := &buf{}
	w := NewWriter(b)
	w.Hex(0xCAFEBABE, 0)
	src := &queueSource{}
	src.push(b.b)
	p := NewParser(src, newFakeClock())
	got, err := p.MatchHex(0)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0xCAFEBABE), got)
}

func TestParserQuotedEscaped(t *testing.T) {
	src := &queueSource{}
	src.push([]byte(`"he said \"hi\""` + "rest"))
	p := NewParser(src, newFakeClock())
	s, err := p.MatchQuoted(0, '\\')
	assert.NoError(t, err)
	assert.Equal(t, `he said "hi"`, s)
}

func TestParserClassMatchesRange(t *testing.T) {
	src := &queueSource{}
	src.push([]byte("a9Z"))
	p := NewParser(src, newFakeClock())
	b, err := p.MatchClass(0, "a-z")
	assert.NoError(t, err)
	assert.Equal(t, byte('a'), b)
	_, err = p.MatchClass(0, "a-z")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestParserClassNegate(t *testing.T) {
	src := &queueSource{}
	src.push([]byte("x"))
	p := NewParser(src, newFakeClock())
	b, err := p.MatchClass(0, "^0-9")
	assert.NoError(t, err)
	assert.Equal(t, byte('x'), b)
}

func TestParserFlushDiscardsAvailable(t *testing.T) {
	src := &queueSource{}
	src.push([]byte("garbage\r\n"))
	p := NewParser(src, newFakeClock())
	p.Flush()
	assert.Equal(t, 0, src.Available())
	assert.Equal(t, 0, p.count)
}

func TestParserMatchLineStopsAtCRLF(t *testing.T) {
	src := &queueSource{}
	src.push([]byte("+USOCR: 0\r\nOK\r\n"))
	p := NewParser(src, newFakeClock())
	line, err := p.MatchLine(0)
	assert.NoError(t, err)
	assert.Equal(t, "+USOCR: 0", line)
	p.Commit()
	line, err = p.MatchLine(0)
	assert.NoError(t, err)
	assert.Equal(t, "OK", line)
}

func TestParserOverflow(t *testing.T) {
	src := &queueSource{}
	long := make([]byte, MaxLineLen+10)
	for i := range long {
		long[i] = 'a'
	}
	src.push(long)
	p := NewParser(src, newFakeClock())
	_, err := p.MatchLine(0)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestArgParserCommaSeparatedTuple(t *testing.T) {
	p := NewArgParser(`0,4,"1.2.3.4",9999`)
	sock, err := p.MatchUint(0)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), sock)
	assert.NoError(t, p.Comma(0))
	n, err := p.MatchUint(0)
	assert.NoError(t, err)
	assert.Equal(t, uint64(4), n)
	assert.NoError(t, p.Comma(0))
	addr, err := p.QuotedToken(0)
	assert.NoError(t, err)
	assert.Equal(t, "1.2.3.4", addr)
	assert.NoError(t, p.Comma(0))
	port, err := p.MatchUint(0)
	assert.NoError(t, err)
	assert.Equal(t, uint64(9999), port)
}

func TestArgParserOptionalEmptyField(t *testing.T) {
	p := NewArgParser(`1,,`)
	stat, err := p.MatchUint(0)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), stat)
	assert.NoError(t, p.Comma(0))
	lac, err := p.RawToken(0)
	assert.NoError(t, err)
	assert.Equal(t, "", lac)
	assert.NoError(t, p.Comma(0))
	ci, err := p.RawToken(0)
	assert.NoError(t, err)
	assert.Equal(t, "", ci)
}

func TestTrimArgPrefix(t *testing.T) {
	line, ok := TrimArgPrefix("+USOCR: 0", "+USOCR")
	assert.True(t, ok)
	assert.Equal(t, "0", line)
	_, ok = TrimArgPrefix("OK", "+USOCR")
	assert.False(t, ok)
}
