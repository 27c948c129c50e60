package atwire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type buf struct {
	b       []byte
	failAt  int // fail on the n'th write (0 = never)
	writeNo int
}

func (b *buf) Write(p []byte) error {
	b.writeNo++
	if b.failAt != 0 && b.writeNo == b.failAt {
		return errors.New("write failed")
	}
	b.b = append(b.b, p...)
	return nil
}

func TestWriterCommand(t *testing.T) {
	b := &buf{}
	w := NewWriter(b)
	w.Command("+USOCR").Byte('=').Uint(17, 0).EOL()
	assert.NoError(t, w.Err())
	assert.Equal(t, "AT+USOCR=17\r\n", string(b.b))
}

func TestWriterIntWidthAndSign(t *testing.T) {
	patterns := []struct {
		name      string
		v         int64
		width     int
		forceSign bool
		want      string
	}{
		{"zero", 0, 0, false, "0"},
		{"negative", -5, 0, false, "-5"},
		{"positive forced", 5, 0, true, "+5"},
		{"padded", 7, 3, false, "007"},
		{"padded negative", -7, 3, false, "-007"},
	}
	for _, p := range patterns {
		t.Run(p.name, func(t *testing.T) {
			b := &buf{}
			w := NewWriter(b)
			w.Int(p.v, p.width, p.forceSign)
			assert.NoError(t, w.Err())
			assert.Equal(t, p.want, string(b.b))
		})
	}
}

func TestWriterHexUppercasePadded(t *testing.T) {
	b := &buf{}
	w := NewWriter(b)
	w.Hex(0xbeef, 8)
	assert.NoError(t, w.Err())
	assert.Equal(t, "0000BEEF", string(b.b))
}

func TestWriterQuotedStringEscaping(t *testing.T) {
	b := &buf{}
	w := NewWriter(b)
	w.QuotedString(`he said "hi" \o/`)
	assert.NoError(t, w.Err())
	assert.Equal(t, `"he said \"hi\" \\o/"`, string(b.b))
}

func TestWriterStickyErrorShortCircuits(t *testing.T) {
	b := &buf{failAt: 1}
	w := NewWriter(b)
	w.Command("+USOCR").Byte('=').Uint(17, 0).EOL()
	assert.Error(t, w.Err())
	assert.Empty(t, b.b)
}

func TestWriterPrintf(t *testing.T) {
	b := &buf{}
	w := NewWriter(b)
	w.Printf("AT+USOST=%d,%q,%u,%u,%q\r\n", int64(0), "8.8.8.8", uint64(53), uint64(4), "DEADBEEF")
	assert.NoError(t, w.Err())
	assert.Equal(t, `AT+USOST=0,"8.8.8.8",53,4,"DEADBEEF"`+"\r\n", string(b.b))
}

func TestWriterPrintfBadVerb(t *testing.T) {
	b := &buf{}
	w := NewWriter(b)
	w.Printf("%z", 1)
	assert.Error(t, w.Err())
}

func TestWriterPrintfTooFewArgs(t *testing.T) {
	b := &buf{}
	w := NewWriter(b)
	w.Printf("%d,%d", int64(1))
	assert.Error(t, w.Err())
}

func TestWriterReset(t *testing.T) {
	b := &buf{failAt: 1}
	w := NewWriter(b)
	w.Byte('a')
	assert.Error(t, w.Err())
	w.Reset()
	assert.NoError(t, w.Err())
}
