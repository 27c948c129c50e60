package transport

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeDevice is a minimal rwc used to drive SerialPort without real hardware.
type fakeDevice struct {
	toRead  chan []byte
	written chan []byte
	closed  bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{toRead: make(chan []byte, 16), written: make(chan []byte, 16)}
}

func (f *fakeDevice) Read(p []byte) (int, error) {
	b, ok := <-f.toRead
	if !ok {
		return 0, io.EOF
	}
	n := copy(p, b)
	return n, nil
}

func (f *fakeDevice) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	f.written <- cp
	return len(p), nil
}

func (f *fakeDevice) Close() error {
	if !f.closed {
		f.closed = true
		close(f.toRead)
	}
	return nil
}

func TestSerialPortReadsAreNonblocking(t *testing.T) {
	dev := newFakeDevice()
	p := newSerialPort(dev)
	defer p.Close()

	b, ok := p.ReadByte()
	assert.False(t, ok)
	assert.Equal(t, byte(0), b)
	assert.Equal(t, 0, p.Available())

	dev.toRead <- []byte("OK")
	assert.Eventually(t, func() bool { return p.Available() == 2 }, time.Second, time.Millisecond)

	b, ok = p.ReadByte()
	assert.True(t, ok)
	assert.Equal(t, byte('O'), b)
	b, ok = p.ReadByte()
	assert.True(t, ok)
	assert.Equal(t, byte('K'), b)
	_, ok = p.ReadByte()
	assert.False(t, ok)
}

func TestSerialPortWriteDeliversAllBytes(t *testing.T) {
	dev := newFakeDevice()
	p := newSerialPort(dev)
	defer p.Close()

	err := p.Write([]byte("AT\r\n"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("AT\r\n"), <-dev.written)
}

type errDevice struct{}

func (errDevice) Read(p []byte) (int, error)  { return 0, io.EOF }
func (errDevice) Write(p []byte) (int, error) { return 0, errors.New("write failed") }
func (errDevice) Close() error                { return nil }

func TestSerialPortWriteError(t *testing.T) {
	p := newSerialPort(errDevice{})
	defer p.Close()
	err := p.Write([]byte("AT\r\n"))
	assert.Error(t, err)
}
