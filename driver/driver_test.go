package driver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnet-iot/g350modem/cmdtable"
)

// fakePort is an in-memory transport.Port: writes are captured for
// assertions, reads are served from a byte queue tests Feed into. Grounded
// on the teacher's at_test.go mockModem, generalized to the Port
// Available/ReadByte polling shape this port uses instead of an io.Reader.
type fakePort struct {
	mu      sync.Mutex
	pending []byte
	written []byte
	closed  bool
}

func (f *fakePort) Feed(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, s...)
}

func (f *fakePort) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	return nil
}

func (f *fakePort) Available() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *fakePort) ReadByte() (byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, false
	}
	b := f.pending[0]
	f.pending = f.pending[1:]
	return b, true
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePort) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.written)
}

func newTestDriver(t *testing.T) (*Driver, *fakePort) {
	t.Helper()
	p := &fakePort{}
	d := New(p)
	d.Start()
	t.Cleanup(d.Stop)
	return d, p
}

func TestDriverSimpleCommandOK(t *testing.T) {
	d, p := newTestDriver(t)
	ctx := context.Background()

	s, err := d.Command(ctx, "+CSQ", "+CSQ?", cmdtable.ParamThenOK, 1, time.Second)
	require.NoError(t, err)
	p.Feed("AT+CSQ?\r\r\n+CSQ: 23,99\r\nOK\r\n")
	require.NoError(t, s.Wait(ctx))
	assert.Equal(t, []string{"23,99"}, s.Info())
	d.Release(s)
}

func TestDriverOKBeforeExpectedLineIsParseError(t *testing.T) {
	d, p := newTestDriver(t)
	ctx := context.Background()

	s, err := d.Command(ctx, "+CSQ", "+CSQ?", cmdtable.ParamThenOK, 1, time.Second)
	require.NoError(t, err)
	p.Feed("AT+CSQ?\r\r\nOK\r\n")
	err = s.Wait(ctx)
	require.Equal(t, ErrParse, err)
	assert.Empty(t, s.Info())
	d.Release(s)
}

func TestDriverSMSListingToleratesOKWithoutLines(t *testing.T) {
	d, p := newTestDriver(t)
	ctx := context.Background()

	s, err := d.Command(ctx, "+CMGL", `+CMGL="ALL"`, cmdtable.Raw, -1, time.Second)
	require.NoError(t, err)
	p.Feed("AT+CMGL=\"ALL\"\r\r\nOK\r\n")
	require.NoError(t, s.Wait(ctx))
	assert.Empty(t, s.Info())
	d.Release(s)
}

func TestDriverCMEError(t *testing.T) {
	d, p := newTestDriver(t)
	ctx := context.Background()

	s, err := d.Command(ctx, "+USOCR", "+USOCR=6", cmdtable.ParamThenOK, 1, time.Second)
	require.NoError(t, err)
	p.Feed("AT+USOCR=6\r\r\n+CME ERROR: 8\r\n")
	err = s.Wait(ctx)
	require.Error(t, err)
	cme, ok := err.(CMEError)
	require.True(t, ok)
	assert.Equal(t, "8", string(cme))
	d.Release(s)
}

func TestDriverBareErrorLine(t *testing.T) {
	d, p := newTestDriver(t)
	ctx := context.Background()

	s, err := d.Command(ctx, "+CPIN", "+CPIN?", cmdtable.ParamThenOK, 1, time.Second)
	require.NoError(t, err)
	p.Feed("AT+CPIN?\r\r\nERROR\r\n")
	err = s.Wait(ctx)
	assert.Equal(t, ErrError, err)
	d.Release(s)
}

func TestDriverSlotTimeout(t *testing.T) {
	d, p := newTestDriver(t)
	_ = p
	ctx := context.Background()

	s, err := d.Command(ctx, "+CSQ", "+CSQ?", cmdtable.ParamThenOK, 1, 50*time.Millisecond)
	require.NoError(t, err)
	err = s.Wait(ctx)
	assert.Equal(t, ErrTimeout, err)
	d.Release(s)
}

func TestDriverArbiterSerializesCommands(t *testing.T) {
	d, p := newTestDriver(t)
	ctx := context.Background()

	s1, err := d.Command(ctx, "+CSQ", "+CSQ?", cmdtable.ParamThenOK, 1, time.Second)
	require.NoError(t, err)

	acquired := make(chan struct{})
	var s2 *Slot
	go func() {
		var err error
		s2, err = d.Command(ctx, "+CIMI", "+CIMI", cmdtable.ParamThenOK, 1, time.Second)
		require.NoError(t, err)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second command acquired the slot while the first was still outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	p.Feed("AT+CSQ?\r\r\n+CSQ: 10,99\r\nOK\r\n")
	require.NoError(t, s1.Wait(ctx))
	d.Release(s1)

	<-acquired
	p.Feed("AT+CIMI\r\r\n+CIMI: 001010123456789\r\nOK\r\n")
	require.NoError(t, s2.Wait(ctx))
	assert.Equal(t, []string{"001010123456789"}, s2.Info())
	d.Release(s2)
}

func TestDriverURCDispatchedWithoutDisturbingSlot(t *testing.T) {
	d, p := newTestDriver(t)
	ctx := context.Background()

	s, err := d.Command(ctx, "+CSQ", "+CSQ?", cmdtable.ParamThenOK, 1, time.Second)
	require.NoError(t, err)
	p.Feed("AT+CSQ?\r\r\n+CMTI: \"ME\",3\r\n+CSQ: 15,99\r\nOK\r\n")
	require.NoError(t, s.Wait(ctx))
	assert.Equal(t, []string{"15,99"}, s.Info())
	assert.Equal(t, 1, d.PendingSMS())
	d.Release(s)

	d.ConsumeSMSIndication()
	assert.Equal(t, 0, d.PendingSMS())
}

func TestDriverRegistrationURCUpdatesNetState(t *testing.T) {
	d, p := newTestDriver(t)
	ctx := context.Background()

	s, err := d.Command(ctx, "E", "E0", cmdtable.OnlyOK, 0, time.Second)
	require.NoError(t, err)
	p.Feed("ATE0\r\r\n+CREG: 1,\"1A2B\",\"0102\"\r\nOK\r\n")
	require.NoError(t, s.Wait(ctx))
	d.Release(s)

	assert.Equal(t, RegRegistered, d.Net.Registered())
	lac, ci := d.Net.Cell()
	assert.Equal(t, "1A2B", lac)
	assert.Equal(t, "0102", ci)
}

func TestDriverCommandWithPromptWritesPayload(t *testing.T) {
	d, p := newTestDriver(t)
	ctx := context.Background()

	s, err := d.CommandWithPrompt(ctx, "+CMGS", `+CMGS="+15551234567"`, time.Second)
	require.NoError(t, err)
	p.Feed("AT+CMGS=\"+15551234567\"\r\r\n> ")

	require.NoError(t, d.SendPrompt(ctx, s, []byte("hello"), 0x1a, true))
	p.Feed("\r\n+CMGS: 12\r\nOK\r\n")
	require.NoError(t, s.Wait(ctx))
	d.Release(s)

	assert.Contains(t, p.Written(), "hello")
	assert.Contains(t, p.Written(), string(rune(0x1a)))
}

func TestDriverStopFailsOutstandingSlot(t *testing.T) {
	p := &fakePort{}
	d := New(p)
	d.Start()
	ctx := context.Background()

	s, err := d.Command(ctx, "+CSQ", "+CSQ?", cmdtable.ParamThenOK, 1, 5*time.Second)
	require.NoError(t, err)
	d.Stop()
	err = s.Wait(ctx)
	assert.Equal(t, ErrClosed, err)
}

func TestDriverNotRunningRejectsCommand(t *testing.T) {
	p := &fakePort{}
	d := New(p)
	ctx := context.Background()

	_, err := d.Command(ctx, "+CSQ", "+CSQ?", cmdtable.ParamThenOK, 1, time.Second)
	assert.Equal(t, ErrNotRunning, err)
}
