package driver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/vnet-iot/g350modem/cmdtable"
	"github.com/vnet-iot/g350modem/transport"
)

// queuePort backs a transport.MockPort's Available/ReadByte/Close
// expectations with a byte queue, the same shape as fakePort but driven
// through gomock so the ordering/call-count assertions below come from the
// mock's own bookkeeping rather than hand-rolled counters.
type queuePort struct {
	mu      sync.Mutex
	pending []byte
}

func (q *queuePort) feed(s string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, s...)
}

func (q *queuePort) available() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *queuePort) readByte() (byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return 0, false
	}
	b := q.pending[0]
	q.pending = q.pending[1:]
	return b, true
}

// TestDriverURCMidCommandUsesExactlyOneWrite uses a gomock.Controller-backed
// transport.MockPort to verify the property §5 calls out: a URC arriving
// between the header and payload of a command response must be dispatched
// without corrupting the pending slot, and - the part a hand fake can't
// assert as directly - the arbiter must not have re-sent or retried the
// command to recover from it. Exactly one Write call for the command body
// is expected regardless of how many lines the reader classifies while
// draining the response.
func TestDriverURCMidCommandUsesExactlyOneWrite(t *testing.T) {
	ctrl := gomock.NewController(t)
	q := &queuePort{}
	port := transport.NewMockPort(ctrl)

	port.EXPECT().Write(gomock.Any()).Return(nil).Times(1)
	port.EXPECT().Available().DoAndReturn(q.available).AnyTimes()
	port.EXPECT().ReadByte().DoAndReturn(q.readByte).AnyTimes()
	port.EXPECT().Close().Return(nil).AnyTimes()

	d := New(port)
	d.Start()
	t.Cleanup(d.Stop)

	ctx := context.Background()
	s, err := d.Command(ctx, "+CSQ", "+CSQ?", cmdtable.ParamThenOK, 1, time.Second)
	require.NoError(t, err)

	// The +CMTI URC lands between the command echo and the +CSQ response
	// line; it must be dispatched as a URC, not mistaken for the slot's
	// expected parameter line.
	q.feed("AT+CSQ?\r\r\n+CMTI: \"ME\",3\r\n+CSQ: 15,99\r\nOK\r\n")

	require.NoError(t, s.Wait(ctx))
	assert.Equal(t, []string{"15,99"}, s.Info())
	assert.Equal(t, 1, d.PendingSMS())
	d.Release(s)
}
