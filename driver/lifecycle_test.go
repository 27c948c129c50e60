package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initSteps is the wire-command/response sequence Init issues, in order,
// used to drive a scripted Init against fakePort. The +GMR response body is
// unrecognized on purpose (ignored per spec); the +CSCA? response exercises
// the cached service-center-address read.
var initSteps = []struct{ cmd, resp string }{
	{"E0", "ATE0\r\r\nOK\r\n"},
	{"+GMR", "AT+GMR\r\r\nu-blox AG - www.u-blox.com\r\nOK\r\n"},
	{"+CMEE=2", "AT+CMEE=2\r\r\nOK\r\n"},
	{"+CMER=2,0,0,2,1", "AT+CMER=2,0,0,2,1\r\r\nOK\r\n"},
	{"+UDCONF=1,1", "AT+UDCONF=1,1\r\r\nOK\r\n"},
	{"+CREG=2", "AT+CREG=2\r\r\nOK\r\n"},
	{"+CGREG=2", "AT+CGREG=2\r\r\nOK\r\n"},
	{"+CMGF=1", "AT+CMGF=1\r\r\nOK\r\n"},
	{`+CSCS="IRA"`, "AT+CSCS=\"IRA\"\r\r\nOK\r\n"},
	{"+CSCA?", "AT+CSCA?\r\r\n+CSCA: \"+12065551234\",145\r\nOK\r\n"},
	{"+CNMI=2,1,0,0,0", "AT+CNMI=2,1,0,0,0\r\r\nOK\r\n"},
}

func TestInitRunsFullStartupSequence(t *testing.T) {
	d, p := newTestDriver(t)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- d.Init(ctx, PinConfig{})
	}()

	prevLen := 0
	for _, step := range initSteps {
		require.Eventually(t, func() bool {
			return len(p.Written()) > prevLen
		}, time.Second, time.Millisecond, "timed out waiting for %s to be written", step.cmd)
		prevLen = len(p.Written())
		p.Feed(step.resp)
	}

	require.NoError(t, <-done)
	assert.Equal(t, "+12065551234", d.SCA())
}
