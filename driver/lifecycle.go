package driver

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/vnet-iot/g350modem/atwire"
	"github.com/vnet-iot/g350modem/cmdtable"
)

// PinConfig names the physical resources this driver instance is bound to.
// The pins themselves (power-sequencing GPIOs, flow control) are an
// external collaborator this driver does not drive directly - they are
// recorded here purely so a caller's error reporting can identify which
// physical modem a failure came from.
type PinConfig struct {
	SerialUnit int
	TX, RX     int
	DTR, RTS   int
	PowerOn    int
	Reset      int
	// ErrorKind is an opaque tag the caller supplies and gets back
	// attached to initialization failures, so a host embedding multiple
	// modems can tell them apart without this package knowing anything
	// about the host's error model.
	ErrorKind interface{}
}

// InitError wraps a life-cycle failure with the PinConfig.ErrorKind tag
// supplied at construction, per the spec's "only the life-cycle control
// functions return hard-initialization failures to the caller".
type InitError struct {
	Kind interface{}
	Err  error
}

func (e *InitError) Error() string { return e.Err.Error() }
func (e *InitError) Unwrap() error { return e.Err }

const initCmdTimeout = 2 * time.Second

// Init runs the driver's minimal startup configuration sequence: disable
// echo, probe the firmware version (ignored), enable verbose errors and
// mobile-termination event reporting, switch socket payloads to hex
// framing, enable registration URCs, select SMS text mode and the IRA
// character set, read and cache the SMS service-center address, and enable
// new-message indications.
func (d *Driver) Init(ctx context.Context, pins PinConfig) error {
	cmds := []struct {
		id, cmd string
		shape   cmdtable.Shape
		n       int
	}{
		{"E", "E0", cmdtable.OnlyOK, 0},
		{"+GMR", "+GMR", cmdtable.OnlyOK, 0},
		{"+CMEE", "+CMEE=2", cmdtable.OnlyOK, 0},
		{"+CMER", "+CMER=2,0,0,2,1", cmdtable.OnlyOK, 0},
		{"+UDCONF", "+UDCONF=1,1", cmdtable.OnlyOK, 0},
		{"+CREG", "+CREG=2", cmdtable.OnlyOK, 0},
		{"+CGREG", "+CGREG=2", cmdtable.OnlyOK, 0},
		{"+CMGF", "+CMGF=1", cmdtable.OnlyOK, 0},
		{"+CSCS", `+CSCS="IRA"`, cmdtable.OnlyOK, 0},
	}
	for _, c := range cmds {
		if _, err := d.runSimple(ctx, c.id, c.cmd, c.shape, c.n); err != nil {
			return &InitError{Kind: pins.ErrorKind, Err: errors.WithMessage(err, "driver: init "+c.cmd)}
		}
	}
	if err := d.readSCA(ctx); err != nil {
		return &InitError{Kind: pins.ErrorKind, Err: errors.WithMessage(err, "driver: init +CSCA?")}
	}
	if _, err := d.runSimple(ctx, "+CNMI", "+CNMI=2,1,0,0,0", cmdtable.OnlyOK, 0); err != nil {
		return &InitError{Kind: pins.ErrorKind, Err: errors.WithMessage(err, "driver: init +CNMI=2,1,0,0,0")}
	}
	return nil
}

// readSCA reads the SMS service-center address (+CSCA?) and caches it,
// using the same quoted-token shape gsm.Client.SCA parses.
func (d *Driver) readSCA(ctx context.Context) error {
	info, err := d.runSimple(ctx, "+CSCA", "+CSCA?", cmdtable.ParamThenOK, 1)
	if err != nil {
		return err
	}
	if len(info) == 0 {
		return errors.WithMessage(ErrParse, "no response line")
	}
	p := atwire.NewArgParser(info[0])
	sca, err := p.QuotedToken(0)
	if err != nil {
		return errors.WithMessage(ErrParse, "malformed +CSCA response")
	}
	d.SetSCA(sca)
	return nil
}

// runSimple issues cmd and waits for completion, discarding any info lines;
// used by the life-cycle sequences where only success/failure matters.
func (d *Driver) runSimple(ctx context.Context, cmdID, cmd string, shape cmdtable.Shape, expected int) ([]string, error) {
	s, err := d.Command(ctx, cmdID, cmd, shape, expected, initCmdTimeout)
	if err != nil {
		return nil, err
	}
	defer d.Release(s)
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	return s.Info(), nil
}

// Shutdown runs the driver's shutdown sequence: probe the modem with ATE0,
// and if it responds, request minimum functionality (+CFUN=0) before
// stopping the I/O loop. Probe failures are tolerated - the modem may
// already be unresponsive - and shutdown proceeds regardless.
func (d *Driver) Shutdown(ctx context.Context) {
	if d.Running() {
		if _, err := d.runSimple(ctx, "E", "E0", cmdtable.OnlyOK, 0); err == nil {
			_, _ = d.runSimple(ctx, "+CFUN", "+CFUN=0", cmdtable.OnlyOK, 0)
		}
	}
	d.Stop()
}
