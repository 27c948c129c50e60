// Package gsm provides the thin, high-level façades over the driver's
// slot/writer/parser primitives described in spec §4.9: network info, DNS,
// operator selection, RTC, SIM identity, and the u-blox configuration
// accessors the original driver exposed one-command-per-accessor. Every
// operation follows the same shape: acquire a slot, send, wait, parse the
// slot's reply with atwire's argument primitives, release.
//
// Grounded on the teacher's gsm.go (decorator-over-AT pattern) and
// info.go's comma-delimited field parsing, generalized onto the new
// driver.Driver/atwire stack instead of the teacher's channel-based AT type.
package gsm

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/vnet-iot/g350modem/atwire"
	"github.com/vnet-iot/g350modem/cmdtable"
	"github.com/vnet-iot/g350modem/driver"
)

// defaultTimeout bounds the simple info/config accessors below; callers
// needing a different budget can wrap ctx with their own deadline.
const defaultTimeout = 5 * time.Second

// Client layers the high-level operations over a running driver.Driver.
type Client struct {
	d *driver.Driver
}

// New returns a Client bound to d. d must already be started (driver.Start)
// and initialized (driver.Init) before any Client method is called.
func New(d *driver.Driver) *Client {
	return &Client{d: d}
}

// run issues cmd, waits for completion, and returns the accumulated info
// lines, releasing the slot in all cases. Shared by every operation in this
// package and by sms.go.
func (c *Client) run(ctx context.Context, cmdID, cmd string, shape cmdtable.Shape, expected int, timeout time.Duration) ([]string, error) {
	s, err := c.d.Command(ctx, cmdID, cmd, shape, expected, timeout)
	if err != nil {
		return nil, err
	}
	defer c.d.Release(s)
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	return s.Info(), nil
}

func (c *Client) runOnlyOK(ctx context.Context, cmdID, cmd string) error {
	_, err := c.run(ctx, cmdID, cmd, cmdtable.OnlyOK, 0, defaultTimeout)
	return err
}

func (c *Client) runOneLine(ctx context.Context, cmdID, cmd string) (string, error) {
	info, err := c.run(ctx, cmdID, cmd, cmdtable.ParamThenOK, 1, defaultTimeout)
	if err != nil {
		return "", err
	}
	if len(info) == 0 {
		return "", errors.WithMessage(driver.ErrParse, "gsm: "+cmdID+": no response line")
	}
	return info[0], nil
}

// IMEI reads the device's IMEI (+CGSN).
func (c *Client) IMEI(ctx context.Context) (string, error) {
	return c.runOneLine(ctx, "+CGSN", "+CGSN")
}

// ICCID reads the SIM's ICCID (+CCID), supplementing the distilled spec's
// bare "IMEI/ICCID" with its own accessor, matching the original's
// one-command-per-accessor granularity.
func (c *Client) ICCID(ctx context.Context) (string, error) {
	return c.runOneLine(ctx, "+CCID", "+CCID")
}

// SignalQuality reads the current RSSI/BER pair (+CSQ). rssi is the raw
// 0-31/99 scale reported by the modem; ber is the raw bit-error-rate class.
func (c *Client) SignalQuality(ctx context.Context) (rssi, ber int, err error) {
	line, err := c.runOneLine(ctx, "+CSQ", "+CSQ?")
	if err != nil {
		return 0, 0, err
	}
	p := atwire.NewArgParser(line)
	rv, err := p.MatchUint(0)
	if err != nil {
		return 0, 0, errors.WithMessage(driver.ErrParse, "gsm: parse +CSQ rssi")
	}
	if err := p.Comma(0); err != nil {
		return 0, 0, errors.WithMessage(driver.ErrParse, "gsm: parse +CSQ comma")
	}
	bv, err := p.MatchUint(0)
	if err != nil {
		return 0, 0, errors.WithMessage(driver.ErrParse, "gsm: parse +CSQ ber")
	}
	return int(rv), int(bv), nil
}

// Resolve performs a DNS lookup of host via the modem's resolver (+UDNSRN)
// and returns the resolved dotted-decimal IPv4 address.
func (c *Client) Resolve(ctx context.Context, host string) (string, error) {
	w := newArgWriter()
	w.Printf(`+UDNSRN=0,%q`, host)
	cmd := w.text()
	if err := w.Err(); err != nil {
		return "", errors.WithMessage(err, "gsm: format +UDNSRN")
	}
	line, err := c.runOneLine(ctx, "+UDNSRN", cmd)
	if err != nil {
		return "", err
	}
	p := atwire.NewArgParser(line)
	addr, err := p.QuotedToken(0)
	if err != nil {
		return "", errors.WithMessage(driver.ErrParse, "gsm: parse +UDNSRN address")
	}
	return addr, nil
}

// Charset reads the currently selected TE character set (+CSCS?).
func (c *Client) Charset(ctx context.Context) (string, error) {
	line, err := c.runOneLine(ctx, "+CSCS", "+CSCS?")
	if err != nil {
		return "", err
	}
	p := atwire.NewArgParser(line)
	cs, err := p.QuotedToken(0)
	if err != nil {
		return "", errors.WithMessage(driver.ErrParse, "gsm: parse +CSCS")
	}
	return cs, nil
}

// SetCharset selects the TE character set, e.g. "IRA", "GSM", "UCS2", "HEX".
func (c *Client) SetCharset(ctx context.Context, charset string) error {
	w := newArgWriter()
	w.Printf(`+CSCS=%q`, charset)
	cmd := w.text()
	if err := w.Err(); err != nil {
		return errors.WithMessage(err, "gsm: format +CSCS")
	}
	return c.runOnlyOK(ctx, "+CSCS", cmd)
}

// EventReporting is the mobile-termination event reporting configuration
// (+CMER), per the original's RIL_CMER_MODE/IND/BFR enums.
type EventReporting struct {
	Mode, Ind, BFR int
}

// GetEventReporting reads the current +CMER configuration.
func (c *Client) GetEventReporting(ctx context.Context) (EventReporting, error) {
	line, err := c.runOneLine(ctx, "+CMER", "+CMER?")
	if err != nil {
		return EventReporting{}, err
	}
	p := atwire.NewArgParser(line)
	mode, err := p.MatchUint(0)
	if err != nil {
		return EventReporting{}, errors.WithMessage(driver.ErrParse, "gsm: parse +CMER mode")
	}
	// read keyp,disp,ind,bfr (+CMER: mode,keyp,disp,ind,bfr); ind and bfr are vals[2] and vals[3]
	var vals [4]uint64
	for i := 0; i < 4; i++ {
		if err := p.Comma(0); err != nil {
			return EventReporting{}, errors.WithMessage(driver.ErrParse, "gsm: parse +CMER field sep")
		}
		v, err := p.MatchUint(0)
		if err != nil {
			return EventReporting{}, errors.WithMessage(driver.ErrParse, "gsm: parse +CMER field")
		}
		vals[i] = v
	}
	return EventReporting{Mode: int(mode), Ind: int(vals[2]), BFR: int(vals[3])}, nil
}

// SetEventReporting configures +CMER with the given mode/ind/bfr, leaving
// keyp/disp fixed at 0 as the driver's startup sequence does.
func (c *Client) SetEventReporting(ctx context.Context, r EventReporting) error {
	w := newArgWriter()
	w.Printf("+CMER=%d,0,0,%d,%d", int64(r.Mode), int64(r.Ind), int64(r.BFR))
	cmd := w.text()
	if err := w.Err(); err != nil {
		return errors.WithMessage(err, "gsm: format +CMER")
	}
	return c.runOnlyOK(ctx, "+CMER", cmd)
}

// RTC reads the modem's real-time clock (+CCLK?) as the raw
// "yy/MM/dd,hh:mm:ss±zz" string the modem returns.
func (c *Client) RTC(ctx context.Context) (string, error) {
	line, err := c.runOneLine(ctx, "+CCLK", "+CCLK?")
	if err != nil {
		return "", err
	}
	p := atwire.NewArgParser(line)
	ts, err := p.QuotedToken(0)
	if err != nil {
		return "", errors.WithMessage(driver.ErrParse, "gsm: parse +CCLK")
	}
	return ts, nil
}

// SetRTC sets the modem's real-time clock to the same "yy/MM/dd,hh:mm:ss±zz"
// format RTC returns. Included for symmetry: the original exposes both get
// and set, and a driver that can read the clock but never set it after a
// power cycle is an unusual asymmetry to introduce deliberately.
func (c *Client) SetRTC(ctx context.Context, stamp string) error {
	w := newArgWriter()
	w.Printf(`+CCLK=%q`, stamp)
	cmd := w.text()
	if err := w.Err(); err != nil {
		return errors.WithMessage(err, "gsm: format +CCLK")
	}
	return c.runOnlyOK(ctx, "+CCLK", cmd)
}

// SMSHeaderMode reads the +CSDH setting (0 = brief, 1 = full TOA/status
// headers in +CMGL/+CMGR output).
func (c *Client) SMSHeaderMode(ctx context.Context) (bool, error) {
	line, err := c.runOneLine(ctx, "+CSDH", "+CSDH?")
	if err != nil {
		return false, err
	}
	p := atwire.NewArgParser(line)
	v, err := p.MatchUint(0)
	if err != nil {
		return false, errors.WithMessage(driver.ErrParse, "gsm: parse +CSDH")
	}
	return v != 0, nil
}

// SetSMSHeaderMode sets the +CSDH setting.
func (c *Client) SetSMSHeaderMode(ctx context.Context, full bool) error {
	v := int64(0)
	if full {
		v = 1
	}
	w := newArgWriter()
	w.Printf("+CSDH=%d", v)
	cmd := w.text()
	if err := w.Err(); err != nil {
		return errors.WithMessage(err, "gsm: format +CSDH")
	}
	return c.runOnlyOK(ctx, "+CSDH", cmd)
}

// newArgWriter builds command text in memory using atwire.Writer's sticky
// error, without touching the transport - used by operations that need
// Printf's quoting/escaping before handing the finished string to
// driver.Command. The driver's own writer streams the finished command
// straight to the transport; this one only formats the argument portion.
func newArgWriter() *bufWriter {
	buf := &sinkBuffer{}
	return &bufWriter{Writer: atwire.NewWriter(buf), buf: buf}
}

type bufWriter struct {
	*atwire.Writer
	buf *sinkBuffer
}

// text returns the bytes formatted so far. Named to avoid colliding with
// the embedded atwire.Writer.String(s string) primitive.
func (w *bufWriter) text() string { return string(w.buf.b) }

type sinkBuffer struct{ b []byte }

func (s *sinkBuffer) Write(p []byte) error {
	s.b = append(s.b, p...)
	return nil
}
