package gsm

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/vnet-iot/g350modem/atwire"
	"github.com/vnet-iot/g350modem/cmdtable"
	"github.com/vnet-iot/g350modem/driver"
)

// gsProfile is the single packet-data profile index the original driver
// always configures (GS_PROFILE in the original source).
const gsProfile = 0

// +UPSD parameter tags, per the original's _gs_configure_psd callers and the
// u-blox AT manual.
const (
	psdTagAPN      = 0
	psdTagUsername = 1
	psdTagPassword = 2
	psdTagAuth     = 3
)

// AuthMode selects the +UPSD authentication tag value.
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthPAP
	AuthCHAP
)

// +UPSDA activation tags.
const (
	psdaActivate   = 3
	psdaDeactivate = 4
)

// +UPSND query tags.
const (
	psdQueryIP     = 0
	psdQueryStatus = 8
)

const (
	psdConfigTimeout   = 5 * time.Second
	psdActivateTimeout = 60 * 3 * time.Second
	psdQueryTimeout    = 5 * 5 * time.Second
)

// APNConfig is the packet-data profile configuration needed to attach,
// grounded on the original's _gs_configure_psd(tag, param) sequence of
// separate +UPSD writes.
type APNConfig struct {
	APN      string
	Username string
	Password string
	Auth     AuthMode
}

func (c *Client) setPSDString(ctx context.Context, tag int, value string) error {
	w := newArgWriter()
	w.Printf(`+UPSD=%d,%d,%q`, int64(gsProfile), int64(tag), value)
	cmd := w.text()
	if err := w.Err(); err != nil {
		return errors.WithMessage(err, "gsm: format +UPSD")
	}
	_, err := c.run(ctx, "+UPSD", cmd, cmdtable.OnlyOK, 0, psdConfigTimeout)
	return err
}

func (c *Client) setPSDInt(ctx context.Context, tag int, value int64) error {
	w := newArgWriter()
	w.Printf("+UPSD=%d,%d,%d", int64(gsProfile), int64(tag), value)
	cmd := w.text()
	if err := w.Err(); err != nil {
		return errors.WithMessage(err, "gsm: format +UPSD")
	}
	_, err := c.run(ctx, "+UPSD", cmd, cmdtable.OnlyOK, 0, psdConfigTimeout)
	return err
}

// configurePSD writes each field of cfg as a separate +UPSD command, as the
// original's _gs_configure_psd does one tag per call rather than a single
// combined command.
func (c *Client) configurePSD(ctx context.Context, cfg APNConfig) error {
	if err := c.setPSDString(ctx, psdTagAPN, cfg.APN); err != nil {
		return err
	}
	if err := c.setPSDString(ctx, psdTagUsername, cfg.Username); err != nil {
		return err
	}
	if err := c.setPSDString(ctx, psdTagPassword, cfg.Password); err != nil {
		return err
	}
	return c.setPSDInt(ctx, psdTagAuth, int64(cfg.Auth))
}

// Attach configures the packet-data profile from cfg, activates it
// (+UPSDA=0,3), then polls +UPSND's status tag until attached or deadline
// elapses, per spec §4.9: "Attach is a multi-step sequence: configure
// APN/user/password/authmode via separate commands; activate the packet
// data profile; then poll +UPSND status or the +UUPSDA URC until attached
// or a deadline expires."
func (c *Client) Attach(ctx context.Context, cfg APNConfig, deadline time.Duration) error {
	if err := c.configurePSD(ctx, cfg); err != nil {
		return err
	}
	w := newArgWriter()
	w.Printf("+UPSDA=%d,%d", int64(gsProfile), int64(psdaActivate))
	cmd := w.text()
	if err := w.Err(); err != nil {
		return errors.WithMessage(err, "gsm: format +UPSDA")
	}
	if _, err := c.run(ctx, "+UPSDA", cmd, cmdtable.OnlyOK, 0, psdActivateTimeout); err != nil {
		return err
	}
	return c.waitAttached(ctx, deadline)
}

// waitAttached polls +UPSND's status tag and also observes the driver's
// URC-updated Net.Attached() state, returning as soon as either reports
// attached or deadline elapses.
func (c *Client) waitAttached(ctx context.Context, deadline time.Duration) error {
	end := time.Now().Add(deadline)
	for {
		if c.d.Net.Attached() {
			return nil
		}
		attached, err := c.psdStatus(ctx)
		if err == nil && attached {
			return nil
		}
		if time.Now().After(end) {
			return driver.ErrTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (c *Client) psdStatus(ctx context.Context) (bool, error) {
	w := newArgWriter()
	w.Printf("+UPSND=%d,%d", int64(gsProfile), int64(psdQueryStatus))
	cmd := w.text()
	if err := w.Err(); err != nil {
		return false, errors.WithMessage(err, "gsm: format +UPSND")
	}
	line, err := c.runOneLine(ctx, "+UPSND", cmd)
	if err != nil {
		return false, err
	}
	p := atwire.NewArgParser(line)
	if _, err := p.MatchUint(0); err != nil { // profile id, discarded
		return false, errors.WithMessage(driver.ErrParse, "gsm: parse +UPSND profile")
	}
	if err := p.Comma(0); err != nil {
		return false, errors.WithMessage(driver.ErrParse, "gsm: parse +UPSND sep")
	}
	if _, err := p.MatchUint(0); err != nil { // echoed query tag, discarded
		return false, errors.WithMessage(driver.ErrParse, "gsm: parse +UPSND tag")
	}
	if err := p.Comma(0); err != nil {
		return false, errors.WithMessage(driver.ErrParse, "gsm: parse +UPSND sep 2")
	}
	status, err := p.MatchUint(0)
	if err != nil {
		return false, errors.WithMessage(driver.ErrParse, "gsm: parse +UPSND status")
	}
	return status != 0, nil
}

// IPAddress returns the dynamically assigned IP address of the active
// packet-data context (+UPSND query tag 0).
func (c *Client) IPAddress(ctx context.Context) (string, error) {
	w := newArgWriter()
	w.Printf("+UPSND=%d,%d", int64(gsProfile), int64(psdQueryIP))
	cmd := w.text()
	if err := w.Err(); err != nil {
		return "", errors.WithMessage(err, "gsm: format +UPSND")
	}
	line, err := c.runOneLine(ctx, "+UPSND", cmd)
	if err != nil {
		return "", err
	}
	p := atwire.NewArgParser(line)
	if _, err := p.MatchUint(0); err != nil {
		return "", errors.WithMessage(driver.ErrParse, "gsm: parse +UPSND profile")
	}
	if err := p.Comma(0); err != nil {
		return "", errors.WithMessage(driver.ErrParse, "gsm: parse +UPSND sep")
	}
	if _, err := p.MatchUint(0); err != nil {
		return "", errors.WithMessage(driver.ErrParse, "gsm: parse +UPSND tag")
	}
	if err := p.Comma(0); err != nil {
		return "", errors.WithMessage(driver.ErrParse, "gsm: parse +UPSND sep 2")
	}
	addr, err := p.QuotedToken(0)
	if err != nil {
		return "", errors.WithMessage(driver.ErrParse, "gsm: parse +UPSND address")
	}
	return addr, nil
}

// Detach deactivates the packet-data profile (+UPSDA=0,4).
func (c *Client) Detach(ctx context.Context) error {
	w := newArgWriter()
	w.Printf("+UPSDA=%d,%d", int64(gsProfile), int64(psdaDeactivate))
	cmd := w.text()
	if err := w.Err(); err != nil {
		return errors.WithMessage(err, "gsm: format +UPSDA")
	}
	return c.runOnlyOK(ctx, "+UPSDA", cmd)
}
