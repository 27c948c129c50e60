package gsm

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/sms/encoding/pdumode"

	"github.com/vnet-iot/g350modem/atwire"
	"github.com/vnet-iot/g350modem/cmdtable"
	"github.com/vnet-iot/g350modem/driver"
)

// smsTimeout bounds an SMS send, which includes the prompt round trip and
// the modem's own network-submission delay.
const smsTimeout = 30 * time.Second

const smsTerminator = 0x1A // Ctrl-Z, terminates the prompt-mode payload.

// SMSRecord is one entry returned by ListSMS, per spec §3's SMS record.
type SMSRecord struct {
	Index   int
	Status  string // e.g. "REC UNREAD", "REC READ", "STO SENT" ...
	Origin  string
	SCA     string
	Sent    string
	Text    string
}

// sendPromptCommand drives the shared prompt sub-protocol used by both
// SendSMS and SendSMSPDU: issue cmd with CommandWithPrompt, wait for the
// reader to observe '>', stream payload, send the Ctrl-Z terminator, then
// wait for the command to complete.
func (c *Client) sendPromptCommand(ctx context.Context, cmdID, cmd string, payload []byte) ([]string, error) {
	s, err := c.d.CommandWithPrompt(ctx, cmdID, cmd, smsTimeout)
	if err != nil {
		return nil, err
	}
	defer c.d.Release(s)
	if err := c.d.SendPrompt(ctx, s, payload, smsTerminator, true); err != nil {
		return nil, err
	}
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	return s.Info(), nil
}

// SendSMS sends a text-mode SMS (+CMGF=1, the driver's startup default) and
// returns the modem's message reference.
func (c *Client) SendSMS(ctx context.Context, number, text string) (int, error) {
	w := newArgWriter()
	w.Printf(`+CMGS=%q`, number)
	cmd := w.text()
	if err := w.Err(); err != nil {
		return 0, errors.WithMessage(err, "gsm: format +CMGS")
	}
	info, err := c.sendPromptCommand(ctx, "+CMGS", cmd, []byte(text))
	if err != nil {
		return 0, err
	}
	return parseCMGSResponse(info)
}

// SendSMSPDU sends a pre-encoded TPDU in PDU mode (+CMGF=0). sca is the
// service-center address to prefix the PDU with; a zero-value
// pdumode.SMSCAddress uses the SIM's default SCA.
func (c *Client) SendSMSPDU(ctx context.Context, sca pdumode.SMSCAddress, tpdu []byte) (int, error) {
	pdu := pdumode.PDU{SMSC: sca, TPDU: tpdu}
	hexPDU, err := pdu.MarshalHexString()
	if err != nil {
		return 0, errors.WithMessage(err, "gsm: marshal PDU")
	}
	w := newArgWriter()
	w.Printf("+CMGS=%d", int64(len(tpdu)))
	cmd := w.text()
	if err := w.Err(); err != nil {
		return 0, errors.WithMessage(err, "gsm: format +CMGS (PDU)")
	}
	info, err := c.sendPromptCommand(ctx, "+CMGS", cmd, []byte(hexPDU))
	if err != nil {
		return 0, err
	}
	return parseCMGSResponse(info)
}

func parseCMGSResponse(info []string) (int, error) {
	if len(info) == 0 {
		return 0, errors.WithMessage(driver.ErrParse, "gsm: +CMGS: no response line")
	}
	p := atwire.NewArgParser(info[0])
	mr, err := p.MatchUint(0)
	if err != nil {
		return 0, errors.WithMessage(driver.ErrParse, "gsm: parse +CMGS message reference")
	}
	return int(mr), nil
}

// SMSFilter selects which messages ListSMS returns, mirroring the +CMGL
// status argument in text mode.
type SMSFilter string

const (
	SMSUnread SMSFilter = "REC UNREAD"
	SMSRead   SMSFilter = "REC READ"
	SMSAll    SMSFilter = "ALL"
)

// ListSMS lists messages matching filter. The driver's I/O loop performs the
// two-line capture (+CMGL header, then the raw text body) described in spec
// §4.5; this just regroups the resulting flat line pairs into SMSRecords.
func (c *Client) ListSMS(ctx context.Context, filter SMSFilter) ([]SMSRecord, error) {
	w := newArgWriter()
	w.Printf(`+CMGL=%q`, string(filter))
	cmd := w.text()
	if err := w.Err(); err != nil {
		return nil, errors.WithMessage(err, "gsm: format +CMGL")
	}
	info, err := c.run(ctx, "+CMGL", cmd, cmdtable.Raw, -1, 30*time.Second)
	if err != nil {
		return nil, err
	}
	if len(info)%2 != 0 {
		return nil, errors.WithMessage(driver.ErrParse, "gsm: +CMGL: unpaired header/body line")
	}
	records := make([]SMSRecord, 0, len(info)/2)
	for i := 0; i+1 < len(info); i += 2 {
		rec, err := parseCMGLHeader(info[i])
		if err != nil {
			return nil, err
		}
		rec.Text = info[i+1]
		records = append(records, rec)
	}
	return records, nil
}

// parseCMGLHeader parses one +CMGL header line:
// <index>,"<stat>","<oa>",,"<scts>". The empty fourth field is the optional
// alpha field, which the 's' primitive reads as "" and which is discarded;
// SMSRecord.SCA is not filled from this line and stays "".
func parseCMGLHeader(line string) (SMSRecord, error) {
	p := atwire.NewArgParser(line)
	idx, err := p.MatchUint(0)
	if err != nil {
		return SMSRecord{}, errors.WithMessage(driver.ErrParse, "gsm: parse +CMGL index")
	}
	if err := p.Comma(0); err != nil {
		return SMSRecord{}, errors.WithMessage(driver.ErrParse, "gsm: parse +CMGL sep 1")
	}
	status, err := p.QuotedToken(0)
	if err != nil {
		return SMSRecord{}, errors.WithMessage(driver.ErrParse, "gsm: parse +CMGL status")
	}
	if err := p.Comma(0); err != nil {
		return SMSRecord{}, errors.WithMessage(driver.ErrParse, "gsm: parse +CMGL sep 2")
	}
	origin, err := p.QuotedToken(0)
	if err != nil {
		return SMSRecord{}, errors.WithMessage(driver.ErrParse, "gsm: parse +CMGL origin")
	}
	sent := ""
	if p.Comma(0) == nil {
		// optional alpha field, usually empty
		_, _ = p.RawToken(0)
		if p.Comma(0) == nil {
			sent, _ = p.QuotedToken(0)
		}
	}
	return SMSRecord{Index: int(idx), Status: status, Origin: origin, Sent: sent}, nil
}

// DeleteSMS deletes the message at index (+CMGD).
func (c *Client) DeleteSMS(ctx context.Context, index int) error {
	w := newArgWriter()
	w.Printf("+CMGD=%d", int64(index))
	cmd := w.text()
	if err := w.Err(); err != nil {
		return errors.WithMessage(err, "gsm: format +CMGD")
	}
	return c.runOnlyOK(ctx, "+CMGD", cmd)
}

// SCA reads the SMS service-center address (+CSCA?).
func (c *Client) SCA(ctx context.Context) (string, error) {
	line, err := c.runOneLine(ctx, "+CSCA", "+CSCA?")
	if err != nil {
		return "", err
	}
	p := atwire.NewArgParser(line)
	sca, err := p.QuotedToken(0)
	if err != nil {
		return "", errors.WithMessage(driver.ErrParse, "gsm: parse +CSCA")
	}
	return sca, nil
}

// SetSCA sets the SMS service-center address, overriding the SIM default.
func (c *Client) SetSCA(ctx context.Context, sca string) error {
	w := newArgWriter()
	w.Printf(`+CSCA=%q`, sca)
	cmd := w.text()
	if err := w.Err(); err != nil {
		return errors.WithMessage(err, "gsm: format +CSCA")
	}
	return c.runOnlyOK(ctx, "+CSCA", cmd)
}

// PendingSMS reports the count of new-message URCs the driver has observed
// and that have not yet been consumed via Driver.ConsumeSMSIndication;
// ListSMS does not change the count.
func (c *Client) PendingSMS() int { return c.d.PendingSMS() }
