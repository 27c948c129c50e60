package gsm

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/vnet-iot/g350modem/atwire"
	"github.com/vnet-iot/g350modem/cmdtable"
	"github.com/vnet-iot/g350modem/driver"
)

// operatorListTimeout covers a +COPS=? network scan, which the original
// driver budgets at sixty times the ordinary command timeout.
const operatorListTimeout = 60 * 5 * time.Second

// OperatorRecord is one entry in a +COPS=? operator scan: type code, long
// and short alphanumeric names, and the numeric MCC/MNC code, per spec §3's
// operator record.
type OperatorRecord struct {
	Type      int
	LongName  string
	ShortName string
	Code      string
}

// ListOperators performs a +COPS=? network scan and parses each
// "(<type>,\"<long>\",\"<short>\",\"<code>\")" tuple out of the single
// returned line, grounded on the original's _gs_list_operators scan over
// the raw response buffer.
func (c *Client) ListOperators(ctx context.Context) ([]OperatorRecord, error) {
	info, err := c.run(ctx, "+COPS", "+COPS=?", cmdtable.ParamThenOK, 1, operatorListTimeout)
	if err != nil {
		return nil, err
	}
	if len(info) == 0 {
		return nil, errors.WithMessage(driver.ErrParse, "gsm: +COPS=?: no response line")
	}
	return parseOperatorList(info[0])
}

func parseOperatorList(s string) ([]OperatorRecord, error) {
	p := atwire.NewArgParser(s)
	var records []OperatorRecord
	for {
		if err := p.MatchByte(0, '('); err != nil {
			break
		}
		typ, err := p.MatchUint(0)
		if err != nil {
			return nil, errors.WithMessage(driver.ErrParse, "gsm: parse +COPS operator type")
		}
		if err := p.Comma(0); err != nil {
			return nil, errors.WithMessage(driver.ErrParse, "gsm: parse +COPS sep 1")
		}
		long, err := p.QuotedToken(0)
		if err != nil {
			return nil, errors.WithMessage(driver.ErrParse, "gsm: parse +COPS long name")
		}
		if err := p.Comma(0); err != nil {
			return nil, errors.WithMessage(driver.ErrParse, "gsm: parse +COPS sep 2")
		}
		short, err := p.QuotedToken(0)
		if err != nil {
			return nil, errors.WithMessage(driver.ErrParse, "gsm: parse +COPS short name")
		}
		if err := p.Comma(0); err != nil {
			return nil, errors.WithMessage(driver.ErrParse, "gsm: parse +COPS sep 3")
		}
		code, err := p.QuotedToken(0)
		if err != nil {
			return nil, errors.WithMessage(driver.ErrParse, "gsm: parse +COPS code")
		}
		if err := p.MatchByte(0, ')'); err != nil {
			return nil, errors.WithMessage(driver.ErrParse, "gsm: parse +COPS closing paren")
		}
		records = append(records, OperatorRecord{Type: int(typ), LongName: long, ShortName: short, Code: code})
		if p.MatchByte(0, ',') != nil {
			break
		}
	}
	return records, nil
}

// SetOperator selects opLongName as the current operator by its long
// alphanumeric name, as returned by ListOperators (+COPS=1,0,"name").
func (c *Client) SetOperator(ctx context.Context, opLongName string) error {
	w := newArgWriter()
	w.Printf(`+COPS=1,0,%q`, opLongName)
	cmd := w.text()
	if err := w.Err(); err != nil {
		return errors.WithMessage(err, "gsm: format +COPS")
	}
	return c.runOnlyOK(ctx, "+COPS", cmd)
}

// SetOperatorAutomatic reverts to automatic operator selection (+COPS=0).
func (c *Client) SetOperatorAutomatic(ctx context.Context) error {
	return c.runOnlyOK(ctx, "+COPS", "+COPS=0")
}
