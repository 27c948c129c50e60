package gsm

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/vnet-iot/g350modem/atwire"
	"github.com/vnet-iot/g350modem/driver"
)

// rats maps the raw +URAT? value onto the three buckets the original driver
// collapses it to, mirroring its _urats[] table: 0/1 -> GSM, 2 -> UMTS,
// anything >= 3 -> LTE.
var rats = []string{"GSM", "UMTS", "LTE"}

// RAT reads the modem's current radio access technology (+URAT?), caching
// the result on driver.NetState. Not every u-blox firmware in this family
// supports +URAT; the original driver treated that as non-fatal and
// defaulted to GSM rather than failing whatever was probing it, so this
// does the same instead of surfacing the error to the caller.
func (c *Client) RAT(ctx context.Context) (string, error) {
	line, err := c.runOneLine(ctx, "+URAT", "+URAT?")
	if err != nil {
		c.d.Net.SetRAT(rats[0])
		return rats[0], nil
	}
	p := atwire.NewArgParser(line)
	v, err := p.MatchUint(0)
	if err != nil {
		c.d.Net.SetRAT(rats[0])
		return rats[0], nil
	}
	idx := 0
	switch {
	case v == 2:
		idx = 1
	case v >= 3:
		idx = 2
	}
	rat := rats[idx]
	c.d.Net.SetRAT(rat)
	return rat, nil
}

// CellInfo is the parsed +CGED=3 cell/location report.
type CellInfo struct {
	MCC  string
	MNC  string
	LAC  string
	CI   string
	BSIC string
}

// CellInfo reads extended cell and location info (+CGED=3), caching the
// LAC/CI/BSIC on driver.NetState the same way the registration URCs do.
// Only the 2G/3G report mode is requested, matching the original driver's
// own restriction ("only 3G and 2G supported").
func (c *Client) CellInfo(ctx context.Context) (CellInfo, error) {
	line, err := c.runOneLine(ctx, "+CGED", "+CGED=3")
	if err != nil {
		return CellInfo{}, err
	}
	p := atwire.NewArgParser(line)
	var fields [5]string
	for i := range fields {
		if i > 0 {
			if err := p.Comma(0); err != nil {
				return CellInfo{}, errors.WithMessage(driver.ErrParse, "gsm: parse +CGED comma")
			}
		}
		tok, err := p.RawToken(0)
		if err != nil {
			return CellInfo{}, errors.WithMessage(driver.ErrParse, "gsm: parse +CGED field")
		}
		fields[i] = tok
	}
	info := CellInfo{
		MCC:  fieldValue(fields[0]),
		MNC:  fieldValue(fields[1]),
		LAC:  fieldValue(fields[2]),
		CI:   fieldValue(fields[3]),
		BSIC: fieldValue(fields[4]),
	}
	c.d.Net.SetCellInfo(info.LAC, info.CI, info.BSIC)
	return info, nil
}

// fieldValue extracts the value half of a "LABEL:value" +CGED field,
// following the original driver's advance-to-colon idiom. A field with no
// colon is returned unchanged.
func fieldValue(raw string) string {
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		return raw[i+1:]
	}
	return raw
}
