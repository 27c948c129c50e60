package driver

import (
	"sync/atomic"
	"time"

	"github.com/vnet-iot/g350modem/atwire"
	"github.com/vnet-iot/g350modem/cmdtable"
)

// dispatchURC applies the side effects of a recognized unsolicited result
// code. Called from the I/O loop goroutine only, so NetState's own locking
// is the only synchronization needed against concurrent readers.
func (d *Driver) dispatchURC(body, arg, line string) {
	switch body {
	case "+CMTI":
		atomic.AddInt32(&d.pendingSMS, 1)
	case "+CIEV":
		d.handleCIEV(arg)
	case "+CREG":
		d.handleReg(arg, false)
	case "+CGREG":
		d.handleReg(arg, true)
	case "+UUPSDA":
		d.handleAttach(arg)
	case "+UUSOCL":
		d.handleSocketClosed(arg)
	case "+UUSORD", "+UUSORF":
		d.handleSocketDataPending(arg)
	default:
		d.log.Printf("driver: unhandled URC: %q", line)
	}
}

// PendingSMS returns the count of new-message indications observed and not
// yet consumed by a client.
func (d *Driver) PendingSMS() int {
	return int(atomic.LoadInt32(&d.pendingSMS))
}

// ConsumeSMSIndication decrements the pending count, e.g. after a client has
// listed/read SMS messages.
func (d *Driver) ConsumeSMSIndication() {
	for {
		v := atomic.LoadInt32(&d.pendingSMS)
		if v <= 0 {
			return
		}
		if atomic.CompareAndSwapInt32(&d.pendingSMS, v, v-1) {
			return
		}
	}
}

func (d *Driver) handleCIEV(arg string) {
	p := atwire.NewArgParser(arg)
	n, err := p.MatchUint(0)
	if err != nil {
		return
	}
	if p.Comma(0) != nil {
		return
	}
	v, err := p.MatchInt(0)
	if err != nil {
		return
	}
	switch n {
	case 2:
		d.Net.setRSSI(int(v))
	case 3:
		if v != 0 {
			d.Net.setGSM(RegRegistered, "", "")
		} else {
			d.Net.setGSM(RegNotRegistered, "", "")
		}
	case 9:
		d.Net.setAttached(v != 0)
	}
}

// mapRegStat maps the raw +CREG/+CGREG stat code onto RegState.
func mapRegStat(stat uint64) RegState {
	switch stat {
	case 0:
		return RegNotRegistered
	case 1:
		return RegRegistered
	case 2:
		return RegSearching
	case 3:
		return RegDenied
	case 4:
		return RegUnknown
	case 5:
		return RegRoaming
	default:
		return RegUnknown
	}
}

func (d *Driver) handleReg(arg string, gprs bool) {
	p := atwire.NewArgParser(arg)
	stat, err := p.MatchUint(0)
	if err != nil {
		return
	}
	var lac, ci string
	if p.Comma(0) == nil {
		lac, _ = p.QuotedToken(0)
		if p.Comma(0) == nil {
			ci, _ = p.QuotedToken(0)
		}
	}
	state := mapRegStat(stat)
	if gprs {
		d.Net.setGPRSReg(state, lac, ci)
	} else {
		d.Net.setGSM(state, lac, ci)
	}
}

func (d *Driver) handleAttach(arg string) {
	// +UUPSDA: <result>  -- 0 means attached, nonzero means not attached.
	p := atwire.NewArgParser(arg)
	v, err := p.MatchUint(0)
	if err != nil {
		return
	}
	d.Net.setAttached(v == 0)
}

func (d *Driver) handleSocketClosed(arg string) {
	p := atwire.NewArgParser(arg)
	id, err := p.MatchUint(0)
	if err != nil {
		return
	}
	if h := d.handlers(); h.OnSocketClosed != nil {
		h.OnSocketClosed(int(id))
	}
}

func (d *Driver) handleSocketDataPending(arg string) {
	p := atwire.NewArgParser(arg)
	id, err := p.MatchUint(0)
	if err != nil {
		return
	}
	if h := d.handlers(); h.OnSocketDataPending != nil {
		h.OnSocketDataPending(int(id))
	}
}

// servicePrompt is one iteration of the Prompt-mode I/O loop: the owner
// writes the payload directly to the transport (see prompt.go); the reader
// waits for the terminal line that follows, collecting any "<body>: args"
// line of the slot's own command (e.g. "+CMGS: <mr>") as its response and
// treating anything else as an opaque echo of the payload. A 20s fail-safe forces a return to
// Normal mode if the owner never completes, matching the spec's documented
// (if hazardous) original behaviour, in case the modem loses its prompt
// handshake entirely.
func (d *Driver) servicePrompt() {
	cur := d.arb.current()
	if cur == nil || cur.completed {
		d.mode = ModeNormal
		return
	}
	if d.clock.Now().Sub(cur.start) > promptBudget {
		d.log.Printf("driver: prompt-mode fail-safe triggered for %s", cur.cmdID)
		d.mode = ModeNormal
		d.completeSlot(cur, ErrTimeout, "")
		d.parser.Flush()
		return
	}
	line, err := d.parser.MatchLine(int(lineReadTimeout / time.Millisecond))
	if err != nil {
		return
	}
	d.parser.Commit()
	switch {
	case isOKLine(line):
		d.mode = ModeNormal
		d.completeSlot(cur, nil, "")
	case isCMELine(line), isCMSLine(line), isErrorLine(line):
		d.mode = ModeNormal
		terr := newTerminalError(line)
		d.completeSlot(cur, terr, cmErrText(terr))
	default:
		if desc, arg, ok := cmdtable.LookupLine(line); ok && desc.CanResponse && desc.Body == cur.cmdID {
			d.observeLine(KindResponse, line)
			d.appendSlotLine(cur, desc, arg)
			return
		}
		// opaque echo of the streamed payload; discard.
	}
}

func cmErrText(err error) string {
	switch e := err.(type) {
	case CMEError:
		return string(e)
	case CMSError:
		return string(e)
	default:
		return ""
	}
}
