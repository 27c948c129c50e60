package driver

import (
	"strings"
	"time"

	"github.com/vnet-iot/g350modem/atwire"
	"github.com/vnet-iot/g350modem/cmdtable"
)

// readOneLine implements one iteration of the Normal-mode I/O loop: try to
// observe a '>' prompt first (cheap, nonblocking), then fall back to
// reading one whole line with a 100ms timeout, classifying and dispatching
// it. If nothing arrives within the timeout, any slot whose deadline has
// elapsed is failed with ErrTimeout.
func (d *Driver) readOneLine() {
	if err := d.parser.MatchByte(0, '>'); err == nil {
		d.parser.MatchClassRepeat(0, " ", 0)
		cur := d.arb.current()
		if cur != nil && cur.promptCapable && !cur.completed {
			d.parser.Commit()
			d.mode = ModePrompt
			close(cur.promptReady)
			return
		}
		// Not a slot expecting a prompt: not actually prompt mode: put
		// the byte back and let it flow through normal line matching
		// (it will most likely be discarded as unrecognized).
		d.parser.Abort()
	} else {
		d.parser.Abort()
	}

	line, err := d.parser.MatchLine(int(lineReadTimeout / time.Millisecond))
	if err != nil {
		if err == atwire.ErrReadTimeout {
			d.checkSlotTimeout()
			return
		}
		// Buffer overflow or similar: resynchronize on the next CRLF.
		d.log.Printf("driver: parse error reading line: %v; flushing", err)
		d.parser.Flush()
		return
	}
	d.parser.Commit()
	d.handleLine(line)
}

func (d *Driver) checkSlotTimeout() {
	cur := d.arb.current()
	if cur == nil || cur.completed {
		return
	}
	if d.clock.Now().Sub(cur.start) > cur.timeout {
		cur.completed = true
		cur.err = ErrTimeout
		close(cur.done)
	}
}

// handleLine classifies one complete line and applies it to the current
// slot and/or the URC dispatcher.
func (d *Driver) handleLine(line string) {
	cur := d.arb.current()

	if cur != nil && !cur.echoSeen {
		cur.echoSeen = true
		if line == "" || strings.HasPrefix(line, "AT"+cur.cmdID) {
			return
		}
		// Fall through: some modems omit the echo/blank line entirely;
		// treat this line as the start of the real response rather than
		// stalling the slot waiting for an echo that will never come.
	}

	if line == "" {
		return
	}

	if cur != nil && cur.awaitingRawBody {
		cur.awaitingRawBody = false
		d.observeLine(KindResponse, line)
		cur.info = append(cur.info, line)
		return
	}

	switch {
	case isOKLine(line):
		d.observeLine(KindTerminal, line)
		if cur != nil && cur.expected != -1 && cur.linesSeen < cur.expected {
			d.completeSlot(cur, ErrParse, "")
			return
		}
		d.completeSlot(cur, nil, "")
		return
	case isCMELine(line), isCMSLine(line), isErrorLine(line):
		d.observeLine(KindTerminal, line)
		err := newTerminalError(line)
		msg := ""
		if cme, ok := err.(CMEError); ok {
			msg = string(cme)
		} else if cms, ok := err.(CMSError); ok {
			msg = string(cms)
		}
		d.completeSlot(cur, err, msg)
		return
	}

	desc, arg, known := cmdtable.LookupLine(line)
	if known {
		if desc.CanURC {
			d.observeLine(KindURC, line)
			d.dispatchURC(desc.Body, arg, line)
		}
		if cur != nil && !cur.completed && desc.CanResponse && desc.Body == cur.cmdID {
			d.observeLine(KindResponse, line)
			d.appendSlotLine(cur, desc, arg)
			return
		}
		if desc.CanURC {
			return
		}
	}

	if cur != nil && !cur.completed {
		if cur.shape == cmdtable.Raw {
			d.observeLine(KindResponse, line)
			cur.info = append(cur.info, line)
			return
		}
		if strings.HasPrefix(line, "AT"+cur.cmdID) {
			return // late echo
		}
	}

	d.observeLine(KindDiscard, line)
	d.log.Printf("driver: discarding unrecognized line: %q", line)
}

func (d *Driver) appendSlotLine(s *Slot, desc cmdtable.Descriptor, arg string) {
	s.info = append(s.info, arg)
	s.linesSeen++
	if desc.Shape == cmdtable.Raw {
		// e.g. +CMGL: the header line is immediately followed by one raw
		// payload line with no "<body>:" prefix.
		s.awaitingRawBody = true
	}
}

func (d *Driver) completeSlot(s *Slot, err error, cmErr string) {
	if s == nil || s.completed {
		return
	}
	s.completed = true
	s.err = err
	s.cmErr = cmErr
	close(s.done)
}
