package driver

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// promptWaitBudget bounds how long SendPrompt waits for the I/O loop to
// observe the '>' prompt before giving up.
const promptWaitBudget = 10 * time.Second

// chunkSize bounds how much of the payload is written to the transport in
// a single Write call, per the spec's prompt sub-protocol description.
const chunkSize = 64

// SendPrompt streams payload to the modem after a CommandWithPrompt slot's
// prompt has been observed by the reader, then optionally writes a trailing
// terminator byte (e.g. Ctrl-Z for SMS bodies). It must be called exactly
// once per prompt-capable slot, after CommandWithPrompt and before Wait.
//
// This is the redesigned prompt hand-off described in the spec's design
// notes: the coupling is a one-shot channel (Slot.promptReady) owned by the
// slot rather than a shared mode flag polled by both sides, so there is no
// race between the writer checking "are we in prompt mode yet?" and the
// reader setting it.
func (d *Driver) SendPrompt(ctx context.Context, s *Slot, payload []byte, terminator byte, hasTerminator bool) error {
	select {
	case <-s.PromptReady():
	case <-s.done:
		return errors.New("driver: slot completed before prompt was observed")
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(promptWaitBudget):
		return errors.New("driver: timed out waiting for '>' prompt")
	}
	for len(payload) > 0 {
		n := chunkSize
		if n > len(payload) {
			n = len(payload)
		}
		if err := d.port.Write(payload[:n]); err != nil {
			return errors.WithMessage(err, "driver: write prompt payload")
		}
		payload = payload[n:]
	}
	if hasTerminator {
		if err := d.port.Write([]byte{terminator}); err != nil {
			return errors.WithMessage(err, "driver: write prompt terminator")
		}
	}
	return nil
}
