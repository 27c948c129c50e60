// Package driver implements the concurrent AT-command transport at the
// heart of the modem stack: the single-reader I/O loop, the exclusive
// command slot, the URC demultiplexer, and the life-cycle control that ties
// them to a transport.Port. High level operations (socket, SMS, network
// info) are thin façades built on top of Command/CommandWithPrompt, living in
// sibling packages.
package driver

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/vnet-iot/g350modem/atwire"
	"github.com/vnet-iot/g350modem/cmdtable"
	"github.com/vnet-iot/g350modem/transport"
)

// Mode is the driver's current line-protocol mode.
type Mode int

const (
	// ModeNormal is ordinary line-at-a-time AT response parsing.
	ModeNormal Mode = iota
	// ModePrompt is entered when the modem emits '>' requesting a raw
	// binary payload (certificate install, SMS body).
	ModePrompt
)

// promptBudget bounds how long the loop waits in ModePrompt for the slot
// owner to finish writing the payload and hand control back to Normal mode,
// per the fail-safe described in the spec.
const promptBudget = 20 * time.Second

// lineReadTimeout is the per-iteration budget for reading one line, per the
// spec's I/O loop description ("read one line with a 100ms timeout").
const lineReadTimeout = 100 * time.Millisecond

// LineKind classifies a line for LineObserver: whether it was applied to
// the current slot's response, dispatched as an unsolicited notification,
// consumed as a terminal result (OK/ERROR/+CME/+CMS), or discarded as
// unrecognized.
type LineKind string

const (
	KindResponse LineKind = "response"
	KindURC      LineKind = "urc"
	KindTerminal LineKind = "terminal"
	KindDiscard  LineKind = "discard"
)

// LineObserver is called once per classified line, from the I/O loop
// goroutine only. Intended for diagnostics (see the trace package); it must
// not block or call back into the Driver.
type LineObserver func(kind LineKind, line string)

// URCHandlers lets a higher-level package (the socket layer) observe the
// URCs that affect it without the driver depending on that package.
type URCHandlers struct {
	// OnSocketClosed fires when a +UUSOCL URC reports a socket closed.
	OnSocketClosed func(sockID int)
	// OnSocketDataPending fires when a +UUSORD/+UUSORF URC reports data
	// is ready to read on a socket.
	OnSocketDataPending func(sockID int)
}

// RegState is the mapped +CREG/+CGREG registration status.
type RegState int

const (
	RegNotRegistered RegState = iota
	RegRegistered
	RegSearching
	RegDenied
	RegUnknown
	RegRoaming
)

// NetState is the driver's view of network registration and signal
// strength, updated by the URC dispatcher and read by clients under mu.
type NetState struct {
	mu sync.Mutex

	gsmReg  RegState
	gprsReg RegState
	lac     string
	ci      string
	bsic    string
	rat     string
	rssi    int
	gprs    bool // data attach state, from +UUPSDA / +CIEV(9,..)
}

func (n *NetState) setGSM(s RegState, lac, ci string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gsmReg = s
	n.lac, n.ci = lac, ci
}

func (n *NetState) setGPRSReg(s RegState, lac, ci string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gprsReg = s
	n.lac, n.ci = lac, ci
}

func (n *NetState) setRSSI(v int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rssi = v
}

func (n *NetState) setAttached(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gprs = v
}

// Registered reports the combined registration summary: GPRS status takes
// precedence when present (nontrivial), falling back to the GSM status.
func (n *NetState) Registered() RegState {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.gprsReg != RegNotRegistered {
		return n.gprsReg
	}
	return n.gsmReg
}

// Cell returns the last known LAC/CI, which may be "" if never reported.
func (n *NetState) Cell() (lac, ci string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lac, n.ci
}

// RSSI returns the last reported signal level (+CIEV(2,...)).
func (n *NetState) RSSI() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rssi
}

// Attached reports the last known packet-data attach state.
func (n *NetState) Attached() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gprs
}

// SetCellInfo records the LAC/CI/BSIC triple from a gsm.CellInfo query
// (+CGED), exported so the gsm package can update the same cached values
// the registration URCs keep current.
func (n *NetState) SetCellInfo(lac, ci, bsic string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lac, n.ci, n.bsic = lac, ci, bsic
}

// BSIC returns the last known base station identity code, from the most
// recent +CGED query; "" if none has been made.
func (n *NetState) BSIC() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bsic
}

// SetRAT records the radio access technology tag from a gsm.RAT query
// (+URAT).
func (n *NetState) SetRAT(rat string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rat = rat
}

// RAT returns the last known radio access technology tag ("GSM", "UMTS",
// or "LTE"), from the most recent +URAT query; "" if none has been made.
func (n *NetState) RAT() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rat
}

// Driver is the process-wide AT transport. Create one with New, Start it,
// issue commands via Command/CommandWithPrompt/SendPrompt, and Stop it when
// done. A Driver cannot be restarted once stopped.
type Driver struct {
	port  transport.Port
	clock transport.Clock
	log   *log.Logger

	parser *atwire.Parser
	arb    *arbiter

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	stopped chan struct{}

	mode Mode // only the I/O loop goroutine mutates this

	Net NetState

	pendingSMS int32 // count of new-message URCs not yet consumed; accessed atomically (PendingSMS, ConsumeSMSIndication)

	hooksMu sync.Mutex
	hooks   URCHandlers

	lineObserver LineObserver

	scaMu sync.Mutex
	sca   string // SMS service-center address, read once at Init and cached
}

// SetSCA records the SMS service-center address read during Init.
func (d *Driver) SetSCA(sca string) {
	d.scaMu.Lock()
	defer d.scaMu.Unlock()
	d.sca = sca
}

// SCA returns the service-center address cached at Init, or "" if Init has
// not yet completed that step.
func (d *Driver) SCA() string {
	d.scaMu.Lock()
	defer d.scaMu.Unlock()
	return d.sca
}

// Option configures New.
type Option func(*Driver)

// WithClock overrides the default system clock, for tests.
func WithClock(c transport.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithLogger sets the logger used for internal diagnostics (URC arrival,
// slot timeout, discarded lines). Defaults to a logger writing to
// io.Discard equivalent (log.New with a nil-safe default below).
func WithLogger(l *log.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// WithLineObserver installs obs, called once per line the I/O loop
// classifies. See the trace package for a logger-backed implementation.
func WithLineObserver(obs LineObserver) Option {
	return func(d *Driver) { d.lineObserver = obs }
}

func (d *Driver) observeLine(kind LineKind, line string) {
	if d.lineObserver != nil {
		d.lineObserver(kind, line)
	}
}

// New creates a Driver bound to port but does not start its I/O loop; call
// Start to begin reading.
func New(port transport.Port, opts ...Option) *Driver {
	d := &Driver{
		port:    port,
		clock:   transport.SystemClock{},
		log:     log.New(discard{}, "", 0),
		arb:     newArbiter(),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.parser = atwire.NewParser(port, d.clock)
	return d
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// SetURCHandlers installs the socket layer's URC callbacks. Intended to be
// called once, by socket.New, before Start.
func (d *Driver) SetURCHandlers(h URCHandlers) {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.hooks = h
}

func (d *Driver) handlers() URCHandlers {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	return d.hooks
}

// Start begins the single-reader I/O loop. Safe to call once.
func (d *Driver) Start() {
	d.runMu.Lock()
	d.running = true
	d.runMu.Unlock()
	go d.loop()
}

// Stop signals the I/O loop to exit and waits for it to do so. Any slot
// waiting for completion is failed with ErrClosed.
func (d *Driver) Stop() {
	d.runMu.Lock()
	if !d.running {
		d.runMu.Unlock()
		return
	}
	d.running = false
	d.runMu.Unlock()
	close(d.stopCh)
	<-d.stopped
}

// Running reports whether the I/O loop is active.
func (d *Driver) Running() bool {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.running
}

// Port exposes the underlying transport, e.g. for the prompt sub-protocol
// and life-cycle control to write raw bytes.
func (d *Driver) Port() transport.Port { return d.port }

// Log exposes the driver's logger for use by sibling packages (socket, gsm)
// that want to trace their own diagnostics through the same sink.
func (d *Driver) Log() *log.Logger { return d.log }

// Command acquires the slot, writes cmd (without the leading "AT" or
// trailing CRLF) and returns the Slot; the caller Waits on it, reads the
// information lines collected before the terminal result, and Releases it.
// shape and expected describe how many "<body>: args" lines to expect; expected
// of -1 means an unbounded count (e.g. an SMS listing), terminated only by
// the final OK/ERROR.
func (d *Driver) Command(ctx context.Context, cmdID, cmd string, shape cmdtable.Shape, expected int, timeout time.Duration) (*Slot, error) {
	return d.execute(ctx, cmdID, cmd, shape, expected, timeout, false)
}

// CommandWithPrompt is like Command, but marks the command as
// prompt-capable: the caller is expected to wait on the returned Slot's
// PromptReady channel and then stream a payload via the prompt
// sub-protocol (see the prompt package-level helpers in prompt.go).
func (d *Driver) CommandWithPrompt(ctx context.Context, cmdID, cmd string, timeout time.Duration) (*Slot, error) {
	return d.execute(ctx, cmdID, cmd, cmdtable.ParamThenOK, 1, timeout, true)
}

func (d *Driver) execute(ctx context.Context, cmdID, cmd string, shape cmdtable.Shape, expected int, timeout time.Duration, promptCapable bool) (*Slot, error) {
	if !d.Running() {
		return nil, ErrNotRunning
	}
	s := newSlot(cmdID, shape, expected, timeout, promptCapable)
	if err := d.arb.acquire(ctx, s); err != nil {
		return nil, err
	}
	sink := &lineSink{}
	w := atwire.NewWriter(sink)
	w.Command(cmd).EOL()
	err := w.Err()
	if err == nil {
		err = d.port.Write(sink.b)
	}
	if err != nil {
		d.arb.release()
		return nil, errors.WithMessage(err, "driver: write command")
	}
	return s, nil
}

// lineSink collects a formatted command line so that it reaches the
// transport in a single Write.
type lineSink struct{ b []byte }

func (s *lineSink) Write(p []byte) error { s.b = append(s.b, p...); return nil }

// Release returns the slot to the arbiter, making it available to the next
// waiter. Must be called exactly once after Wait returns, regardless of
// outcome.
func (d *Driver) Release(s *Slot) {
	d.arb.release()
}

func (d *Driver) atomicPendingSMS() int {
	return int(d.pendingSMS)
}

// loop is the sole reader of the serial stream; see ioloop.go.
func (d *Driver) loop() {
	defer close(d.stopped)
	for {
		select {
		case <-d.stopCh:
			d.failCurrentSlot(ErrClosed)
			return
		default:
		}
		if d.mode == ModePrompt {
			d.servicePrompt()
			continue
		}
		d.readOneLine()
	}
}

func (d *Driver) failCurrentSlot(err error) {
	if s := d.arb.current(); s != nil && !s.completed {
		s.completed = true
		s.err = err
		close(s.done)
	}
}

// The is*Line helpers recognize the fixed terminal tokens directly, ahead
// of the command table lookup.
func isOKLine(line string) bool    { return line == "OK" }
func isErrorLine(line string) bool { return strings.HasPrefix(line, "ERROR") }
func isCMELine(line string) bool   { return strings.HasPrefix(line, "+CME ERROR:") }
func isCMSLine(line string) bool   { return strings.HasPrefix(line, "+CMS ERROR:") }
