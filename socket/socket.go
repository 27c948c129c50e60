// Package socket maps BSD-socket semantics (create/connect/send/recv/select)
// onto the modem's stateless AT socket commands, synchronizing with the
// driver's URC dispatcher for receive-readiness and peer-close
// notification. Grounded on the teacher's gsm.go high-level-operation
// pattern (acquire slot, send, wait, parse, release), generalized to a
// fixed-capacity socket table the way the original C driver's GSocket
// array works.
package socket

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/vnet-iot/g350modem/atwire"
	"github.com/vnet-iot/g350modem/cmdtable"
	"github.com/vnet-iot/g350modem/driver"
)

// Protocol selects the modem's socket type.
type Protocol int

const (
	ProtoTCP Protocol = 6
	ProtoUDP Protocol = 17
)

// MaxSockets is the modem's socket table size: indices 0 through 6, matching
// the range +USOCR assigns.
const MaxSockets = 7

// tlsProfile is the single TLS configuration profile slot the modem
// supports; at most one socket may use it at a time.
const tlsProfile = 1

// CertVerify selects the CA verification mode for ConfigureTLS.
type CertVerify int

const (
	CertNone CertVerify = iota
	CertOptional
	CertRequired
)

// TLSOptions configures a TLS-secured socket. CACert/ClientCert/PrivateKey
// are PEM blobs uploaded via the prompt sub-protocol; Hostname enables SNI
// when CACert is also given (mirrors the original driver's
// hostname-only-meaningful-with-a-CA-cert behavior).
type TLSOptions struct {
	Verify     CertVerify
	CACert     []byte
	ClientCert []byte
	PrivateKey []byte
	Hostname   string
}

// Socket is one entry in the fixed-capacity socket table.
type Socket struct {
	modemID  int
	protocol Protocol
	secure   bool

	mu         sync.Mutex
	acquired   bool
	toBeClosed bool
	recvWait   []chan struct{} // parties waiting on data-pending / close

	rcvTimeout time.Duration // option 1: locally stored receive timeout, 0 = unset
}

func (s *Socket) notify() {
	s.mu.Lock()
	waiters := s.recvWait
	s.recvWait = nil
	s.mu.Unlock()
	for _, c := range waiters {
		close(c)
	}
}

func (s *Socket) wait() <-chan struct{} {
	c := make(chan struct{})
	s.mu.Lock()
	s.recvWait = append(s.recvWait, c)
	s.mu.Unlock()
	return c
}

// ID returns the modem-assigned socket index.
func (s *Socket) ID() int { return s.modemID }

// Manager owns the socket table and the driver used to issue commands.
type Manager struct {
	d *driver.Driver

	mu           sync.Mutex
	table        [MaxSockets]*Socket
	secureSockID int // -1 if no TLS socket is active
}

// New creates a Manager bound to d and registers its URC handlers. Must be
// called once, before d.Start().
func New(d *driver.Driver) *Manager {
	m := &Manager{d: d, secureSockID: -1}
	d.SetURCHandlers(driver.URCHandlers{
		OnSocketClosed:      m.onClosed,
		OnSocketDataPending: m.onDataPending,
	})
	return m
}

func (m *Manager) onClosed(id int) {
	m.mu.Lock()
	s := m.table[id]
	if m.secureSockID == id {
		m.secureSockID = -1
	}
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	s.toBeClosed = true
	s.mu.Unlock()
	s.notify()
}

func (m *Manager) onDataPending(id int) {
	m.mu.Lock()
	s := m.table[id]
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.notify()
}

const createTimeout = 10 * time.Second
const ctlTimeout = 10 * time.Second

// Create issues a "create socket" command and installs the returned index
// into the table. If the modem reuses an index this manager still believes
// is acquired, the newly created modem-side socket is immediately closed
// and Create fails with ErrSocketInUse - this is the create race the spec
// calls out explicitly.
func (m *Manager) Create(ctx context.Context, proto Protocol) (*Socket, error) {
	s, err := m.runParamThenOK(ctx, "+USOCR", fmt.Sprintf("+USOCR=%d", proto), createTimeout)
	if err != nil {
		return nil, err
	}
	p := atwire.NewArgParser(s[0])
	id, err := p.MatchUint(0)
	if err != nil {
		return nil, errors.WithMessage(driver.ErrParse, "socket: create: parse index")
	}
	idx := int(id)
	if idx < 0 || idx >= MaxSockets {
		return nil, errors.WithMessage(driver.ErrParse, "socket: create: index out of range")
	}

	m.mu.Lock()
	existing := m.table[idx]
	if existing != nil && existing.acquired {
		m.mu.Unlock()
		_, _ = m.runOnlyOK(ctx, "+USOCL", fmt.Sprintf("+USOCL=%d", idx), ctlTimeout)
		return nil, driver.ErrSocketInUse
	}
	sock := &Socket{modemID: idx, protocol: proto}
	sock.acquired = true
	m.table[idx] = sock
	m.mu.Unlock()
	return sock, nil
}

// Connect opens the socket to addr:port (addr is dotted-decimal IPv4).
// Blocks up to the command timeout (the modem may take tens of seconds to
// complete a TCP handshake).
func (m *Manager) Connect(ctx context.Context, s *Socket, addr string, port uint16) error {
	if !s.acquired {
		return driver.ErrSocketNotAcquired
	}
	_, err := m.runOnlyOK(ctx, "+USOCO", fmt.Sprintf("+USOCO=%d,\"%s\",%d", s.modemID, addr, port), 30*time.Second)
	return err
}

// Close closes the socket locally, tolerating errors (the modem may have
// already closed it remotely), and frees the table entry.
func (m *Manager) Close(ctx context.Context, s *Socket) error {
	s.mu.Lock()
	already := s.toBeClosed
	s.mu.Unlock()
	var err error
	if !already {
		_, err = m.runOnlyOK(ctx, "+USOCL", fmt.Sprintf("+USOCL=%d", s.modemID), ctlTimeout)
	}
	m.mu.Lock()
	if m.secureSockID == s.modemID {
		m.secureSockID = -1
	}
	m.table[s.modemID] = nil
	m.mu.Unlock()
	s.mu.Lock()
	s.acquired = false
	s.mu.Unlock()
	return err
}

const sendChunk = 32 // bytes per +USOWR/+USOST, hex-doubled to a 64-byte wire field

// Send writes data to a connected (stream) socket, chunking at sendChunk
// raw bytes per command. Stops and returns the count written so far on the
// first error.
func (m *Manager) Send(ctx context.Context, s *Socket, data []byte) (int, error) {
	if !s.acquired {
		return 0, driver.ErrSocketNotAcquired
	}
	written := 0
	for written < len(data) {
		n := sendChunk
		if n > len(data)-written {
			n = len(data) - written
		}
		chunk := data[written : written+n]
		enc := hex.EncodeToString(chunk)
		line, err := m.runParamThenOK(ctx, "+USOWR", fmt.Sprintf(`+USOWR=%d,%d,"%s"`, s.modemID, n, enc), ctlTimeout)
		if err != nil {
			return written, err
		}
		sent, perr := parseSocketCount(line[0])
		if perr != nil {
			return written, perr
		}
		written += sent
		if sent != n {
			break
		}
	}
	return written, nil
}

// SendTo writes a single datagram to addr:port.
func (m *Manager) SendTo(ctx context.Context, s *Socket, data []byte, addr string, port uint16) (int, error) {
	if !s.acquired {
		return 0, driver.ErrSocketNotAcquired
	}
	n := len(data)
	if n > sendChunk {
		n = sendChunk
	}
	enc := hex.EncodeToString(data[:n])
	line, err := m.runParamThenOK(ctx, "+USOST", fmt.Sprintf(`+USOST=%d,"%s",%d,%d,"%s"`, s.modemID, addr, port, n, enc), ctlTimeout)
	if err != nil {
		return 0, err
	}
	sent, perr := parseSocketCount(line[0])
	if perr != nil {
		return 0, perr
	}
	return sent, nil
}

func parseSocketCount(line string) (int, error) {
	p := atwire.NewArgParser(line)
	if _, err := p.MatchUint(0); err != nil {
		return 0, errors.WithMessage(driver.ErrParse, "socket: parse response id")
	}
	if err := p.Comma(0); err != nil {
		return 0, errors.WithMessage(driver.ErrParse, "socket: parse response comma")
	}
	n, err := p.MatchUint(0)
	if err != nil {
		return 0, errors.WithMessage(driver.ErrParse, "socket: parse response count")
	}
	return int(n), nil
}

const recvChunk = 32

// Recv reads up to len(buf) bytes, blocking up to timeout for data to
// become available between polls (0 = use the socket's receive-timeout
// option, or wait indefinitely if that is unset). Returns the
// bytes read so far, without error, if the socket is closed by the peer
// while waiting.
func (m *Manager) Recv(ctx context.Context, s *Socket, buf []byte, timeout time.Duration) (int, error) {
	return m.recv(ctx, s, buf, timeout)
}

// RecvFrom reads at most one datagram, along with the sender's address and
// port, blocking up to timeout for data to arrive (0 = use the socket's
// receive-timeout option, or wait indefinitely if that is unset).
func (m *Manager) RecvFrom(ctx context.Context, s *Socket, buf []byte, timeout time.Duration) (int, string, uint16, error) {
	if !s.acquired {
		return 0, "", 0, driver.ErrSocketNotAcquired
	}
	deadline := effectiveDeadline(s, timeout)
	for {
		want := recvChunk
		if want > len(buf) {
			want = len(buf)
		}
		line, err := m.runParamThenOK(ctx, "+USORF", fmt.Sprintf("+USORF=%d,%d", s.modemID, want), ctlTimeout)
		if err != nil {
			return 0, "", 0, err
		}
		n, payload, addr, port, perr := parseRecvFromLine(line[0])
		if perr != nil {
			return 0, "", 0, perr
		}
		if n > 0 {
			copy(buf, payload)
			return n, addr, port, nil
		}
		if done, err := m.waitForData(ctx, s, deadline); done || err != nil {
			return 0, "", 0, err
		}
	}
}

func effectiveDeadline(s *Socket, timeout time.Duration) time.Time {
	if timeout == 0 {
		s.mu.Lock()
		timeout = s.rcvTimeout
		s.mu.Unlock()
	}
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// waitForData blocks for more data or peer close. done is true (with nil
// error) if the socket closed while waiting, meaning the caller should
// return whatever it already has.
func (m *Manager) waitForData(ctx context.Context, s *Socket, deadline time.Time) (done bool, err error) {
	s.mu.Lock()
	closed := s.toBeClosed
	s.mu.Unlock()
	if closed {
		return true, nil
	}
	waitCh := s.wait()
	var remaining time.Duration
	if !deadline.IsZero() {
		remaining = time.Until(deadline)
		if remaining <= 0 {
			return false, driver.ErrTimeout
		}
	}
	if err := waitFor(ctx, waitCh, remaining); err != nil {
		return false, err
	}
	s.mu.Lock()
	closed = s.toBeClosed
	s.mu.Unlock()
	return closed, nil
}

func (m *Manager) recv(ctx context.Context, s *Socket, buf []byte, timeout time.Duration) (int, error) {
	if !s.acquired {
		return 0, driver.ErrSocketNotAcquired
	}
	deadline := effectiveDeadline(s, timeout)
	read := 0
	for read < len(buf) {
		want := recvChunk
		if want > len(buf)-read {
			want = len(buf) - read
		}
		line, err := m.runParamThenOK(ctx, "+USORD", fmt.Sprintf("+USORD=%d,%d", s.modemID, want), ctlTimeout)
		if err != nil {
			return read, err
		}
		n, payload, perr := parseRecvLine(line[0])
		if perr != nil {
			return read, perr
		}
		if n > 0 {
			copy(buf[read:], payload)
			read += n
			continue
		}
		if done, err := m.waitForData(ctx, s, deadline); done {
			return read, nil
		} else if err != nil {
			return read, err
		}
	}
	return read, nil
}

func waitFor(ctx context.Context, c <-chan struct{}, timeout time.Duration) error {
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-c:
			return nil
		case <-t.C:
			return driver.ErrTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseRecvLine parses a +USORD response: (socket, length, "hex").
func parseRecvLine(line string) (int, []byte, error) {
	p := atwire.NewArgParser(line)
	if _, err := p.MatchUint(0); err != nil {
		return 0, nil, errors.WithMessage(driver.ErrParse, "socket: parse recv id")
	}
	n, payload, err := parseLenAndHexPayload(p)
	return n, payload, err
}

// parseRecvFromLine parses a +USORF response:
// (socket,"ip",port,length,"hex").
func parseRecvFromLine(line string) (int, []byte, string, uint16, error) {
	p := atwire.NewArgParser(line)
	if _, err := p.MatchUint(0); err != nil {
		return 0, nil, "", 0, errors.WithMessage(driver.ErrParse, "socket: parse recvfrom id")
	}
	if err := p.Comma(0); err != nil {
		return 0, nil, "", 0, errors.WithMessage(driver.ErrParse, "socket: parse recvfrom addr sep")
	}
	addr, err := p.QuotedToken(0)
	if err != nil {
		return 0, nil, "", 0, errors.WithMessage(driver.ErrParse, "socket: parse recvfrom addr")
	}
	if err := p.Comma(0); err != nil {
		return 0, nil, "", 0, errors.WithMessage(driver.ErrParse, "socket: parse recvfrom port sep")
	}
	portVal, err := p.MatchUint(0)
	if err != nil {
		return 0, nil, "", 0, errors.WithMessage(driver.ErrParse, "socket: parse recvfrom port")
	}
	n, payload, err := parseLenAndHexPayload(p)
	return n, payload, addr, uint16(portVal), err
}

// parseLenAndHexPayload parses the trailing ",<len>,\"<hex>\"" shared by
// +USORD and +USORF, with p positioned right after the socket id (and, for
// +USORF, the address/port fields already consumed).
func parseLenAndHexPayload(p *atwire.Parser) (int, []byte, error) {
	if err := p.Comma(0); err != nil {
		return 0, nil, errors.WithMessage(driver.ErrParse, "socket: parse recv comma")
	}
	n, err := p.MatchUint(0)
	if err != nil {
		return 0, nil, errors.WithMessage(driver.ErrParse, "socket: parse recv length")
	}
	if n == 0 {
		return 0, nil, nil
	}
	if err := p.Comma(0); err != nil {
		return 0, nil, errors.WithMessage(driver.ErrParse, "socket: parse recv payload sep")
	}
	hexStr, err := p.QuotedToken(0)
	if err != nil {
		return 0, nil, errors.WithMessage(driver.ErrParse, "socket: parse recv payload")
	}
	payload, derr := hex.DecodeString(hexStr)
	if derr != nil {
		return 0, nil, errors.WithMessage(driver.ErrParse, "socket: decode recv hex payload")
	}
	if len(payload) > int(n) {
		payload = payload[:n]
	}
	return len(payload), payload, nil
}

// optLevelSocket is the single option level the modem recognizes for
// SetSockOpt, following spec §4.7: level 0xFFFF paired with optname 1
// (receive timeout, local only) or 8 (keepalive, forwarded). Keying by the
// (level, optname) pair instead of branching on optname alone prevents the
// aliasing hazard noted against the original driver, where level was never
// actually compared.
const optLevelSocket = 0xFFFF

const (
	optRecvTimeout = 1
	optKeepAlive   = 8
)

// SetSockOpt sets a socket option. Unknown (level, optname) pairs succeed
// silently, matching the original driver's behavior.
func (m *Manager) SetSockOpt(ctx context.Context, s *Socket, level, optname uint32, value uint64) error {
	switch {
	case level == optLevelSocket && optname == optRecvTimeout:
		s.mu.Lock()
		s.rcvTimeout = time.Duration(value) * time.Millisecond
		s.mu.Unlock()
		return nil
	case level == optLevelSocket && optname == optKeepAlive:
		_, err := m.runOnlyOK(ctx, "+USOSO", fmt.Sprintf("+USOSO=%d,65535,8,%d", s.modemID, value), ctlTimeout)
		return err
	default:
		return nil
	}
}

// Select polls the given sockets in round-robin order, issuing one "peek
// available bytes" command per socket per sweep (fanned out concurrently
// via errgroup within a sweep, since the peeks are independent reads), with
// a 100ms pause between sweeps. Returns the first socket reporting nonzero
// available bytes, or nil if timeout elapses first.
func (m *Manager) Select(ctx context.Context, socks []*Socket, timeout time.Duration) (*Socket, error) {
	deadline := time.Now().Add(timeout)
	for {
		g, gctx := errgroup.WithContext(ctx)
		ready := make([]bool, len(socks))
		for i, s := range socks {
			i, s := i, s
			g.Go(func() error {
				n, err := m.peek(gctx, s)
				if err != nil {
					return nil // a peek failure doesn't abort the sweep
				}
				ready[i] = n > 0
				return nil
			})
		}
		_ = g.Wait()
		for i, r := range ready {
			if r {
				return socks[i], nil
			}
		}
		if timeout > 0 && time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (m *Manager) peek(ctx context.Context, s *Socket) (int, error) {
	line, err := m.runParamThenOK(ctx, "+USOCTL", fmt.Sprintf("+USOCTL=%d,11", s.modemID), ctlTimeout)
	if err != nil {
		return 0, err
	}
	p := atwire.NewArgParser(line[0])
	if _, err := p.MatchUint(0); err != nil {
		return 0, errors.WithMessage(driver.ErrParse, "socket: parse peek id")
	}
	if err := p.Comma(0); err != nil {
		return 0, errors.WithMessage(driver.ErrParse, "socket: parse peek comma1")
	}
	if _, err := p.MatchUint(0); err != nil {
		return 0, errors.WithMessage(driver.ErrParse, "socket: parse peek param")
	}
	if err := p.Comma(0); err != nil {
		return 0, errors.WithMessage(driver.ErrParse, "socket: parse peek comma2")
	}
	n, err := p.MatchUint(0)
	if err != nil {
		return 0, errors.WithMessage(driver.ErrParse, "socket: parse peek count")
	}
	return int(n), nil
}

// ConfigureTLS sequences the single TLS profile's configuration, uploads
// any certs/keys via the prompt sub-protocol, and associates s with the
// profile. Only one TLS socket may exist at a time.
func (m *Manager) ConfigureTLS(ctx context.Context, s *Socket, opts TLSOptions) error {
	m.mu.Lock()
	if m.secureSockID != -1 {
		m.mu.Unlock()
		return driver.ErrTLSInUse
	}
	m.mu.Unlock()

	steps := []func() error{
		func() error { return m.tlsCfgInt(ctx, -1, -1) }, // delete profile
		func() error { return m.tlsCfgInt(ctx, 1, 1) },    // min version TLS 1.0
		func() error { return m.tlsCfgInt(ctx, 2, 0) },    // automatic cipher
	}
	switch opts.Verify {
	case CertNone:
		steps = append(steps, func() error { return m.tlsCfgInt(ctx, 0, 0) })
	default:
		if len(opts.CACert) > 0 {
			steps = append(steps, func() error { return m.tlsLoad(ctx, 0, opts.CACert) })
			steps = append(steps, func() error { return m.tlsCfgStr(ctx, 3, "cacert") })
			if opts.Hostname != "" {
				steps = append(steps, func() error { return m.tlsCfgInt(ctx, 0, 3) })
				steps = append(steps, func() error { return m.tlsCfgStr(ctx, 4, opts.Hostname) })
			} else {
				mode := 1
				if opts.Verify == CertRequired {
					mode = 2
				}
				steps = append(steps, func() error { return m.tlsCfgInt(ctx, 0, mode) })
			}
		} else {
			steps = append(steps, func() error { return m.tlsCfgInt(ctx, 0, 0) })
		}
	}
	if len(opts.ClientCert) > 0 {
		steps = append(steps, func() error { return m.tlsCfgStr(ctx, 5, "clicert") })
		steps = append(steps, func() error { return m.tlsLoad(ctx, 1, opts.ClientCert) })
	}
	if len(opts.PrivateKey) > 0 {
		steps = append(steps, func() error { return m.tlsCfgStr(ctx, 6, "clikey") })
		steps = append(steps, func() error { return m.tlsLoad(ctx, 2, opts.PrivateKey) })
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	if _, err := m.runOnlyOK(ctx, "+USOSEC", fmt.Sprintf("+USOSEC=%d,1,%d", s.modemID, tlsProfile), ctlTimeout); err != nil {
		return err
	}

	m.mu.Lock()
	m.secureSockID = s.modemID
	m.mu.Unlock()
	s.secure = true
	return nil
}

func (m *Manager) tlsCfgInt(ctx context.Context, opcode, param int) error {
	_, err := m.runOnlyOK(ctx, "+USECPRF", fmt.Sprintf("+USECPRF=%d,%d,%d", tlsProfile, opcode, param), 5*ctlTimeout)
	return err
}

func (m *Manager) tlsCfgStr(ctx context.Context, opcode int, name string) error {
	_, err := m.runOnlyOK(ctx, "+USECPRF", fmt.Sprintf(`+USECPRF=%d,%d,"%s"`, tlsProfile, opcode, name), 5*ctlTimeout)
	return err
}

// tlsLoad uploads a cert/key blob via the prompt sub-protocol, keyed by an
// internal name derived from certType (0=CA, 1=client cert, 2=private key).
func (m *Manager) tlsLoad(ctx context.Context, certType int, data []byte) error {
	name := certName(certType)
	cmd := fmt.Sprintf(`+USECMNG=0,%d,"%s",%d`, certType, name, len(data))
	sl, err := m.d.CommandWithPrompt(ctx, "+USECMNG", cmd, 20*ctlTimeout)
	if err != nil {
		return err
	}
	if err := m.d.SendPrompt(ctx, sl, data, 0, false); err != nil {
		m.d.Release(sl)
		return err
	}
	err = sl.Wait(ctx)
	m.d.Release(sl)
	return err
}

func certName(certType int) string {
	switch certType {
	case 0:
		return "cacert"
	case 1:
		return "clicert"
	case 2:
		return "clikey"
	default:
		return "cert" + strconv.Itoa(certType)
	}
}

func (m *Manager) runOnlyOK(ctx context.Context, cmdID, cmd string, timeout time.Duration) ([]string, error) {
	return m.run(ctx, cmdID, cmd, cmdtable.OnlyOK, 0, timeout)
}

func (m *Manager) runParamThenOK(ctx context.Context, cmdID, cmd string, timeout time.Duration) ([]string, error) {
	return m.run(ctx, cmdID, cmd, cmdtable.ParamThenOK, 1, timeout)
}

func (m *Manager) run(ctx context.Context, cmdID, cmd string, shape cmdtable.Shape, expected int, timeout time.Duration) ([]string, error) {
	s, err := m.d.Command(ctx, cmdID, cmd, shape, expected, timeout)
	if err != nil {
		return nil, err
	}
	defer m.d.Release(s)
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	return s.Info(), nil
}
