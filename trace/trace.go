// Package trace provides logging decorators for the modem transport: a
// byte-level Port wrapper that logs raw writes, generalized from the
// teacher's io.ReadWriter decorator onto transport.Port's Write/Available/
// ReadByte shape, and a line-level tracer that logs each line the driver's
// I/O loop classifies (URC, slot response, or terminal result) rather than
// raw bytes, since a byte-at-a-time ReadByte trace is far too noisy to be
// useful once the line-classification boundary exists.
package trace

import (
	"io"
	"log"

	"github.com/vnet-iot/g350modem/driver"
	"github.com/vnet-iot/g350modem/transport"
)

// Port decorates a transport.Port, logging every Write call. Reads are not
// traced at the byte level; use NewLineTracer to log classified lines
// instead.
type Port struct {
	transport.Port
	l    *log.Logger
	wfmt string
}

// Option configures a Port built by New, following the functional-options
// convention adopted throughout this module (see driver.Option,
// transport.Option).
type Option func(*Port)

// WithLogger sets the logger writes are traced to. Defaults to a logger
// discarding all output, so New(p) alone is a harmless no-op decorator.
func WithLogger(l *log.Logger) Option {
	return func(t *Port) { t.l = l }
}

// WithWriteFormat sets the Printf format used for write logs. The format
// receives the written []byte as its single argument.
func WithWriteFormat(format string) Option {
	return func(t *Port) { t.wfmt = format }
}

// New wraps p, logging writes per opts.
func New(p transport.Port, opts ...Option) *Port {
	t := &Port{Port: p, l: log.New(io.Discard, "", 0), wfmt: "w: %s"}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Port) Write(p []byte) error {
	err := t.Port.Write(p)
	t.l.Printf(t.wfmt, p)
	return err
}

// NewLineTracer returns a driver.LineObserver that logs each classified
// line to l, in the teacher's "%s: %s" style generalized with a kind tag in
// place of the fixed "r"/"w" prefix.
func NewLineTracer(l *log.Logger) driver.LineObserver {
	return func(kind driver.LineKind, line string) {
		l.Printf("%s: %s", kind, line)
	}
}
