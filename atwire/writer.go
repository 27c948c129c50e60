// Package atwire provides the two low level libraries used to speak the AT
// protocol: a Writer that formats well formed AT requests onto a byte sink,
// and a Parser that pulls bytes from a byte source and matches them against
// the shapes a modem response can take, committing or rolling back a
// speculative cursor as it goes.
//
// The Writer carries a sticky error: once a Writer operation fails, every
// subsequent operation on it is a no-op and Err returns that first failure.
// This lets callers chain a sequence of writes and check the error once at
// the end instead of after every step. Parser matchers keep no error state:
// each call returns its own error and leaves the cursor where it started.
package atwire

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// Sink is the minimal destination a Writer needs: a blocking, all-or-nothing
// byte write. transport.Port satisfies this.
type Sink interface {
	Write(p []byte) error
}

// Writer formats AT command requests.
type Writer struct {
	w   Sink
	err error
}

// NewWriter returns a Writer that emits onto w.
func NewWriter(w Sink) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered, or nil.
func (w *Writer) Err() error {
	return w.err
}

// Reset clears the sticky error so the Writer can be reused.
func (w *Writer) Reset() {
	w.err = nil
}

func (w *Writer) raw(p []byte) *Writer {
	if w.err != nil {
		return w
	}
	if err := w.w.Write(p); err != nil {
		w.err = errors.WithMessage(err, "atwire: write failed")
	}
	return w
}

// Byte writes a single literal byte.
func (w *Writer) Byte(b byte) *Writer {
	return w.raw([]byte{b})
}

// Bytes writes a literal buffer of n bytes.
func (w *Writer) Bytes(p []byte) *Writer {
	return w.raw(p)
}

// EOL writes the line terminator "\r\n".
func (w *Writer) EOL() *Writer {
	return w.raw([]byte("\r\n"))
}

// Prefix writes the "AT" command prefix.
func (w *Writer) Prefix() *Writer {
	return w.raw([]byte("AT"))
}

// Command writes "AT" followed by the command body, with no trailing
// terminator - callers append arguments then EOL once the command is
// complete.
func (w *Writer) Command(body string) *Writer {
	return w.Prefix().String(body)
}

// String writes a literal string verbatim, unescaped and unquoted.
func (w *Writer) String(s string) *Writer {
	return w.raw([]byte(s))
}

// Int writes a signed decimal integer. If width > 0 the value is zero
// padded to that many digits (after the sign, if any). If forceSign is
// true, a leading '+' is emitted for nonnegative values.
func (w *Writer) Int(v int64, width int, forceSign bool) *Writer {
	if w.err != nil {
		return w
	}
	neg := v < 0
	uv := uint64(v)
	if neg {
		uv = uint64(-v)
	}
	digits := strconv.FormatUint(uv, 10)
	if width > len(digits) {
		digits = zeroPad(digits, width)
	}
	switch {
	case neg:
		digits = "-" + digits
	case forceSign:
		digits = "+" + digits
	}
	return w.raw([]byte(digits))
}

// Uint writes an unsigned decimal integer, zero padded to width digits if
// width > 0.
func (w *Writer) Uint(v uint64, width int) *Writer {
	if w.err != nil {
		return w
	}
	digits := strconv.FormatUint(v, 10)
	if width > len(digits) {
		digits = zeroPad(digits, width)
	}
	return w.raw([]byte(digits))
}

// Hex writes an unsigned integer in uppercase hexadecimal, zero padded to
// width digits if width > 0.
func (w *Writer) Hex(v uint64, width int) *Writer {
	if w.err != nil {
		return w
	}
	digits := strconv.FormatUint(v, 16)
	digits = toUpperASCII(digits)
	if width > len(digits) {
		digits = zeroPad(digits, width)
	}
	return w.raw([]byte(digits))
}

// Quoted writes s surrounded by open/close delimiters, escaping any
// occurrence of open, close, or escape within s with the escape byte. If
// escape is 0, no escaping is performed (the caller is asserting s cannot
// contain the delimiter).
func (w *Writer) Quoted(s string, open, close, escape byte) *Writer {
	if w.err != nil {
		return w
	}
	buf := make([]byte, 0, len(s)+2)
	buf = append(buf, open)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escape != 0 && (c == open || c == close || c == escape) {
			buf = append(buf, escape)
		}
		buf = append(buf, c)
	}
	buf = append(buf, close)
	return w.raw(buf)
}

// QuotedString writes s double quoted, with '"' and '\\' escaped by '\\'.
// This is the common case used by the great majority of AT string
// parameters.
func (w *Writer) QuotedString(s string) *Writer {
	return w.Quoted(s, '"', '"', '\\')
}

func zeroPad(digits string, width int) string {
	pad := width - len(digits)
	if pad <= 0 {
		return digits
	}
	b := make([]byte, pad, width)
	for i := range b {
		b[i] = '0'
	}
	return string(b) + digits
}

func toUpperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// Printf is a printf-like convenience that maps a small set of format
// specifiers onto the primitives above:
//
//	%d   signed decimal integer (int64)
//	%+d  signed decimal integer, always prefixed with a sign (int64)
//	%u   unsigned decimal integer (uint64)
//	%x   unsigned hexadecimal integer, uppercase (uint64)
//	%s   literal string
//	%q   double quoted string, '"' and '\\' escaped
//	%c   literal byte
//	%%   literal '%'
//
// Width may be given between the '%' and the verb, e.g. "%04x".
func (w *Writer) Printf(format string, args ...interface{}) *Writer {
	if w.err != nil {
		return w
	}
	ai := 0
	next := func() interface{} {
		if ai >= len(args) {
			w.err = errors.New("atwire: too few arguments for format")
			return nil
		}
		a := args[ai]
		ai++
		return a
	}
	i := 0
	for i < len(format) && w.err == nil {
		c := format[i]
		if c != '%' {
			w.Byte(c)
			i++
			continue
		}
		i++
		if i >= len(format) {
			w.err = errors.New("atwire: truncated format")
			break
		}
		forceSign := false
		if format[i] == '+' {
			forceSign = true
			i++
		}
		width := 0
		for i < len(format) && format[i] >= '0' && format[i] <= '9' {
			width = width*10 + int(format[i]-'0')
			i++
		}
		if i >= len(format) {
			w.err = errors.New("atwire: truncated format")
			break
		}
		verb := format[i]
		i++
		switch verb {
		case '%':
			w.Byte('%')
		case 'd':
			v, ok := next().(int64)
			if !ok && w.err == nil {
				w.err = fmt.Errorf("atwire: %%d expects int64")
				break
			}
			w.Int(v, width, forceSign)
		case 'u':
			v, ok := next().(uint64)
			if !ok && w.err == nil {
				w.err = fmt.Errorf("atwire: %%u expects uint64")
				break
			}
			w.Uint(v, width)
		case 'x':
			v, ok := next().(uint64)
			if !ok && w.err == nil {
				w.err = fmt.Errorf("atwire: %%x expects uint64")
				break
			}
			w.Hex(v, width)
		case 's':
			v, ok := next().(string)
			if !ok && w.err == nil {
				w.err = fmt.Errorf("atwire: %%s expects string")
				break
			}
			w.String(v)
		case 'q':
			v, ok := next().(string)
			if !ok && w.err == nil {
				w.err = fmt.Errorf("atwire: %%q expects string")
				break
			}
			w.QuotedString(v)
		case 'c':
			v, ok := next().(byte)
			if !ok && w.err == nil {
				w.err = fmt.Errorf("atwire: %%c expects byte")
				break
			}
			w.Byte(v)
		default:
			w.err = fmt.Errorf("atwire: unknown format verb %%%c", verb)
		}
	}
	return w
}
