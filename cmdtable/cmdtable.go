// Package cmdtable holds the static, sorted table of AT command descriptors
// used to classify every line the modem sends: whether it is a known
// command response body, whether it may also arrive unsolicited as a URC,
// and what shape its response takes. A binary search over this table
// (sorted by body) replaces the hand-written branching the original C
// driver used for the same purpose.
package cmdtable

import "sort"

// Shape describes how a command's successful response is laid out on the
// wire.
type Shape int

const (
	// OnlyOK commands produce only a terminal result, no body line
	// ("AT+CMEE=2" -> "OK").
	OnlyOK Shape = iota
	// ParamThenOK commands produce exactly one "<body>: <args>" line
	// followed by the terminal result.
	ParamThenOK
	// Raw commands produce lines up to a known terminator with no
	// "<body>:" prefix (e.g. the +CMGL SMS listing body lines).
	Raw
)

// Descriptor describes one AT command body as it appears in the sorted
// table.
type Descriptor struct {
	// Body is the command body as it appears on the wire, e.g. "+USOCR",
	// "+CREG". At most 16 bytes, typically starting with '+' or a single
	// letter.
	Body string
	// Shape describes the successful response layout.
	Shape Shape
	// CanURC is true if this body may arrive unsolicited, with no
	// command outstanding.
	CanURC bool
	// CanResponse is true if this body may appear as the response to an
	// issued command.
	CanResponse bool
}

// Table is the sorted (by Body) set of every command body this driver
// recognizes, used for the I/O loop's line classification and the slot
// arbiter's command metadata.
var Table = func() []Descriptor {
	t := []Descriptor{
		{Body: "+CCID", Shape: ParamThenOK, CanResponse: true},
		{Body: "+CCLK", Shape: ParamThenOK, CanResponse: true},
		{Body: "+CGED", Shape: ParamThenOK, CanResponse: true},
		{Body: "+CGSN", Shape: ParamThenOK, CanResponse: true},
		{Body: "+CIEV", Shape: ParamThenOK, CanURC: true},
		{Body: "+CIMI", Shape: ParamThenOK, CanResponse: true},
		{Body: "+CGREG", Shape: ParamThenOK, CanResponse: true, CanURC: true},
		{Body: "+CREG", Shape: ParamThenOK, CanResponse: true, CanURC: true},
		{Body: "+CMER", Shape: ParamThenOK, CanResponse: true},
		{Body: "+CMGD", Shape: OnlyOK, CanResponse: true},
		{Body: "+CMGF", Shape: ParamThenOK, CanResponse: true},
		{Body: "+CMGL", Shape: Raw, CanResponse: true},
		{Body: "+CMGS", Shape: ParamThenOK, CanResponse: true},
		{Body: "+CMEE", Shape: OnlyOK, CanResponse: true},
		{Body: "+CMTI", Shape: ParamThenOK, CanURC: true},
		{Body: "+CNMI", Shape: OnlyOK, CanResponse: true},
		{Body: "+COPN", Shape: ParamThenOK, CanResponse: true},
		{Body: "+COPS", Shape: ParamThenOK, CanResponse: true},
		{Body: "+CSCA", Shape: ParamThenOK, CanResponse: true},
		{Body: "+CSCS", Shape: ParamThenOK, CanResponse: true},
		{Body: "+CSDH", Shape: ParamThenOK, CanResponse: true},
		{Body: "+CSQ", Shape: ParamThenOK, CanResponse: true},
		{Body: "+UDCONF", Shape: OnlyOK, CanResponse: true},
		{Body: "+UDNSRN", Shape: ParamThenOK, CanResponse: true},
		{Body: "+UPSD", Shape: OnlyOK, CanResponse: true},
		{Body: "+UPSDA", Shape: OnlyOK, CanResponse: true},
		{Body: "+UUPSDA", Shape: ParamThenOK, CanURC: true},
		{Body: "+UPSND", Shape: ParamThenOK, CanResponse: true},
		{Body: "+URAT", Shape: ParamThenOK, CanResponse: true},
		{Body: "+USECMNG", Shape: ParamThenOK, CanResponse: true},
		{Body: "+USECPRF", Shape: OnlyOK, CanResponse: true},
		{Body: "+USOCL", Shape: OnlyOK, CanResponse: true},
		{Body: "+UUSOCL", Shape: ParamThenOK, CanURC: true},
		{Body: "+USOCO", Shape: OnlyOK, CanResponse: true},
		{Body: "+USOCR", Shape: ParamThenOK, CanResponse: true},
		{Body: "+USOCTL", Shape: ParamThenOK, CanResponse: true},
		{Body: "+USOSEC", Shape: OnlyOK, CanResponse: true},
		{Body: "+USORD", Shape: ParamThenOK, CanResponse: true},
		{Body: "+UUSORD", Shape: ParamThenOK, CanURC: true},
		{Body: "+USORF", Shape: ParamThenOK, CanResponse: true},
		{Body: "+UUSORF", Shape: ParamThenOK, CanURC: true},
		{Body: "+USOST", Shape: ParamThenOK, CanResponse: true},
		{Body: "+USOSO", Shape: OnlyOK, CanResponse: true},
		{Body: "+USOWR", Shape: ParamThenOK, CanResponse: true},
		{Body: "E", Shape: OnlyOK, CanResponse: true},
	}
	sort.Slice(t, func(i, j int) bool { return t[i].Body < t[j].Body })
	return t
}()

// Lookup returns the descriptor whose Body exactly equals body, via binary
// search over Table.
func Lookup(body string) (Descriptor, bool) {
	i := sort.Search(len(Table), func(i int) bool { return Table[i].Body >= body })
	if i < len(Table) && Table[i].Body == body {
		return Table[i], true
	}
	return Descriptor{}, false
}

// LookupLine classifies a raw information/URC line by finding the known
// command body it is prefixed with (the part up to, but not including, the
// following ':'). Returns the descriptor, the argument text (trimmed of all
// leading spaces), and ok=false if no known body prefixes the line.
func LookupLine(line string) (Descriptor, string, bool) {
	colon := -1
	for i := 0; i < len(line) && i < 24; i++ {
		if line[i] == ':' {
			colon = i
			break
		}
	}
	if colon < 0 {
		// Some response shapes (e.g. bare "E" echo toggles) have no
		// colon at all; try the whole line as a body.
		if d, ok := Lookup(line); ok {
			return d, "", true
		}
		return Descriptor{}, "", false
	}
	body := line[:colon]
	d, ok := Lookup(body)
	if !ok {
		return Descriptor{}, "", false
	}
	arg := line[colon+1:]
	for len(arg) > 0 && arg[0] == ' ' {
		arg = arg[1:]
	}
	return d, arg, true
}
