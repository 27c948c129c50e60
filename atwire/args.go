package atwire

import "strings"

// The following helpers give high-level operations a uniform way to parse
// the comma- and EOL-delimited argument tuples that follow a "<body>: "
// prefix in an information line, such as "0,4,\"1.2.3.4\",9999". Fields are
// typed as a signed integer or a string; by convention (matching the
// original driver) an upper-case S strips the surrounding quotes from a
// quoted field, while a lower-case s returns the raw token unstripped -
// which also makes an omitted optional field (an empty token between two
// commas, such as the CI in "+CREG: 1,,") come back as "".

// Comma matches the ',' field separator.
func (p *Parser) Comma(timeoutMS int) error {
	return p.MatchByte(timeoutMS, ',')
}

// RawToken reads the raw bytes of the next field up to (but not including)
// the next ',' or "\r\n", which are left unconsumed. An empty field yields
// "". This is the 's' primitive: an unstripped token, used for both plain
// unquoted values and for optional fields that may be entirely absent.
func (p *Parser) RawToken(timeoutMS int) (string, error) {
	start := p.index
	for {
		if err := p.ensure(timeoutMS, 1); err != nil {
			if _, fixed := p.src.(*SliceSource); err == ErrReadTimeout && !fixed {
				return "", err
			}
			// end of an in-memory argument line, overflow or similar:
			// treat what we have as the token.
			break
		}
		b := p.buf[p.index]
		if b == ',' || b == '\r' {
			break
		}
		p.index++
	}
	return string(p.buf[start:p.index]), nil
}

// QuotedToken matches a quoted field and strips the surrounding quotes,
// with '"' escaped by '\\' within the string. This is the 'S' primitive.
func (p *Parser) QuotedToken(timeoutMS int) (string, error) {
	return p.MatchQuoted(timeoutMS, '\\')
}

// TrimArgPrefix strips a "<cmd>: " info-line prefix, if present, returning
// the remainder unchanged otherwise. Grounded on the teacher's
// info.TrimPrefix/info.HasPrefix helpers, generalized to a single call.
func TrimArgPrefix(line, cmd string) (string, bool) {
	p := cmd + ":"
	if !strings.HasPrefix(line, p) {
		return line, false
	}
	return strings.TrimLeft(strings.TrimPrefix(line, p), " "), true
}
