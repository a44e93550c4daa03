package key

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedKey is returned when a key literal cannot be parsed.
var ErrMalformedKey = errors.New("kvlens: malformed key")

var (
	bigintLiteral = regexp.MustCompile(`^-?[0-9]+n$`)
	numberLiteral = regexp.MustCompile(`^-?([0-9]+\.?[0-9]*|\.[0-9]+)$`)
)

// Parse parses a key literal. The empty (or all-whitespace) literal yields the
// empty key.
func Parse(literal string) (Key, error) {
	p := &parser{src: literal}
	p.skipSpace()
	if p.eof() {
		return Key{}, nil
	}

	var k Key
	for {
		p.skipSpace()
		part, err := p.component()
		if err != nil {
			return nil, err
		}
		k = append(k, part)

		p.skipSpace()
		if p.eof() {
			return k, nil
		}
		if p.peek() != ',' {
			return nil, p.errorf("unexpected %q after component", p.peek())
		}
		p.pos++
	}
}

// ParseBytes parses a standalone byte sequence literal such as "[1,2,3]".
func ParseBytes(literal string) ([]byte, error) {
	p := &parser{src: literal}
	p.skipSpace()
	if p.eof() || p.peek() != '[' {
		return nil, p.errorf("expected '['")
	}
	part, err := p.bytesLiteral()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected %q after byte sequence", p.peek())
	}
	return part.raw, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) eof() bool  { return p.pos >= len(p.src) }
func (p *parser) peek() byte { return p.src[p.pos] }

func (p *parser) skipSpace() {
	for !p.eof() && isSpace(p.peek()) {
		p.pos++
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d", ErrMalformedKey, fmt.Sprintf(format, args...), p.pos)
}

func (p *parser) component() (Part, error) {
	if p.eof() {
		return Part{}, p.errorf("expected component")
	}
	switch c := p.peek(); c {
	case '"', '\'', '`':
		return p.quoted(c)
	case '[':
		return p.bytesLiteral()
	case ',':
		return Part{}, p.errorf("empty component")
	default:
		return p.bare()
	}
}

// quoted reads a string delimited by delim. Inside the string a backslash
// escapes the delimiter or another backslash; any other backslash is kept.
func (p *parser) quoted(delim byte) (Part, error) {
	start := p.pos
	p.pos++
	var b strings.Builder
	for !p.eof() {
		c := p.peek()
		switch {
		case c == '\\' && p.pos+1 < len(p.src) && (p.src[p.pos+1] == delim || p.src[p.pos+1] == '\\'):
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case c == delim:
			p.pos++
			return String(b.String()), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	p.pos = start
	return Part{}, p.errorf("unterminated quoted string")
}

func (p *parser) bytesLiteral() (Part, error) {
	p.pos++ // '['
	out := []byte{}
	p.skipSpace()
	if !p.eof() && p.peek() == ']' {
		p.pos++
		return Bytes(out), nil
	}
	for {
		p.skipSpace()
		if p.eof() {
			return Part{}, p.errorf("unbalanced brackets")
		}
		if c := p.peek(); c == ']' || c == ',' {
			return Part{}, p.errorf("trailing comma in byte sequence")
		}
		start := p.pos
		for !p.eof() && !isSpace(p.peek()) && p.peek() != ',' && p.peek() != ']' {
			p.pos++
		}
		tok := p.src[start:p.pos]
		n, err := strconv.Atoi(tok)
		if err != nil {
			p.pos = start
			return Part{}, p.errorf("byte %q is not an integer", tok)
		}
		if n < 0 || n > 255 {
			p.pos = start
			return Part{}, p.errorf("byte %d out of range 0-255", n)
		}
		out = append(out, byte(n))

		p.skipSpace()
		if p.eof() {
			return Part{}, p.errorf("unbalanced brackets")
		}
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return Bytes(out), nil
		default:
			return Part{}, p.errorf("unexpected %q in byte sequence", p.peek())
		}
	}
}

// bare reads an unquoted token and matches it against the bigint, number and
// boolean literal forms.
func (p *parser) bare() (Part, error) {
	start := p.pos
	for !p.eof() && !isSpace(p.peek()) && p.peek() != ',' {
		p.pos++
	}
	tok := p.src[start:p.pos]
	switch {
	case bigintLiteral.MatchString(tok):
		n, ok := new(big.Int).SetString(tok[:len(tok)-1], 10)
		if !ok {
			p.pos = start
			return Part{}, p.errorf("invalid bigint %q", tok)
		}
		return BigInt(n), nil
	case numberLiteral.MatchString(tok):
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsInf(f, 0) {
			p.pos = start
			return Part{}, p.errorf("invalid number %q", tok)
		}
		return Number(f), nil
	case tok == "true":
		return Bool(true), nil
	case tok == "false":
		return Bool(false), nil
	}
	p.pos = start
	return Part{}, p.errorf("unrecognized token %q", tok)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
