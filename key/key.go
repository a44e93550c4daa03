// Package key implements the typed key literal grammar used to address
// entries in an ordered key-value store.
//
// A key is an ordered sequence of typed parts. Each part is one of bytes,
// string, number (float64), bigint or boolean. Keys are written by operators
// as short comma-separated literals:
//
//	"users", 42, 9007199254740993n, true, [1,2,3]
//
// [Parse] turns a literal into a [Key], [Key.String] renders the canonical
// literal back, and [Encode] produces an order-preserving binary form used as
// the store sort key.
package key

import (
	"bytes"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Kind identifies the type of a key part. The numeric order of kinds is the
// order parts of different kinds sort in.
type Kind uint8

const (
	KindBytes Kind = iota + 1
	KindString
	KindNumber
	KindBigInt
	KindBool
)

// String returns the type name shown to operators.
func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBigInt:
		return "bigint"
	case KindBool:
		return "boolean"
	default:
		return "unknown"
	}
}

// Part is one typed component of a key.
type Part struct {
	kind Kind
	str  string
	num  float64
	big  *big.Int
	flag bool
	raw  []byte
}

// String returns a string part.
func String(s string) Part { return Part{kind: KindString, str: s} }

// Number returns a number part.
func Number(f float64) Part { return Part{kind: KindNumber, num: f} }

// BigInt returns an arbitrary-precision integer part. The value is copied.
func BigInt(n *big.Int) Part {
	if n == nil {
		n = new(big.Int)
	}
	return Part{kind: KindBigInt, big: new(big.Int).Set(n)}
}

// Bool returns a boolean part.
func Bool(b bool) Part { return Part{kind: KindBool, flag: b} }

// Bytes returns a byte sequence part. The slice is copied.
func Bytes(b []byte) Part {
	return Part{kind: KindBytes, raw: append([]byte{}, b...)}
}

// Kind returns the part type.
func (p Part) Kind() Kind { return p.kind }

// Str returns the value of a string part.
func (p Part) Str() string { return p.str }

// Num returns the value of a number part.
func (p Part) Num() float64 { return p.num }

// Big returns a copy of the value of a bigint part.
func (p Part) Big() *big.Int {
	if p.big == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(p.big)
}

// Bool returns the value of a boolean part.
func (p Part) Bool() bool { return p.flag }

// Raw returns a copy of the value of a bytes part.
func (p Part) Raw() []byte { return append([]byte{}, p.raw...) }

// Equal reports whether two parts have the same kind and value.
// Numbers compare by bit pattern so 0 and -0 are distinct.
func (p Part) Equal(q Part) bool {
	if p.kind != q.kind {
		return false
	}
	switch p.kind {
	case KindBytes:
		return bytes.Equal(p.raw, q.raw)
	case KindString:
		return p.str == q.str
	case KindNumber:
		return math.Float64bits(p.num) == math.Float64bits(q.num)
	case KindBigInt:
		return p.Big().Cmp(q.Big()) == 0
	case KindBool:
		return p.flag == q.flag
	default:
		return false
	}
}

// String renders the part as canonical literal text.
func (p Part) String() string {
	switch p.kind {
	case KindBytes:
		var b strings.Builder
		b.WriteByte('[')
		for i, c := range p.raw {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(int(c)))
		}
		b.WriteByte(']')
		return b.String()
	case KindString:
		return quote(p.str)
	case KindNumber:
		return strconv.FormatFloat(p.num, 'f', -1, 64)
	case KindBigInt:
		return p.Big().String() + "n"
	case KindBool:
		return strconv.FormatBool(p.flag)
	default:
		return ""
	}
}

// quote wraps s in double quotes, escaping backslashes and double quotes.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String()
}

// Key is an ordered sequence of parts. A key with no parts is the empty key.
type Key []Part

// String renders the canonical literal. Parse(k.String()) yields a key equal to k.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}

// Equal reports whether both keys have the same parts in the same order.
func (k Key) Equal(o Key) bool {
	if len(k) != len(o) {
		return false
	}
	for i := range k {
		if !k[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Append returns a new key with parts appended to k. k is not modified.
func (k Key) Append(parts ...Part) Key {
	out := make(Key, 0, len(k)+len(parts))
	out = append(out, k...)
	return append(out, parts...)
}

// TypeNames renders the type name of every part, or "<empty>" for the empty key.
func TypeNames(k Key) string {
	if len(k) == 0 {
		return "<empty>"
	}
	names := make([]string, len(k))
	for i, p := range k {
		names[i] = p.kind.String()
	}
	return strings.Join(names, ", ")
}

// DescribeLiteral parses literal and renders its type names, or "<invalid>"
// when the literal does not parse.
func DescribeLiteral(literal string) string {
	k, err := Parse(literal)
	if err != nil {
		return "<invalid>"
	}
	return TypeNames(k)
}
