// Package value implements the typed store value: a tagged union over the
// value kinds an ordered key-value store can hold, together with building
// values from operator input, rendering, size estimation and a JSON envelope.
package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/jacentio/kvlens/key"
)

// ErrInvalidValue is returned when raw input cannot be coerced to the declared type.
var ErrInvalidValue = errors.New("kvlens: invalid value")

// Kind identifies the variant held by a Value. It doubles as the declared
// type operators pick when entering a value.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindNumber
	KindBigInt
	KindBool
	KindBytes
	KindDate
	KindJSON
)

var kindNames = map[Kind]string{
	KindString: "string",
	KindNumber: "number",
	KindBigInt: "bigint",
	KindBool:   "boolean",
	KindBytes:  "bytes",
	KindDate:   "date",
	KindJSON:   "json",
}

// String returns the declared type name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind resolves a declared type name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown type %q", ErrInvalidValue, name)
}

// Value is a typed store payload. The zero Value is invalid.
type Value struct {
	kind Kind
	str  string
	num  float64
	big  *big.Int
	flag bool
	raw  []byte
	at   time.Time
	doc  any
}

func String(s string) Value { return Value{kind: KindString, str: s} }
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }
func Date(t time.Time) Value { return Value{kind: KindDate, at: t} }

// BigInt returns a bigint value. n is copied.
func BigInt(n *big.Int) Value {
	if n == nil {
		n = new(big.Int)
	}
	return Value{kind: KindBigInt, big: new(big.Int).Set(n)}
}

// Bytes returns a byte sequence value. b is copied.
func Bytes(b []byte) Value {
	return Value{kind: KindBytes, raw: append([]byte{}, b...)}
}

// JSON returns a structured value. doc must be a JSON-like tree made of
// nil, bool, float64, string, []any and map[string]any.
func JSON(doc any) Value { return Value{kind: KindJSON, doc: doc} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) Str() string { return v.str }
func (v Value) Num() float64 { return v.num }
func (v Value) Bool() bool { return v.flag }
func (v Value) Time() time.Time { return v.at }
func (v Value) Doc() any { return v.doc }
func (v Value) Raw() []byte { return append([]byte{}, v.raw...) }
func (v Value) IsValid() bool { return v.kind != 0 }
func (v Value) TypeName() string { return v.kind.String() }
func (v Value) Big() *big.Int {
	if v.big == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v.big)
}

// Equal reports whether two values hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return math.Float64bits(v.num) == math.Float64bits(o.num)
	case KindBigInt:
		return v.Big().Cmp(o.Big()) == 0
	case KindBool:
		return v.flag == o.flag
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindDate:
		return v.at.Equal(o.at)
	case KindJSON:
		return reflect.DeepEqual(v.doc, o.doc)
	default:
		return true
	}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Build coerces raw operator input into a value of the declared kind.
func Build(raw string, declared Kind) (Value, error) {
	switch declared {
	case KindString:
		return String(raw), nil
	case KindNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, raw)
		}
		return Number(f), nil
	case KindBigInt:
		s := strings.TrimSuffix(strings.TrimSpace(raw), "n")
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return Value{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, raw)
		}
		return BigInt(n), nil
	case KindBool:
		switch strings.TrimSpace(raw) {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
		return Value{}, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, raw)
	case KindBytes:
		b, err := key.ParseBytes(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return Bytes(b), nil
	case KindDate:
		s := strings.TrimSpace(raw)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return Date(t), nil
			}
		}
		return Value{}, fmt.Errorf("%w: %q is not a valid date", ErrInvalidValue, raw)
	case KindJSON:
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return JSON(doc), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported type %d", ErrInvalidValue, declared)
	}
}

// Render returns the text shown to operators and matched by list filters.
func Render(v Value) string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBigInt:
		return v.Big().String() + "n"
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindBytes:
		return key.Bytes(v.raw).String()
	case KindDate:
		return v.at.UTC().Format(time.RFC3339Nano)
	case KindJSON:
		b, err := json.Marshal(v.doc)
		if err != nil {
			return fmt.Sprint(v.doc)
		}
		return string(b)
	default:
		return ""
	}
}

// ApproximateSize estimates the stored size of v in bytes. The estimate is
// deterministic and independent of any store's wire representation.
func ApproximateSize(v Value) int {
	switch v.kind {
	case KindString:
		return len(v.str)
	case KindNumber, KindDate:
		return 8
	case KindBigInt:
		n := len(v.Big().Bytes())
		if n == 0 {
			return 1
		}
		return n
	case KindBool:
		return 4
	case KindBytes:
		return len(v.raw)
	case KindJSON:
		return docSize(v.doc)
	default:
		return 0
	}
}

func docSize(doc any) int {
	switch d := doc.(type) {
	case nil:
		return 0
	case bool:
		return 4
	case float64, int, int64, json.Number:
		return 8
	case string:
		return len(d)
	case []any:
		total := 0
		for _, item := range d {
			total += docSize(item)
		}
		return total
	case map[string]any:
		total := 0
		for k, item := range d {
			total += len(k) + docSize(item)
		}
		return total
	default:
		return len(fmt.Sprint(d))
	}
}
