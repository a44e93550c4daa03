package store

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/jacentio/kvlens/key"
)

// Selector names a set of keys the way operators write it: every key under
// Prefix, optionally narrowed to [Start, End). Empty keys mean "unset".
type Selector struct {
	Prefix key.Key
	Start  key.Key
	End    key.Key
}

// Range is a half-open interval of encoded keys.
type Range struct {
	// Lower is the inclusive lower bound.
	Lower []byte

	// Upper is the exclusive upper bound.
	Upper []byte
}

// RangeOf resolves a selector to encoded bounds. The prefix contributes
// (P+0x00, P+0xFF) and Start and End only narrow it, so a scan never leaves
// the prefix. A Start sorting after End is ErrInvalidRange; bounds that
// fall wholly outside the prefix yield an empty range.
func RangeOf(sel Selector) (Range, error) {
	prefix, err := key.Encode(sel.Prefix)
	if err != nil {
		return Range{}, fmt.Errorf("encode prefix: %w", err)
	}
	r := Range{
		Lower: append(append([]byte{}, prefix...), 0x00),
		Upper: append(append([]byte{}, prefix...), 0xff),
	}

	var start, end []byte
	if len(sel.Start) > 0 {
		if start, err = key.Encode(sel.Start); err != nil {
			return Range{}, fmt.Errorf("encode start: %w", err)
		}
	}
	if len(sel.End) > 0 {
		if end, err = key.Encode(sel.End); err != nil {
			return Range{}, fmt.Errorf("encode end: %w", err)
		}
	}
	if start != nil && end != nil && bytes.Compare(start, end) > 0 {
		return Range{}, fmt.Errorf("%w: start sorts after end", ErrInvalidRange)
	}

	if start != nil && bytes.Compare(start, r.Lower) > 0 {
		r.Lower = start
	}
	if end != nil && bytes.Compare(end, r.Upper) < 0 {
		r.Upper = end
	}
	if bytes.Compare(r.Lower, r.Upper) > 0 {
		r.Upper = r.Lower
	}
	return r, nil
}

// Empty reports whether the range holds no keys.
func (r Range) Empty() bool {
	return bytes.Compare(r.Lower, r.Upper) >= 0
}

// Contains reports whether enc lies within the range.
func (r Range) Contains(enc []byte) bool {
	return bytes.Compare(enc, r.Lower) >= 0 && bytes.Compare(enc, r.Upper) < 0
}

// Resume narrows the range to the keys not yet returned by a scan that
// stopped at cursor. An empty cursor returns the range unchanged.
func (r Range) Resume(cursor string, reverse bool) (Range, error) {
	if cursor == "" {
		return r, nil
	}
	last, err := DecodeCursor(cursor)
	if err != nil {
		return Range{}, err
	}
	if !r.Contains(last) {
		return Range{}, fmt.Errorf("%w: cursor outside range", ErrInvalidCursor)
	}
	if reverse {
		return Range{Lower: r.Lower, Upper: last}, nil
	}
	// last+0x00 is the smallest byte string sorting after last.
	return Range{Lower: append(append([]byte{}, last...), 0x00), Upper: r.Upper}, nil
}

// EncodeCursor returns the cursor for a scan that last returned enc.
func EncodeCursor(enc []byte) string {
	return base64.RawURLEncoding.EncodeToString(enc)
}

// DecodeCursor returns the encoded key a cursor points at.
func DecodeCursor(cursor string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || len(b) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}
	return b, nil
}
