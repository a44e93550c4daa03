package value

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// envelope is the self-describing JSON form of a Value. It is used by the
// SQLite adapter, export snapshots and audit documents.
type envelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes v as {"type": ..., "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.kind {
	case KindString:
		payload = v.str
	case KindNumber:
		payload = v.num
	case KindBigInt:
		payload = v.Big().String()
	case KindBool:
		payload = v.flag
	case KindBytes:
		payload = v.raw
	case KindDate:
		payload = v.at.UTC().Format(time.RFC3339Nano)
	case KindJSON:
		payload = v.doc
	default:
		return nil, fmt.Errorf("%w: cannot marshal zero value", ErrInvalidValue)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s value: %w", v.kind, err)
	}
	return json.Marshal(envelope{Type: v.kind.String(), Value: raw})
}

// UnmarshalJSON decodes the envelope written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	kind, err := ParseKind(env.Type)
	if err != nil {
		return err
	}

	switch kind {
	case KindString:
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		*v = String(s)
	case KindNumber:
		var f float64
		if err := json.Unmarshal(env.Value, &f); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		*v = Number(f)
	case KindBigInt:
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, s)
		}
		*v = BigInt(n)
	case KindBool:
		var b bool
		if err := json.Unmarshal(env.Value, &b); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		*v = Bool(b)
	case KindBytes:
		var b []byte
		if err := json.Unmarshal(env.Value, &b); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		*v = Bytes(b)
	case KindDate:
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		*v = Date(t)
	case KindJSON:
		var doc any
		if err := json.Unmarshal(env.Value, &doc); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		*v = JSON(doc)
	}
	return nil
}
