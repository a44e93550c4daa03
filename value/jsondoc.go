package value

import (
	"encoding/json"
	"fmt"
)

// JSONOf converts v to a json value by round-tripping it through
// encoding/json, so struct tags decide the stored shape.
func JSONOf(v any) (Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Value{}, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return Value{}, err
	}
	return JSON(doc), nil
}

// DecodeJSON unpacks a json value into dst.
func DecodeJSON(v Value, dst any) error {
	if v.kind != KindJSON {
		return fmt.Errorf("%w: expected json, got %s", ErrInvalidValue, v.TypeName())
	}
	b, err := json.Marshal(v.doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
