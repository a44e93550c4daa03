package list

import (
	"fmt"

	"github.com/jacentio/kvlens/cache"
	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/store"
)

// Target names a range of one connection using key literals.
type Target struct {
	ConnectionID string
	Prefix       string
	Start        string
	End          string
	Reverse      bool
}

// Shape returns the cache shape of the target's scan.
func (t Target) Shape() cache.Shape {
	return cache.Shape{
		ConnectionID: t.ConnectionID,
		Prefix:       t.Prefix,
		Start:        t.Start,
		End:          t.End,
		Reverse:      t.Reverse,
	}
}

// Selector parses the target's literals.
func (t Target) Selector() (store.Selector, error) {
	var (
		sel store.Selector
		err error
	)
	if sel.Prefix, err = key.Parse(t.Prefix); err != nil {
		return store.Selector{}, fmt.Errorf("prefix: %w", err)
	}
	if sel.Start, err = key.Parse(t.Start); err != nil {
		return store.Selector{}, fmt.Errorf("start: %w", err)
	}
	if sel.End, err = key.Parse(t.End); err != nil {
		return store.Selector{}, fmt.Errorf("end: %w", err)
	}
	return sel, nil
}

// Range parses the target's literals and resolves them to encoded bounds.
func (t Target) Range() (store.Range, error) {
	sel, err := t.Selector()
	if err != nil {
		return store.Range{}, err
	}
	return store.RangeOf(sel)
}

// Describe renders the selector for audit records.
func (t Target) Describe() string {
	out := "prefix=[" + t.Prefix + "]"
	if t.Start != "" {
		out += " start=[" + t.Start + "]"
	}
	if t.End != "" {
		out += " end=[" + t.End + "]"
	}
	if t.Reverse {
		out += " reverse"
	}
	return out
}
