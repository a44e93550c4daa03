package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/value"
)

// Store is the ordered key-value store collaborator. Implementations must
// return entries in encoded key order and issue a monotonically increasing
// versionstamp per record on every write.
type Store interface {
	// List returns one page of live entries within r.
	List(ctx context.Context, r Range, opts ListOptions) (*Page, error)

	// Get returns the live entry stored under k, or ErrNotFound.
	Get(ctx context.Context, k key.Key) (*Entry, error)

	// Set writes v under k and returns the new versionstamp.
	// Conditional writes that do not hold fail with ErrConditionFailed.
	Set(ctx context.Context, k key.Key, v value.Value, opts SetOptions) (Versionstamp, error)

	// Delete removes k. Deleting a missing key is not an error.
	Delete(ctx context.Context, k key.Key) error
}

// Versionstamp is the opaque version marker issued by a store on write.
// Versionstamps of one record sort in write order.
type Versionstamp string

// NewVersionstamp formats a numeric record version as a versionstamp.
func NewVersionstamp(version int64) Versionstamp {
	return Versionstamp(fmt.Sprintf("%020d", version))
}

// Version returns the numeric version behind a versionstamp issued by
// NewVersionstamp.
func (v Versionstamp) Version() (int64, error) {
	return strconv.ParseInt(string(v), 10, 64)
}

// Entry is a raw store record.
type Entry struct {
	// Key is the decoded record key.
	Key key.Key

	// Value is the stored payload.
	Value value.Value

	// Versionstamp is the marker issued by the last write.
	Versionstamp Versionstamp

	// ExpiresAt is the record expiry, zero when the record never expires.
	ExpiresAt time.Time
}

// Page is one page of a range scan.
type Page struct {
	// Entries holds at most ListOptions.Limit entries.
	Entries []Entry

	// Cursor resumes the scan after the last returned entry.
	Cursor string

	// Done is true when the range holds no entries past this page.
	Done bool
}

// ListOptions configures one List call.
type ListOptions struct {
	// Limit is the maximum number of entries to return. Values below 1 use DefaultPageSize.
	Limit int

	// Cursor resumes a previous scan of the same range. Empty starts from the beginning.
	Cursor string

	// Reverse returns entries in descending key order.
	Reverse bool
}

// DefaultPageSize is used when ListOptions.Limit is unset.
const DefaultPageSize = 100

// PageSize returns the effective page size.
func (o ListOptions) PageSize() int {
	if o.Limit < 1 {
		return DefaultPageSize
	}
	return o.Limit
}

// SetOptions configures one Set call.
type SetOptions struct {
	// ExpireIn sets a relative record expiry. Zero keeps the record forever.
	ExpireIn time.Duration

	// IfAbsent only writes when no live record exists under the key.
	IfAbsent bool

	// IfVersion only writes when the live record carries this versionstamp.
	IfVersion Versionstamp
}

// Connection describes a configured store for audit records and the CLI.
type Connection struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Backend  string `json:"backend"`
}

// Connections resolves connection ids to stores.
type Connections interface {
	// Store returns the store for id or ErrConnectionNotFound.
	Store(ctx context.Context, id string) (Store, error)

	// Describe returns the connection descriptor for id or ErrConnectionNotFound.
	Describe(id string) (Connection, error)
}
