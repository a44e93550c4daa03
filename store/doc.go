// Package store defines the ordered key-value store collaborator and ships
// its DynamoDB adapter.
//
// Every adapter sorts entries by the order-preserving encoding produced by
// [key.Encode], so a range scan over encoded bounds returns keys in key order.
//
// # Store Interface
//
// All adapters implement [Store]:
//
//	type Store interface {
//	    List(ctx context.Context, r Range, opts ListOptions) (*Page, error)
//	    Get(ctx context.Context, k key.Key) (*Entry, error)
//	    Set(ctx context.Context, k key.Key, v value.Value, opts SetOptions) (Versionstamp, error)
//	    Delete(ctx context.Context, k key.Key) error
//	}
//
// Connections are resolved through [Connections]; [Registry] is the
// in-process implementation used by the CLI and tests.
//
// # Selectors and Ranges
//
// A [Selector] (prefix, start, end) resolves to an encoded [Range] with
// [RangeOf]. Pages carry an opaque cursor that [Range.Resume] turns back
// into the remaining range.
//
// # DynamoDB Layout
//
// [Dynamo] stores one item per entry:
//
//	pk          S    connection namespace
//	sk          B    encoded key
//	vt          S    value type name
//	v           *    value payload
//	version     N    incremented on every write
//	ttl         N    optional expiry (epoch seconds)
//	updated_at  S    RFC 3339 timestamp
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - entry doesn't exist or is expired
//   - [ErrConditionFailed] - conditional write rejected
//   - [ErrUnavailable] - store cannot be reached
//   - [ErrConnectionNotFound] - unknown connection id
//   - [ErrInvalidCursor] - cursor does not belong to the range
//   - [ErrInvalidRange] - start sorts after end
package store
