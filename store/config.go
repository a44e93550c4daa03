package store

// DynamoConfig holds configuration for the DynamoDB adapter.
type DynamoConfig struct {
	// Table is the DynamoDB table holding entries.
	// The table needs a string partition key "pk" and a binary sort key "sk".
	// Default: "kvlens_entries"
	Table string

	// Namespace is the partition key value for this connection. Several
	// connections can share one table under different namespaces.
	// Default: "default"
	Namespace string

	// QueryPageSize caps the items DynamoDB evaluates per Query request.
	// Default: 0 (let DynamoDB decide)
	// Max: 1000
	QueryPageSize int32
}

// DefaultDynamoConfig returns sensible defaults for a single connection.
func DefaultDynamoConfig() DynamoConfig {
	return DynamoConfig{
		Table:     "kvlens_entries",
		Namespace: "default",
	}
}

// validate ensures config values are within acceptable bounds.
func (c *DynamoConfig) validate() {
	if c.Table == "" {
		c.Table = "kvlens_entries"
	}
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.QueryPageSize < 0 {
		c.QueryPageSize = 0
	}
	if c.QueryPageSize > 1000 {
		c.QueryPageSize = 1000
	}
}
