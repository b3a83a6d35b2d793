package dynamo

// Config holds configuration for the Store.
type Config struct {
	// Table is the name of the record table. Its partition key "pk"
	// holds the record's identity path.
	// Default: "espalier_records"
	Table string

	// Index is the name of the global secondary index used for kind
	// and ancestor queries (hash: "kind", range: "path").
	// Default: "kind-path-index"
	Index string

	// UniqueTable is the name of the unique constraints table. The
	// manager's advisory uniqueness check races under concurrent
	// writers; this table hardens it with a transactional reservation
	// row per record. Leave empty to rely on the advisory check alone.
	UniqueTable string
}

// DefaultConfig returns defaults with the transactional unique constraint
// table enabled.
func DefaultConfig() Config {
	return Config{
		Table:       "espalier_records",
		Index:       "kind-path-index",
		UniqueTable: "espalier_unique",
	}
}

// validate ensures required names are set. UniqueTable stays as given so an
// empty value keeps the constraint table disabled.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "espalier_records"
	}
	if c.Index == "" {
		c.Index = "kind-path-index"
	}
}
