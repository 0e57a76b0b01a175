package types

// Metadata is a map of key-value pairs attached to entities for
// tenant-specific bookkeeping. It is stored as-is and never interpreted.
type Metadata map[string]string
