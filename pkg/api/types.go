package api

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ServerConfig holds configuration for the inspection API server.
type ServerConfig struct {
	Port    int
	APIKey  string
	DataDir string
}

// ValueResult is one entry value shaped for JSON, with its record
// pointer rendered as hex (record pointers are opaque bytes per
// spec.md §1; hex is the only encoding that survives round-tripping
// through an HTTP response body unambiguously).
type ValueResult struct {
	RecordPointer string            `json:"record_pointer"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// EntryResult is one matching tree entry shaped for JSON.
type EntryResult struct {
	Key    interface{}   `json:"key"`
	Values []ValueResult `json:"values,omitempty"`
	Count  int           `json:"count,omitempty"`
}

// StatsResult mirrors pkg/rtree.Stats for JSON responses.
type StatsResult struct {
	Depth            int   `json:"depth"`
	LeafCount        int   `json:"leaf_count"`
	LiveEntryCount   int   `json:"live_entry_count"`
	LiveValueCount   int   `json:"live_value_count"`
	TotalLength      int64 `json:"total_length"`
	TailFree         int64 `json:"tail_free"`
	ReclaimedTotal   int64 `json:"reclaimed_total"`
	ReclaimedRegions int   `json:"reclaimed_regions"`
}
