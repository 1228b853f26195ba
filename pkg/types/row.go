package types

// Row is one persisted entity row as exchanged with a storage backend.
// Created and Updated are Unix seconds.
type Row struct {
	ID      int64          `json:"id"`
	Created int64          `json:"created"`
	Updated int64          `json:"updated"`
	Version int64          `json:"version,omitempty"`
	Values  map[string]any `json:"values"`
}
