package types

import "encoding/json"

// Provenance records where a normalized record came from.
type Provenance struct {
	EndpointID    string `json:"endpointId"`
	Vendor        string `json:"vendor,omitempty"`
	SourceEventID string `json:"sourceEventId,omitempty"`
}

// RecordEdge is an edge carried inline on a normalized record, expressed in
// source-local logical ids that the sink resolves to logical keys.
type RecordEdge struct {
	Type            string         `json:"type"`
	SourceLogicalID string         `json:"sourceLogicalId"`
	TargetLogicalID string         `json:"targetLogicalId"`
	Properties      map[string]any `json:"properties,omitempty"`
}

// NormalizedRecord is the unit of data flowing from drivers to sinks.
type NormalizedRecord struct {
	EntityType  string         `json:"entityType"`
	LogicalID   string         `json:"logicalId,omitempty"`
	DisplayName string         `json:"displayName,omitempty"`
	Scope       Scope          `json:"scope"`
	Provenance  Provenance     `json:"provenance"`
	Payload     map[string]any `json:"payload,omitempty"`
	Phase       string         `json:"phase,omitempty"`
	Edges       []RecordEdge   `json:"edges,omitempty"`
}

// Batch is an ordered group of normalized records. Sinks receive batches in
// driver emission order.
type Batch struct {
	Records []NormalizedRecord `json:"records"`
}

// SyncError is a non-fatal per-item error reported by a driver sync.
type SyncError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Sample  string `json:"sample,omitempty"`
}

// SyncResult is what a driver returns from one syncUnit call. NewCheckpoint
// is opaque and stored as-is; the engine never wraps it.
type SyncResult struct {
	NewCheckpoint  json.RawMessage    `json:"newCheckpoint,omitempty"`
	Stats          map[string]float64 `json:"stats,omitempty"`
	Batches        []Batch            `json:"batches"`
	SourceEventIDs []string           `json:"sourceEventIds,omitempty"`
	Errors         []SyncError        `json:"errors,omitempty"`
}

// RecordCount returns the total number of records across all batches.
func (r *SyncResult) RecordCount() int {
	n := 0
	for _, b := range r.Batches {
		n += len(b.Records)
	}
	return n
}
