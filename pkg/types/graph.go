package types

import (
	"strings"
	"time"
)

// Scope is the four-level tenancy key gating every graph read and write.
// OrgID is mandatory; the other levels narrow further.
type Scope struct {
	OrgID     string `json:"orgId"`
	DomainID  string `json:"domainId,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	TeamID    string `json:"teamId,omitempty"`
}

// Prefix returns the scope as a slash-joined path with empty levels elided,
// used to namespace checkpoint keys and staging datasets.
func (s Scope) Prefix() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{s.OrgID, s.DomainID, s.ProjectID, s.TeamID} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// IsZero reports whether no scope level is set.
func (s Scope) IsZero() bool {
	return s.OrgID == "" && s.DomainID == "" && s.ProjectID == "" && s.TeamID == ""
}

// Node represents a canonical entity in the knowledge graph.
type Node struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenantId"`
	ProjectID        string         `json:"projectId,omitempty"`
	EntityType       string         `json:"entityType"`
	DisplayName      string         `json:"displayName"`
	CanonicalPath    string         `json:"canonicalPath,omitempty"`
	SourceSystem     string         `json:"sourceSystem,omitempty"`
	SpecRef          string         `json:"specRef,omitempty"`
	Properties       map[string]any `json:"properties,omitempty"`
	Version          int64          `json:"version"`
	Scope            Scope          `json:"scope"`
	OriginEndpointID string         `json:"originEndpointId,omitempty"`
	OriginVendor     string         `json:"originVendor,omitempty"`
	LogicalKey       string         `json:"logicalKey"`
	ExternalID       map[string]any `json:"externalId,omitempty"`
	Phase            string         `json:"phase,omitempty"`
	Provenance       map[string]any `json:"provenance,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Edge represents a typed directed connection between two nodes. Both
// endpoints always resolve within the same Scope.OrgID.
type Edge struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenantId"`
	ProjectID        string         `json:"projectId,omitempty"`
	EdgeType         string         `json:"edgeType"`
	SourceNodeID     string         `json:"sourceNodeId"`
	TargetNodeID     string         `json:"targetNodeId"`
	SourceLogicalKey string         `json:"sourceLogicalKey,omitempty"`
	TargetLogicalKey string         `json:"targetLogicalKey,omitempty"`
	Scope            Scope          `json:"scope"`
	Confidence       float64        `json:"confidence,omitempty"` // 0..1, 0 means unset
	Metadata         map[string]any `json:"metadata,omitempty"`
	LogicalKey       string         `json:"logicalKey"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Embedding is a stored vector for one entity under one model.
type Embedding struct {
	EntityID  string    `json:"entityId"`
	ModelID   string    `json:"modelId"`
	Vector    []float32 `json:"vector"`
	Hash      string    `json:"hash"` // digest of the vector bytes
	CreatedAt time.Time `json:"createdAt"`
}

// EntityType is the closed set of recognized extracted-entity types.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityProject      EntityType = "project"
	EntityProduct      EntityType = "product"
	EntityDocument     EntityType = "document"
	EntityPolicy       EntityType = "policy"
	EntityProcess      EntityType = "process"
	EntityTechnology   EntityType = "technology"
	EntityLocation     EntityType = "location"
	EntityDate         EntityType = "date"
	EntityCode         EntityType = "code"
	EntityOther        EntityType = "other"
)

// KnownEntityType reports whether t is in the closed entity-type set.
func KnownEntityType(t EntityType) bool {
	switch t {
	case EntityPerson, EntityOrganization, EntityProject, EntityProduct,
		EntityDocument, EntityPolicy, EntityProcess, EntityTechnology,
		EntityLocation, EntityDate, EntityCode, EntityOther:
		return true
	}
	return false
}

// ExtractedEntity is one entity mention found in free text.
type ExtractedEntity struct {
	Text        string     `json:"text"`
	Type        EntityType `json:"type"`
	Normalized  string     `json:"normalized"`
	Confidence  float64    `json:"confidence"`
	StartOffset int        `json:"startOffset"`
	EndOffset   int        `json:"endOffset"`
	Qualifiers  []string   `json:"qualifiers,omitempty"`
	Context     string     `json:"context,omitempty"`
}

// ObservationStatus tracks an observation through canonicalization.
type ObservationStatus string

const (
	ObservationPending  ObservationStatus = "pending"
	ObservationMatched  ObservationStatus = "matched"
	ObservationCreated  ObservationStatus = "created"
	ObservationReview   ObservationStatus = "review"
	ObservationMerged   ObservationStatus = "merged"
	ObservationRejected ObservationStatus = "rejected"
)

// Observation is a per-source mention of an extracted entity, recorded
// before canonicalization.
type Observation struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenantId"`
	SourceType  string            `json:"sourceType"`
	SourceID    string            `json:"sourceId"`
	SourceURL   string            `json:"sourceUrl,omitempty"`
	Entity      ExtractedEntity   `json:"entity"`
	ObservedAt  time.Time         `json:"observedAt"`
	Status      ObservationStatus `json:"status"`
	CanonicalID string            `json:"canonicalId,omitempty"`
	MatchScore  float64           `json:"matchScore,omitempty"`
	MatchedBy   string            `json:"matchedBy,omitempty"` // rule that fired
}

// EntityView is the cross-source canonical view of one normalized entity.
type EntityView struct {
	Normalized   string        `json:"normalized"`
	Type         EntityType    `json:"type"`
	CanonicalID  string        `json:"canonicalId,omitempty"`
	Observations []Observation `json:"observations"`
	Sources      []string      `json:"sources"`
	FirstSeen    time.Time     `json:"firstSeen"`
	LastSeen     time.Time     `json:"lastSeen"`
	Confidence   float64       `json:"confidence"` // mean of observation confidences
}
