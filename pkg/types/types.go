package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Endpoint represents a configured source instance (ticket tracker, code
// host, wiki) that ingestion units are discovered from.
type Endpoint struct {
	ID           string            `json:"id"`
	SourceID     string            `json:"sourceId"` // stable slug derived from the name
	TenantID     string            `json:"tenantId"`
	Name         string            `json:"name"`
	Verb         string            `json:"verb"` // driver id, e.g. "http", "replay"
	URL          string            `json:"url"`
	AuthPolicy   string            `json:"authPolicy,omitempty"` // reference only, never secret material
	ProjectID    string            `json:"projectId,omitempty"`
	Domain       string            `json:"domain,omitempty"`
	Labels       []string          `json:"labels,omitempty"`
	Config       map[string]string `json:"config,omitempty"`
	Version      string            `json:"version,omitempty"` // detected on probe
	Capabilities []string          `json:"capabilities,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	DeletedAt    *time.Time        `json:"deletedAt,omitempty"`
	DeleteReason string            `json:"deleteReason,omitempty"`
}

// Deleted reports whether the endpoint has been soft-deleted.
func (e *Endpoint) Deleted() bool {
	return e.DeletedAt != nil
}

// Scope returns the tenancy scope all of the endpoint's records inherit.
func (e *Endpoint) Scope() Scope {
	return Scope{OrgID: e.TenantID, DomainID: e.Domain, ProjectID: e.ProjectID}
}

// RunMode defines how a unit pulls data from its source
type RunMode string

const (
	RunModeFull        RunMode = "FULL"
	RunModeIncremental RunMode = "INCREMENTAL"
)

// ScheduleKind defines when a unit runs
type ScheduleKind string

const (
	ScheduleManual   ScheduleKind = "MANUAL"
	ScheduleInterval ScheduleKind = "INTERVAL"
)

// SinkMode defines whether records flow raw or through a CDM transform
type SinkMode string

const (
	SinkModeRaw SinkMode = "raw"
	SinkModeCDM SinkMode = "cdm"
)

// UnitDescriptor is an independently ingestable slice of an endpoint as
// reported by its driver (e.g. "this repo's pull requests").
type UnitDescriptor struct {
	ID                     string         `json:"id"`
	Kind                   string         `json:"kind"`
	Name                   string         `json:"name"`
	DatasetID              string         `json:"datasetId,omitempty"`
	DefaultMode            RunMode        `json:"defaultMode"`
	SupportedModes         []RunMode      `json:"supportedModes,omitempty"`
	DefaultSinkID          string         `json:"defaultSinkId,omitempty"`
	DefaultScheduleKind    ScheduleKind   `json:"defaultScheduleKind,omitempty"`
	DefaultIntervalMinutes int            `json:"defaultIntervalMinutes,omitempty"`
	DefaultPolicy          map[string]any `json:"defaultPolicy,omitempty"`
	CDMModelID             string         `json:"cdmModelId,omitempty"`
}

// Supports reports whether the unit supports the given run mode. An empty
// SupportedModes set means only the default mode is supported.
func (u *UnitDescriptor) Supports(mode RunMode) bool {
	if len(u.SupportedModes) == 0 {
		return mode == u.DefaultMode
	}
	for _, m := range u.SupportedModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Well-known policy keys recognized by the engine. Unknown keys are
// preserved verbatim but ignored.
const (
	PolicyKeyCursorField       = "cursorField"
	PolicyKeyPrimaryKeys       = "primaryKeys"
	PolicyKeyStagingProviderID = "stagingProviderId"
)

// UnitConfig is the per-unit override record persisted by configure calls.
type UnitConfig struct {
	EndpointID      string         `json:"endpointId"`
	UnitID          string         `json:"unitId"`
	Enabled         bool           `json:"enabled"`
	RunMode         RunMode        `json:"runMode"`
	Mode            SinkMode       `json:"mode"`
	SinkID          string         `json:"sinkId"`
	SinkEndpointID  string         `json:"sinkEndpointId,omitempty"` // required when Mode == cdm
	ScheduleKind    ScheduleKind   `json:"scheduleKind"`
	IntervalMinutes int            `json:"intervalMinutes,omitempty"` // present iff ScheduleKind == INTERVAL
	Policy          map[string]any `json:"policy,omitempty"`
	Filter          string         `json:"filter,omitempty"` // CEL expression over record fields
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Validate checks the structural invariants of a unit configuration.
func (c *UnitConfig) Validate() error {
	if c.EndpointID == "" || c.UnitID == "" {
		return fmt.Errorf("unit config requires endpointId and unitId")
	}
	switch c.RunMode {
	case RunModeFull, RunModeIncremental:
	default:
		return fmt.Errorf("invalid run mode: %q", c.RunMode)
	}
	switch c.Mode {
	case SinkModeRaw, SinkModeCDM:
	default:
		return fmt.Errorf("invalid sink mode: %q", c.Mode)
	}
	if c.Mode == SinkModeCDM && c.SinkEndpointID == "" {
		return fmt.Errorf("cdm mode requires sinkEndpointId")
	}
	switch c.ScheduleKind {
	case ScheduleManual, ScheduleInterval:
	default:
		return fmt.Errorf("invalid schedule kind: %q", c.ScheduleKind)
	}
	if c.ScheduleKind == ScheduleInterval && c.IntervalMinutes < 1 {
		return fmt.Errorf("interval schedule requires intervalMinutes >= 1, got %d", c.IntervalMinutes)
	}
	if err := validatePolicy(c.Policy); err != nil {
		return err
	}
	return nil
}

func validatePolicy(policy map[string]any) error {
	if policy == nil {
		return nil
	}
	if v, ok := policy[PolicyKeyCursorField]; ok {
		if _, ok := v.(string); !ok {
			return fmt.Errorf("policy key %q must be a string", PolicyKeyCursorField)
		}
	}
	if v, ok := policy[PolicyKeyPrimaryKeys]; ok {
		switch pk := v.(type) {
		case []string:
		case []any:
			for _, e := range pk {
				if _, ok := e.(string); !ok {
					return fmt.Errorf("policy key %q must be a list of strings", PolicyKeyPrimaryKeys)
				}
			}
		default:
			return fmt.Errorf("policy key %q must be a list of strings", PolicyKeyPrimaryKeys)
		}
	}
	if v, ok := policy[PolicyKeyStagingProviderID]; ok {
		if _, ok := v.(string); !ok {
			return fmt.Errorf("policy key %q must be a string", PolicyKeyStagingProviderID)
		}
	}
	return nil
}

// CursorField returns the policy cursor field, if set.
func (c *UnitConfig) CursorField() string {
	if c.Policy == nil {
		return ""
	}
	s, _ := c.Policy[PolicyKeyCursorField].(string)
	return s
}

// PrimaryKeys returns the policy primary key list, if set.
func (c *UnitConfig) PrimaryKeys() []string {
	if c.Policy == nil {
		return nil
	}
	switch pk := c.Policy[PolicyKeyPrimaryKeys].(type) {
	case []string:
		return append([]string(nil), pk...)
	case []any:
		out := make([]string, 0, len(pk))
		for _, e := range pk {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// StagingProviderID returns the per-unit staging provider override, if set.
func (c *UnitConfig) StagingProviderID() string {
	if c.Policy == nil {
		return ""
	}
	s, _ := c.Policy[PolicyKeyStagingProviderID].(string)
	return s
}

// RunState represents the state of an ingestion run (and, projected, of a
// unit). Terminal states are immutable.
type RunState string

const (
	RunStateIdle      RunState = "IDLE"
	RunStateRunning   RunState = "RUNNING"
	RunStateSucceeded RunState = "SUCCEEDED"
	RunStateFailed    RunState = "FAILED"
	RunStatePaused    RunState = "PAUSED"
)

// Terminal reports whether the state admits no further transitions.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateSucceeded, RunStateFailed, RunStatePaused:
		return true
	}
	return false
}

// UnitStatus is the ephemeral projection of a unit's latest run.
type UnitStatus struct {
	EndpointID string             `json:"endpointId"`
	UnitID     string             `json:"unitId"`
	State      RunState           `json:"state"`
	LastRunID  string             `json:"lastRunId,omitempty"`
	LastRunAt  *time.Time         `json:"lastRunAt,omitempty"`
	LastError  string             `json:"lastError,omitempty"`
	Stats      map[string]float64 `json:"stats,omitempty"`
	Checkpoint json.RawMessage    `json:"checkpoint,omitempty"`
}

// Run represents one ingestion run of a unit.
type Run struct {
	ID         string             `json:"id"`
	EndpointID string             `json:"endpointId"`
	UnitID     string             `json:"unitId"`
	Mode       RunMode            `json:"mode"`
	State      RunState           `json:"state"`
	StartedAt  time.Time          `json:"startedAt"`
	EndedAt    *time.Time         `json:"endedAt,omitempty"`
	Stats      map[string]float64 `json:"stats,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// UnitWithStatus pairs a discovered unit with its persisted configuration
// and latest status for control-plane listings.
type UnitWithStatus struct {
	Unit   UnitDescriptor `json:"unit"`
	Config *UnitConfig    `json:"config,omitempty"`
	Status *UnitStatus    `json:"status,omitempty"`
}

// ActionResult is the uniform reply of control-plane mutations.
type ActionResult struct {
	OK      bool     `json:"ok"`
	RunID   string   `json:"runId,omitempty"`
	State   RunState `json:"state,omitempty"`
	Message string   `json:"message,omitempty"`
}

// AddStats accumulates src counters into dst, allocating dst when nil.
func AddStats(dst map[string]float64, src map[string]float64) map[string]float64 {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]float64, len(src))
	}
	for k, v := range src {
		dst[k] += v
	}
	return dst
}

// CloneStats returns a copy of a stats map.
func CloneStats(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// CloneAnyMap returns a shallow copy of a generic property map.
func CloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// CloneStringMap returns a copy of a string map.
func CloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
