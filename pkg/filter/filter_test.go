package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/types"
)

func record() *types.NormalizedRecord {
	return &types.NormalizedRecord{
		EntityType:  "issue",
		LogicalID:   "TAP-42",
		DisplayName: "Fix flaky retry test",
		Phase:       "active",
		Scope:       types.Scope{OrgID: "org-1", ProjectID: "proj-1"},
		Provenance:  types.Provenance{EndpointID: "ep-1", Vendor: "jira"},
		Payload: map[string]any{
			"status":   "open",
			"priority": 2,
			"labels":   []any{"ci", "flaky"},
		},
	}
}

func TestCompileEmptyMatchesAll(t *testing.T) {
	f, err := Compile("")
	require.NoError(t, err)
	require.Nil(t, f)

	ok, err := f.Match(record())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompileRejectsBadExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{name: "syntax error", expr: "entityType =="},
		{name: "unknown variable", expr: "severity > 3"},
		{name: "non-boolean result", expr: "entityType"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.expr)
			require.Error(t, err)
			assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))
		})
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want bool
	}{
		{
			name: "entity type",
			expr: `entityType == "issue"`,
			want: true,
		},
		{
			name: "entity type mismatch",
			expr: `entityType == "document"`,
			want: false,
		},
		{
			name: "payload field",
			expr: `payload.status == "open" && payload.priority >= 2`,
			want: true,
		},
		{
			name: "payload list membership",
			expr: `"flaky" in payload.labels`,
			want: true,
		},
		{
			name: "scope",
			expr: `scope.orgId == "org-1" && scope.projectId == "proj-1"`,
			want: true,
		},
		{
			name: "vendor and phase",
			expr: `vendor == "jira" && phase != "archived"`,
			want: true,
		},
		{
			name: "guarded absent payload key",
			expr: `has(payload.assignee) && payload.assignee == "kim"`,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Compile(tt.expr)
			require.NoError(t, err)

			got, err := f.Match(record())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchAbsentKeyErrors(t *testing.T) {
	f, err := Compile(`payload.assignee == "kim"`)
	require.NoError(t, err)

	_, err = f.Match(record())
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))
}

func TestMatchNilPayload(t *testing.T) {
	f, err := Compile(`entityType == "issue"`)
	require.NoError(t, err)

	rec := record()
	rec.Payload = nil
	ok, err := f.Match(rec)
	require.NoError(t, err)
	assert.True(t, ok)
}
