package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tapestryhq/tapestry/pkg/types"
)

func TestNodeKeyDeterministic(t *testing.T) {
	scope := types.Scope{OrgID: "org-1", ProjectID: "proj-1", DomainID: "dom-1"}
	ext := map[string]any{"repoId": 4211, "host": "github.com"}

	a := NodeKey("repository", scope, "ep-1", "github", "acme/api-server", "", ext)
	b := NodeKey("repository", scope, "ep-1", "github", "acme/api-server", "", ext)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestNodeKeyExternalIDOrderIndependent(t *testing.T) {
	scope := types.Scope{OrgID: "org-1"}

	a := NodeKey("issue", scope, "ep-1", "jira", "", "", map[string]any{
		"project": "TAP", "number": 42,
	})
	b := NodeKey("issue", scope, "ep-1", "jira", "", "", map[string]any{
		"number": 42, "project": "TAP",
	})

	assert.Equal(t, a, b)
}

func TestNodeKeyEmptyExternalIDMatchesNil(t *testing.T) {
	scope := types.Scope{OrgID: "org-1"}

	withNil := NodeKey("document", scope, "ep-1", "confluence", "eng/runbook", "", nil)
	withEmpty := NodeKey("document", scope, "ep-1", "confluence", "eng/runbook", "", map[string]any{})

	assert.Equal(t, withNil, withEmpty)
}

func TestNodeKeySensitivity(t *testing.T) {
	base := types.Scope{OrgID: "org-1", ProjectID: "proj-1"}
	key := NodeKey("repository", base, "ep-1", "github", "acme/api", "", nil)

	tests := []struct {
		name  string
		other string
	}{
		{
			name:  "entity type",
			other: NodeKey("document", base, "ep-1", "github", "acme/api", "", nil),
		},
		{
			name:  "org",
			other: NodeKey("repository", types.Scope{OrgID: "org-2", ProjectID: "proj-1"}, "ep-1", "github", "acme/api", "", nil),
		},
		{
			name:  "project",
			other: NodeKey("repository", types.Scope{OrgID: "org-1", ProjectID: "proj-2"}, "ep-1", "github", "acme/api", "", nil),
		},
		{
			name:  "origin endpoint",
			other: NodeKey("repository", base, "ep-2", "github", "acme/api", "", nil),
		},
		{
			name:  "vendor",
			other: NodeKey("repository", base, "ep-1", "gitlab", "acme/api", "", nil),
		},
		{
			name:  "canonical path",
			other: NodeKey("repository", base, "ep-1", "github", "acme/worker", "", nil),
		},
		{
			name:  "fallback id",
			other: NodeKey("repository", base, "ep-1", "github", "acme/api", "alt", nil),
		},
		{
			name:  "external id",
			other: NodeKey("repository", base, "ep-1", "github", "acme/api", "", map[string]any{"id": 1}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, key, tt.other)
		})
	}
}

func TestEdgeKeyDirectional(t *testing.T) {
	scope := types.Scope{OrgID: "org-1"}

	forward := EdgeKey("depends_on", scope, "ep-1", "github", "key-a", "key-b")
	backward := EdgeKey("depends_on", scope, "ep-1", "github", "key-b", "key-a")
	again := EdgeKey("depends_on", scope, "ep-1", "github", "key-a", "key-b")

	assert.Equal(t, forward, again)
	assert.NotEqual(t, forward, backward)
	assert.Len(t, forward, 64)
}

func TestStableStringify(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{
			name: "nil",
			in:   nil,
			want: "null",
		},
		{
			name: "sorted keys",
			in:   map[string]any{"b": 2, "a": 1},
			want: `{"a":1,"b":2}`,
		},
		{
			name: "nested",
			in:   map[string]any{"outer": map[string]any{"z": "last", "a": "first"}},
			want: `{"outer":{"a":"first","z":"last"}}`,
		},
		{
			name: "array order kept",
			in:   []any{3, 1, 2},
			want: `[3,1,2]`,
		},
		{
			name: "string",
			in:   "plain",
			want: `"plain"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stableStringify(tt.in))
		})
	}
}
