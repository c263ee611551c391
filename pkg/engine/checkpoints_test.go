package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestryhq/tapestry/pkg/driver"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/types"
)

func TestUnitCheckpointKeyLayout(t *testing.T) {
	ep := &types.Endpoint{
		ID:        "ep-42",
		TenantID:  "org-1",
		Domain:    "eng",
		ProjectID: "proj-1",
	}
	assert.Equal(t, "org-1/eng/proj-1/ep-42/issues/checkpoint", unitCheckpointKey(ep, "issues"))

	// Scope fields are optional; empty segments collapse.
	bare := &types.Endpoint{ID: "ep-9", TenantID: "org-2"}
	assert.Equal(t, "org-2/ep-9/commits/checkpoint", unitCheckpointKey(bare, "commits"))
}

func TestWriteCheckpointConflict(t *testing.T) {
	r := newRig(t, &driver.MockDriver{}, Config{})
	ctx := context.Background()
	ep := r.createEndpoint(t)

	v1, err := r.eng.WriteCheckpoint(ctx, ep, "issues", json.RawMessage(`{"cursor":"a"}`), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	// A writer holding the old version loses.
	_, err = r.eng.WriteCheckpoint(ctx, ep, "issues", json.RawMessage(`{"cursor":"b"}`), 0)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindConflict))

	// The stored value is untouched by the failed write.
	cp, version, err := r.eng.ReadCheckpoint(ctx, ep, "issues")
	require.NoError(t, err)
	assert.JSONEq(t, `{"cursor":"a"}`, string(cp))
	assert.Equal(t, int64(1), version)

	v2, err := r.eng.WriteCheckpoint(ctx, ep, "issues", json.RawMessage(`{"cursor":"b"}`), v1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)
}
