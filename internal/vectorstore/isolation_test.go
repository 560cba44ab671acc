package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agencyd/internal/tenant"
)

func scopedCtx(tenantID, userID, clientID string) context.Context {
	return tenant.ContextWithScope(context.Background(), &tenant.Scope{
		TenantID: tenantID,
		UserID:   userID,
		ClientID: clientID,
	})
}

func TestPayloadIsolationFailsClosed(t *testing.T) {
	iso := NewPayloadIsolation()

	_, err := iso.InjectFilter(context.Background(), nil)
	assert.ErrorIs(t, err, tenant.ErrMissingScope)

	err = iso.InjectMetadata(context.Background(), []Document{{ID: "d1"}})
	assert.ErrorIs(t, err, tenant.ErrMissingScope)
}

func TestPayloadIsolationInjectFilter(t *testing.T) {
	iso := NewPayloadIsolation()
	ctx := scopedCtx("acme", "u1", "")

	filters, err := iso.InjectFilter(ctx, map[string]string{"type": "task"})
	require.NoError(t, err)
	assert.Equal(t, "acme", filters["tenant_id"])
	assert.Equal(t, "u1", filters["user_id"])
	assert.Equal(t, "task", filters["type"])
	_, hasClient := filters["client_id"]
	assert.False(t, hasClient)
}

func TestPayloadIsolationScopeWinsOverCallerFilter(t *testing.T) {
	iso := NewPayloadIsolation()
	ctx := scopedCtx("acme", "u1", "c1")

	// A caller-supplied tenant_id must never widen the scope.
	filters, err := iso.InjectFilter(ctx, map[string]string{"tenant_id": "other"})
	require.NoError(t, err)
	assert.Equal(t, "acme", filters["tenant_id"])
	assert.Equal(t, "c1", filters["client_id"])
}

func TestPayloadIsolationInjectMetadata(t *testing.T) {
	iso := NewPayloadIsolation()
	ctx := scopedCtx("acme", "u1", "c1")

	docs := []Document{
		{ID: "d1", Content: "hello"},
		{ID: "d2", Content: "world", Metadata: map[string]string{"tenant_id": "spoofed"}},
	}
	require.NoError(t, iso.InjectMetadata(ctx, docs))

	for _, doc := range docs {
		assert.Equal(t, "acme", doc.Metadata["tenant_id"])
		assert.Equal(t, "u1", doc.Metadata["user_id"])
		assert.Equal(t, "c1", doc.Metadata["client_id"])
	}
}

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, ValidateCollectionName("agency_memories"))
	assert.Error(t, ValidateCollectionName(""))
	assert.Error(t, ValidateCollectionName("Bad-Name"))
	assert.Error(t, ValidateCollectionName("../../etc"))
}
