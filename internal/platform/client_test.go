package platform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agencyd/internal/config"
	"github.com/fyrsmithlabs/agencyd/internal/route"
	"github.com/fyrsmithlabs/agencyd/internal/tenant"
)

func testScope() *tenant.Scope {
	return &tenant.Scope{TenantID: "acme", UserID: "u1", ClientID: "c9"}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(config.PlatformConfig{BaseURL: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)
	return client
}

func TestExecuteSendsScopeAndArgs(t *testing.T) {
	var gotPath, gotTenant, gotUser, gotClient, gotAuth string
	var gotBody []byte
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTenant = r.Header.Get("X-Tenant-ID")
		gotUser = r.Header.Get("X-User-ID")
		gotClient = r.Header.Get("X-Client-ID")
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"clients": [{"name": "Globex", "status": "active"}]}`)
	})

	result, err := client.Execute(context.Background(), "list_clients", testScope(), json.RawMessage(`{"status":"active"}`))
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/functions/list_clients", gotPath)
	assert.Equal(t, "acme", gotTenant)
	assert.Equal(t, "u1", gotUser)
	assert.Equal(t, "c9", gotClient)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.JSONEq(t, `{"status":"active"}`, string(gotBody))
	assert.Contains(t, string(result), "Globex")
}

func TestExecuteUnknownFunction(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error": {"message": "no such function"}}`)
	})

	_, err := client.Execute(context.Background(), "nope", testScope(), nil)
	assert.ErrorIs(t, err, route.ErrUnknownFunction)
}

func TestExecuteServerErrorMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error": {"message": "database timeout"}}`)
	})

	_, err := client.Execute(context.Background(), "list_clients", testScope(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database timeout")
	assert.Contains(t, err.Error(), "500")
}

func TestSearchDecodesHits(t *testing.T) {
	var gotBody searchRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		io.WriteString(w, `{"hits": [
			{"DocumentID": "d1", "Title": "Onboarding", "Snippet": "step one", "Score": 0.91}
		]}`)
	})

	hits, err := client.Search(context.Background(), "how do we onboard", testScope(), []string{"d1", "d2"})
	require.NoError(t, err)

	assert.Equal(t, "how do we onboard", gotBody.Query)
	assert.Equal(t, []string{"d1", "d2"}, gotBody.AllowList)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1", hits[0].DocumentID)
	assert.InDelta(t, 0.91, hits[0].Score, 0.001)
}

func TestAllowedDocuments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/training/allowed", r.URL.Path)
		io.WriteString(w, `{"document_ids": ["d1", "d2"]}`)
	})

	ids, err := client.AllowedDocuments(context.Background(), testScope())
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, ids)
}

func TestClientDocumentsSkippedWithoutClient(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	scope := &tenant.Scope{TenantID: "acme", UserID: "u1"}
	ids, err := client.ClientDocuments(context.Background(), scope)
	require.NoError(t, err)
	assert.Nil(t, ids)
	assert.False(t, called)
}

func TestClientDocumentsUsesScopedClient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/clients/c9/documents", r.URL.Path)
		io.WriteString(w, `{"document_ids": ["d7"]}`)
	})

	ids, err := client.ClientDocuments(context.Background(), testScope())
	require.NoError(t, err)
	assert.Equal(t, []string{"d7"}, ids)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.PlatformConfig{})
	assert.Error(t, err)
}
