package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceResolveBatch(t *testing.T) {
	var gotAuth, gotUA string
	var gotKeys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/resolve", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")

		var req struct {
			Keys []string `json:"keys"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotKeys = req.Keys

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"key": "TSRC-VEN-667788", "found": true, "content_id": "TSRC-VEN-667788", "title": "Vendor Policy", "status": "Released"},
				{"key": "CMS-OLD-111111", "found": false},
			},
		})
	}))
	defer srv.Close()

	source := NewHTTPSource(srv.URL, "tok-123", time.Second)
	out, err := source.ResolveBatch(context.Background(), []string{"TSRC-VEN-667788", "CMS-OLD-111111"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "LinkAudit-Resolver/1.0", gotUA)
	assert.Equal(t, []string{"TSRC-VEN-667788", "CMS-OLD-111111"}, gotKeys)

	require.Len(t, out, 2)
	assert.True(t, out["TSRC-VEN-667788"].Found)
	assert.Equal(t, "Vendor Policy", out["TSRC-VEN-667788"].Title)
	assert.False(t, out["CMS-OLD-111111"].Found)
}

func TestHTTPSourceStatusClassification(t *testing.T) {
	tests := []struct {
		status        string
		code          int
		wantTransient bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"throttled", http.StatusTooManyRequests, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"bad request", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			source := NewHTTPSource(srv.URL, "", time.Second)
			_, err := source.ResolveBatch(context.Background(), []string{"TSRC-VEN-667788"})
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, IsTransient(err))
		})
	}
}

func TestHTTPSourceNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	source := NewHTTPSource(srv.URL, "", time.Second)
	_, err := source.ResolveBatch(context.Background(), []string{"TSRC-VEN-667788"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestTransientWrapping(t *testing.T) {
	base := errors.New("boom")
	wrapped := Transient(base)
	assert.True(t, IsTransient(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.False(t, IsTransient(base))
}
