package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uticoins/internal/model"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", "tok")
	require.NoError(t, err)
	return c
}

func TestCodeState(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/code/state", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(model.CodeState{Code: "424242", State: "CLAIMABLE", CanClaim: true, NextRewardAmount: 37})
	})

	state, err := c.CodeState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "424242", state.Code)
	assert.True(t, state.CanClaim)
	assert.Equal(t, int64(37), state.NextRewardAmount)
}

func TestClaim_ReadsReplayHeader(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "424242", body["code"])
		w.Header().Set("X-Claim-Replayed", "true")
		json.NewEncoder(w).Encode(model.ClaimResult{AmountAwarded: 30, NewStreakCount: 1})
	})

	res, err := c.Claim(context.Background(), "424242")
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, int64(30), res.AmountAwarded)
}

func TestClaim_ErrorEnvelope(t *testing.T) {
	tests := []struct {
		status int
		kind   string
		want   error
	}{
		{http.StatusUnprocessableEntity, "NotClaimable", model.ErrNotClaimable},
		{http.StatusConflict, "CodeMismatch", model.ErrCodeMismatch},
		{http.StatusUnauthorized, "Unauthenticated", model.ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"kind": tt.kind, "message": "nope"}})
			})
			_, err := c.Claim(context.Background(), "1")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAPIError(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"kind":"RateLimited","message":"slow down"}}`))
	})
	_, err := c.Balance(context.Background(), 5)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "RateLimited", apiErr.Kind)

	c = newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	_, err = c.CodeState(context.Background())
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestClaim_TimeoutIsNetworkTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Claim(ctx, "424242")
	assert.ErrorIs(t, err, model.ErrNetworkTimeout)
}

func TestBalance(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"user_id":7,"balance":110,"transactions":[{"id":1,"user_id":7,"amount":43,"type":"daily_code","created_at":"2026-03-10T23:00:00Z"}]}`))
	})
	b, err := c.Balance(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(110), b.Balance)
	require.Len(t, b.Transactions, 1)
	assert.Equal(t, int64(43), b.Transactions[0].Amount)
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", "")
	assert.Error(t, err)
	_, err = New("://", "")
	assert.Error(t, err)
}
