package googleauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignkit/outreach/internal/config"
)

func newTestProvider(handler http.HandlerFunc) (*Provider, *httptest.Server) {
	srv := httptest.NewServer(handler)
	p := NewProvider(config.GoogleConfig{ClientID: "client-id", ClientSecret: "client-secret"})
	p.tokenURL = srv.URL
	return p, srv
}

func TestAccessTokenExchangesRefreshToken(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "refresh-abc", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		fmt.Fprint(w, `{"access_token":"access-xyz","expires_in":3600}`)
	})
	defer srv.Close()

	tok, err := p.AccessToken(context.Background(), "refresh-abc")
	require.NoError(t, err)
	assert.Equal(t, "access-xyz", tok)
}

func TestAccessTokenIsCached(t *testing.T) {
	var calls int32
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"access_token":"access-xyz","expires_in":3600}`)
	})
	defer srv.Close()

	for i := 0; i < 3; i++ {
		tok, err := p.AccessToken(context.Background(), "refresh-abc")
		require.NoError(t, err)
		assert.Equal(t, "access-xyz", tok)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAccessTokenEmptyRefreshToken(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("token endpoint should not be called")
	})
	defer srv.Close()

	tok, err := p.AccessToken(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestAccessTokenRejected(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})
	defer srv.Close()

	_, err := p.AccessToken(context.Background(), "revoked")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestAccessTokenMissingInResponse(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"expires_in":3600}`)
	})
	defer srv.Close()

	_, err := p.AccessToken(context.Background(), "refresh-abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no access token")
}
