package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosspost-io/crosspost/internal/errs"
	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/providers"
	"github.com/crosspost-io/crosspost/pkg/utils"
)

func blueskyAdapter(serverURL string, repo *stubAccountRepo) *BlueskyAdapter {
	adapter := NewBlueskyAdapter(fbSecretKey, repo)
	adapter.originOverride = serverURL
	return adapter
}

func TestBlueskyPublishRefreshesSessionFirst(t *testing.T) {
	var refreshed bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.refreshSession":
			refreshed = true
			assert.Equal(t, "Bearer refresh-jwt", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]string{
				"did":        "did:plc:abc",
				"handle":     "alice.example.com",
				"accessJwt":  "rotated-access",
				"refreshJwt": "rotated-refresh",
			})
		case "/xrpc/com.atproto.repo.createRecord":
			assert.Equal(t, "Bearer rotated-access", r.Header.Get("Authorization"))

			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "provider-uid", payload["repo"])
			assert.Equal(t, "app.bsky.feed.post", payload["collection"])

			record := payload["record"].(map[string]interface{})
			assert.Equal(t, "skeet", record["text"])
			assert.NotEmpty(t, record["createdAt"])

			json.NewEncoder(w).Encode(map[string]string{
				"uri": "at://did:plc:abc/app.bsky.feed.post/3k",
				"cid": "bafy",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	repo := &stubAccountRepo{updateResult: true}
	adapter := blueskyAdapter(server.URL, repo)

	result, err := adapter.Publish(context.Background(), testAccount(providers.Bluesky),
		Credentials{AccessToken: "stale-access", RefreshToken: "refresh-jwt"},
		testItem(models.ContentAssets{Caption: "skeet"}))
	require.NoError(t, err)

	assert.True(t, refreshed)
	assert.Equal(t, "at://did:plc:abc/app.bsky.feed.post/3k", result.ProviderPostID)

	// The rotated pair is persisted encrypted.
	require.NotNil(t, repo.updatedTokens)
	access, err := utils.Decrypt(repo.updatedTokens.AccessToken, []byte(fbSecretKey))
	require.NoError(t, err)
	assert.Equal(t, "rotated-access", access)
}

func TestBlueskyPublishWithoutRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/com.atproto.repo.createRecord", r.URL.Path)
		assert.Equal(t, "Bearer access-jwt", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"uri": "at://x/y/z", "cid": "c"})
	}))
	defer server.Close()

	repo := &stubAccountRepo{}
	adapter := blueskyAdapter(server.URL, repo)

	result, err := adapter.Publish(context.Background(), testAccount(providers.Bluesky),
		Credentials{AccessToken: "access-jwt"},
		testItem(models.ContentAssets{Caption: "skeet"}))
	require.NoError(t, err)
	assert.Equal(t, "at://x/y/z", result.ProviderPostID)
	assert.Nil(t, repo.updatedTokens)
}

func TestBlueskyExpiredRefreshTokenIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"ExpiredToken"}`))
	}))
	defer server.Close()

	adapter := blueskyAdapter(server.URL, &stubAccountRepo{})

	_, err := adapter.Publish(context.Background(), testAccount(providers.Bluesky),
		Credentials{AccessToken: "stale", RefreshToken: "expired"},
		testItem(models.ContentAssets{Caption: "skeet"}))
	assert.ErrorIs(t, err, errs.ErrAuth)
}

func TestBlueskyPublishSurvivesLostRotationRace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/xrpc/com.atproto.server.refreshSession" {
			json.NewEncoder(w).Encode(map[string]string{
				"did":        "did:plc:abc",
				"handle":     "alice.example.com",
				"accessJwt":  "rotated-access",
				"refreshJwt": "rotated-refresh",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"uri": "at://x/y/z", "cid": "c"})
	}))
	defer server.Close()

	// Guarded persist reports a lost race; the publish still goes through
	// with the session we just obtained.
	repo := &stubAccountRepo{updateResult: false}
	adapter := blueskyAdapter(server.URL, repo)

	result, err := adapter.Publish(context.Background(), testAccount(providers.Bluesky),
		Credentials{AccessToken: "stale", RefreshToken: "refresh-jwt"},
		testItem(models.ContentAssets{Caption: "skeet"}))
	require.NoError(t, err)
	assert.Equal(t, "at://x/y/z", result.ProviderPostID)
}
