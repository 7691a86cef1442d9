package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/crosspost-io/crosspost/internal/errs"
	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/providers"
	"github.com/crosspost-io/crosspost/internal/repository"
	"github.com/crosspost-io/crosspost/internal/transfer"
	"github.com/crosspost-io/crosspost/pkg/utils"
)

const defaultPDSOrigin = "https://bsky.social"

// BlueskyAdapter resumes an AT-proto session and writes a feed post record.
// When a refresh JWT is stored the session is refreshed up front and the
// rotated pair persisted before posting.
type BlueskyAdapter struct {
	client    *http.Client
	secretKey []byte
	sa        repository.SocialAccountRepository
	// originOverride replaces the account's PDS origin, for tests.
	originOverride string
}

func NewBlueskyAdapter(secretKey string, sa repository.SocialAccountRepository) *BlueskyAdapter {
	return &BlueskyAdapter{
		client:    http.DefaultClient,
		secretKey: []byte(secretKey),
		sa:        sa,
	}
}

func (a *BlueskyAdapter) origin(acc *models.SocialAccount) string {
	if a.originOverride != "" {
		return a.originOverride
	}
	if acc.Metadata.PDSOrigin != "" {
		return acc.Metadata.PDSOrigin
	}
	return defaultPDSOrigin
}

func (a *BlueskyAdapter) Publish(ctx context.Context, acc *models.SocialAccount, creds Credentials, item *models.ContentItem) (*Result, error) {
	text := composeText(item.Assets)
	if text == "" {
		return nil, errs.Validation("post text is empty")
	}

	accessJwt := creds.AccessToken
	if creds.RefreshToken != "" {
		session, err := a.refreshSession(ctx, acc, creds.RefreshToken)
		if err != nil {
			return nil, err
		}
		accessJwt = session.AccessJwt
	}

	origin := a.origin(acc)
	payload := map[string]interface{}{
		"repo":       acc.ProviderUserID,
		"collection": "app.bsky.feed.post",
		"record": map[string]interface{}{
			"$type":     "app.bsky.feed.post",
			"text":      text,
			"createdAt": time.Now().UTC().Format(time.RFC3339),
		},
	}

	body, status, err := postJSON(ctx, a.client, origin+"/xrpc/com.atproto.repo.createRecord", accessJwt, payload)
	if err != nil {
		return nil, err
	}
	if !ok(status) {
		return nil, classify(providers.Bluesky, status, body)
	}

	var result struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	if result.URI == "" {
		return nil, errs.ProviderAPI(providers.Bluesky, status, "no record uri in response")
	}

	return &Result{ProviderPostID: result.URI, RawResponse: string(body)}, nil
}

// refreshSession rotates the session pair and persists it. Persistence is
// guarded on the old access token, so a racing worker's rotation wins and
// ours is dropped.
func (a *BlueskyAdapter) refreshSession(ctx context.Context, acc *models.SocialAccount, refreshJwt string) (*transfer.BlueskySession, error) {
	origin := a.origin(acc)
	body, status, err := postJSON(ctx, a.client, origin+"/xrpc/com.atproto.server.refreshSession", refreshJwt, nil)
	if err != nil {
		return nil, err
	}
	if !ok(status) {
		return nil, classify(providers.Bluesky, status, body)
	}

	var session transfer.BlueskySession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, err
	}
	if session.AccessJwt == "" || session.RefreshJwt == "" {
		return nil, errs.ProviderAPI(providers.Bluesky, status, "incomplete session in refresh response")
	}

	encryptedAccess, err := utils.Encrypt([]byte(session.AccessJwt), a.secretKey)
	if err != nil {
		return nil, errs.Storage(err)
	}
	encryptedRefresh, err := utils.Encrypt([]byte(session.RefreshJwt), a.secretKey)
	if err != nil {
		return nil, errs.Storage(err)
	}

	updated, err := a.sa.UpdateTokens(ctx, acc.ID, acc.AccessToken, &models.SocialAccount{
		AccessToken:  encryptedAccess,
		RefreshToken: encryptedRefresh,
	})
	if err != nil {
		return nil, err
	}
	if !updated {
		slog.Info("bluesky session rotated concurrently, keeping stored pair")
	}

	return &session, nil
}
