package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/crosspost-io/crosspost/internal/errs"
	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/providers"
)

// Result is what every provider publish resolves to: the provider-assigned
// post id and the raw response kept for diagnostics.
type Result struct {
	ProviderPostID string
	RawResponse    string
}

// Credentials are the already-decrypted tokens for one publish attempt.
// Decryption stays in the caller so adapters never see the server key.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Adapter drives one provider family's publish call sequence.
type Adapter interface {
	Publish(ctx context.Context, acc *models.SocialAccount, creds Credentials, item *models.ContentItem) (*Result, error)
}

// Registry maps provider keys to their adapter.
type Registry map[string]Adapter

func (r Registry) For(provider string) (Adapter, error) {
	adapter, ok := r[provider]
	if !ok {
		return nil, errs.Validation("no publish adapter for provider %s", provider)
	}
	return adapter, nil
}

// composeText joins caption and hashtags into the single text body used by
// the microblogging providers.
func composeText(assets models.ContentAssets) string {
	text := strings.TrimSpace(assets.Caption)
	if len(assets.Hashtags) > 0 {
		tags := make([]string, 0, len(assets.Hashtags))
		for _, tag := range assets.Hashtags {
			if tag == "" {
				continue
			}
			if !strings.HasPrefix(tag, "#") {
				tag = "#" + tag
			}
			tags = append(tags, tag)
		}
		if len(tags) > 0 {
			if text != "" {
				text += "\n\n"
			}
			text += strings.Join(tags, " ")
		}
	}
	return text
}

// classify maps a non-2xx provider response onto the error taxonomy:
// credential problems are terminal, content rejections are terminal,
// everything else is a retryable provider API error.
func classify(provider string, status int, body []byte) error {
	raw := strings.TrimSpace(string(body))
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errs.Auth(provider, status, raw)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return errs.Validation("%s rejected the post (%d): %s", provider, status, raw)
	}
	return errs.ProviderAPI(provider, status, raw)
}

func postJSON(ctx context.Context, client *http.Client, url, bearer string, payload interface{}) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.ErrProviderAPI, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}

func getJSON(ctx context.Context, client *http.Client, url, bearer string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.ErrProviderAPI, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}

func ok(status int) bool {
	return status >= 200 && status < 300
}

// NewRegistry wires every provider's adapter.
func NewRegistry(tw *TwitterAdapter, li *LinkedInAdapter, ma *MastodonAdapter, bs *BlueskyAdapter, ig *InstagramAdapter, fb *FacebookAdapter) Registry {
	return Registry{
		providers.Twitter:   tw,
		providers.LinkedIn:  li,
		providers.Mastodon:  ma,
		providers.Bluesky:   bs,
		providers.Instagram: ig,
		providers.Facebook:  fb,
	}
}
