package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/crosspost-io/crosspost/internal/errs"
	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/providers"
)

// TwitterAdapter issues a single authenticated tweet write.
type TwitterAdapter struct {
	client  *http.Client
	baseURL string
}

func NewTwitterAdapter() *TwitterAdapter {
	return &TwitterAdapter{
		client:  http.DefaultClient,
		baseURL: "https://api.twitter.com",
	}
}

func (a *TwitterAdapter) Publish(ctx context.Context, acc *models.SocialAccount, creds Credentials, item *models.ContentItem) (*Result, error) {
	text := composeText(item.Assets)
	if text == "" {
		return nil, errs.Validation("tweet text is empty")
	}

	payload := map[string]string{"text": text}
	body, status, err := postJSON(ctx, a.client, a.baseURL+"/2/tweets", creds.AccessToken, payload)
	if err != nil {
		return nil, err
	}
	if !ok(status) {
		return nil, classify(providers.Twitter, status, body)
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	if result.Data.ID == "" {
		return nil, errs.ProviderAPI(providers.Twitter, status, "no tweet id in response")
	}

	return &Result{ProviderPostID: result.Data.ID, RawResponse: string(body)}, nil
}

// LinkedInAdapter posts a UGC share under the member URN.
type LinkedInAdapter struct {
	client  *http.Client
	baseURL string
}

func NewLinkedInAdapter() *LinkedInAdapter {
	return &LinkedInAdapter{
		client:  http.DefaultClient,
		baseURL: "https://api.linkedin.com",
	}
}

func (a *LinkedInAdapter) Publish(ctx context.Context, acc *models.SocialAccount, creds Credentials, item *models.ContentItem) (*Result, error) {
	text := composeText(item.Assets)
	if text == "" {
		return nil, errs.Validation("share text is empty")
	}

	payload := map[string]interface{}{
		"author":         fmt.Sprintf("urn:li:person:%s", acc.ProviderUserID),
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]interface{}{
			"com.linkedin.ugc.ShareContent": map[string]interface{}{
				"shareCommentary":    map[string]string{"text": text},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	body, status, err := postJSON(ctx, a.client, a.baseURL+"/v2/ugcPosts", creds.AccessToken, payload)
	if err != nil {
		return nil, err
	}
	if !ok(status) {
		return nil, classify(providers.LinkedIn, status, body)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		return nil, errs.ProviderAPI(providers.LinkedIn, status, "no share id in response")
	}

	return &Result{ProviderPostID: result.ID, RawResponse: string(body)}, nil
}

// MastodonAdapter posts a status to the account's home instance.
type MastodonAdapter struct {
	client *http.Client
	// originOverride replaces the account's instance origin, for tests.
	originOverride string
}

func NewMastodonAdapter() *MastodonAdapter {
	return &MastodonAdapter{client: http.DefaultClient}
}

func (a *MastodonAdapter) Publish(ctx context.Context, acc *models.SocialAccount, creds Credentials, item *models.ContentItem) (*Result, error) {
	text := composeText(item.Assets)
	if text == "" {
		return nil, errs.Validation("status text is empty")
	}

	origin := acc.Metadata.InstanceOrigin
	if a.originOverride != "" {
		origin = a.originOverride
	}
	endpoint, err := providers.Endpoint("{origin}/api/v1/statuses", origin)
	if err != nil {
		return nil, errs.Validation("%v", err)
	}

	form := url.Values{}
	form.Set("status", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrProviderAPI, err)
	}
	defer resp.Body.Close()

	var result struct {
		ID string `json:"id"`
	}
	dec := json.NewDecoder(resp.Body)
	if !ok(resp.StatusCode) {
		var raw json.RawMessage
		dec.Decode(&raw)
		return nil, classify(providers.Mastodon, resp.StatusCode, raw)
	}
	if err := dec.Decode(&result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		return nil, errs.ProviderAPI(providers.Mastodon, resp.StatusCode, "no status id in response")
	}

	return &Result{ProviderPostID: result.ID}, nil
}
