package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/crosspost-io/crosspost/internal/errs"
	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/providers"
)

// InstagramAdapter runs the async container protocol: create a media
// container, poll it until processing finishes, then publish it.
type InstagramAdapter struct {
	client       *http.Client
	baseURL      string
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewInstagramAdapter(pollInterval, pollTimeout time.Duration) *InstagramAdapter {
	return &InstagramAdapter{
		client:       http.DefaultClient,
		baseURL:      "https://graph.instagram.com/v21.0",
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}
}

func (a *InstagramAdapter) Publish(ctx context.Context, acc *models.SocialAccount, creds Credentials, item *models.ContentItem) (*Result, error) {
	containerID, err := a.createContainer(ctx, acc.ProviderUserID, creds.AccessToken, item.Assets)
	if err != nil {
		return nil, err
	}

	if err := a.waitForContainer(ctx, containerID, creds.AccessToken); err != nil {
		return nil, err
	}

	return a.publishContainer(ctx, acc.ProviderUserID, containerID, creds.AccessToken)
}

func (a *InstagramAdapter) createContainer(ctx context.Context, igUserID, accessToken string, assets models.ContentAssets) (string, error) {
	payload := map[string]interface{}{
		"caption":      composeText(assets),
		"access_token": accessToken,
	}
	switch {
	case assets.VideoURL != "":
		payload["media_type"] = "REELS"
		payload["video_url"] = assets.VideoURL
	case len(assets.Images) > 0:
		payload["image_url"] = assets.Images[0]
	default:
		return "", errs.Validation("instagram post needs an image or video asset")
	}

	body, status, err := postJSON(ctx, a.client, fmt.Sprintf("%s/%s/media", a.baseURL, igUserID), "", payload)
	if err != nil {
		return "", err
	}
	if !ok(status) {
		return "", classify(providers.Instagram, status, body)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", errs.ProviderAPI(providers.Instagram, status, "no container id in response")
	}
	return result.ID, nil
}

// waitForContainer polls the container at a fixed interval until it reports
// FINISHED, bounded by a hard wall-clock budget.
func (a *InstagramAdapter) waitForContainer(ctx context.Context, containerID, accessToken string) error {
	deadline := time.Now().Add(a.pollTimeout)
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		statusURL := fmt.Sprintf("%s/%s?fields=status_code&access_token=%s", a.baseURL, containerID, url.QueryEscape(accessToken))
		body, status, err := getJSON(ctx, a.client, statusURL, "")
		if err != nil {
			return err
		}
		if !ok(status) {
			return classify(providers.Instagram, status, body)
		}

		var result struct {
			StatusCode string `json:"status_code"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return err
		}

		switch result.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR":
			return errs.ProviderAPI(providers.Instagram, status, "container processing failed")
		}

		if time.Now().After(deadline) {
			return errs.PublishTimeout(providers.Instagram, a.pollTimeout.String())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *InstagramAdapter) publishContainer(ctx context.Context, igUserID, containerID, accessToken string) (*Result, error) {
	payload := map[string]string{
		"creation_id":  containerID,
		"access_token": accessToken,
	}

	body, status, err := postJSON(ctx, a.client, fmt.Sprintf("%s/%s/media_publish", a.baseURL, igUserID), "", payload)
	if err != nil {
		return nil, err
	}
	if !ok(status) {
		return nil, classify(providers.Instagram, status, body)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		return nil, errs.ProviderAPI(providers.Instagram, status, "no media id in publish response")
	}

	return &Result{ProviderPostID: result.ID, RawResponse: string(body)}, nil
}
