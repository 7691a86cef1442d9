package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/crosspost-io/crosspost/internal/errs"
	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/providers"
	"github.com/crosspost-io/crosspost/internal/repository"
	"github.com/crosspost-io/crosspost/pkg/utils"
)

// FacebookAdapter publishes to a page: plain feed posts and photos are a
// single Graph call, videos run the three-phase chunked upload protocol.
type FacebookAdapter struct {
	client    *http.Client
	baseURL   string
	secretKey []byte
	sa        repository.SocialAccountRepository
	chunkSize int64
}

func NewFacebookAdapter(secretKey string, sa repository.SocialAccountRepository, chunkSize int64) *FacebookAdapter {
	return &FacebookAdapter{
		client:    http.DefaultClient,
		baseURL:   "https://graph.facebook.com/v21.0",
		secretKey: []byte(secretKey),
		sa:        sa,
		chunkSize: chunkSize,
	}
}

func (a *FacebookAdapter) Publish(ctx context.Context, acc *models.SocialAccount, creds Credentials, item *models.ContentItem) (*Result, error) {
	pageID, pageToken, err := a.resolvePageToken(ctx, acc, creds.AccessToken)
	if err != nil {
		return nil, err
	}

	assets := item.Assets
	switch {
	case assets.VideoURL != "":
		return a.publishVideo(ctx, pageID, pageToken, assets)
	case len(assets.Images) > 0:
		return a.publishPhoto(ctx, pageID, pageToken, assets)
	default:
		return a.publishFeed(ctx, pageID, pageToken, assets)
	}
}

// resolvePageToken prefers the cached page-level token in account metadata
// and falls back to the page-listing call with the user token, caching what
// it finds for the next publish.
func (a *FacebookAdapter) resolvePageToken(ctx context.Context, acc *models.SocialAccount, userToken string) (string, string, error) {
	if acc.Metadata.PageID != "" && acc.Metadata.PageAccessToken != "" {
		token, err := utils.Decrypt(acc.Metadata.PageAccessToken, a.secretKey)
		if err != nil {
			return "", "", errs.Storage(err)
		}
		return acc.Metadata.PageID, token, nil
	}

	listURL := fmt.Sprintf("%s/me/accounts?access_token=%s", a.baseURL, url.QueryEscape(userToken))
	body, status, err := getJSON(ctx, a.client, listURL, "")
	if err != nil {
		return "", "", err
	}
	if !ok(status) {
		return "", "", classify(providers.Facebook, status, body)
	}

	var result struct {
		Data []struct {
			ID          string `json:"id"`
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", "", err
	}
	if len(result.Data) == 0 {
		return "", "", errs.Auth(providers.Facebook, status, "no managed pages for this account")
	}

	page := result.Data[0]
	encrypted, err := utils.Encrypt([]byte(page.AccessToken), a.secretKey)
	if err != nil {
		return "", "", errs.Storage(err)
	}

	meta := acc.Metadata
	meta.PageID = page.ID
	meta.PageAccessToken = encrypted
	if err := a.sa.UpdateMetadata(ctx, acc.ID, meta); err != nil {
		return "", "", err
	}
	acc.Metadata = meta

	return page.ID, page.AccessToken, nil
}

func (a *FacebookAdapter) publishFeed(ctx context.Context, pageID, pageToken string, assets models.ContentAssets) (*Result, error) {
	text := composeText(assets)
	if text == "" {
		return nil, errs.Validation("facebook post has no content")
	}

	form := url.Values{}
	form.Set("message", text)
	form.Set("access_token", pageToken)
	return a.postForm(ctx, fmt.Sprintf("%s/%s/feed", a.baseURL, pageID), form)
}

func (a *FacebookAdapter) publishPhoto(ctx context.Context, pageID, pageToken string, assets models.ContentAssets) (*Result, error) {
	form := url.Values{}
	form.Set("url", assets.Images[0])
	form.Set("caption", composeText(assets))
	form.Set("access_token", pageToken)
	return a.postForm(ctx, fmt.Sprintf("%s/%s/photos", a.baseURL, pageID), form)
}

type uploadSession struct {
	SessionID   string `json:"upload_session_id"`
	VideoID     string `json:"video_id"`
	StartOffset string `json:"start_offset"`
	EndOffset   string `json:"end_offset"`
}

// publishVideo runs start/transfer/finish against the chunked upload
// endpoint.
func (a *FacebookAdapter) publishVideo(ctx context.Context, pageID, pageToken string, assets models.ContentAssets) (*Result, error) {
	video, err := a.fetchVideo(ctx, assets.VideoURL)
	if err != nil {
		return nil, err
	}
	fileSize := int64(len(video))

	endpoint := fmt.Sprintf("%s/%s/videos", a.baseURL, pageID)

	form := url.Values{}
	form.Set("upload_phase", "start")
	form.Set("file_size", strconv.FormatInt(fileSize, 10))
	form.Set("access_token", pageToken)

	session, err := a.uploadCall(ctx, endpoint, form, nil, "")
	if err != nil {
		return nil, err
	}
	if session.SessionID == "" {
		return nil, errs.ProviderAPI(providers.Facebook, 0, "no upload session id in start response")
	}

	startOffset, err := strconv.ParseInt(session.StartOffset, 10, 64)
	if err != nil {
		return nil, errs.ProviderAPI(providers.Facebook, 0, "bad start_offset in start response")
	}
	endOffset, err := strconv.ParseInt(session.EndOffset, 10, 64)
	if err != nil {
		return nil, errs.ProviderAPI(providers.Facebook, 0, "bad end_offset in start response")
	}

	videoID := session.VideoID
	sessionID := session.SessionID

	// Transfer until the session's reported offset reaches the end of the
	// file. The provider dictates each chunk's range; we just honor it.
	for startOffset < fileSize {
		end := endOffset
		if end <= startOffset || end > fileSize {
			end = startOffset + a.chunkSize
			if end > fileSize {
				end = fileSize
			}
		}

		form := url.Values{}
		form.Set("upload_phase", "transfer")
		form.Set("upload_session_id", sessionID)
		form.Set("start_offset", strconv.FormatInt(startOffset, 10))
		form.Set("access_token", pageToken)

		resp, err := a.uploadCall(ctx, endpoint, form, video[startOffset:end], "video_file_chunk")
		if err != nil {
			return nil, err
		}

		next, err := strconv.ParseInt(resp.StartOffset, 10, 64)
		if err != nil || next <= startOffset {
			// No forward progress means the session is wedged.
			return nil, errs.ProviderAPI(providers.Facebook, 0, "upload session made no progress")
		}
		startOffset = next
		if resp.EndOffset != "" {
			if parsed, err := strconv.ParseInt(resp.EndOffset, 10, 64); err == nil {
				endOffset = parsed
			}
		}
	}

	finish := url.Values{}
	finish.Set("upload_phase", "finish")
	finish.Set("upload_session_id", sessionID)
	finish.Set("description", composeText(assets))
	finish.Set("access_token", pageToken)

	if _, err := a.uploadCall(ctx, endpoint, finish, nil, ""); err != nil {
		return nil, err
	}

	return &Result{ProviderPostID: videoID}, nil
}

func (a *FacebookAdapter) fetchVideo(ctx context.Context, videoURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching video asset: %v", errs.ErrProviderAPI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Validation("video asset fetch returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// uploadCall sends one phase of the chunked protocol, as multipart when a
// chunk rides along and urlencoded otherwise.
func (a *FacebookAdapter) uploadCall(ctx context.Context, endpoint string, form url.Values, chunk []byte, chunkField string) (*uploadSession, error) {
	var req *http.Request
	var err error

	if chunk != nil {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		for key := range form {
			writer.WriteField(key, form.Get(key))
		}
		part, werr := writer.CreateFormFile(chunkField, "chunk")
		if werr != nil {
			return nil, werr
		}
		part.Write(chunk)
		writer.Close()

		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrProviderAPI, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !ok(resp.StatusCode) {
		return nil, classify(providers.Facebook, resp.StatusCode, body)
	}

	var session uploadSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (a *FacebookAdapter) postForm(ctx context.Context, endpoint string, form url.Values) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrProviderAPI, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !ok(resp.StatusCode) {
		return nil, classify(providers.Facebook, resp.StatusCode, body)
	}

	var result struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	postID := result.PostID
	if postID == "" {
		postID = result.ID
	}
	if postID == "" {
		return nil, errs.ProviderAPI(providers.Facebook, resp.StatusCode, "no post id in response")
	}

	return &Result{ProviderPostID: postID, RawResponse: string(body)}, nil
}
