package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosspost-io/crosspost/internal/errs"
	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/providers"
	"github.com/crosspost-io/crosspost/pkg/utils"
)

const fbSecretKey = "0123456789abcdef0123456789abcdef"

func facebookAdapter(serverURL string, repo *stubAccountRepo, chunkSize int64) *FacebookAdapter {
	adapter := NewFacebookAdapter(fbSecretKey, repo, chunkSize)
	adapter.baseURL = serverURL
	return adapter
}

func facebookAccountWithPage(t *testing.T) *models.SocialAccount {
	t.Helper()
	encrypted, err := utils.Encrypt([]byte("page-token"), []byte(fbSecretKey))
	require.NoError(t, err)

	acc := testAccount(providers.Facebook)
	acc.Metadata.PageID = "page-1"
	acc.Metadata.PageAccessToken = encrypted
	return acc
}

func TestFacebookFeedPostUsesCachedPageToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/page-1/feed", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "hello", r.Form.Get("message"))
		assert.Equal(t, "page-token", r.Form.Get("access_token"))

		w.Write([]byte(`{"id":"page-1_post-1"}`))
	}))
	defer server.Close()

	repo := &stubAccountRepo{}
	adapter := facebookAdapter(server.URL, repo, 4)

	result, err := adapter.Publish(context.Background(), facebookAccountWithPage(t),
		Credentials{AccessToken: "user-token"},
		testItem(models.ContentAssets{Caption: "hello"}))
	require.NoError(t, err)
	assert.Equal(t, "page-1_post-1", result.ProviderPostID)

	// Cached token means no page listing and no metadata write.
	assert.Nil(t, repo.updatedMetadata)
}

func TestFacebookResolvesAndCachesPageToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/accounts":
			assert.Equal(t, "user-token", r.URL.Query().Get("access_token"))
			w.Write([]byte(`{"data":[{"id":"page-7","access_token":"fresh-page-token"}]}`))
		case "/page-7/feed":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "fresh-page-token", r.Form.Get("access_token"))
			w.Write([]byte(`{"id":"page-7_post-3"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	repo := &stubAccountRepo{}
	adapter := facebookAdapter(server.URL, repo, 4)

	result, err := adapter.Publish(context.Background(), testAccount(providers.Facebook),
		Credentials{AccessToken: "user-token"},
		testItem(models.ContentAssets{Caption: "hello"}))
	require.NoError(t, err)
	assert.Equal(t, "page-7_post-3", result.ProviderPostID)

	require.NotNil(t, repo.updatedMetadata)
	assert.Equal(t, "page-7", repo.updatedMetadata.PageID)

	cached, err := utils.Decrypt(repo.updatedMetadata.PageAccessToken, []byte(fbSecretKey))
	require.NoError(t, err)
	assert.Equal(t, "fresh-page-token", cached)
}

func TestFacebookNoManagedPagesIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	adapter := facebookAdapter(server.URL, &stubAccountRepo{}, 4)

	_, err := adapter.Publish(context.Background(), testAccount(providers.Facebook),
		Credentials{AccessToken: "user-token"},
		testItem(models.ContentAssets{Caption: "hello"}))
	assert.ErrorIs(t, err, errs.ErrAuth)
}

func TestFacebookPhotoPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/page-1/photos", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "https://cdn.example.com/a.jpg", r.Form.Get("url"))

		w.Write([]byte(`{"id":"photo-5","post_id":"page-1_post-5"}`))
	}))
	defer server.Close()

	adapter := facebookAdapter(server.URL, &stubAccountRepo{}, 4)

	result, err := adapter.Publish(context.Background(), facebookAccountWithPage(t),
		Credentials{AccessToken: "user-token"},
		testItem(models.ContentAssets{Caption: "pic", Images: []string{"https://cdn.example.com/a.jpg"}}))
	require.NoError(t, err)
	assert.Equal(t, "page-1_post-5", result.ProviderPostID)
}

// parseUploadForm handles both shapes the chunked protocol sends: multipart
// when a chunk rides along, urlencoded otherwise.
func parseUploadForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return r.ParseMultipartForm(1 << 20)
	}
	return r.ParseForm()
}

// chunkedUploadServer drives the start/transfer/finish protocol, advancing
// the offset window by chunkSize each transfer.
func chunkedUploadServer(t *testing.T, video []byte, chunkSize int64, phases *[]string) *httptest.Server {
	var offset int64

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/video.mp4" {
			w.Write(video)
			return
		}

		require.Equal(t, "/page-1/videos", r.URL.Path)
		require.NoError(t, parseUploadForm(r))

		phase := r.FormValue("upload_phase")
		*phases = append(*phases, phase)

		fileSize := int64(len(video))
		switch phase {
		case "start":
			parsed, err := strconv.ParseInt(r.FormValue("file_size"), 10, 64)
			require.NoError(t, err)
			require.Equal(t, fileSize, parsed)

			end := chunkSize
			if end > fileSize {
				end = fileSize
			}
			fmt.Fprintf(w, `{"upload_session_id":"sess-1","video_id":"vid-1","start_offset":"0","end_offset":"%d"}`, end)
		case "transfer":
			file, _, err := r.FormFile("video_file_chunk")
			require.NoError(t, err)
			chunk, err := io.ReadAll(file)
			require.NoError(t, err)
			assert.Equal(t, video[offset:offset+int64(len(chunk))], chunk)

			offset += int64(len(chunk))
			end := offset + chunkSize
			if end > fileSize {
				end = fileSize
			}
			fmt.Fprintf(w, `{"start_offset":"%d","end_offset":"%d"}`, offset, end)
		case "finish":
			assert.Equal(t, "sess-1", r.FormValue("upload_session_id"))
			fmt.Fprint(w, `{"success":true}`)
		default:
			t.Errorf("unexpected phase %q", phase)
		}
	}))
}

func TestFacebookVideoSingleChunk(t *testing.T) {
	video := []byte("tiny video")
	var phases []string

	server := chunkedUploadServer(t, video, 1024, &phases)
	defer server.Close()

	adapter := facebookAdapter(server.URL, &stubAccountRepo{}, 1024)

	result, err := adapter.Publish(context.Background(), facebookAccountWithPage(t),
		Credentials{AccessToken: "user-token"},
		testItem(models.ContentAssets{Caption: "vid", VideoURL: server.URL + "/video.mp4"}))
	require.NoError(t, err)

	assert.Equal(t, "vid-1", result.ProviderPostID)
	// end_offset == file_size from the start means exactly one transfer.
	assert.Equal(t, []string{"start", "transfer", "finish"}, phases)
}

func TestFacebookVideoMultipleChunks(t *testing.T) {
	video := bytes.Repeat([]byte("abcdefghij"), 10) // 100 bytes
	var phases []string

	server := chunkedUploadServer(t, video, 40, &phases)
	defer server.Close()

	adapter := facebookAdapter(server.URL, &stubAccountRepo{}, 40)

	result, err := adapter.Publish(context.Background(), facebookAccountWithPage(t),
		Credentials{AccessToken: "user-token"},
		testItem(models.ContentAssets{VideoURL: server.URL + "/video.mp4"}))
	require.NoError(t, err)

	assert.Equal(t, "vid-1", result.ProviderPostID)
	assert.Equal(t, []string{"start", "transfer", "transfer", "transfer", "finish"}, phases)
}

func TestFacebookVideoStalledSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/video.mp4" {
			w.Write([]byte("some video bytes"))
			return
		}
		require.NoError(t, parseUploadForm(r))
		if r.FormValue("upload_phase") == "start" {
			fmt.Fprint(w, `{"upload_session_id":"sess-1","video_id":"vid-1","start_offset":"0","end_offset":"8"}`)
			return
		}
		// The session never advances.
		fmt.Fprint(w, `{"start_offset":"0","end_offset":"8"}`)
	}))
	defer server.Close()

	adapter := facebookAdapter(server.URL, &stubAccountRepo{}, 8)

	_, err := adapter.Publish(context.Background(), facebookAccountWithPage(t),
		Credentials{AccessToken: "user-token"},
		testItem(models.ContentAssets{VideoURL: server.URL + "/video.mp4"}))
	require.ErrorIs(t, err, errs.ErrProviderAPI)
	assert.Contains(t, err.Error(), "no progress")
}
