package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	config "github.com/crosspost-io/crosspost/configs"
	"github.com/crosspost-io/crosspost/internal/errs"
	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/oauthstate"
	"github.com/crosspost-io/crosspost/internal/providers"
	"github.com/crosspost-io/crosspost/internal/repository"
	"github.com/crosspost-io/crosspost/internal/transfer"
	"github.com/crosspost-io/crosspost/pkg/utils"
)

type ConnectService interface {
	BeginConnect(ctx context.Context, userID int64, provider, action, origin string) (string, error)
	CompleteConnect(ctx context.Context, provider, code, state string) error
	ConnectBluesky(ctx context.Context, userID int64, creds *transfer.BlueskyCredentials) error
	EnsureFreshToken(ctx context.Context, acc *models.SocialAccount) (*models.SocialAccount, error)
	Rematerialize(ctx context.Context, userID int64, provider string) (*models.SocialAccount, error)
	List(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	Disconnect(ctx context.Context, userID int64, provider string) error
}

type connectService struct {
	cfg   config.Config
	sa    repository.SocialAccountRepository
	codec *oauthstate.Codec

	client *http.Client
	// test seams: when set, these replace the registry endpoints
	tokenURLOverride   string
	profileURLOverride string
	blueskyOrigin      string
}

func NewConnectService(cfg config.Config, sa repository.SocialAccountRepository) ConnectService {
	return &connectService{
		cfg:           cfg,
		sa:            sa,
		codec:         oauthstate.NewCodec(cfg.StateSecret),
		client:        http.DefaultClient,
		blueskyOrigin: "https://bsky.social",
	}
}

// BeginConnect builds the provider authorize URL with a PKCE challenge and
// a signed state. Nothing is persisted; the state is self-contained.
func (s *connectService) BeginConnect(ctx context.Context, userID int64, provider, action, origin string) (string, error) {
	info, found := providers.Lookup(provider)
	if !found {
		return "", errs.Validation("unknown provider %s", provider)
	}
	if info.SessionBased {
		return "", errs.Validation("%s connects with app credentials, not a redirect", provider)
	}
	if action != oauthstate.ActionConnect && action != oauthstate.ActionReconnect {
		action = oauthstate.ActionConnect
	}

	verifier, err := randomVerifier()
	if err != nil {
		return "", err
	}

	state, err := s.codec.Encode(oauthstate.Payload{
		UserID:   userID,
		Provider: info.Key,
		Action:   action,
		Verifier: verifier,
		Origin:   origin,
	})
	if err != nil {
		return "", err
	}

	authURL, err := providers.Endpoint(info.AuthURL, origin)
	if err != nil {
		return "", errs.Validation("%v", err)
	}

	creds := s.cfg.Providers[info.Key]
	params := url.Values{}
	params.Set("client_id", creds.ClientID)
	params.Set("redirect_uri", creds.RedirectURI)
	params.Set("response_type", "code")
	params.Set("scope", strings.Join(info.Scopes, " "))
	params.Set("state", state)
	params.Set("code_challenge", pkceChallenge(verifier))
	params.Set("code_challenge_method", "S256")

	return fmt.Sprintf("%s?%s", authURL, params.Encode()), nil
}

// CompleteConnect validates the redirect round trip, exchanges the code and
// persists the connection. Exchange failures carry the provider's raw error
// text; the handler decides where to send the user.
func (s *connectService) CompleteConnect(ctx context.Context, provider, code, state string) error {
	payload := s.codec.Decode(state)
	if payload == nil {
		return errs.InvalidState("signature or expiry check failed")
	}
	if payload.Provider != provider {
		return errs.InvalidState("provider mismatch")
	}
	if code == "" {
		return errs.ErrMissingCode
	}

	info, found := providers.Lookup(provider)
	if !found || info.SessionBased {
		return errs.InvalidState("provider not connectable via redirect")
	}

	token, err := s.exchange(ctx, info, payload.Origin, code, payload.Verifier)
	if err != nil {
		return err
	}

	profile, err := s.fetchProfile(ctx, info, payload.Origin, token.AccessToken)
	if err != nil {
		return err
	}

	encryptedAccess, err := utils.Encrypt([]byte(token.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return errs.Storage(err)
	}
	var encryptedRefresh string
	if token.RefreshToken != "" {
		encryptedRefresh, err = utils.Encrypt([]byte(token.RefreshToken), []byte(s.cfg.SecretKey))
		if err != nil {
			return errs.Storage(err)
		}
	}

	account := &models.SocialAccount{
		UserID:         payload.UserID,
		Provider:       info.Key,
		ProviderUserID: profile.ProviderUserID,
		AccessToken:    encryptedAccess,
		RefreshToken:   encryptedRefresh,
		TokenExpiresAt: token.ExpiresAt,
		Scopes:         strings.Join(info.Scopes, " "),
		Metadata: models.AccountMetadata{
			InstanceOrigin:  payload.Origin,
			ProfileName:     profile.Name,
			ProfileUsername: profile.Username,
			AvatarURL:       profile.AvatarURL,
		},
	}

	if _, err := s.sa.Upsert(ctx, nil, account); err != nil {
		return err
	}

	return nil
}

func (s *connectService) exchange(ctx context.Context, info providers.Info, origin, code, verifier string) (*transfer.TokenGrant, error) {
	conf, err := s.oauthConfig(info, origin)
	if err != nil {
		return nil, err
	}

	opts := []oauth2.AuthCodeOption{}
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	token, err := conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, s.client), code, opts...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, errs.TokenExchange(info.Key, string(retrieveErr.Body))
		}
		return nil, errs.TokenExchange(info.Key, err.Error())
	}

	return grantFromToken(token), nil
}

// EnsureFreshToken refreshes an expired credential and persists the rotated
// pair. Refresh failure hands back the original stale account with the
// error; batch callers keep going, the publish path fails its own schedule.
func (s *connectService) EnsureFreshToken(ctx context.Context, acc *models.SocialAccount) (*models.SocialAccount, error) {
	if acc == nil {
		return nil, errs.NotFound("social account")
	}
	if !acc.Expired(time.Now()) {
		return acc, nil
	}

	info, found := providers.Lookup(acc.Provider)
	if !found {
		return acc, errs.Refresh(acc.Provider, errors.New("unknown provider"))
	}
	// Session-based providers rotate inside their publish adapter.
	if info.SessionBased {
		return acc, nil
	}
	if !info.Refreshable || acc.RefreshToken == "" {
		return acc, errs.Refresh(acc.Provider, errors.New("credential is not refreshable, reconnect required"))
	}

	refreshToken, err := utils.Decrypt(acc.RefreshToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return acc, errs.Storage(err)
	}

	conf, err := s.oauthConfig(info, acc.Metadata.InstanceOrigin)
	if err != nil {
		return acc, errs.Refresh(acc.Provider, err)
	}

	source := conf.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, s.client), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		slog.Info(err.Error())
		return acc, errs.Refresh(acc.Provider, err)
	}

	grant := grantFromToken(token)

	encryptedAccess, err := utils.Encrypt([]byte(grant.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return acc, errs.Storage(err)
	}
	var encryptedRefresh string
	if grant.RefreshToken != "" && grant.RefreshToken != refreshToken {
		encryptedRefresh, err = utils.Encrypt([]byte(grant.RefreshToken), []byte(s.cfg.SecretKey))
		if err != nil {
			return acc, errs.Storage(err)
		}
	}

	updated, err := s.sa.UpdateTokens(ctx, acc.ID, acc.AccessToken, &models.SocialAccount{
		AccessToken:    encryptedAccess,
		RefreshToken:   encryptedRefresh,
		TokenExpiresAt: grant.ExpiresAt,
	})
	if err != nil {
		return acc, err
	}
	if !updated {
		// Someone rotated first; their token is the fresher one.
		current, err := s.sa.GetByID(ctx, acc.ID)
		if err != nil || current == nil {
			return acc, err
		}
		return current, nil
	}

	refreshed := *acc
	refreshed.AccessToken = encryptedAccess
	if encryptedRefresh != "" {
		refreshed.RefreshToken = encryptedRefresh
	}
	refreshed.TokenExpiresAt = grant.ExpiresAt
	return &refreshed, nil
}

// ConnectBluesky trades a handle and app password for an AT-proto session
// and stores the JWT pair like any other credential.
func (s *connectService) ConnectBluesky(ctx context.Context, userID int64, creds *transfer.BlueskyCredentials) error {
	if creds == nil || creds.Handle == "" || creds.AppPassword == "" {
		return errs.Validation("handle and app password are required")
	}

	origin := creds.PDSOrigin
	if origin == "" {
		origin = s.blueskyOrigin
	}

	body, err := json.Marshal(map[string]string{
		"identifier": creds.Handle,
		"password":   creds.AppPassword,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, origin+"/xrpc/com.atproto.server.createSession", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errs.TokenExchange(providers.Bluesky, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return errs.TokenExchange(providers.Bluesky, strings.TrimSpace(string(respBody)))
	}

	var session transfer.BlueskySession
	if err := json.Unmarshal(respBody, &session); err != nil {
		return err
	}
	if session.DID == "" || session.AccessJwt == "" {
		return errs.TokenExchange(providers.Bluesky, "incomplete session response")
	}

	encryptedAccess, err := utils.Encrypt([]byte(session.AccessJwt), []byte(s.cfg.SecretKey))
	if err != nil {
		return errs.Storage(err)
	}
	encryptedRefresh, err := utils.Encrypt([]byte(session.RefreshJwt), []byte(s.cfg.SecretKey))
	if err != nil {
		return errs.Storage(err)
	}

	account := &models.SocialAccount{
		UserID:         userID,
		Provider:       providers.Bluesky,
		ProviderUserID: session.DID,
		AccessToken:    encryptedAccess,
		RefreshToken:   encryptedRefresh,
		Metadata: models.AccountMetadata{
			PDSOrigin:       origin,
			ProfileUsername: session.Handle,
		},
	}

	if _, err := s.sa.Upsert(ctx, nil, account); err != nil {
		return err
	}
	return nil
}

// Rematerialize rebuilds an active account from the newest stored
// credential for (user, provider): fetch the provider profile with the
// legacy token and upsert. Used by the fan-out engine when a caller targets
// a provider whose account row was never materialized.
func (s *connectService) Rematerialize(ctx context.Context, userID int64, provider string) (*models.SocialAccount, error) {
	info, found := providers.Lookup(provider)
	if !found {
		return nil, errs.Validation("unknown provider %s", provider)
	}

	stored, err := s.sa.GetByUserProvider(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, errs.NotFound(fmt.Sprintf("no stored credential for %s", provider))
	}
	if stored.Active && stored.ProviderUserID != "" {
		return stored, nil
	}

	accessToken, err := utils.Decrypt(stored.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, errs.Storage(err)
	}

	if info.SessionBased || info.ParseProfile == nil {
		// No profile endpoint to verify against; reactivate as stored.
		stored.Active = true
		if _, err := s.sa.Upsert(ctx, nil, stored); err != nil {
			return nil, err
		}
		return stored, nil
	}

	profile, err := s.fetchProfile(ctx, info, stored.Metadata.InstanceOrigin, accessToken)
	if err != nil {
		return nil, err
	}

	stored.ProviderUserID = profile.ProviderUserID
	stored.Metadata.ProfileName = profile.Name
	stored.Metadata.ProfileUsername = profile.Username
	stored.Metadata.AvatarURL = profile.AvatarURL
	stored.Active = true

	id, err := s.sa.Upsert(ctx, nil, stored)
	if err != nil {
		return nil, err
	}
	stored.ID = id
	return stored, nil
}

func (s *connectService) List(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	if userID == 0 {
		return nil, errs.Validation("user id is not valid")
	}

	accounts, err := s.sa.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing social accounts: %w", err)
	}
	return accounts, nil
}

// Disconnect clears the active flag. Calling it twice is harmless.
func (s *connectService) Disconnect(ctx context.Context, userID int64, provider string) error {
	if userID == 0 {
		return errs.Validation("user id is not valid")
	}
	if _, found := providers.Lookup(provider); !found {
		return errs.Validation("unknown provider %s", provider)
	}

	return s.sa.Deactivate(ctx, userID, provider)
}

func (s *connectService) fetchProfile(ctx context.Context, info providers.Info, origin, accessToken string) (*transfer.Profile, error) {
	profileURL := s.profileURLOverride
	if profileURL == "" {
		var err error
		profileURL, err = providers.Endpoint(info.ProfileURL, origin)
		if err != nil {
			return nil, errs.Validation("%v", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errs.ProviderAPI(info.Key, 0, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.ProviderAPI(info.Key, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return info.ParseProfile(body)
}

func (s *connectService) oauthConfig(info providers.Info, origin string) (*oauth2.Config, error) {
	tokenURL := s.tokenURLOverride
	if tokenURL == "" {
		var err error
		tokenURL, err = providers.Endpoint(info.TokenURL, origin)
		if err != nil {
			return nil, err
		}
	}

	style := oauth2.AuthStyleInParams
	if info.AuthStyle == providers.AuthStyleBasic {
		style = oauth2.AuthStyleInHeader
	}

	creds := s.cfg.Providers[info.Key]
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURI,
		Scopes:       info.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: style,
		},
	}, nil
}

func grantFromToken(token *oauth2.Token) *transfer.TokenGrant {
	grant := &transfer.TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		grant.ExpiresAt = &expiry
	}
	return grant
}

func randomVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
