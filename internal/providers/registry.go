package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/crosspost-io/crosspost/internal/transfer"
)

// Provider keys, the fixed set of supported platforms.
const (
	Facebook  = "facebook"
	Twitter   = "twitter"
	Instagram = "instagram"
	LinkedIn  = "linkedin"
	Bluesky   = "bluesky"
	Mastodon  = "mastodon"
)

// AuthStyle says how client credentials travel to the token endpoint.
type AuthStyle int

const (
	// AuthStyleBody embeds client_id/client_secret in the form body.
	AuthStyleBody AuthStyle = iota
	// AuthStyleBasic sends them as HTTP Basic credentials.
	AuthStyleBasic
)

// Info is one provider's protocol card: endpoints, scopes and quirks. The
// {origin} placeholder in endpoint templates is replaced with the account's
// instance origin for multi-instance providers.
type Info struct {
	Key          string
	DisplayName  string
	AuthURL      string
	TokenURL     string
	ProfileURL   string
	Scopes       []string
	AuthStyle    AuthStyle
	Refreshable  bool
	RequiresPKCE bool
	// SessionBased providers have no authorize redirect; connect happens
	// through a credentials exchange instead.
	SessionBased bool
	ParseProfile func(body []byte) (*transfer.Profile, error)
}

var registry = map[string]Info{
	Facebook: {
		Key:         Facebook,
		DisplayName: "Facebook",
		AuthURL:     "https://www.facebook.com/v21.0/dialog/oauth",
		TokenURL:    "https://graph.facebook.com/v21.0/oauth/access_token",
		ProfileURL:  "https://graph.facebook.com/v21.0/me?fields=id,name",
		Scopes:      []string{"pages_manage_posts", "pages_read_engagement", "publish_video"},
		AuthStyle:   AuthStyleBody,
		Refreshable: false,
		ParseProfile: func(body []byte) (*transfer.Profile, error) {
			var v struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			}
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, err
			}
			return &transfer.Profile{ProviderUserID: v.ID, Name: v.Name}, nil
		},
	},
	Twitter: {
		Key:          Twitter,
		DisplayName:  "Twitter",
		AuthURL:      "https://twitter.com/i/oauth2/authorize",
		TokenURL:     "https://api.twitter.com/2/oauth2/token",
		ProfileURL:   "https://api.twitter.com/2/users/me",
		Scopes:       []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
		AuthStyle:    AuthStyleBasic,
		Refreshable:  true,
		RequiresPKCE: true,
		ParseProfile: func(body []byte) (*transfer.Profile, error) {
			var v struct {
				Data struct {
					ID       string `json:"id"`
					Name     string `json:"name"`
					Username string `json:"username"`
				} `json:"data"`
			}
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, err
			}
			return &transfer.Profile{ProviderUserID: v.Data.ID, Name: v.Data.Name, Username: v.Data.Username}, nil
		},
	},
	Instagram: {
		Key:         Instagram,
		DisplayName: "Instagram",
		AuthURL:     "https://www.instagram.com/oauth/authorize",
		TokenURL:    "https://api.instagram.com/oauth/access_token",
		ProfileURL:  "https://graph.instagram.com/me?fields=id,username,name,profile_picture_url",
		Scopes:      []string{"instagram_business_basic", "instagram_business_content_publish"},
		AuthStyle:   AuthStyleBody,
		Refreshable: true,
		ParseProfile: func(body []byte) (*transfer.Profile, error) {
			var v struct {
				ID             string `json:"id"`
				Name           string `json:"name"`
				Username       string `json:"username"`
				ProfilePicture string `json:"profile_picture_url"`
			}
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, err
			}
			return &transfer.Profile{ProviderUserID: v.ID, Name: v.Name, Username: v.Username, AvatarURL: v.ProfilePicture}, nil
		},
	},
	LinkedIn: {
		Key:         LinkedIn,
		DisplayName: "LinkedIn",
		AuthURL:     "https://www.linkedin.com/oauth/v2/authorization",
		TokenURL:    "https://www.linkedin.com/oauth/v2/accessToken",
		ProfileURL:  "https://api.linkedin.com/v2/userinfo",
		Scopes:      []string{"openid", "profile", "w_member_social"},
		AuthStyle:   AuthStyleBody,
		Refreshable: true,
		ParseProfile: func(body []byte) (*transfer.Profile, error) {
			var v struct {
				Sub     string `json:"sub"`
				Name    string `json:"name"`
				Picture string `json:"picture"`
			}
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, err
			}
			return &transfer.Profile{ProviderUserID: v.Sub, Name: v.Name, AvatarURL: v.Picture}, nil
		},
	},
	Mastodon: {
		Key:         Mastodon,
		DisplayName: "Mastodon",
		AuthURL:     "{origin}/oauth/authorize",
		TokenURL:    "{origin}/oauth/token",
		ProfileURL:  "{origin}/api/v1/accounts/verify_credentials",
		Scopes:      []string{"read", "write:statuses"},
		AuthStyle:   AuthStyleBody,
		Refreshable: false,
		ParseProfile: func(body []byte) (*transfer.Profile, error) {
			var v struct {
				ID          string `json:"id"`
				Username    string `json:"username"`
				DisplayName string `json:"display_name"`
				Avatar      string `json:"avatar"`
			}
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, err
			}
			return &transfer.Profile{ProviderUserID: v.ID, Name: v.DisplayName, Username: v.Username, AvatarURL: v.Avatar}, nil
		},
	},
	Bluesky: {
		Key:          Bluesky,
		DisplayName:  "Bluesky",
		SessionBased: true,
		Refreshable:  true,
	},
}

// Lookup returns the protocol card for a provider key.
func Lookup(key string) (Info, bool) {
	info, ok := registry[strings.ToLower(key)]
	return info, ok
}

// Keys lists every registered provider.
func Keys() []string {
	return []string{Facebook, Twitter, Instagram, LinkedIn, Bluesky, Mastodon}
}

// Endpoint expands an endpoint template against an instance origin. A
// template without the placeholder is returned unchanged; one with it and
// no origin is an error, since there is no sane default instance.
func Endpoint(template, origin string) (string, error) {
	if !strings.Contains(template, "{origin}") {
		return template, nil
	}
	if origin == "" {
		return "", fmt.Errorf("endpoint %q requires an instance origin", template)
	}
	return strings.ReplaceAll(template, "{origin}", strings.TrimSuffix(origin, "/")), nil
}
