package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicBase string
}

type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type Publish struct {
	MaxAttempts     int
	PollInterval    time.Duration
	PollTimeout     time.Duration
	UploadChunkSize int64
}

type Config struct {
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string

	Providers map[string]ProviderCredentials

	PostgresURI string
	RedisURI    string
	FrontendURL string
	R2          R2
	Publish     Publish

	SecretKey   string
	StateSecret string
	CookieName  string
}

func LoadConfig() *Config {
	return &Config{
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", "http://localhost:3000/login/callback"),
		Providers: map[string]ProviderCredentials{
			"facebook": {
				ClientID:     getEnv("FACEBOOK_CLIENT_ID", ""),
				ClientSecret: getEnv("FACEBOOK_CLIENT_SECRET", ""),
				RedirectURI:  getEnv("FACEBOOK_REDIRECT_URI", ""),
			},
			"twitter": {
				ClientID:     getEnv("TWITTER_CLIENT_ID", ""),
				ClientSecret: getEnv("TWITTER_CLIENT_SECRET", ""),
				RedirectURI:  getEnv("TWITTER_REDIRECT_URI", ""),
			},
			"instagram": {
				ClientID:     getEnv("INSTAGRAM_CLIENT_ID", ""),
				ClientSecret: getEnv("INSTAGRAM_CLIENT_SECRET", ""),
				RedirectURI:  getEnv("INSTAGRAM_REDIRECT_URI", ""),
			},
			"linkedin": {
				ClientID:     getEnv("LINKEDIN_CLIENT_ID", ""),
				ClientSecret: getEnv("LINKEDIN_CLIENT_SECRET", ""),
				RedirectURI:  getEnv("LINKEDIN_REDIRECT_URI", ""),
			},
			"mastodon": {
				ClientID:     getEnv("MASTODON_CLIENT_ID", ""),
				ClientSecret: getEnv("MASTODON_CLIENT_SECRET", ""),
				RedirectURI:  getEnv("MASTODON_REDIRECT_URI", ""),
			},
		},
		PostgresURI: getEnv("POSTGRES_URI", ""),
		RedisURI:    getEnv("REDIS_URI", "127.0.0.1:6379"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicBase: getEnv("R2_PUBLIC_BASE", ""),
		},
		Publish: Publish{
			MaxAttempts:     getEnvInt("PUBLISH_MAX_ATTEMPTS", 5),
			PollInterval:    getEnvDuration("PUBLISH_POLL_INTERVAL", 3*time.Second),
			PollTimeout:     getEnvDuration("PUBLISH_POLL_TIMEOUT", 120*time.Second),
			UploadChunkSize: int64(getEnvInt("PUBLISH_UPLOAD_CHUNK_SIZE", 4*1024*1024)),
		},
		SecretKey:   getEnv("SECRET_KEY", ""),
		StateSecret: getEnv("STATE_SECRET", ""),
		CookieName:  getEnv("COOKIE_NAME", "crosspost_session"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
