package core

import "time"

type Config struct {
	// OAuth sign-in
	OAuthProvider Provider `yaml:"oauth_provider"`
	RedirectURI   string   `yaml:"redirect_uri"` // must reach /auth/callback of the local API

	// Local API listen address, loopback only
	Listen string `yaml:"listen"`

	ProfileKey string `yaml:"profile_key"`

	// InitialFetchTimeout bounds the startup session fetch; 0 waits forever.
	InitialFetchTimeout time.Duration `yaml:"initial_fetch_timeout"`

	Crypto CryptoConfig `yaml:"crypto"`
}

type CryptoConfig struct {
	// EncryptionKey protects the persisted session. Any length; a 32 byte
	// key is used as is, anything else goes through HKDF.
	EncryptionKey string `yaml:"encryption_key"`
}

func DefaultConfig() Config {
	return Config{
		OAuthProvider: ProviderDiscord,
		RedirectURI:   "http://127.0.0.1:5719/auth/callback",
		Listen:        "127.0.0.1:5719",
		ProfileKey:    DefaultProfileKey,
	}
}
