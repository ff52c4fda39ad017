package providers

import "time"

type SupabaseConfig struct {
	URL       string `yaml:"url"`
	AnonKey   string `yaml:"anon_key"`
	JWTSecret string `yaml:"jwt_secret"` // optional; enables signature checks on access tokens

	RefreshMargin   time.Duration `yaml:"refresh_margin"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Timeout         time.Duration `yaml:"timeout"`
}

func (c *SupabaseConfig) withDefaults() *SupabaseConfig {
	out := *c
	if out.RefreshMargin <= 0 {
		out.RefreshMargin = 60 * time.Second
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = 30 * time.Second
	}
	if out.Timeout <= 0 {
		out.Timeout = 10 * time.Second
	}
	return &out
}
