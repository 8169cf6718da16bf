package config

import (
	"strings"
	"time"
)

// VendorsConfig configures outbound job submission to vendor APIs.
type VendorsConfig struct {
	// CallbackBaseURL is the public base URL vendors call back under.
	// Falls back to APP_BASE_URL when empty.
	CallbackBaseURL string `env:"VENDORS_CALLBACK_BASE_URL"`

	Media VendorProviderConfig `envPrefix:"VENDORS_MEDIA_"`
	Voice VendorProviderConfig `envPrefix:"VENDORS_VOICE_"`
	Song  VendorProviderConfig `envPrefix:"VENDORS_SONG_"`

	Timeout        time.Duration `env:"VENDORS_TIMEOUT"         envDefault:"30s"`
	MaxRetries     int           `env:"VENDORS_MAX_RETRIES"     envDefault:"3"`
	InitialBackoff time.Duration `env:"VENDORS_INITIAL_BACKOFF" envDefault:"500ms"`
	MaxBackoff     time.Duration `env:"VENDORS_MAX_BACKOFF"     envDefault:"10s"`
}

// VendorProviderConfig is a single vendor API family.
type VendorProviderConfig struct {
	URL    string  `env:"URL"`
	APIKey string  `env:"API_KEY"`
	RPS    float64 `env:"RPS"     envDefault:"5"`
	Burst  int     `env:"BURST"   envDefault:"5"`
}

// Sanitize applies guardrails to vendor configuration values.
func (v *VendorsConfig) Sanitize() {
	v.CallbackBaseURL = strings.TrimRight(strings.TrimSpace(v.CallbackBaseURL), "/")
	v.Media.sanitize()
	v.Voice.sanitize()
	v.Song.sanitize()
	if v.Timeout <= 0 {
		v.Timeout = 30 * time.Second
	}
	if v.MaxRetries < 0 {
		v.MaxRetries = 0
	}
}

// Configured reports whether any provider URL is set.
func (v *VendorsConfig) Configured() bool {
	return v.Media.URL != "" || v.Voice.URL != "" || v.Song.URL != ""
}

func (p *VendorProviderConfig) sanitize() {
	p.URL = strings.TrimSpace(p.URL)
	p.APIKey = strings.TrimSpace(p.APIKey)
	if p.Burst < 1 {
		p.Burst = 1
	}
}
