package multiplayer

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/hpkv-io/multiplayer-go/internal/retry"
)

// Z-factor bounds: a zFactor of MinZFactor collapses every top-level
// field to exactly one key; MaxZFactor caps decomposition depth so a
// pathological deeply-nested tree can't generate unbounded key counts.
const (
	MinZFactor     = 0
	MaxZFactor     = 4
	DefaultZFactor = 2
)

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Options holds every value a multiplayer Store is constructed with.
// Callback fields (OnHydrate, OnConflict) have no file/env
// representation and are set programmatically after internal/config.Load
// has populated everything else.
type Options struct {
	Namespace          string   `koanf:"namespace"`
	APIBaseURL         string   `koanf:"api_base_url"`
	APIKey             string   `koanf:"api_key"`
	TokenGenerationURL string   `koanf:"token_generation_url"`
	SubscribeFields    []string `koanf:"subscribe_fields"`
	PublishFields      []string `koanf:"publish_fields"`
	ZFactor            int      `koanf:"z_factor"`
	LogLevel           string   `koanf:"log_level"`
	Profiling          bool     `koanf:"profiling"`

	Retry  retry.Config
	Client ClientConfig

	OnHydrate  func(state map[string]any)
	OnConflict func(conflicts []Conflict) ConflictDecision
}

// ClientConfig holds settings for the persistent connection to the remote
// KV service. New reads only DestroyTimeout; DialTimeout, HeartbeatPeriod
// and TokenRefreshSlop have no effect, since wsconn uses a fixed 10s dial
// timeout and a fixed 5s idle heartbeat and the token is never refreshed.
type ClientConfig struct {
	DialTimeout      time.Duration
	HeartbeatPeriod  time.Duration
	DestroyTimeout   time.Duration
	TokenRefreshSlop time.Duration
}

// Validate enforces the ConfigurationError taxonomy: missing auth,
// invalid namespace, invalid URL, or an out-of-range z-factor are all
// fatal, construction-time errors.
func (o *Options) Validate() error {
	if o.Namespace == "" {
		return &ConfigurationError{Field: "namespace", Reason: "must not be empty"}
	}
	if len(o.Namespace) > 100 {
		return &ConfigurationError{Field: "namespace", Reason: "must be at most 100 characters"}
	}
	if !namespacePattern.MatchString(o.Namespace) {
		return &ConfigurationError{Field: "namespace", Reason: "must match [A-Za-z0-9_.-]+"}
	}

	if o.APIBaseURL == "" {
		return &ConfigurationError{Field: "apiBaseUrl", Reason: "must not be empty"}
	}
	if u, err := url.Parse(o.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigurationError{Field: "apiBaseUrl", Reason: "must be an absolute URL"}
	}

	hasAPIKey := o.APIKey != ""
	hasTokenURL := o.TokenGenerationURL != ""
	if hasAPIKey == hasTokenURL {
		return &ConfigurationError{Field: "apiKey/tokenGenerationUrl", Reason: "exactly one of apiKey or tokenGenerationUrl is required"}
	}

	if o.ZFactor < MinZFactor || o.ZFactor > MaxZFactor {
		return &ConfigurationError{Field: "zFactor", Reason: fmt.Sprintf("must be between %d and %d", MinZFactor, MaxZFactor)}
	}

	return nil
}
