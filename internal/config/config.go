// Package config loads the options a multiplayer Store is constructed
// with: layered defaults, an optional YAML file, and environment
// variables, built on koanf instead of hand-rolled flag parsing, since
// there is no CLI surface to bind flags to here. The Options type itself
// lives in pkg/multiplayer, since hosts must be able to construct one
// without importing an internal package; this package only knows how to
// populate it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/hpkv-io/multiplayer-go/internal/retry"
	"github.com/hpkv-io/multiplayer-go/pkg/multiplayer"
)

// Re-exported so callers of this package don't also need to import
// pkg/multiplayer just to reference the z-factor bounds.
const (
	MinZFactor     = multiplayer.MinZFactor
	MaxZFactor     = multiplayer.MaxZFactor
	DefaultZFactor = multiplayer.DefaultZFactor
)

// envPrefix is stripped from, and required on, every environment
// variable koanf binds into Options (e.g. MULTIPLAYER_NAMESPACE).
const envPrefix = "MULTIPLAYER_"

func defaults() map[string]any {
	return map[string]any{
		"z_factor":             DefaultZFactor,
		"log_level":            "info",
		"profiling":            false,
		"api_key":              "",
		"token_generation_url": "",
	}
}

func defaultClientConfig() multiplayer.ClientConfig {
	return multiplayer.ClientConfig{
		DialTimeout:      10 * time.Second,
		HeartbeatPeriod:  30 * time.Second,
		DestroyTimeout:   5 * time.Second,
		TokenRefreshSlop: 60 * time.Second,
	}
}

// Load layers configuration sources in increasing priority: built-in
// defaults, then an optional YAML file at filePath (skipped silently if
// filePath is empty or the file does not exist), then environment
// variables prefixed with MULTIPLAYER_. It does not validate the result;
// call Options.Validate separately once callbacks have been overlaid.
func Load(filePath string) (*multiplayer.Options, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if filePath != "" {
		if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
			if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: load file %s: %w", filePath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyTransform), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var opts multiplayer.Options
	if err := k.Unmarshal("", &opts); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	opts.Retry = retry.DefaultConfig()
	opts.Client = defaultClientConfig()
	return &opts, nil
}

// envKeyTransform maps MULTIPLAYER_API_BASE_URL -> api_base_url.
func envKeyTransform(s string) string {
	s = s[len(envPrefix):]
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r == '_' {
			out = append(out, '_')
			continue
		}
		out = append(out, byte(toLower(r)))
	}
	return string(out)
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
