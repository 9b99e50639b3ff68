package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpkv-io/multiplayer-go/internal/config"
	"github.com/hpkv-io/multiplayer-go/pkg/multiplayer"
)

func TestLoad_Defaults(t *testing.T) {
	opts, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultZFactor, opts.ZFactor)
	assert.Equal(t, "info", opts.LogLevel)
	assert.False(t, opts.Profiling)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "multiplayer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("namespace: room-1\nz_factor: 3\n"), 0o600))

	opts, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "room-1", opts.Namespace)
	assert.Equal(t, 3, opts.ZFactor)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "multiplayer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("namespace: room-1\n"), 0o600))

	t.Setenv("MULTIPLAYER_NAMESPACE", "room-2")
	opts, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "room-2", opts.Namespace)
}

func TestValidate_RejectsMissingNamespace(t *testing.T) {
	opts, err := config.Load("")
	require.NoError(t, err)
	opts.APIBaseURL = "https://kv.example.com"
	opts.APIKey = "key"

	err = opts.Validate()
	var cfgErr *multiplayer.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "namespace", cfgErr.Field)
}

func TestValidate_RequiresExactlyOneAuthMethod(t *testing.T) {
	opts, err := config.Load("")
	require.NoError(t, err)
	opts.Namespace = "room-1"
	opts.APIBaseURL = "https://kv.example.com"

	err = opts.Validate()
	var cfgErr *multiplayer.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	opts.APIKey = "key"
	opts.TokenGenerationURL = "https://auth.example.com/token"
	err = opts.Validate()
	require.ErrorAs(t, err, &cfgErr)
}

func TestValidate_RejectsOutOfRangeZFactor(t *testing.T) {
	opts, err := config.Load("")
	require.NoError(t, err)
	opts.Namespace = "room-1"
	opts.APIBaseURL = "https://kv.example.com"
	opts.APIKey = "key"
	opts.ZFactor = config.MaxZFactor + 1

	err = opts.Validate()
	var cfgErr *multiplayer.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "zFactor", cfgErr.Field)
}

func TestValidate_AcceptsValidOptions(t *testing.T) {
	opts, err := config.Load("")
	require.NoError(t, err)
	opts.Namespace = "room-1"
	opts.APIBaseURL = "https://kv.example.com"
	opts.APIKey = "key"

	assert.NoError(t, opts.Validate())
}
