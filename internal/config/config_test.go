package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrunner/flows"
	"flowrunner/globus"
)

func baseConfig() Config {
	return Config{
		LogLevel:          "info",
		Backend:           BackendGlobus,
		PollInterval:      5 * time.Second,
		Timeout:           time.Minute,
		OutputURL:         "mem://localhost/results",
		GlobusAuthURL:     globus.DefaultAuthURL,
		GlobusFlowsURL:    globus.DefaultFlowsURL,
		GlobusTransferURL: globus.DefaultTransferURL,
		AWSRegion:         "us-west-2",
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"FLOWRUNNER_LOG_LEVEL", "FLOWRUNNER_BACKEND", "FLOWRUNNER_POLL_INTERVAL_SECONDS",
		"FLOWRUNNER_TIMEOUT_SECONDS", "FLOWRUNNER_OUTPUT_URL", "GLOBUS_FLOWS_URL", "AWS_REGION",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendGlobus, cfg.Backend)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.Timeout)
	assert.Equal(t, globus.DefaultFlowsURL, cfg.GlobusFlowsURL)
	assert.Equal(t, defaultOutputURL, cfg.OutputURL)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("FLOWRUNNER_BACKEND", BackendStepFunctions)
	t.Setenv("FLOWRUNNER_POLL_INTERVAL_SECONDS", "2")
	t.Setenv("FLOWRUNNER_TIMEOUT_SECONDS", "0")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("GLOBUS_DATA", "e30=")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendStepFunctions, cfg.Backend)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Zero(t, cfg.Timeout)
	assert.Equal(t, "eu-west-1", cfg.AWSRegion)
	assert.Equal(t, "e30=", cfg.Bundle().Data)
}

func TestLoadFromEnvRejectsBadNumbers(t *testing.T) {
	testCases := []struct {
		key   string
		value string
	}{
		{key: "FLOWRUNNER_POLL_INTERVAL_SECONDS", value: "soon"},
		{key: "FLOWRUNNER_POLL_INTERVAL_SECONDS", value: "0"},
		{key: "FLOWRUNNER_TIMEOUT_SECONDS", value: "-1"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.key+"="+testCase.value, func(t *testing.T) {
			t.Setenv(testCase.key, testCase.value)
			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.True(t, flows.IsCode(err, flows.CodeConfig))
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, baseConfig().Validate())

	testCases := []struct {
		description string
		mutate      func(*Config)
	}{
		{description: "log level", mutate: func(c *Config) { c.LogLevel = "trace" }},
		{description: "backend", mutate: func(c *Config) { c.Backend = "airflow" }},
		{description: "flows url", mutate: func(c *Config) { c.GlobusFlowsURL = "flows.globus.org" }},
		{description: "region", mutate: func(c *Config) { c.Backend = BackendStepFunctions; c.AWSRegion = "" }},
		{description: "poll interval", mutate: func(c *Config) { c.PollInterval = 0 }},
		{description: "interval above timeout", mutate: func(c *Config) { c.PollInterval = 2 * time.Minute }},
		{description: "output url", mutate: func(c *Config) { c.OutputURL = "" }},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			cfg := baseConfig()
			testCase.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, flows.IsCode(err, flows.CodeConfig))
		})
	}
}

func TestValidateAllowsUnboundedTimeout(t *testing.T) {
	cfg := baseConfig()
	cfg.Timeout = 0
	cfg.PollInterval = time.Hour
	assert.NoError(t, cfg.Validate())
}
