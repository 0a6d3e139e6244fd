package config

import (
	"net/url"
	"os"
	"strconv"
	"time"

	"flowrunner/flows"
	"flowrunner/globus"
)

const (
	BackendGlobus        = "globus"
	BackendStepFunctions = "stepfunctions"

	defaultLogLevel     = "info"
	defaultBackend      = BackendGlobus
	defaultPollInterval = 5 * time.Second
	defaultTimeout      = flows.DefaultTimeout
	defaultOutputURL    = "file://localhost/tmp/flowrunner"
	defaultAWSRegion    = "us-east-1"
)

type Config struct {
	LogLevel     string
	Backend      string
	PollInterval time.Duration
	// Timeout bounds waiting for a run; zero waits forever.
	Timeout   time.Duration
	OutputURL string
	TraceFile string

	GlobusClientID    string
	GlobusData        string
	GlobusTokensURL   string
	GlobusTokensKey   string
	GlobusAuthURL     string
	GlobusFlowsURL    string
	GlobusTransferURL string

	AWSRegion  string
	SFNRoleARN string
}

func LoadFromEnv() (Config, error) {
	pollInterval, err := parseEnvDuration("FLOWRUNNER_POLL_INTERVAL_SECONDS", defaultPollInterval)
	if err != nil {
		return Config{}, err
	}
	timeout, err := parseEnvDurationAllowZero("FLOWRUNNER_TIMEOUT_SECONDS", defaultTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		LogLevel:          getEnv("FLOWRUNNER_LOG_LEVEL", defaultLogLevel),
		Backend:           getEnv("FLOWRUNNER_BACKEND", defaultBackend),
		PollInterval:      pollInterval,
		Timeout:           timeout,
		OutputURL:         getEnv("FLOWRUNNER_OUTPUT_URL", defaultOutputURL),
		TraceFile:         getEnv("FLOWRUNNER_TRACE_FILE", ""),
		GlobusClientID:    getEnv("GLOBUS_CLIENT_ID", ""),
		GlobusData:        getEnv("GLOBUS_DATA", ""),
		GlobusTokensURL:   getEnv("GLOBUS_TOKENS_URL", ""),
		GlobusTokensKey:   getEnv("GLOBUS_TOKENS_KEY", ""),
		GlobusAuthURL:     getEnv("GLOBUS_AUTH_URL", globus.DefaultAuthURL),
		GlobusFlowsURL:    getEnv("GLOBUS_FLOWS_URL", globus.DefaultFlowsURL),
		GlobusTransferURL: getEnv("GLOBUS_TRANSFER_URL", globus.DefaultTransferURL),
		AWSRegion:         getEnv("AWS_REGION", defaultAWSRegion),
		SFNRoleARN:        getEnv("FLOWRUNNER_SFN_ROLE_ARN", ""),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return flows.Configf("unsupported log level %q", c.LogLevel)
	}
	switch c.Backend {
	case BackendGlobus:
		for name, value := range map[string]string{
			"globus auth url":     c.GlobusAuthURL,
			"globus flows url":    c.GlobusFlowsURL,
			"globus transfer url": c.GlobusTransferURL,
		} {
			if err := checkURL(name, value); err != nil {
				return err
			}
		}
	case BackendStepFunctions:
		if c.AWSRegion == "" {
			return flows.Configf("aws region cannot be empty for the %s backend", BackendStepFunctions)
		}
	default:
		return flows.Configf("unsupported backend %q", c.Backend)
	}
	if c.PollInterval <= 0 {
		return flows.Configf("poll interval must be positive")
	}
	if c.Timeout < 0 {
		return flows.Configf("timeout must be >= 0")
	}
	if c.Timeout > 0 && c.PollInterval > c.Timeout {
		return flows.Configf("poll interval cannot exceed timeout")
	}
	if c.OutputURL == "" {
		return flows.Configf("output url cannot be empty")
	}
	return nil
}

// Bundle says where the Globus credential bundle is provisioned.
func (c Config) Bundle() globus.BundleSource {
	return globus.BundleSource{Data: c.GlobusData, URL: c.GlobusTokensURL, Key: c.GlobusTokensKey}
}

func checkURL(name, value string) error {
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return flows.Configf("%s %q is not an absolute url", name, value)
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func parseEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0, flows.Configf("%s must be an integer number of seconds", key).WithCause(err)
	}
	if seconds <= 0 {
		return 0, flows.Configf("%s must be > 0 seconds", key)
	}
	return time.Duration(seconds) * time.Second, nil
}

func parseEnvDurationAllowZero(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0, flows.Configf("%s must be an integer number of seconds", key).WithCause(err)
	}
	if seconds < 0 {
		return 0, flows.Configf("%s must be >= 0 seconds", key)
	}
	return time.Duration(seconds) * time.Second, nil
}
