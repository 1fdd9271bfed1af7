// Package config loads drydock's process configuration from the
// environment. Load fails when any of these is unset: the GitHub App id,
// slug, webhook secret and private key, the base URL, the deploy domain,
// the database URL, and the encryption passphrase. Every other field has a
// default.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr    string
	BaseURL string
	DeployDomain string // hostname suffix aliases are published under

	DatabaseURL string

	RedisAddr string
	RedisDB   int

	TemporalAddress   string
	TemporalNamespace string
	TemporalTaskQueue string

	DockerHost    string
	RunnerNetwork string

	RouterConfigDir string

	GitHubAppID         int64
	GitHubAppSlug       string
	GitHubWebhookSecret string
	GitHubPrivateKeyPEM string

	EncryptionPassphrase string

	LogAggregatorURL string

	MaxJobs             int
	DeploymentTimeout   time.Duration
	JobTimeout          time.Duration
	ProbeInterval       time.Duration
	HTTPProbeTimeout    time.Duration
	ReaperInterval      time.Duration
	SSEProjectStreamTTL time.Duration
	SSEDeployStreamCap  time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		Addr:         env("DRYDOCK_ADDR", ":8080"),
		BaseURL:      strings.TrimRight(env("DRYDOCK_BASE_URL", ""), "/"),
		DeployDomain: env("DRYDOCK_DEPLOY_DOMAIN", ""),

		DatabaseURL: env("DRYDOCK_DATABASE_URL", ""),

		RedisAddr: env("DRYDOCK_REDIS_ADDR", "localhost:6379"),

		TemporalAddress:   env("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace: env("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: env("TEMPORAL_TASK_QUEUE", "drydock-deployments"),

		DockerHost:    env("DOCKER_HOST", ""),
		RunnerNetwork: env("DRYDOCK_RUNNER_NETWORK", "drydock-runner"),

		RouterConfigDir: env("DRYDOCK_ROUTER_CONFIG_DIR", "/etc/drydock/routes"),

		GitHubAppSlug:       env("GITHUB_APP_SLUG", ""),
		GitHubWebhookSecret: env("GITHUB_APP_WEBHOOK_SECRET", ""),
		GitHubPrivateKeyPEM: env("GITHUB_APP_PRIVATE_KEY_PEM", ""),

		EncryptionPassphrase: env("DRYDOCK_ENCRYPTION_PASSPHRASE", ""),

		LogAggregatorURL: env("DRYDOCK_LOG_AGGREGATOR_URL", ""),
	}

	var err error
	if cfg.RedisDB, err = envInt("DRYDOCK_REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.MaxJobs, err = envInt("DRYDOCK_MAX_JOBS", 8); err != nil {
		return Config{}, err
	}
	if cfg.DeploymentTimeout, err = envDuration("DRYDOCK_DEPLOYMENT_TIMEOUT", 300*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.JobTimeout, err = envDuration("DRYDOCK_JOB_TIMEOUT", 320*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ProbeInterval, err = envDuration("DRYDOCK_PROBE_INTERVAL", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.HTTPProbeTimeout, err = envDuration("DRYDOCK_HTTP_PROBE_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReaperInterval, err = envDuration("DRYDOCK_REAPER_INTERVAL", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SSEProjectStreamTTL, err = envDuration("DRYDOCK_SSE_PROJECT_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SSEDeployStreamCap, err = envDuration("DRYDOCK_SSE_DEPLOY_CAP", 30*time.Minute); err != nil {
		return Config{}, err
	}

	if v := strings.TrimSpace(env("GITHUB_APP_ID", "")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, err
		}
		cfg.GitHubAppID = n
	}
	if cfg.GitHubPrivateKeyPEM == "" {
		if path := strings.TrimSpace(env("GITHUB_APP_PRIVATE_KEY_PATH", "")); path != "" {
			b, err := os.ReadFile(path)
			if err != nil {
				return Config{}, err
			}
			cfg.GitHubPrivateKeyPEM = string(b)
		}
	}

	if cfg.GitHubAppID == 0 {
		return Config{}, errors.New("missing GITHUB_APP_ID")
	}
	if strings.TrimSpace(cfg.GitHubPrivateKeyPEM) == "" {
		return Config{}, errors.New("missing GITHUB_APP_PRIVATE_KEY_PEM or GITHUB_APP_PRIVATE_KEY_PATH")
	}
	if strings.TrimSpace(cfg.GitHubWebhookSecret) == "" {
		return Config{}, errors.New("missing GITHUB_APP_WEBHOOK_SECRET")
	}
	if strings.TrimSpace(cfg.GitHubAppSlug) == "" {
		return Config{}, errors.New("missing GITHUB_APP_SLUG")
	}
	if cfg.BaseURL == "" {
		return Config{}, errors.New("missing DRYDOCK_BASE_URL (public https base url for webhook delivery + UI links)")
	}
	if cfg.DeployDomain == "" {
		return Config{}, errors.New("missing DRYDOCK_DEPLOY_DOMAIN (hostname suffix aliases are published under)")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("missing DRYDOCK_DATABASE_URL")
	}
	if strings.TrimSpace(cfg.EncryptionPassphrase) == "" {
		return Config{}, errors.New("missing DRYDOCK_ENCRYPTION_PASSPHRASE")
	}
	if cfg.JobTimeout <= cfg.DeploymentTimeout {
		return Config{}, errors.New("DRYDOCK_JOB_TIMEOUT must exceed DRYDOCK_DEPLOYMENT_TIMEOUT")
	}

	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}
