package main

import (
	"os"
	"strconv"
	"time"
)

// config holds the demo's own runtime configuration from environment
// variables. The library itself takes none — this is only for the CLI.
type config struct {
	// Domain is the OADA server base URL (env: OADA_DOMAIN).
	Domain string

	// Token is the bearer token for the OADA server (env: OADA_TOKEN).
	Token string

	// ListPath is the list resource to watch (env: OADA_LIST_PATH).
	ListPath string

	// Resume controls whether progress persists across restarts (env: OADA_RESUME).
	Resume bool

	// PersistInterval is how often the resume cursor flushes (env: OADA_PERSIST_INTERVAL).
	PersistInterval time.Duration
}

func loadConfig() *config {
	return &config{
		Domain:          envOr("OADA_DOMAIN", "https://localhost"),
		Token:           os.Getenv("OADA_TOKEN"),
		ListPath:        envOr("OADA_LIST_PATH", "/bookmarks/trellisfw/asn-list"),
		Resume:          envBoolOr("OADA_RESUME", true),
		PersistInterval: envDurationOr("OADA_PERSIST_INTERVAL", time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
