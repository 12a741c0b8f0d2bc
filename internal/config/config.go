package config

import (
	"log"
	"os"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

type Config struct {
	Mode Mode

	Port string

	GCPProjectID   string
	WebAPIKey      string // Firebase web API key, used by password sign-in
	StorageBucket  string // Cloud Storage bucket for attachments
	RosterPreviews bool   // annotate roster entries with the latest message
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

// Load reads all env vars and builds the config
func Load() *Config {
	modeStr := getEnv("MESSENGER_MODE", "local")
	var mode Mode
	switch modeStr {
	case "gcp":
		mode = ModeGCP
	default:
		mode = ModeLocal
	}

	cfg := &Config{
		Mode: mode,

		Port: getEnv("MESSENGER_PORT", "8080"),

		GCPProjectID:   getEnv("MESSENGER_GCP_PROJECT", ""),
		WebAPIKey:      getEnv("MESSENGER_WEB_API_KEY", ""),
		StorageBucket:  getEnv("MESSENGER_STORAGE_BUCKET", ""),
		RosterPreviews: getBoolEnv("MESSENGER_ROSTER_PREVIEWS", true),
	}

	// Minimal validation in GCP mode
	if cfg.Mode == ModeGCP {
		if cfg.GCPProjectID == "" {
			log.Fatal("MESSENGER_GCP_PROJECT must be set in gcp mode")
		}
		if cfg.WebAPIKey == "" {
			log.Fatal("MESSENGER_WEB_API_KEY must be set in gcp mode")
		}
		if cfg.StorageBucket == "" {
			log.Fatal("MESSENGER_STORAGE_BUCKET must be set in gcp mode")
		}
	}

	return cfg
}
