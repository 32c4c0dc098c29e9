// Package config provides environment and file configuration helpers
// for the voice waiter commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variable names.
const (
	EnvBackendURL   = "WAITER_BACKEND_URL"
	EnvPushURL      = "WAITER_PUSH_URL"
	EnvRestaurantID = "WAITER_RESTAURANT_ID"
	EnvLanguage     = "WAITER_LANGUAGE"
	EnvAIEnabled    = "WAITER_AI_ENABLED"
	EnvGoogleTTSKey = "GOOGLE_TTS_API_KEY"
)

// Defaults used when neither a file nor the environment sets a value.
const (
	DefaultBackendURL = "http://localhost:3000"
	DefaultLanguage   = "en"
)

// String returns the env var value or def when unset or blank.
func String(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// Bool returns the env var parsed as a bool, or def when unset or unparsable.
func Bool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Required returns the env var value or an error naming the missing variable.
func Required(name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("%s environment variable is required", name)
	}
	return v, nil
}

// BackendURL returns the AI backend base URL without a trailing slash.
func BackendURL() string {
	return strings.TrimSuffix(String(EnvBackendURL, DefaultBackendURL), "/")
}

// Language returns the configured language code, lower-cased.
func Language() string {
	return strings.ToLower(String(EnvLanguage, DefaultLanguage))
}
