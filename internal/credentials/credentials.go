// Package credentials materializes the Google service-account key from its
// base64-encoded secret form and normalizes the proxy environment before any
// crawl traffic leaves the process.
package credentials

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvVar is the environment variable carrying the base64-encoded
// service-account JSON, injected by the deployment's secret store.
const EnvVar = "GOOGLE_CREDENTIALS_B64"

// proxyVars are cleared before crawling so the runner image's ambient proxy
// settings can never shadow the residential proxy.
var proxyVars = []string{
	"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY",
	"http_proxy", "https_proxy", "no_proxy",
}

// Materialize decodes the base64 secret and writes it to path with owner-only
// permissions. The decoded payload must be valid JSON; anything else is a
// configuration error and the caller should abort before crawling starts.
func Materialize(encoded, path string) error {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return fmt.Errorf("credentials secret is empty")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode credentials secret: %w", err)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("decoded credentials are not valid JSON")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create credentials dir: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write credentials file: %w", err)
	}
	return nil
}

// MaterializeFromEnv reads the secret from EnvVar. A missing variable is not
// an error when path already holds a readable credentials file.
func MaterializeFromEnv(path string) error {
	encoded := os.Getenv(EnvVar)
	if encoded == "" {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		return fmt.Errorf("%s is not set and %s does not exist", EnvVar, path)
	}
	return Materialize(encoded, path)
}

// ScrubProxyEnv forces every conventional proxy variable to the empty string.
// The residential proxy is applied explicitly to the browser and the probe
// transport, never through the environment.
func ScrubProxyEnv() error {
	for _, v := range proxyVars {
		if err := os.Setenv(v, ""); err != nil {
			return fmt.Errorf("clear %s: %w", v, err)
		}
	}
	return nil
}

// RunningInCI reports whether the CI run-mode indicator is set.
func RunningInCI() bool {
	return strings.EqualFold(os.Getenv("CI"), "true")
}
