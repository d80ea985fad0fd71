package credentials

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const serviceAccountJSON = `{"type":"service_account","project_id":"watcher-test"}`

func TestMaterialize_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "credentials.json")
	encoded := base64.StdEncoding.EncodeToString([]byte(serviceAccountJSON))

	require.NoError(t, Materialize(encoded, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, serviceAccountJSON, string(raw))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestMaterialize_RejectsBadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	require.ErrorContains(t, Materialize("", path), "empty")
	require.ErrorContains(t, Materialize("  \n ", path), "empty")
	require.ErrorContains(t, Materialize("not-base64!!!", path), "decode")

	notJSON := base64.StdEncoding.EncodeToString([]byte("hello"))
	require.ErrorContains(t, Materialize(notJSON, path), "valid JSON")

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "no file may be written on failure")
}

func TestMaterializeFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	t.Setenv(EnvVar, base64.StdEncoding.EncodeToString([]byte(serviceAccountJSON)))
	require.NoError(t, MaterializeFromEnv(path))

	// With the variable unset, an existing file is good enough.
	t.Setenv(EnvVar, "")
	require.NoError(t, MaterializeFromEnv(path))

	// Missing variable and missing file is a hard error.
	require.ErrorContains(t, MaterializeFromEnv(filepath.Join(t.TempDir(), "absent.json")), EnvVar)
}

func TestScrubProxyEnv(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://corp-proxy:3128")
	t.Setenv("https_proxy", "http://corp-proxy:3128")
	t.Setenv("NO_PROXY", "localhost")

	require.NoError(t, ScrubProxyEnv())

	for _, v := range []string{"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "no_proxy"} {
		require.Empty(t, os.Getenv(v), v)
	}
}

func TestRunningInCI(t *testing.T) {
	t.Setenv("CI", "true")
	require.True(t, RunningInCI())

	t.Setenv("CI", "True")
	require.True(t, RunningInCI())

	t.Setenv("CI", "")
	require.False(t, RunningInCI())

	t.Setenv("CI", "1")
	require.False(t, RunningInCI())
}
