package credential

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetFromEnv(t *testing.T) {
	t.Setenv("OCS_TEST_OPENROUTER_KEY", "env-value")

	svc := New(t.TempDir(), map[string]string{"openrouter": "OCS_TEST_OPENROUTER_KEY"}, time.Minute, "")

	require.Equal(t, "env-value", svc.Get("openrouter"))
	require.True(t, svc.Has("openrouter"))
}

func TestGetFromMasterFile(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "credentials.json"), `{"gemini":"file-value"}`)

	svc := New(dir, nil, time.Minute, "")

	require.Equal(t, "file-value", svc.Get("gemini"))
}

func TestEnvTakesPriorityOverFile(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "credentials.json"), `{"gemini":"file-value"}`)
	t.Setenv("OCS_TEST_GEMINI", "env-value")

	svc := New(dir, map[string]string{"gemini": "OCS_TEST_GEMINI"}, time.Minute, "")

	require.Equal(t, "env-value", svc.Get("gemini"))
}

func TestRequiredMissing(t *testing.T) {
	svc := New(t.TempDir(), nil, time.Minute, "")

	_, err := svc.Required("nonexistent")
	require.Error(t, err)

	var missing *MissingCredential
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "nonexistent", missing.Name)
}

func TestHasNullSafe(t *testing.T) {
	svc := New(t.TempDir(), nil, time.Minute, "")

	require.False(t, svc.Has("anything"))
}

func TestGetAllPrefix(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "credentials.json"), `{"social_twitter":"a","social_mastodon":"b","other":"c"}`)

	svc := New(dir, nil, time.Minute, "")

	all := svc.GetAll("social_")
	require.Len(t, all, 2)
	require.Equal(t, "a", all["social_twitter"])
	require.Equal(t, "b", all["social_mastodon"])
}

func TestSetPersistsAndInvalidatesCache(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir, nil, time.Minute, "")

	require.Empty(t, svc.Get("newkey"))

	require.NoError(t, svc.Set("newkey", "new-value"))

	require.Equal(t, "new-value", svc.Get("newkey"))
}

func TestSetEncryptsAtRestWhenKeyConfigured(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir, nil, time.Minute, "a-passphrase")

	require.NoError(t, svc.Set("openrouter", "sk-plain-value"))

	raw, err := os.ReadFile(filepath.Join(dir, "credentials.json"))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "sk-plain-value")
	require.Contains(t, string(raw), "enc:")

	require.Equal(t, "sk-plain-value", svc.Get("openrouter"))
}

func TestGetFromMasterFileWrongKeyFails(t *testing.T) {
	dir := t.TempDir()
	writing := New(dir, nil, time.Minute, "correct-passphrase")
	require.NoError(t, writing.Set("openrouter", "sk-plain-value"))

	reading := New(dir, nil, time.Minute, "wrong-passphrase")
	require.Empty(t, reading.Get("openrouter"))
}

func TestServiceTokenFile(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "gmail-token.json"), `{"access_token":"tok-123"}`)

	svc := New(dir, nil, time.Minute, "")

	require.Equal(t, "tok-123", svc.Get("gmail-token"))
}

func writeJSON(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}
