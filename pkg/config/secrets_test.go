package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()

	SetSecret("ANTHROPIC_API_KEY", "sk-test-123")
	SetSecret("OPENAI_API_KEY", "sk-test-456")
	require.NoError(t, saveAndReload(dir, "hunter2"))

	v, err := GetSecret("ANTHROPIC_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", v)
}

func saveAndReload(dir, password string) error {
	if err := SaveSecrets(dir, password); err != nil {
		return err
	}
	// Clear the in-memory map so the reload is observable.
	secretsMu.Lock()
	loadedSecrets = nil
	secretsMu.Unlock()
	return LoadSecrets(dir, password)
}

func TestLoadSecretsWrongPassword(t *testing.T) {
	dir := t.TempDir()
	SetSecret("KEY", "value")
	require.NoError(t, SaveSecrets(dir, "correct"))

	err := LoadSecrets(dir, "incorrect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt")
}

func TestSecretsFileExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, SecretsFileExists(dir))
	require.NoError(t, SaveSecrets(dir, "pw"))
	assert.True(t, SecretsFileExists(dir))
}

func TestGetSecretFromEnv(t *testing.T) {
	t.Setenv("REASONRT_TEST_SECRET", "from-env")
	v, err := GetSecret("REASONRT_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	_, err = GetSecret("REASONRT_TEST_SECRET_MISSING")
	assert.Error(t, err)
}
