//go:build !integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-relay/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		CRM: config.CRMConfig{
			BaseURL:      "https://example.amocrm.ru",
			AccessToken:  "access",
			RefreshToken: "refresh",
			ClientID:     "client",
			ClientSecret: "secret",
			RedirectURI:  "https://example.com/oauth",
			RateLimit:    7,
			TimeoutSecs:  5,
		},
		Telegram: config.TelegramConfig{Token: "123:abc", ChatID: -100200300, BaseURL: "https://api.telegram.org"},
		Sheets: config.SheetsConfig{
			CredentialsFile: "credentials.json",
			SpreadsheetID:   "sheet-123",
			Worksheet:       "Sheet1",
			Timezone:        "UTC",
		},
		Normalize: config.NormalizeConfig{AcceptedBranch: "Online", EmailLabel: "Email"},
		Ingest: config.IngestConfig{
			Retry:   config.RetryConfig{MaxAttempts: 3, InitialBackoffMs: 10, MaxBackoffMs: 50, Multiplier: 2},
			Circuit: config.CircuitConfig{FailureThreshold: 5, ResetTimeoutSecs: 30},
		},
	}
}

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestNewCRMClient(t *testing.T) {
	c := testConfig()

	crm := newCRMClient(c.CRM)
	require.NotNil(t, crm)
	crm.Close()

	c.CRM.LongLivedToken = true
	crm = newCRMClient(c.CRM)
	require.NotNil(t, crm)
	crm.Close()
}

func TestInitRelay_WithoutSinks(t *testing.T) {
	withConfig(t, testConfig())

	env, err := initRelay(context.Background(), false)
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.CRM)
	assert.NotNil(t, env.Ingestor)
	assert.Nil(t, env.Telegram)
}

func TestInitRelay_InvalidLabels(t *testing.T) {
	c := testConfig()
	c.Normalize.Labels = map[string]string{"no_such_target": "Whatever"}
	withConfig(t, c)

	_, err := initRelay(context.Background(), false)
	assert.Error(t, err)
}

func TestInitRelay_MissingCredentials(t *testing.T) {
	c := testConfig()
	c.Sheets.CredentialsFile = filepath.Join(t.TempDir(), "missing.json")
	withConfig(t, c)

	_, err := initRelay(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read credentials")
}

func TestInitRelay_BadTimezone(t *testing.T) {
	c := testConfig()
	c.Sheets.Timezone = "Mars/Olympus_Mons"
	withConfig(t, c)

	_, err := initRelay(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load timezone")
}

func TestInitRelay_WithSinks(t *testing.T) {
	creds := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(creds, []byte(`{
		"type": "authorized_user",
		"client_id": "id.apps.googleusercontent.com",
		"client_secret": "secret",
		"refresh_token": "refresh"
	}`), 0o600))

	c := testConfig()
	c.Sheets.CredentialsFile = creds
	withConfig(t, c)

	env, err := initRelay(context.Background(), true)
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Telegram)
	assert.NotNil(t, env.Ingestor)
}
