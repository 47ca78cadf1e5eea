package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/cli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/adbridge/internal/ldap"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "adbridge.yaml")
	body := `
ldap:
  hosts: ["ldap://127.0.0.1:1"]
  encryption: none
  timeout: 1s
bruteforce:
  store: memory
database:
  driver: sqlite
  dsn: ` + filepath.Join(dir, "adbridge.db") + `
logging:
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewApp(t *testing.T) {
	a, err := newApp(context.Background(), writeConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	assert.False(t, a.directory.ServiceBound())
	assert.NotNil(t, a.orchestrator)

	_, err = a.toLocal.Run(context.Background())
	assert.ErrorIs(t, err, ldap.ErrNoServiceCredentials)
	_, err = a.toDirectory.Run(context.Background())
	assert.ErrorIs(t, err, ldap.ErrNoServiceCredentials)

	families, err := a.registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "adbridge_ldap_pool_connections")
}

func TestNewApp_InvalidConfig(t *testing.T) {
	_, err := newApp(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSyncCommand_PrintsSummaryOnFailure(t *testing.T) {
	ui := cli.NewMockUi()
	factory := commands(context.Background(), ui)["sync-to-local"]
	cmd, err := factory()
	require.NoError(t, err)

	code := cmd.Run([]string{"-config", writeConfig(t)})

	assert.Equal(t, 1, code)
	assert.Contains(t, ui.OutputWriter.String(), `"created": 0`)
	assert.Contains(t, ui.ErrorWriter.String(), "service credentials")
}

func TestAuthenticateCommand_Usage(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &authenticateCommand{baseCommand: baseCommand{
		ctx: context.Background(),
		ui:  ui,
		open: func(context.Context, string) (*app, error) {
			t.Fatal("configuration must not be loaded without a login")
			return nil, nil
		},
	}}

	assert.Equal(t, 1, cmd.Run(nil))
	assert.Contains(t, ui.ErrorWriter.String(), "Usage: adbridge authenticate")
}

func TestAuthenticateCommand_OpenFailure(t *testing.T) {
	t.Setenv("ADBRIDGE_PASSWORD", "secret")
	ui := cli.NewMockUi()
	cmd := &authenticateCommand{baseCommand: baseCommand{
		ctx: context.Background(),
		ui:  ui,
		open: func(context.Context, string) (*app, error) {
			return nil, errors.New("boom")
		},
	}}

	assert.Equal(t, 1, cmd.Run([]string{"jdoe@example.com"}))
	assert.Contains(t, ui.ErrorWriter.String(), "boom")
}

func TestCommands_Synopsis(t *testing.T) {
	for name, factory := range commands(context.Background(), cli.NewMockUi()) {
		cmd, err := factory()
		require.NoError(t, err, name)
		assert.NotEmpty(t, cmd.Synopsis(), name)
		assert.Contains(t, cmd.Help(), "adbridge "+name, name)
	}
}
