package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kvlens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	c, err := Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoad_File(t *testing.T) {
	isolate(t)
	path := writeYAML(t, `
session: ops
system: audit
connections:
  - id: audit
    name: Audit
    backend: memory
  - id: prod
    name: Production
    backend: dynamodb
    table: entries
    namespace: prod
queue:
  backend: nats
  nats_url: nats://queue:4222
jobs:
  batch_size: 50
`)

	c, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "ops", c.Session)
	require.Len(t, c.Connections, 2)
	assert.Equal(t, "entries/prod", c.Connections[1].Location())
	assert.Equal(t, QueueNATS, c.Queue.Backend)
	assert.Equal(t, "nats://queue:4222", c.Queue.NATSURL)
	assert.Equal(t, 50, c.Jobs.BatchSize)
	assert.Equal(t, 8, c.Jobs.Concurrency, "unset keys keep defaults")
}

func TestLoad_EnvAndFlags(t *testing.T) {
	isolate(t)
	t.Setenv("KVLENS_SESSION", "from-env")
	t.Setenv("KVLENS_JOBS_CONCURRENCY", "2")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("executor", "", "")
	cmd.Flags().String("session", "", "")
	require.NoError(t, cmd.Flags().Set("executor", "alice"))

	c, err := Load(cmd, "")
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.Session, "unchanged flags do not override the environment")
	assert.Equal(t, "alice", c.Executor)
	assert.Equal(t, 2, c.Jobs.Concurrency)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(nil, filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing id", func(c *Config) { c.Connections[0].ID = "" }},
		{"duplicate id", func(c *Config) { c.Connections = append(c.Connections, c.Connections[0]) }},
		{"sqlite without path", func(c *Config) { c.Connections[0].Path = "" }},
		{"unknown backend", func(c *Config) { c.Connections[0].Backend = "redis" }},
		{"unknown system", func(c *Config) { c.System = "nope" }},
		{"unknown queue", func(c *Config) { c.Queue.Backend = "kafka" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestWriteFile_RoundTrip(t *testing.T) {
	isolate(t)
	want := Default()
	want.Connections = append(want.Connections, Connection{ID: "cloud", Name: "Cloud", Backend: BackendDynamoDB, Table: "t", Namespace: "n"})
	want.Log.JSON = true

	path := filepath.Join(t.TempDir(), "nested", "kvlens.yaml")
	require.NoError(t, WriteFile(want, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
