package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/kvlens/internal/config"
)

type listOutput struct {
	Items []struct {
		KeyLiteral  string
		ValueText   string
		ValueType   string
		Fingerprint string
	}
	FullResultCount int
	ListComplete    bool
}

type cli struct {
	t    *testing.T
	conf string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()

	c := config.Default()
	c.Log.Level = "error"
	c.Executor = "tester"
	c.System = "system"
	c.Connections = []config.Connection{
		{ID: "system", Name: "System", Backend: config.BackendSQLite, Path: filepath.Join(dir, "system.db")},
		{ID: "src", Name: "Source", Backend: config.BackendSQLite, Path: filepath.Join(dir, "src.db")},
		{ID: "dst", Name: "Destination", Backend: config.BackendSQLite, Path: filepath.Join(dir, "dst.db")},
	}
	c.Jobs.TempDir = dir

	path := filepath.Join(dir, "kvlens.yaml")
	require.NoError(t, config.WriteFile(c, path))
	return &cli{t: t, conf: path}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", c.conf}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "kvlens %v", args)
	return out
}

func (c *cli) list(args ...string) listOutput {
	c.t.Helper()
	var res listOutput
	out := c.mustRun(append([]string{"list", "--json"}, args...)...)
	require.NoError(c.t, json.Unmarshal([]byte(out), &res))
	return res
}

func (c *cli) seed(n int) {
	c.t.Helper()
	for i := 0; i < n; i++ {
		n := strconv.Itoa(i)
		c.mustRun("set", "-c", "src", "-t", "number", `"users", `+n, n)
	}
}

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()
	want := []string{"list", "get", "set", "copy", "delete", "import", "export", "export-status", "abort", "audit", "connections", "cleanup-worker", "lambda", "config"}
	for _, name := range want {
		found, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, found.Name())
	}
}

func TestConfigInit(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "kvlens.yaml")

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"config", "init", path})
	require.NoError(t, cmd.Execute())

	c, err := config.Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)

	cmd = newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"config", "init", path})
	assert.Error(t, cmd.Execute(), "existing file is kept without --force")
}

func TestSetListGet(t *testing.T) {
	c := newCLI(t)
	c.seed(5)

	res := c.list("-c", "src", "--prefix", `"users"`, "--filter", "3")
	require.Len(t, res.Items, 1)
	assert.Equal(t, `"users",3`, res.Items[0].KeyLiteral)
	assert.Equal(t, "number", res.Items[0].ValueType)
	assert.True(t, res.ListComplete)

	out := c.mustRun("get", "-c", "src", "--json", `"users", 2`)
	assert.Contains(t, out, `"ValueText": "2"`)

	_, err := c.run("get", "-c", "src", `"users", 9`)
	assert.Error(t, err)

	_, err = c.run("set", "-c", "src", "-t", "number", `"users", 0`, "zero")
	assert.Error(t, err, "value must match its declared type")

	_, err = c.run("set", "-c", "src", "--if-absent", `"users", 0`, "again")
	assert.Error(t, err)

	audit := c.mustRun("audit", "--json")
	assert.Contains(t, audit, `"type": "get"`)
}

func TestCopyAndDelete(t *testing.T) {
	c := newCLI(t)
	c.seed(4)

	c.mustRun("copy", "-c", "src", "-d", "dst", "--prefix", `"users"`, "--all", "--json")
	assert.Len(t, c.list("-c", "dst").Items, 4)

	src := c.list("-c", "src", "--prefix", `"users"`)
	require.Len(t, src.Items, 4)
	out := c.mustRun("delete", "-c", "src", "--prefix", `"users"`, "--json", src.Items[0].Fingerprint, src.Items[2].Fingerprint)

	var report struct {
		State     string
		Succeeded int64
		Total     int64
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "complete", report.State)
	assert.Equal(t, int64(2), report.Succeeded)
	assert.Equal(t, int64(2), report.Total)

	left := c.list("-c", "src")
	require.Len(t, left.Items, 2)
	assert.Equal(t, `"users",1`, left.Items[0].KeyLiteral)
	assert.Equal(t, `"users",3`, left.Items[1].KeyLiteral)

	_, err := c.run("delete", "-c", "src", "deadbeef")
	assert.Error(t, err, "unknown fingerprints are rejected")
	_, err = c.run("delete", "-c", "src")
	assert.Error(t, err, "empty selection is rejected")
}

func TestExportImport(t *testing.T) {
	c := newCLI(t)
	c.seed(3)

	out := c.mustRun("export", "-c", "src", "--prefix", `"users"`, "--json", "--poll", "10ms")
	var job struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		KeysProcessed int64  `json:"keysProcessed"`
		Path          string `json:"path"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, "complete", job.Status)
	assert.Equal(t, int64(3), job.KeysProcessed)
	_, err := os.Stat(job.Path)
	require.NoError(t, err)

	status := c.mustRun("export-status", "--json", job.ID)
	assert.Contains(t, status, `"status": "complete"`)

	c.mustRun("import", "-d", "dst", "--json", job.Path)
	res := c.list("-c", "dst", "--prefix", `"users"`)
	require.Len(t, res.Items, 3)
	assert.Equal(t, "2", res.Items[2].ValueText)
}

func TestAbortNeedsNATS(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("abort", "some-token")
	assert.Error(t, err)
}

func TestConnections(t *testing.T) {
	c := newCLI(t)
	out := c.mustRun("connections")
	for _, id := range []string{"system", "src", "dst"} {
		assert.Contains(t, out, id)
	}
}
