package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	configPath string
}

func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "snapctl.yml")
	conf := fmt.Sprintf("log:\n  defaultLevel: error\nstore:\n  engine: anystore\n  path: %s\n", filepath.Join(dir, "snapshots.db"))
	require.NoError(t, os.WriteFile(configPath, []byte(conf), 0600))
	return &fixture{configPath: configPath}
}

func (fx *fixture) run(t *testing.T, args ...string) (string, error) {
	c := &cli{}
	cmd := newRootCmd(c)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"-c", fx.configPath}, args...))
	err := cmd.Execute()
	require.NoError(t, c.stop(cmd.Context()))
	return out.String(), err
}

func (fx *fixture) mustRun(t *testing.T, args ...string) string {
	out, err := fx.run(t, args...)
	require.NoError(t, err, out)
	return strings.TrimSpace(out)
}

func TestSnapctl(t *testing.T) {
	fx := newFixture(t)

	assert.Equal(t, "1", fx.mustRun(t, "tree"))
	assert.Equal(t, "2", fx.mustRun(t, "child", "1", "+key0=value0", "+key1=value1"))
	fx.mustRun(t, "amend", "2", "-key0")
	fx.mustRun(t, "amend-head", "1", "+key2=")
	assert.Equal(t, "key1=value1\nkey2=", fx.mustRun(t, "dump"))

	fx.mustRun(t, "restore", "2", "1")
	assert.Equal(t, "", fx.mustRun(t, "dump"))
	assert.Equal(t, "1\n2", fx.mustRun(t, "versions"))

	inspect := fx.mustRun(t, "inspect", "2")
	assert.Contains(t, inspect, "forward: 4")
	assert.Contains(t, inspect, "current:  false")

	status := fx.mustRun(t, "status")
	assert.Contains(t, status, "versions:    2")
	assert.Contains(t, status, "tree 1: current 1")

	_, err := fx.run(t, "amend", "1", "+x=1")
	assert.Error(t, err)
	_, err = fx.run(t, "restore", "2", "1")
	assert.Error(t, err)
	_, err = fx.run(t, "child", "1", "bad")
	assert.Error(t, err)
	_, err = fx.run(t, "inspect", "zero")
	assert.Error(t, err)
}
