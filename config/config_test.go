package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyproto/any-snapshot/app/logger"
)

const example = `
log:
  defaultLevel: info
  levels:
    - name: snapshot*
      level: debug
store:
  engine: anystore
  path: /var/lib/snapshots.db
forest:
  namespace: docs
  retry:
    maxAttempts: 3
metric:
  addr: 127.0.0.1:9090
`

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(example), 0600))

	c, err := NewFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "info", c.Log.DefaultLevel)
	assert.Equal(t, []logger.NamedLevel{{Name: "snapshot*", Level: "debug"}}, c.Log.Levels)
	assert.Equal(t, Store{Engine: EngineAnyStore, Path: "/var/lib/snapshots.db"}, c.GetStore())
	assert.Equal(t, Forest{
		Namespace: "docs",
		DataTable: "data",
		Retry:     Retry{MaxAttempts: 3, IntervalMs: 10, MaxIntervalMs: 1000},
	}, c.GetForest())
	assert.Equal(t, "127.0.0.1:9090", c.GetMetric().Addr)

	_, err = NewFromFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	for _, data := range []string{
		"store: [",
		"store:\n  engine: leveldb\n",
		"store:\n  engine: anystore\n",
		"store:\n  engine: memory\nforest:\n  namespace: x\n  dataTable: x-versions\n",
		"store:\n  engine: memory\nforest:\n  retry:\n    maxAttempts: -1\n",
		"store:\n  engine: memory\nforest:\n  statPeriodSec: -1\n",
	} {
		_, err := Parse([]byte(data))
		assert.Error(t, err, data)
	}
	c, err := Parse([]byte("store:\n  engine: memory\n"))
	require.NoError(t, err)
	assert.Equal(t, "snapshots", c.Forest.Namespace)
}
