package stats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhoxy/rhoxy/rhoxy-srv/config"
)

func TestNewCollectorDefaultsToMemory(t *testing.T) {
	c, err := NewCollector(config.StatisticsConfig{})
	require.NoError(t, err)
	defer c.Close()
	_, ok := c.(*MemoryCollector)
	assert.True(t, ok)
}

func TestNewCollectorDummy(t *testing.T) {
	c, err := NewCollector(config.StatisticsConfig{Backend: "dummy"})
	require.NoError(t, err)
	defer c.Close()
	_, ok := c.(*DummyCollector)
	assert.True(t, ok)
}

func TestNewCollectorSQLite(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCollector(config.StatisticsConfig{Backend: "sqlite", SQLitePath: dir + "/rhoxy.db"})
	require.NoError(t, err)
	defer c.Close()
	_, ok := c.(*SQLiteCollector)
	assert.True(t, ok)
}

func TestNewCollectorPostgresRequiresDSN(t *testing.T) {
	_, err := NewCollector(config.StatisticsConfig{Backend: "postgres"})
	assert.Error(t, err)
}

func TestNewCollectorUnknownBackend(t *testing.T) {
	_, err := NewCollector(config.StatisticsConfig{Backend: "nope"})
	assert.Error(t, err)
}

func TestHealthCheckerWithNilCollector(t *testing.T) {
	h := NewHealthChecker(nil)
	assert.Error(t, h.Check(context.Background()))
	assert.NoError(t, h.Close())
}

func TestHealthCheckerDelegatesToCollector(t *testing.T) {
	mem := NewMemoryCollector()
	h := NewHealthChecker(mem)
	assert.NoError(t, h.Check(context.Background()))
	assert.NoError(t, h.Close())
}
