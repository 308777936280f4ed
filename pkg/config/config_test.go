package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DOC_STORE", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.LocalStore)
	assert.Equal(t, 7*24*time.Hour, cfg.ProfileTTL)
	assert.Equal(t, 12, cfg.ProfileConcurrency)
	assert.Equal(t, 15*time.Second, cfg.ReconcileWindow)
	assert.Equal(t, 25, cfg.MessagePageSize)
	assert.Equal(t, 50, cfg.ConversationLimit)
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	t.Setenv("DOC_STORE", "sqlite")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("DOC_STORE", "Memory")
	t.Setenv("LOCAL_STORE", "etcd")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DOC_STORE", "memory")
	t.Setenv("LOCAL_STORE", "redis")
	t.Setenv("RECONCILE_WINDOW", "5s")
	t.Setenv("PROFILE_CONCURRENCY", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.LocalStore)
	assert.Equal(t, 5*time.Second, cfg.ReconcileWindow)
	assert.Equal(t, 12, cfg.ProfileConcurrency)
}
