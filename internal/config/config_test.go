package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_NamespaceRequired(t *testing.T) {
	t.Setenv("VIP_SATURN_ZK_NAMESPACE", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("VIP_SATURN_ZK_NAMESPACE", "billing")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "billing", cfg.Namespace)
	assert.Equal(t, []string{"localhost:2379"}, cfg.Endpoints)
	assert.Equal(t, 30, cfg.ConnectionTimeoutSeconds)
	assert.Equal(t, 30, cfg.SessionTimeoutSeconds)
}

func TestLoad_ClampsConnectionTimeoutBelowRange(t *testing.T) {
	t.Setenv("VIP_SATURN_ZK_NAMESPACE", "billing")
	t.Setenv("VIP_SATURN_ZK_CLIENT_CONNECTION_TIMEOUT_IN_SECONDS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.ConnectionTimeoutSeconds)
}

func TestLoad_ClampsConnectionTimeoutAboveRange(t *testing.T) {
	t.Setenv("VIP_SATURN_ZK_NAMESPACE", "billing")
	t.Setenv("VIP_SATURN_ZK_CLIENT_CONNECTION_TIMEOUT_IN_SECONDS", "120")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.ConnectionTimeoutSeconds)
}

func TestLoad_ClampsSessionTimeoutRange(t *testing.T) {
	t.Setenv("VIP_SATURN_ZK_NAMESPACE", "billing")
	t.Setenv("VIP_SATURN_ZK_CLIENT_SESSION_TIMEOUT_IN_SECONDS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.SessionTimeoutSeconds)

	t.Setenv("VIP_SATURN_ZK_CLIENT_SESSION_TIMEOUT_IN_SECONDS", "90")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.SessionTimeoutSeconds)
}

func TestLoad_ParsesEndpointsAndHostID(t *testing.T) {
	t.Setenv("VIP_SATURN_ZK_NAMESPACE", "billing")
	t.Setenv("VIP_SATURN_ZK_ENDPOINTS", "host1:2379,host2:2379")
	t.Setenv("VIP_SATURN_ZK_HOST_ID", "host-a")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"host1:2379", "host2:2379"}, cfg.Endpoints)
	assert.Equal(t, "host-a", cfg.HostID)
}

func TestConfig_TimeoutHelpers(t *testing.T) {
	cfg := &Config{ConnectionTimeoutSeconds: 45, SessionTimeoutSeconds: 25}
	assert.Equal(t, 45e9, float64(cfg.ConnectionTimeout()))
	assert.Equal(t, 25e9, float64(cfg.SessionTimeout()))
}
