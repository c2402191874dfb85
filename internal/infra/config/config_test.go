package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DEPOSIT_WEBHOOK_URL", "http://localhost:9000/deposit")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.EqualValues(t, 60, cfg.ThresholdMinutes)
	assert.Equal(t, 60, cfg.TickIntervalSeconds)
	assert.Equal(t, 50, cfg.MaxPerTick)
	assert.True(t, cfg.AutoSaveOnTick)
	assert.True(t, cfg.InterceptAll)
	assert.False(t, cfg.ZoneWhitelistMode)
	assert.Equal(t, "payday.bypass", cfg.BypassPermission)
	assert.InDelta(t, 0.01, cfg.MinimumPayment, 0.0001)
}

func TestLoadRejectsInvalidTickSemantics(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero threshold", "PAYDAY_THRESHOLD_MINUTES", "0"},
		{"negative threshold", "PAYDAY_THRESHOLD_MINUTES", "-5"},
		{"zero tick interval", "TICK_INTERVAL_SECONDS", "0"},
		{"zero max per tick", "MAX_PER_TICK", "0"},
		{"negative minimum payment", "MINIMUM_PAYMENT", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRequiresDepositWebhook(t *testing.T) {
	t.Setenv("DEPOSIT_WEBHOOK_URL", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestParseMultipliers(t *testing.T) {
	setRequired(t)
	t.Setenv("PERMISSION_MULTIPLIERS", "payday.vip:1.5, payday.mvp:2.0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 1.5, cfg.PermissionMultipliers["payday.vip"], 0.001)
	assert.InDelta(t, 2.0, cfg.PermissionMultipliers["payday.mvp"], 0.001)
}

func TestParseMultipliersRejectsMalformed(t *testing.T) {
	setRequired(t)
	t.Setenv("PERMISSION_MULTIPLIERS", "payday.vip=1.5")

	_, err := Load()
	assert.Error(t, err)
}

func TestZoneLists(t *testing.T) {
	setRequired(t)
	t.Setenv("ZONE_WHITELIST_MODE", "true")
	t.Setenv("WHITELISTED_ZONES", "world, world_nether")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.ZoneWhitelistMode)
	assert.Equal(t, []string{"world", "world_nether"}, cfg.WhitelistedZones)
}
