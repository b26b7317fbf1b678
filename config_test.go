package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func defaultConfig(t *testing.T, args ...string) *Config {
	t.Helper()

	cfg := &Config{}
	require.NoError(t, newCmd(cfg).ParseFlags(args))

	return cfg
}

func TestNewCmd_Defaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, "0.0.0.0", cfg.bind)
	assert.Equal(t, 8080, cfg.port)
	assert.Equal(t, 10*time.Second, cfg.gracePeriod)
	assert.Equal(t, 60*time.Minute, cfg.sessionTimeout)
	assert.Equal(t, 7, cfg.roundCount)
	assert.Equal(t, 30, cfg.maxRounds)
	assert.Equal(t, int64(4<<20), cfg.maxMessageSize)
	assert.NoError(t, cfg.validate())
	assert.Equal(t, "http", cfg.scheme())
}

func TestNewCmd_Env(t *testing.T) {
	t.Setenv("RELAYDRAW_PORT", "9001")
	t.Setenv("RELAYDRAW_GRACE_PERIOD", "3s")
	t.Setenv("RELAYDRAW_DROP_DISABLED_CHAT", "true")

	cfg := defaultConfig(t)
	assert.Equal(t, 9001, cfg.port)
	assert.Equal(t, 3*time.Second, cfg.gracePeriod)
	assert.True(t, cfg.dropDisabledChat)

	cfg = defaultConfig(t, "--port", "9002", "--grace_period", "4s")
	assert.Equal(t, 9002, cfg.port, "flags win over the environment")
	assert.Equal(t, 4*time.Second, cfg.gracePeriod)
}

func TestNewCmd_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaydraw.yaml")
	require.NoError(t, os.WriteFile(path, []byte("round-count: 3\nchat-rate: 0.5\ngrace-period: 4s\nmax-rounds: 12\n"), 0o600))

	cfg := &Config{}
	cmd := newCmd(cfg)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--max-rounds", "20"}))
	require.NoError(t, cmd.PreRunE(cmd, nil))

	assert.Equal(t, 3, cfg.roundCount)
	assert.Equal(t, 0.5, cfg.chatRate)
	assert.Equal(t, 4*time.Second, cfg.gracePeriod)
	assert.Equal(t, 20, cfg.maxRounds, "flags win over the file")

	cfg = &Config{}
	cmd = newCmd(cfg)
	require.NoError(t, cmd.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}))
	assert.Error(t, cmd.PreRunE(cmd, nil))
}

func TestConfig_Validate(t *testing.T) {
	for name, tc := range map[string]struct {
		args []string
		ok   bool
	}{
		"defaults":           {ok: true},
		"port too high":      {args: []string{"--port", "70000"}},
		"cert without key":   {args: []string{"--tls-cert", "cert.pem"}},
		"cert and key":       {args: []string{"--tls-cert", "cert.pem", "--tls-key", "key.pem"}, ok: true},
		"zero grace":         {args: []string{"--grace-period", "0s"}},
		"rounds over max":    {args: []string{"--round-count", "12", "--max-rounds", "10"}},
		"zero rounds":        {args: []string{"--round-count", "0"}},
		"tiny messages":      {args: []string{"--max-message-size", "10"}},
		"negative chat rate": {args: []string{"--chat-rate", "-1"}},
		"zero chat burst":    {args: []string{"--chat-burst", "0"}},
		"unthrottled chat":   {args: []string{"--chat-rate", "0"}, ok: true},
	} {
		t.Run(name, func(t *testing.T) {
			err := defaultConfig(t, tc.args...).validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfig_RelayOptions(t *testing.T) {
	opts := defaultConfig(t, "--chat-rate", "0", "--round-count", "4").relayOptions()
	assert.Equal(t, rate.Inf, opts.ChatRate)
	assert.Equal(t, 4, opts.DefaultRounds)
	assert.Equal(t, 10*time.Second, opts.GracePeriod)

	opts = defaultConfig(t, "--chat-rate", "2.5").relayOptions()
	assert.Equal(t, rate.Limit(2.5), opts.ChatRate)
}
