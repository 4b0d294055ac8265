package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAppliesFlagDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, 54846, cfg.ListenPort)
	require.Equal(t, "./data", cfg.DataDir)
	require.Empty(t, cfg.RootPeer)
	require.Empty(t, cfg.MiningAddr)
	require.NotEmpty(t, cfg.NodeID)
}

func TestParseReadsExplicitFlags(t *testing.T) {
	cfg, err := Parse([]string{
		"--port", "4001",
		"--data-dir", "/tmp/votechain",
		"--root-peer", "127.0.0.1:4000",
		"--mining-addr", "deadbeef",
	})
	require.NoError(t, err)
	require.Equal(t, 4001, cfg.ListenPort)
	require.Equal(t, "/tmp/votechain", cfg.DataDir)
	require.Equal(t, "127.0.0.1:4000", cfg.RootPeer)
	require.Equal(t, "deadbeef", cfg.MiningAddr)
}

func TestParseDerivesNodeIDFromPort(t *testing.T) {
	a, err := Parse([]string{"--port", "4001"})
	require.NoError(t, err)
	b, err := Parse([]string{"--port", "4002"})
	require.NoError(t, err)
	require.NotEqual(t, a.NodeID, b.NodeID)
	require.Len(t, a.NodeID, 8)
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	_, err := Parse([]string{"--not-a-flag"})
	require.Error(t, err)
}
