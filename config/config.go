// Package config resolves a node's runtime configuration from flags,
// environment variables and an optional config file, in that order of
// precedence, using spf13/pflag + spf13/viper the way the corpus's
// node/cmd tooling does.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/votechain/votechain/p2p"
)

// NodeConfig controls a single votechain node process.
type NodeConfig struct {
	ListenPort   int
	DataDir      string
	RootPeer     string
	MiningAddr   string
	NodeID       string
	Difficulty   int64
	MiningReward int64
}

const envPrefix = "VOTECHAIN"

// Parse builds a NodeConfig from args (typically os.Args[1:]), a
// VOTECHAIN_*-prefixed environment, and the config file named by
// --config, if one is given. No config file is read otherwise.
func Parse(args []string) (NodeConfig, error) {
	fs := pflag.NewFlagSet("votechain-node", pflag.ContinueOnError)
	fs.Int("port", p2p.DefaultPort, "TCP port to listen on")
	fs.String("data-dir", "./data", "directory holding this node's ledger database")
	fs.String("root-peer", "", "host:port of a peer to dial at startup")
	fs.String("mining-addr", "", "address to pay mining rewards to; empty disables mining")
	fs.String("config", "", "optional path to a config.yaml overriding defaults")
	if err := fs.Parse(args); err != nil {
		return NodeConfig{}, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return NodeConfig{}, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return NodeConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := NodeConfig{
		ListenPort:   v.GetInt("port"),
		DataDir:      v.GetString("data-dir"),
		RootPeer:     v.GetString("root-peer"),
		MiningAddr:   v.GetString("mining-addr"),
		Difficulty:   6,
		MiningReward: 10,
	}
	cfg.NodeID = p2p.NodeID("localhost", fmt.Sprintf("%d", cfg.ListenPort))
	return cfg, nil
}
