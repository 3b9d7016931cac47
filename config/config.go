// Package config loads the consensus core's TOML configuration and
// translates it into the sub-configs each component owns
// (consensus/engine.Config, consensus/validator.Params,
// consensus/penalty.Config, consensus/xdomain.Config,
// consensus/transport.Config), matching the teacher's auto-generate a
// default file on first run, then decode pattern.
package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/synclabs/consensuscore/consensus/engine"
	"github.com/synclabs/consensuscore/consensus/penalty"
	"github.com/synclabs/consensuscore/consensus/transport"
	"github.com/synclabs/consensuscore/consensus/validator"
	"github.com/synclabs/consensuscore/consensus/xdomain"
	"github.com/synclabs/consensuscore/crypto"
)

// Config is the on-disk TOML shape. §6's configuration parameters are
// flattened into one table rather than the teacher's nested
// Governance/Slashing/Mempool/Blocks split, since the token-economics
// concerns those nested tables guarded belong to the dropped `native/*`
// packages; this module's configuration surface is entirely the consensus
// core's own parameters.
type Config struct {
	ListenAddress  string   `toml:"ListenAddress"`
	DataDir        string   `toml:"DataDir"`
	ValidatorID    string   `toml:"ValidatorID"`
	ValidatorKey   string   `toml:"ValidatorKey"`
	BootstrapPeers []string `toml:"BootstrapPeers"`

	QuorumRatioThousandths uint64 `toml:"QuorumRatioThousandths"`
	MaxViewChanges         uint64 `toml:"MaxViewChanges"`
	LivenessTimeoutMs      int64  `toml:"LivenessTimeoutMs"`

	MinSelfBond         string `toml:"MinSelfBond"`
	MinDelegation       string `toml:"MinDelegation"`
	MaxValidators       int    `toml:"MaxValidators"`
	UnbondingPeriodSecs int64  `toml:"UnbondingPeriodSecs"`

	DoubleSignPenaltyBp   uint64 `toml:"DoubleSignPenaltyBp"`
	EquivocationPenaltyBp uint64 `toml:"EquivocationPenaltyBp"`
	LivenessPenaltyBp     uint64 `toml:"LivenessPenaltyBp"`
	JailDurationSecs      int64  `toml:"JailDurationSecs"`

	CoordinationTimeoutMs int64 `toml:"CoordinationTimeoutMs"`
	SettlementTimeoutMs   int64 `toml:"SettlementTimeoutMs"`
	RollbackTimeoutMs     int64 `toml:"RollbackTimeoutMs"`
	XDomainBatchSize      int   `toml:"XDomainBatchSize"`
	XDomainMaxRetries     int   `toml:"XDomainMaxRetries"`
}

// Load reads the configuration at path, writing and returning a default file
// if none exists yet, matching the teacher's Load/createDefault shape. A
// missing ValidatorKey is minted and persisted back, the same
// generate-on-first-run behavior the teacher applies to its secp256k1 key.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if cfg.ValidatorKey == "" {
		key, err := crypto.GenerateEd25519PrivateKey()
		if err != nil {
			return nil, fmt.Errorf("config: generate validator key: %w", err)
		}
		cfg.ValidatorKey = hex.EncodeToString(key.Seed())
		cfg.ValidatorID = hex.EncodeToString(key.PubKey().Bytes())
		if err := writeConfig(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	key, err := crypto.GenerateEd25519PrivateKey()
	if err != nil {
		return nil, fmt.Errorf("config: generate validator key: %w", err)
	}

	cfg := &Config{
		ListenAddress:  ":26656",
		DataDir:        "./consensuscore-data",
		ValidatorID:    hex.EncodeToString(key.PubKey().Bytes()),
		ValidatorKey:   hex.EncodeToString(key.Seed()),
		BootstrapPeers: []string{},

		QuorumRatioThousandths: 667,
		MaxViewChanges:         10,
		LivenessTimeoutMs:      10000,

		MinSelfBond:         "1",
		MinDelegation:       "1",
		MaxValidators:       100,
		UnbondingPeriodSecs: 21 * 24 * 3600,

		DoubleSignPenaltyBp:   1000,
		EquivocationPenaltyBp: 500,
		LivenessPenaltyBp:     100,
		JailDurationSecs:      7 * 24 * 3600,

		CoordinationTimeoutMs: 10000,
		SettlementTimeoutMs:   30000,
		RollbackTimeoutMs:     30000,
		XDomainBatchSize:      16,
		XDomainMaxRetries:     3,
	}

	if err := writeConfig(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeConfig(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}

// ValidatorSigningKey decodes the hex-encoded seed into an ed25519 signing
// key, the form consensus/transport.Signer and the engine's leader-signing
// path need.
func (c *Config) ValidatorSigningKey() (*crypto.Ed25519PrivateKey, error) {
	seed, err := hex.DecodeString(c.ValidatorKey)
	if err != nil {
		return nil, fmt.Errorf("config: decode ValidatorKey: %w", err)
	}
	return crypto.Ed25519PrivateKeyFromSeed(seed)
}

func parseBig(s string, fallback int64) (*big.Int, error) {
	if s == "" {
		return big.NewInt(fallback), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("config: %q is not a valid decimal integer", s)
	}
	return v, nil
}

// EngineConfig derives consensus/engine.Config from the loaded parameters,
// keeping the caller-chosen Protocol (this config surface only names the
// protocol-agnostic timing/quorum parameters the spec documents).
func (c *Config) EngineConfig(protocol engine.Protocol) engine.Config {
	def := engine.DefaultConfig()
	def.Protocol = protocol
	def.QuorumRatioThousand = c.QuorumRatioThousandths
	def.MaxViewChanges = c.MaxViewChanges
	def.LivenessTimeout = time.Duration(c.LivenessTimeoutMs) * time.Millisecond
	return def
}

// ValidatorParams derives consensus/validator.Params from the loaded
// parameters.
func (c *Config) ValidatorParams() (validator.Params, error) {
	minSelfBond, err := parseBig(c.MinSelfBond, 1)
	if err != nil {
		return validator.Params{}, err
	}
	minDelegation, err := parseBig(c.MinDelegation, 1)
	if err != nil {
		return validator.Params{}, err
	}
	return validator.Params{
		MinSelfBond:         minSelfBond,
		MinDelegation:       minDelegation,
		MaxValidators:       c.MaxValidators,
		UnbondingPeriodSecs: c.UnbondingPeriodSecs,
		QuorumRatioThousand: c.QuorumRatioThousandths,
		JailDurationSecs:    c.JailDurationSecs,
	}, nil
}

// PenaltyConfig derives consensus/penalty.Config from the loaded parameters.
func (c *Config) PenaltyConfig() penalty.Config {
	def := penalty.DefaultConfig()
	def.DoubleSignPenaltyBp = c.DoubleSignPenaltyBp
	def.EquivocationPenaltyBp = c.EquivocationPenaltyBp
	def.LivenessPenaltyBp = c.LivenessPenaltyBp
	def.JailDurationSecs = c.JailDurationSecs
	return def
}

// XDomainConfig derives consensus/xdomain.Config from the loaded parameters.
func (c *Config) XDomainConfig() xdomain.Config {
	return xdomain.Config{
		CoordinationTimeout: time.Duration(c.CoordinationTimeoutMs) * time.Millisecond,
		SettlementTimeout:   time.Duration(c.SettlementTimeoutMs) * time.Millisecond,
		RollbackTimeout:     time.Duration(c.RollbackTimeoutMs) * time.Millisecond,
		BatchSize:           c.XDomainBatchSize,
		MaxRetries:          c.XDomainMaxRetries,
	}
}

// TransportConfig derives consensus/transport.Config from the loaded
// parameters.
func (c *Config) TransportConfig() transport.Config {
	def := transport.DefaultConfig()
	def.ListenAddr = c.ListenAddress
	return def
}
