package config

import (
	"fmt"
	"math/big"
	"strings"

	"escrowd/native/common"
	"escrowd/native/escrow"
	"escrowd/storage"
)

// Validate rejects configurations the daemon cannot start with.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("storage.backend %q not supported", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend != storage.BackendMemory && strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path required for backend %s", cfg.Storage.Backend)
	}
	if strings.TrimSpace(cfg.Owner) != "" {
		if _, err := cfg.OwnerAddress(); err != nil {
			return err
		}
	}
	if err := cfg.EscrowParams().Validate(); err != nil {
		return err
	}
	if _, err := escrow.ParseSelector(cfg.Selector); err != nil {
		return fmt.Errorf("selector: %w", err)
	}
	if _, err := cfg.GenesisAllocations(); err != nil {
		return err
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth.hmacSecret required when auth is enabled")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rateLimit values must be non-negative")
	}
	if cfg.Observability.Tracing && strings.TrimSpace(cfg.Observability.OTLPEndpoint) == "" {
		return fmt.Errorf("observability.otlpEndpoint required when tracing is enabled")
	}
	if cfg.Observability.SampleRatio < 0 || cfg.Observability.SampleRatio > 1 {
		return fmt.Errorf("observability.sampleRatio must be within [0,1]")
	}
	return nil
}

// OwnerAddress parses the pool owner identity.
func (cfg Config) OwnerAddress() ([20]byte, error) {
	addr, err := escrow.ParseAddress(cfg.Owner)
	if err != nil {
		return [20]byte{}, fmt.Errorf("owner: %w", err)
	}
	return addr, nil
}

// EscrowParams converts the ladder windows to engine parameters.
func (cfg Config) EscrowParams() escrow.Params {
	return escrow.Params{
		DefaultDeadline:            int64(cfg.Params.DefaultDeadline.Seconds()),
		ReleaseGracePeriod:         int64(cfg.Params.ReleaseGracePeriod.Seconds()),
		AgreePeriod:                int64(cfg.Params.AgreePeriod.Seconds()),
		ResolvePeriod:              int64(cfg.Params.ResolvePeriod.Seconds()),
		DefaultFeePercentage:       cfg.Params.DefaultFeePercentage,
		UnresolvedRefundPercentage: cfg.Params.UnresolvedRefundPercentage,
	}
}

// GenesisAllocations parses the initial balances. Duplicate addresses are
// summed.
func (cfg Config) GenesisAllocations() (map[[20]byte]*big.Int, error) {
	out := make(map[[20]byte]*big.Int, len(cfg.Genesis))
	for i, alloc := range cfg.Genesis {
		addr, err := escrow.ParseAddress(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Balance), 10)
		if !ok || balance.Sign() < 0 {
			return nil, fmt.Errorf("genesis[%d]: invalid balance %q", i, alloc.Balance)
		}
		if existing, ok := out[addr]; ok {
			existing.Add(existing, balance)
			continue
		}
		out[addr] = balance
	}
	return out, nil
}

// EngineQuota converts the per-caller quota section.
func (cfg Config) EngineQuota() common.Quota {
	return common.Quota{
		MaxRequestsPerMin: cfg.Quota.MaxRequestsPerMin,
		MaxValuePerEpoch:  cfg.Quota.MaxValuePerEpoch,
		EpochSeconds:      cfg.Quota.EpochSeconds,
	}
}

// PauseView returns the static module pause table.
func (cfg Config) PauseView() common.PauseView {
	return common.StaticPauses(cfg.Pauses)
}
