package rksledger

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/rockrlite/rks-ledger/rksledger/config"
	"github.com/rockrlite/rks-ledger/rksledger/economy/balance"
	"github.com/rockrlite/rks-ledger/rksledger/economy/eligibility"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	cfg := DefaultConfig()
	if err = toml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns a config populated with the MVP defaults; LoadConfig
// overlays the TOML file on top of it.
func DefaultConfig() *Config {
	return &Config{
		RKS: RKSConfig{
			WeeklyUIMACredit: config.DefaultWeeklyCredit,
			TargetSeatPrice:  config.DefaultTargetSeatPrice,
			MinimumBid:       config.MinimumBid,
			RoleShares:       balance.DefaultRoleShares(),
		},
	}
}

type Config struct {
	Log LogConfig `toml:"log"`
	DB  DBConfig  `toml:"db"`
	RKS RKSConfig `toml:"rks"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

// RKSConfig carries the per-domain economy settings: the weekly UIMA
// allowance, bid bounds, role allocation shares and the eligibility
// allow-lists.
type RKSConfig struct {
	WeeklyUIMACredit int64              `toml:"weekly_uima_credit"`
	TargetSeatPrice  int64              `toml:"target_seat_price"`
	MinimumBid       int64              `toml:"minimum_bid"`
	RoleShares       balance.RoleShares `toml:"role_shares"`
	Eligibility      eligibility.Config `toml:"eligibility"`
}
