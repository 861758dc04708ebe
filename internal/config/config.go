package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"credchain/internal/address"
)

// Config models credchain.yml.
type Config struct {
	Platform Platform `yaml:"platform" json:"platform"`
	Programs struct {
		Escrow   string `yaml:"escrow" json:"escrow"`
		Badge    string `yaml:"badge" json:"badge"`
		JobBoard string `yaml:"job_board" json:"job_board"`
	} `yaml:"programs" json:"programs"`
	Authority struct {
		Admin string `yaml:"admin" json:"admin"`
	} `yaml:"authority" json:"authority"`
	Token struct {
		Default  string `yaml:"default" json:"default"`
		Decimals int32  `yaml:"decimals" json:"decimals"`
	} `yaml:"token" json:"token"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

// Platform holds the fixed parameters the engine reads but never mutates.
type Platform struct {
	MaxMilestones     int `yaml:"max_milestones" json:"max_milestones"`
	MaxRevisions      int `yaml:"max_revisions" json:"max_revisions"`
	PassingScore      int `yaml:"passing_score" json:"passing_score"`
	BadgeValidityDays int `yaml:"badge_validity_days" json:"badge_validity_days"`
	PlatformFeeBps    int `yaml:"platform_fee_bps" json:"platform_fee_bps"`
	DisputeStakeBps   int `yaml:"dispute_stake_bps" json:"dispute_stake_bps"`
	ArbitratorCount   int `yaml:"arbitrator_count" json:"arbitrator_count"`
	LeaderboardSize   int `yaml:"leaderboard_size" json:"leaderboard_size"`
	MaxRequiredBadges int `yaml:"max_required_badges" json:"max_required_badges"`
}

// BadgeValidity is the lifetime of a freshly minted badge.
func (p Platform) BadgeValidity() time.Duration {
	return time.Duration(p.BadgeValidityDays) * 24 * time.Hour
}

// Majority is the number of votes that settles a dispute.
func (p Platform) Majority() int {
	return p.ArbitratorCount/2 + 1
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"-"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	p := c.Platform
	switch {
	case p.MaxMilestones < 1:
		return fmt.Errorf("config.platform.max_milestones must be >= 1")
	case p.MaxRevisions < 0:
		return fmt.Errorf("config.platform.max_revisions must be >= 0")
	case p.PassingScore < 0 || p.PassingScore > 100:
		return fmt.Errorf("config.platform.passing_score must be within 0..100")
	case p.BadgeValidityDays < 1:
		return fmt.Errorf("config.platform.badge_validity_days must be >= 1")
	case p.PlatformFeeBps < 0 || p.PlatformFeeBps > 10000:
		return fmt.Errorf("config.platform.platform_fee_bps must be within 0..10000")
	case p.DisputeStakeBps < 0 || p.DisputeStakeBps > 10000:
		return fmt.Errorf("config.platform.dispute_stake_bps must be within 0..10000")
	case p.ArbitratorCount < 1:
		return fmt.Errorf("config.platform.arbitrator_count must be >= 1")
	case p.LeaderboardSize < 1:
		return fmt.Errorf("config.platform.leaderboard_size must be >= 1")
	case p.MaxRequiredBadges < 1:
		return fmt.Errorf("config.platform.max_required_badges must be >= 1")
	}
	if _, err := c.Deriver(); err != nil {
		return err
	}
	if _, err := address.Parse(c.Authority.Admin); err != nil {
		return fmt.Errorf("config.authority.admin: %w", err)
	}
	if _, err := address.Parse(c.Token.Default); err != nil {
		return fmt.Errorf("config.token.default: %w", err)
	}
	if c.Token.Decimals < 0 || c.Token.Decimals > 18 {
		return fmt.Errorf("config.token.decimals must be within 0..18")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Deriver builds the address deriver from the configured program IDs.
func (c *Config) Deriver() (address.Deriver, error) {
	escrow, err := address.Parse(c.Programs.Escrow)
	if err != nil {
		return address.Deriver{}, fmt.Errorf("config.programs.escrow: %w", err)
	}
	badge, err := address.Parse(c.Programs.Badge)
	if err != nil {
		return address.Deriver{}, fmt.Errorf("config.programs.badge: %w", err)
	}
	jobBoard, err := address.Parse(c.Programs.JobBoard)
	if err != nil {
		return address.Deriver{}, fmt.Errorf("config.programs.job_board: %w", err)
	}
	return address.Deriver{Programs: address.Programs{Escrow: escrow, Badge: badge, JobBoard: jobBoard}}, nil
}

// Admin returns the platform authority identity.
func (c *Config) Admin() address.Address {
	a, _ := address.Parse(c.Authority.Admin)
	return a
}

// DefaultToken returns the configured payment token mint.
func (c *Config) DefaultToken() address.Address {
	a, _ := address.Parse(c.Token.Default)
	return a
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "credchain.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with credchain config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the workspace config, or Default() when the file is absent.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in platform configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `platform:
  max_milestones: 5
  max_revisions: 3
  passing_score: 70
  badge_validity_days: 365
  platform_fee_bps: 250
  dispute_stake_bps: 500
  arbitrator_count: 3
  leaderboard_size: 100
  max_required_badges: 5

programs:
  escrow: J4cUiyURTW8woQCsc3YQwPPe2jMr8M27HFKWst468tUk
  badge: 79s9nmY3ZtsWeKakiBMyagHi6652AGSR413BXRZDZu7Z
  job_board: mUfeb5rs5gH8n92VCqbuVNWPaU333tM6BhKZvTFEfvd

authority:
  admin: FXtdnHTgD2sDEih5s7WgXGrsY9MeGh484h7tzfxqXu6h

# USDC (devnet) unless overridden.
token:
  default: 4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU
  decimals: 6

webhooks: []
`
