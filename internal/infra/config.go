package infra

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"limit_go/internal/domain"
	"limit_go/internal/engine"
	"limit_go/pkg/quant"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 계정과 경로를 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name" validate:"required"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Engine struct {
		Authority      string `yaml:"authority" validate:"required"`
		Custody        string `yaml:"custody" validate:"required,nefield=Authority"`
		ScanPolicy     string `yaml:"scan_policy" validate:"omitempty,oneof=continue stop"`
		PriceTolerance string `yaml:"price_tolerance" validate:"omitempty,oneof=none bounded"`
		MaxTicks       int64  `yaml:"max_ticks" validate:"gte=0"`
	} `yaml:"engine"`

	Storage struct {
		Path          string `yaml:"path" validate:"required"`
		SnapshotEvery uint64 `yaml:"snapshot_every"`
	} `yaml:"storage"`

	Feed struct {
		URL   string       `yaml:"url"`
		Pools []PoolConfig `yaml:"pools" validate:"dive"`
	} `yaml:"feed"`

	Sequencer struct {
		InboxSize  int `yaml:"inbox_size" validate:"gte=0"`
		MaxResumes int `yaml:"max_resumes" validate:"gte=0"`
	} `yaml:"sequencer"`

	// Paper mirrors the host pools in-process.
	Paper struct {
		Depth    int64                       `yaml:"depth" validate:"gte=0"`
		Balances map[string]map[string]int64 `yaml:"balances"`
	} `yaml:"paper"`

	Logging struct {
		Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// PoolConfig is a pool the feed subscribes to.
type PoolConfig struct {
	AssetA      string `yaml:"asset_a" validate:"required"`
	AssetB      string `yaml:"asset_b" validate:"required"`
	BucketWidth int64  `yaml:"bucket_width" validate:"gt=0"`
}

// Key converts the entry into a domain pool key.
func (p PoolConfig) Key() domain.PoolKey {
	return domain.PoolKey{
		AssetA:      domain.Asset(p.AssetA),
		AssetB:      domain.Asset(p.AssetB),
		BucketWidth: quant.Tick(p.BucketWidth),
	}
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML bytes, applies env overrides and validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.ScanPolicy == "" {
		c.Engine.ScanPolicy = "continue"
	}
	if c.Engine.PriceTolerance == "" {
		c.Engine.PriceTolerance = "none"
	}
	if c.Sequencer.InboxSize == 0 {
		c.Sequencer.InboxSize = 1024
	}
	if c.Sequencer.MaxResumes == 0 {
		c.Sequencer.MaxResumes = 16
	}
	if c.Paper.Depth == 0 {
		c.Paper.Depth = 1_000_000
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Engine.PriceTolerance == "bounded" && c.Engine.MaxTicks <= 0 {
		return fmt.Errorf("bounded price tolerance requires max_ticks > 0")
	}
	if c.Feed.URL != "" && !strings.HasPrefix(c.Feed.URL, "ws://") && !strings.HasPrefix(c.Feed.URL, "wss://") {
		return fmt.Errorf("invalid feed WS URL: %s", c.Feed.URL)
	}
	for account, assets := range c.Paper.Balances {
		for asset, amount := range assets {
			if amount < 0 {
				return fmt.Errorf("negative paper balance %s/%s: %d", account, asset, amount)
			}
		}
	}
	for _, p := range c.Feed.Pools {
		if err := p.Key().Validate(); err != nil {
			return fmt.Errorf("feed pool %s/%s: %w", p.AssetA, p.AssetB, err)
		}
	}
	return nil
}

// EngineConfig converts the engine section into engine parameters.
func (c *Config) EngineConfig() (engine.Config, error) {
	policy, err := engine.ParseScanPolicy(c.Engine.ScanPolicy)
	if err != nil {
		return engine.Config{}, err
	}

	tol := domain.AnyPrice
	if c.Engine.PriceTolerance == "bounded" {
		tol = domain.PriceTolerance{Bounded: true, MaxTicks: c.Engine.MaxTicks}
	}

	return engine.Config{
		Authority: domain.Account(c.Engine.Authority),
		Custody:   domain.Account(c.Engine.Custody),
		Policy:    policy,
		Tolerance: tol,
	}, nil
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("LIMIT_ENGINE_AUTHORITY"); v != "" {
		cfg.Engine.Authority = v
	}
	if v := os.Getenv("LIMIT_CUSTODY_ACCOUNT"); v != "" {
		cfg.Engine.Custody = v
	}
	if v := os.Getenv("LIMIT_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("LIMIT_FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
}
