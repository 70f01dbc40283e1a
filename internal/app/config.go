package app

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coreconfig "assignbot/core/config"
	coredatabase "assignbot/core/database"
	"assignbot/internal/erp"
	"assignbot/internal/service"
)

// DialogsConfig bounds the in-memory conversation state.
type DialogsConfig struct {
	WizardTTLMinutes     int `yaml:"wizard_ttl_minutes" envconfig:"WIZARD_TTL_MINUTES"`
	CredentialTTLMinutes int `yaml:"credential_ttl_minutes" envconfig:"CREDENTIAL_TTL_MINUTES"`
	CandidateLimit       int `yaml:"candidate_limit" envconfig:"CANDIDATE_LIMIT"`
}

// Config aggregates core settings with the assignment bot's own sections.
type Config struct {
	Core coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config   `yaml:"database"`
	ERP      erp.Config            `yaml:"erp"`
	Report   service.ReportConfig  `yaml:"report"`
	Customer service.CustomerConfig `yaml:"customer"`
	Dialogs  DialogsConfig         `yaml:"dialogs"`
}

// CoreConfig exposes the embedded core configuration for the shared runner.
func (c *Config) CoreConfig() *coreconfig.Config { return &c.Core }

// Load reads the YAML file, overlays environment variables and validates.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := coreconfig.Normalize(&cfg.Core); err != nil {
		return nil, err
	}
	if err := normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func normalize(cfg *Config) error {
	if cfg.ERP.BaseURL == "" {
		return fmt.Errorf("erp.base_url is required")
	}
	if cfg.Report.Resource == "" {
		cfg.Report.Resource = "Sales Order"
	}
	if len(cfg.Report.Fields) == 0 {
		cfg.Report.Fields = []string{"name", "customer", "grand_total", "status"}
	}
	if cfg.Customer.Group == "" {
		cfg.Customer.Group = "All Customer Groups"
	}
	if cfg.Customer.Type == "" {
		cfg.Customer.Type = "Company"
	}
	return nil
}
