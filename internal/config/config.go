package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pkghub/hubcap/internal/domain"
)

// User is the identity hubcap commits and opens pull requests as
type User struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
	Token string `json:"token"`
}

// Config holds all application configuration
type Config struct {
	// Hub repository settings, from the CONFIG JSON object
	Org              string `validate:"required,github_name"`
	Repo             string `validate:"required,github_name"`
	PushBranches     bool
	OneBranchPerRepo bool
	User             User

	// Workspace settings
	Workdir            string `validate:"required"`
	HubJSONPath        string `validate:"required"`
	ExclusionsJSONPath string

	// Clone settings
	CloneTimeout     time.Duration `validate:"gt=0"`
	CloneConcurrency int           `validate:"min=1"`
	HTTPTimeout      time.Duration `validate:"gt=0"`

	// Compatibility check
	CompatCheck   bool
	CompatTimeout time.Duration `validate:"gt=0"`
	CompatBinary  string        `validate:"required"`

	// GitHub App authentication, used instead of the user token when set
	GitHubAppID          int64
	GitHubAppPrivateKey  []byte
	GitHubInstallationID int64

	// Serve mode
	WebhookSecret string
	PollInterval  time.Duration `validate:"gt=0"`
	CacheSize     int           `validate:"min=1"`
	Port          int           `validate:"min=1,max=65535"`

	// Observability
	OTLPEndpoint   string
	PushgatewayURL string `validate:"omitempty,url"`
}

// HasApp reports whether GitHub App credentials are configured
func (c *Config) HasApp() bool {
	return c.GitHubAppID != 0 && c.GitHubInstallationID != 0 && len(c.GitHubAppPrivateKey) > 0
}

// document is the CONFIG JSON object. Pointers tell absent keys from false.
type document struct {
	Org              string `json:"org"`
	Repo             string `json:"repo"`
	PushBranches     *bool  `json:"push_branches"`
	OneBranchPerRepo *bool  `json:"one_branch_per_repo"`
	User             *User  `json:"user"`
}

// Load reads the CONFIG JSON object and the environment
func Load() (*Config, error) {
	return load(false)
}

// LoadReadOnly is Load for runs that never push. push_branches is turned
// off before validation, so no credentials are needed.
func LoadReadOnly() (*Config, error) {
	return load(true)
}

func load(readOnly bool) (*Config, error) {
	cfg := &Config{
		// Defaults
		Org:                "dbt-labs",
		Repo:               "hub.getdbt.com",
		PushBranches:       true,
		OneBranchPerRepo:   true,
		User:               User{Name: "dbt-hubcap"},
		Workdir:            "target",
		HubJSONPath:        "hub.json",
		ExclusionsJSONPath: "exclusions.json",
		CloneTimeout:       2 * time.Minute,
		CloneConcurrency:   4,
		HTTPTimeout:        30 * time.Second,
		CompatTimeout:      60 * time.Second,
		CompatBinary:       "dbtf",
		PollInterval:       time.Hour,
		CacheSize:          1000,
		Port:               8080,
	}

	if err := cfg.applyDocument(os.Getenv("CONFIG")); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if readOnly {
		cfg.PushBranches = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDocument(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return configErr("CONFIG is required")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return configErr("CONFIG must be a JSON object: %v", err)
	}

	var doc document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return configErr("invalid CONFIG: %v", err)
	}

	if doc.Org != "" {
		c.Org = doc.Org
	}
	if doc.Repo != "" {
		c.Repo = doc.Repo
	}
	if doc.PushBranches != nil {
		c.PushBranches = *doc.PushBranches
	}
	if doc.OneBranchPerRepo != nil {
		c.OneBranchPerRepo = *doc.OneBranchPerRepo
	}
	if doc.User != nil {
		if doc.User.Name != "" {
			c.User.Name = doc.User.Name
		}
		c.User.Email = doc.User.Email
		c.User.Token = doc.User.Token
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("HUBCAP_WORKDIR"); v != "" {
		c.Workdir = v
	}
	if v := os.Getenv("HUB_JSON_PATH"); v != "" {
		c.HubJSONPath = v
	}
	if v := os.Getenv("EXCLUSIONS_JSON_PATH"); v != "" {
		c.ExclusionsJSONPath = v
	}

	var err error
	if c.CloneTimeout, err = envDuration("CLONE_TIMEOUT", c.CloneTimeout); err != nil {
		return err
	}
	if c.CloneConcurrency, err = envInt("CLONE_CONCURRENCY", c.CloneConcurrency); err != nil {
		return err
	}
	if c.HTTPTimeout, err = envDuration("HTTP_TIMEOUT", c.HTTPTimeout); err != nil {
		return err
	}

	if v := os.Getenv("COMPAT_CHECK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return configErr("invalid COMPAT_CHECK: %v", err)
		}
		c.CompatCheck = b
	}
	if c.CompatTimeout, err = envDuration("COMPAT_TIMEOUT", c.CompatTimeout); err != nil {
		return err
	}
	if v := os.Getenv("COMPAT_BINARY"); v != "" {
		c.CompatBinary = v
	}

	// Optional: GitHub App credentials
	if v := os.Getenv("GITHUB_APP_ID"); v != "" {
		appID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return configErr("invalid GITHUB_APP_ID: %v", err)
		}
		c.GitHubAppID = appID

		// Private key can be provided as file path or direct value
		if path := os.Getenv("GITHUB_APP_PRIVATE_KEY_PATH"); path != "" {
			key, err := os.ReadFile(path)
			if err != nil {
				return configErr("failed to read private key file: %v", err)
			}
			c.GitHubAppPrivateKey = key
		} else if key := os.Getenv("GITHUB_APP_PRIVATE_KEY"); key != "" {
			c.GitHubAppPrivateKey = []byte(key)
		} else {
			return configErr("GITHUB_APP_PRIVATE_KEY or GITHUB_APP_PRIVATE_KEY_PATH is required with GITHUB_APP_ID")
		}

		installID, err := strconv.ParseInt(os.Getenv("GITHUB_INSTALLATION_ID"), 10, 64)
		if err != nil {
			return configErr("invalid GITHUB_INSTALLATION_ID: %v", err)
		}
		c.GitHubInstallationID = installID
	}

	c.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	if c.PollInterval, err = envDuration("POLL_INTERVAL", c.PollInterval); err != nil {
		return err
	}
	if c.CacheSize, err = envInt("CACHE_SIZE", c.CacheSize); err != nil {
		return err
	}
	if c.Port, err = envInt("PORT", c.Port); err != nil {
		return err
	}

	c.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")
	c.PushgatewayURL = os.Getenv("METRICS_PUSHGATEWAY_URL")
	return nil
}

// Validate checks field constraints. Pushing needs either a user token or
// a GitHub App.
func (c *Config) Validate() error {
	v := domain.NewValidator()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		cfg := sl.Current().Interface().(Config)
		if cfg.PushBranches && cfg.User.Token == "" && !cfg.HasApp() {
			sl.ReportError(cfg.User.Token, "User.Token", "Token", "required_for_push", "")
		}
	}, Config{})

	if err := v.Struct(c); err != nil {
		return configErr("invalid configuration: %v", err)
	}
	return nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, configErr("invalid %s: %v", key, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, configErr("invalid %s: %v", key, err)
	}
	return n, nil
}

func configErr(format string, args ...any) error {
	return domain.Errorf(domain.KindConfiguration, "load config", format, args...)
}
