// Package config loads checkout and sandbox settings from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/policy"
	"github.com/yourorg/checkout-orchestrator/internal/session"
)

// Config is the full configuration of the checkout CLI and sandbox server.
type Config struct {
	API     APIConfig     `yaml:"api" mapstructure:"api"`
	Host    HostConfig    `yaml:"host" mapstructure:"host"`
	Engine  EngineConfig  `yaml:"engine" mapstructure:"engine"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Policy  PolicyConfig  `yaml:"policy" mapstructure:"policy"`
	Sandbox SandboxConfig `yaml:"sandbox" mapstructure:"sandbox"`
}

// APIConfig locates the processing backend.
type APIConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// HostConfig mirrors what an embedding application would allow.
type HostConfig struct {
	AllowedMethods     []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	ApplePayMerchantID string   `yaml:"apple_pay_merchant_id" mapstructure:"apple_pay_merchant_id"`
}

// EngineConfig is the polling cadence of the progress engine.
type EngineConfig struct {
	FirstPollDelay time.Duration `yaml:"first_poll_delay" mapstructure:"first_poll_delay"`
	PollInterval   time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// PolicyConfig holds the govaluate expression deciding when a failed payment
// sends the user back to the input screen.
type PolicyConfig struct {
	BackNavigationRule string `yaml:"back_navigation_rule" mapstructure:"back_navigation_rule"`
}

// SandboxConfig configures the in-memory processing backend.
type SandboxConfig struct {
	ListenAddr string        `yaml:"listen_addr" mapstructure:"listen_addr"`
	Rules      []OutcomeRule `yaml:"rules" mapstructure:"rules"`
	Chaos      ChaosConfig   `yaml:"chaos" mapstructure:"chaos"`
}

// OutcomeRule decides how the sandbox settles a payment. Expression is
// evaluated over cardNumber and amount; the first match wins.
type OutcomeRule struct {
	ID         string `yaml:"id" mapstructure:"id"`
	Expression string `yaml:"expression" mapstructure:"expression"`
	// Outcome is "success", "3ds", or a server error code such as
	// "insufficientFunds".
	Outcome string `yaml:"outcome" mapstructure:"outcome"`
}

// ChaosConfig injects 503 responses into the sandbox.
type ChaosConfig struct {
	Enabled          bool    `yaml:"enabled" mapstructure:"enabled"`
	FaultProbability float64 `yaml:"fault_probability" mapstructure:"fault_probability"`
}

// Method names used in configuration files.
const (
	MethodBankCard = "bank_card"
	MethodApplePay = "apple_pay"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Host: HostConfig{
			AllowedMethods: []string{MethodBankCard},
		},
		Engine: EngineConfig{
			FirstPollDelay: time.Second,
			PollInterval:   2 * time.Second,
		},
		Retry: RetryConfig{MaxAttempts: 5},
		Policy: PolicyConfig{
			BackNavigationRule: policy.DefaultBackNavigationRule,
		},
		Sandbox: SandboxConfig{
			ListenAddr: ":8080",
			Rules: []OutcomeRule{
				{ID: "insufficient-funds", Expression: "cardNumber == '4000000000009995'", Outcome: "insufficientFunds"},
				{ID: "rejected-by-issuer", Expression: "cardNumber == '4000000000000002'", Outcome: "rejectedByIssuer"},
				{ID: "three-ds", Expression: "cardNumber == '4000000000003220'", Outcome: "3ds"},
				{ID: "large-amount", Expression: "amount > 100000000", Outcome: "accountLimitExceeded"},
			},
			Chaos: ChaosConfig{FaultProbability: 0.1},
		},
	}
}

// EnvPrefix prefixes environment overrides: api.base_url is read from
// CHECKOUT_API_BASE_URL.
const EnvPrefix = "CHECKOUT"

// envKeys are the settings that can be overridden from the environment.
var envKeys = []string{
	"api.base_url",
	"api.timeout",
	"host.allowed_methods",
	"host.apple_pay_merchant_id",
	"engine.first_poll_delay",
	"engine.poll_interval",
	"retry.max_attempts",
	"policy.back_navigation_rule",
	"sandbox.listen_addr",
	"sandbox.chaos.enabled",
	"sandbox.chaos.fault_probability",
}

// Load reads path over the defaults, then applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	source := "environment"
	if path != "" {
		source = path
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", source, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", source, err)
	}
	return cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout)
	}
	if c.Engine.FirstPollDelay <= 0 {
		return fmt.Errorf("engine.first_poll_delay must be positive, got %s", c.Engine.FirstPollDelay)
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive, got %s", c.Engine.PollInterval)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if _, err := c.Host.Session(); err != nil {
		return err
	}
	if c.Policy.BackNavigationRule != "" {
		if _, err := govaluate.NewEvaluableExpression(c.Policy.BackNavigationRule); err != nil {
			return fmt.Errorf("policy.back_navigation_rule: %w", err)
		}
	}
	for _, r := range c.Sandbox.Rules {
		if r.ID == "" || r.Outcome == "" {
			return fmt.Errorf("sandbox rule %q needs an id and an outcome", r.Expression)
		}
		if _, err := govaluate.NewEvaluableExpression(r.Expression); err != nil {
			return fmt.Errorf("sandbox rule %s: %w", r.ID, err)
		}
	}
	if p := c.Sandbox.Chaos.FaultProbability; p < 0 || p > 1 {
		return fmt.Errorf("sandbox.chaos.fault_probability must be within [0, 1], got %v", p)
	}
	return nil
}

// Session converts the host section into a session.HostConfig.
func (h HostConfig) Session() (session.HostConfig, error) {
	if len(h.AllowedMethods) == 0 {
		return session.HostConfig{}, fmt.Errorf("host.allowed_methods cannot be empty")
	}
	out := session.HostConfig{ApplePayMerchantID: h.ApplePayMerchantID}
	for _, m := range h.AllowedMethods {
		switch m {
		case MethodBankCard:
			out.AllowedMethods = append(out.AllowedMethods, checkout.MethodBankCard)
		case MethodApplePay:
			out.AllowedMethods = append(out.AllowedMethods, checkout.MethodApplePay)
		default:
			return session.HostConfig{}, fmt.Errorf("host.allowed_methods: unknown method %q", m)
		}
	}
	return out, nil
}

// PolicyRules returns the routing rules the policy section configures.
func (c *Config) PolicyRules() []policy.Rule {
	if c.Policy.BackNavigationRule == "" {
		return policy.DefaultRules()
	}
	return []policy.Rule{{ID: "back-navigation", Expression: c.Policy.BackNavigationRule}}
}

// Write stores cfg as YAML at path, creating parent directories.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
