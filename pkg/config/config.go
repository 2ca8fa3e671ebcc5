package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/types"
)

// Config holds the configuration shared by the backend, bot and facilitator
type Config struct {
	Host string
	Port string

	Network        types.Network
	PaymentAmount  string // decimal, whole tokens
	Amount         uint64 // PaymentAmount in smallest units
	FacilitatorURL string // empty = verify in-process
	BackendURL     string
	PayTo          string

	BotPrivateKey string
	TelegramToken string

	MongoURI      string
	MongoDatabase string
	RedisURL      string // empty = in-memory replay cache

	RPCURL       string
	TokenAddress string

	ChallengeTTL  time.Duration
	VerifyTimeout time.Duration
	ClientTimeout time.Duration

	LogFormat string
	LogLevel  string

	RateLimitRPM   int
	RateLimitBurst int
}

// fileConfig mirrors Config in the optional YAML file named by CONFIG_FILE
type fileConfig struct {
	Host           string `yaml:"host"`
	Port           string `yaml:"port"`
	Network        string `yaml:"network"`
	PaymentAmount  string `yaml:"payment_amount"`
	FacilitatorURL string `yaml:"facilitator_url"`
	BackendURL     string `yaml:"backend_url"`
	PayTo          string `yaml:"pay_to"`
	BotPrivateKey  string `yaml:"bot_private_key"`
	TelegramToken  string `yaml:"telegram_token"`
	MongoURI       string `yaml:"mongo_uri"`
	MongoDatabase  string `yaml:"mongo_database"`
	RedisURL       string `yaml:"redis_url"`
	RPCURL         string `yaml:"rpc_url"`
	TokenAddress   string `yaml:"token_address"`
	ChallengeTTL   string `yaml:"challenge_ttl"`
	VerifyTimeout  string `yaml:"verify_timeout"`
	ClientTimeout  string `yaml:"client_timeout"`
	LogFormat      string `yaml:"log_format"`
	LogLevel       string `yaml:"log_level"`
	RateLimitRPM   string `yaml:"rate_limit_rpm"`
	RateLimitBurst string `yaml:"rate_limit_burst"`
}

// LoadConfig loads configuration from the environment. A .env file is read
// first if present, then the YAML file named by CONFIG_FILE; environment
// variables win over file values.
func LoadConfig() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	var file fileConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", types.ErrConfig, path, err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", types.ErrConfig, path, err)
		}
	}

	cfg := &Config{
		Host:           get("HOST", file.Host, "0.0.0.0"),
		Port:           get("PORT", file.Port, "3000"),
		Network:        types.Network(get("NETWORK", file.Network, string(types.NetworkTestnet))),
		PaymentAmount:  get("PAYMENT_AMOUNT", file.PaymentAmount, get("AI_PAYMENT_AMOUNT", "", "0.03")),
		FacilitatorURL: get("FACILITATOR_URL", file.FacilitatorURL, ""),
		PayTo:          get("PAY_TO", file.PayTo, ""),
		BotPrivateKey:  get("BOT_PRIVATE_KEY", file.BotPrivateKey, ""),
		TelegramToken:  get("TELEGRAM_TOKEN", file.TelegramToken, ""),
		MongoURI:       get("MONGO_URI", file.MongoURI, ""),
		MongoDatabase:  get("MONGO_DATABASE", file.MongoDatabase, "x402_ai"),
		RedisURL:       get("REDIS_URL", file.RedisURL, ""),
		RPCURL:         get("RPC_URL", file.RPCURL, ""),
		TokenAddress:   get("TOKEN_ADDRESS", file.TokenAddress, ""),
		LogFormat:      get("LOG_FORMAT", file.LogFormat, "text"),
		LogLevel:       get("LOG_LEVEL", file.LogLevel, "info"),
	}
	cfg.BackendURL = get("BACKEND_URL", file.BackendURL, "http://localhost:"+cfg.Port)

	var err error
	if cfg.ChallengeTTL, err = getDuration("CHALLENGE_TTL", file.ChallengeTTL, 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.VerifyTimeout, err = getDuration("VERIFY_TIMEOUT", file.VerifyTimeout, 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ClientTimeout, err = getDuration("CLIENT_TIMEOUT", file.ClientTimeout, 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPM, err = getInt("RATE_LIMIT_RPM", file.RateLimitRPM, 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getInt("RATE_LIMIT_BURST", file.RateLimitBurst, 20); err != nil {
		return nil, err
	}

	info, err := network.GetNetworkInfo(cfg.Network)
	if err != nil {
		return nil, err
	}
	if cfg.Amount, err = network.ParseAmount(cfg.PaymentAmount, info.Decimals); err != nil {
		return nil, fmt.Errorf("%w: PAYMENT_AMOUNT: %v", types.ErrConfig, err)
	}

	return cfg, nil
}

// Addr is the listen address
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// ValidateBackend checks what the paid backend needs to start
func (c *Config) ValidateBackend() error {
	if c.Amount == 0 {
		return fmt.Errorf("%w: PAYMENT_AMOUNT must be positive", types.ErrConfig)
	}
	if c.PayTo == "" && c.BotPrivateKey == "" {
		return fmt.Errorf("%w: PAY_TO or BOT_PRIVATE_KEY is required", types.ErrConfig)
	}
	return nil
}

// ValidateBot checks what the messaging bot needs to start
func (c *Config) ValidateBot() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("%w: TELEGRAM_TOKEN is required", types.ErrConfig)
	}
	if c.BackendURL == "" {
		return fmt.Errorf("%w: BACKEND_URL is required", types.ErrConfig)
	}
	return nil
}

// ValidateFacilitator checks what the standalone facilitator needs to start
func (c *Config) ValidateFacilitator() error {
	if c.TokenAddress != "" && c.RPCURL == "" {
		return fmt.Errorf("%w: TOKEN_ADDRESS requires RPC_URL", types.ErrConfig)
	}
	return nil
}

// get returns the environment value, then the file value, then def
func get(key, fileValue, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if fileValue != "" {
		return fileValue
	}
	return def
}

func getDuration(key, fileValue string, def time.Duration) (time.Duration, error) {
	raw := get(key, fileValue, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive duration, got %q", types.ErrConfig, key, raw)
	}
	return d, nil
}

func getInt(key, fileValue string, def int) (int, error) {
	raw := get(key, fileValue, "")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", types.ErrConfig, key, raw)
	}
	return n, nil
}
