package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-rs/x402-ask/pkg/types"
)

// clearEnv blanks every key LoadConfig reads so the host environment does
// not leak into a test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HOST", "PORT", "NETWORK", "PAYMENT_AMOUNT", "AI_PAYMENT_AMOUNT", "FACILITATOR_URL",
		"BACKEND_URL", "PAY_TO", "BOT_PRIVATE_KEY", "TELEGRAM_TOKEN", "MONGO_URI",
		"MONGO_DATABASE", "REDIS_URL", "RPC_URL", "TOKEN_ADDRESS", "CHALLENGE_TTL",
		"VERIFY_TIMEOUT", "CLIENT_TIMEOUT", "LOG_FORMAT", "LOG_LEVEL",
		"RATE_LIMIT_RPM", "RATE_LIMIT_BURST", "CONFIG_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3000", cfg.Addr())
	assert.Equal(t, types.NetworkTestnet, cfg.Network)
	assert.Equal(t, "0.03", cfg.PaymentAmount)
	assert.Equal(t, uint64(30000), cfg.Amount)
	assert.Equal(t, "http://localhost:3000", cfg.BackendURL)
	assert.Empty(t, cfg.FacilitatorURL)
	assert.Equal(t, "x402_ai", cfg.MongoDatabase)
	assert.Equal(t, 5*time.Minute, cfg.ChallengeTTL)
	assert.Equal(t, 10*time.Second, cfg.VerifyTimeout)
	assert.Equal(t, 100, cfg.RateLimitRPM)
}

func TestLoadConfig_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("NETWORK", "solana-devnet")
	t.Setenv("PAYMENT_AMOUNT", "0.5")
	t.Setenv("VERIFY_TIMEOUT", "3s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, types.NetworkSolanaDevnet, cfg.Network)
	assert.Equal(t, uint64(500000000), cfg.Amount)
	assert.Equal(t, "http://localhost:9090", cfg.BackendURL)
	assert.Equal(t, 3*time.Second, cfg.VerifyTimeout)
}

func TestLoadConfig_LegacyAmountKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_PAYMENT_AMOUNT", "0.01")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, uint64(10000), cfg.Amount)
}

func TestLoadConfig_FileOverlay(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "4000"
network: mainnet
payment_amount: "1.5"
pay_to: "0xfile"
redis_url: "redis://cache:6379/0"
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PAY_TO", "0xenv")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.Port)
	assert.Equal(t, types.NetworkMainnet, cfg.Network)
	assert.Equal(t, uint64(1500000), cfg.Amount)
	assert.Equal(t, "0xenv", cfg.PayTo, "environment wins over file")
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"NETWORK", "stacks-regtest"},
		{"PAYMENT_AMOUNT", "lots"},
		{"CHALLENGE_TTL", "soon"},
		{"RATE_LIMIT_RPM", "-1"},
		{"CONFIG_FILE", "/does/not/exist.yaml"},
	}

	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := LoadConfig()
			assert.ErrorIs(t, err, types.ErrConfig)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{Amount: 30000}
	assert.ErrorIs(t, cfg.ValidateBackend(), types.ErrConfig)
	cfg.PayTo = "0xpayee"
	assert.NoError(t, cfg.ValidateBackend())

	assert.ErrorIs(t, cfg.ValidateBot(), types.ErrConfig)
	cfg.TelegramToken = "123:abc"
	cfg.BackendURL = "http://localhost:3000"
	assert.NoError(t, cfg.ValidateBot())

	cfg.TokenAddress = "0xtoken"
	assert.ErrorIs(t, cfg.ValidateFacilitator(), types.ErrConfig)
	cfg.RPCURL = "http://rpc"
	assert.NoError(t, cfg.ValidateFacilitator())
}
