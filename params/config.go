package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Ledger struct {
	// DBPath is the pebble directory. Empty keeps the ledger on an in-memory
	// filesystem (devnet / demo).
	DBPath string
	// Latency simulates the round-trip to the node that includes a submitted
	// transaction. Zero applies transactions immediately.
	Latency time.Duration
	// ProxyAddress is the deposit proxy allowed to originate lock outputs.
	ProxyAddress string
}

type Orders struct {
	// SubmitTimeout bounds a single create/cancel/fulfill submission. When it
	// expires the spend's fate is unknown and callers see ErrSubmissionTimedOut.
	SubmitTimeout time.Duration
	PriceDecimals uint8
	MaxDecimals   uint8
}

type Node struct {
	LogFile string
	APIAddr string
}

type Config struct {
	Ledger Ledger
	Orders Orders
	Node   Node
}

func Default() Config {
	return Config{
		Ledger: Ledger{
			DBPath:       "",
			Latency:      0,
			ProxyAddress: "0x0000000000000000000000000000000000000100",
		},
		Orders: Orders{
			SubmitTimeout: 10 * time.Second,
			PriceDecimals: 9,
			MaxDecimals:   18,
		},
		Node: Node{
			LogFile: "data/node.log",
			APIAddr: ":8080",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Optional .env; a missing file is not an error
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Ledger.DBPath = getEnv("LEDGER_DB_PATH", cfg.Ledger.DBPath)
	cfg.Ledger.ProxyAddress = getEnv("PROXY_ADDRESS", cfg.Ledger.ProxyAddress)
	if ms, ok := getEnvInt("LEDGER_LATENCY_MS"); ok {
		cfg.Ledger.Latency = time.Duration(ms) * time.Millisecond
	}

	if ms, ok := getEnvInt("SUBMIT_TIMEOUT_MS"); ok {
		cfg.Orders.SubmitTimeout = time.Duration(ms) * time.Millisecond
	}
	if pd, ok := getEnvInt("PRICE_DECIMALS"); ok && pd >= 0 && pd <= 255 {
		cfg.Orders.PriceDecimals = uint8(pd)
	}
	if md, ok := getEnvInt("MAX_DECIMALS"); ok && md >= 0 && md <= 255 {
		cfg.Orders.MaxDecimals = uint8(md)
	}

	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
