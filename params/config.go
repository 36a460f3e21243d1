package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Exchange configures the matching engine
type Exchange struct {
	Owner            common.Address // only identity allowed to list tokens
	Address          common.Address // custody address tokens are pulled to
	BaseTicker       string
	CrossLimitOrders bool // false: limit orders rest without matching
	MaxFillsPerOrder int  // 0 = unbounded
	ChainID          int64
}

// DevnetToken is an in-memory token listed at startup
type DevnetToken struct {
	Ticker   string
	Decimals uint8
}

type Node struct {
	APIAddr       string
	DataDir       string // empty keeps state in memory
	LogFile       string
	LogLevel      string
	CORSOrigins   []string
	SequencerSize int
	DevnetTokens  []DevnetToken
	TxGen         bool   // run the simulated trader feeder
	TxGenMode     string // "default" or "high"
}

// Events configures optional trade sinks; empty values disable them
type Events struct {
	NATSURL           string
	NATSSubjectPrefix string
	KafkaBrokers      []string
	KafkaTopic        string
	BufferSize        int // trades queued ahead of the sinks
}

type Config struct {
	Exchange Exchange
	Node     Node
	Events   Events
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Owner:      common.HexToAddress("0x0000000000000000000000000000000000000001"),
			Address:    common.HexToAddress("0x00000000000000000000000000000000DEADBEEF"),
			BaseTicker: "ETH",
			ChainID:    1337,
		},
		Node: Node{
			APIAddr:       ":8080",
			DataDir:       "data/state",
			LogFile:       "data/node.log",
			LogLevel:      "info",
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
			SequencerSize: 1024,
			DevnetTokens:  []DevnetToken{{Ticker: "LINK", Decimals: 18}},
			TxGenMode:     "default",
		},
		Events: Events{
			NATSSubjectPrefix: "hyperspot",
			KafkaTopic:        "hyperspot.trades",
			BufferSize:        4096,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var err error
	if v := os.Getenv("OWNER_ADDRESS"); v != "" {
		if cfg.Exchange.Owner, err = parseAddress("OWNER_ADDRESS", v); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("EXCHANGE_ADDRESS"); v != "" {
		if cfg.Exchange.Address, err = parseAddress("EXCHANGE_ADDRESS", v); err != nil {
			return cfg, err
		}
	}
	cfg.Exchange.BaseTicker = getEnv("BASE_TICKER", cfg.Exchange.BaseTicker)
	if v := os.Getenv("CROSS_LIMIT_ORDERS"); v != "" {
		if cfg.Exchange.CrossLimitOrders, err = strconv.ParseBool(v); err != nil {
			return cfg, fmt.Errorf("CROSS_LIMIT_ORDERS: %w", err)
		}
	}
	if v := os.Getenv("MAX_FILLS_PER_ORDER"); v != "" {
		if cfg.Exchange.MaxFillsPerOrder, err = strconv.Atoi(v); err != nil || cfg.Exchange.MaxFillsPerOrder < 0 {
			return cfg, fmt.Errorf("MAX_FILLS_PER_ORDER: invalid value %q", v)
		}
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if cfg.Exchange.ChainID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return cfg, fmt.Errorf("CHAIN_ID: %w", err)
		}
	}

	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	if v, ok := os.LookupEnv("LOG_FILE"); ok {
		cfg.Node.LogFile = v // "" logs to stdout only
	}
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	if v, ok := os.LookupEnv("DATA_DIR"); ok {
		cfg.Node.DataDir = v // "" selects in-memory state
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Node.CORSOrigins = splitList(v)
	}
	cfg.Node.TxGen = os.Getenv("ENABLE_TXGEN") == "true"
	cfg.Node.TxGenMode = getEnv("TXGEN_MODE", cfg.Node.TxGenMode)
	if v, ok := os.LookupEnv("DEVNET_TOKENS"); ok {
		if cfg.Node.DevnetTokens, err = parseDevnetTokens(v); err != nil {
			return cfg, err
		}
	}

	cfg.Events.NATSURL = getEnv("NATS_URL", cfg.Events.NATSURL)
	cfg.Events.NATSSubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.Events.NATSSubjectPrefix)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = splitList(v)
	}
	cfg.Events.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Events.KafkaTopic)
	if v := os.Getenv("TRADE_BUFFER_SIZE"); v != "" {
		if cfg.Events.BufferSize, err = strconv.Atoi(v); err != nil || cfg.Events.BufferSize <= 0 {
			return cfg, fmt.Errorf("TRADE_BUFFER_SIZE: invalid value %q", v)
		}
	}

	return cfg, nil
}

// parseDevnetTokens reads "LINK:18,USDC:6"; decimals default to 18
func parseDevnetTokens(v string) ([]DevnetToken, error) {
	var out []DevnetToken
	for _, item := range splitList(v) {
		ticker, dec, found := strings.Cut(item, ":")
		t := DevnetToken{Ticker: ticker, Decimals: 18}
		if found {
			n, err := strconv.ParseUint(dec, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("DEVNET_TOKENS: bad decimals in %q", item)
			}
			t.Decimals = uint8(n)
		}
		out = append(out, t)
	}
	return out, nil
}

func parseAddress(key, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", key, v)
	}
	return common.HexToAddress(v), nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
