package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Ledger backends.
const (
	LedgerMemory   = "memory"
	LedgerLevelDB  = "leveldb"
	LedgerPostgres = "postgres"
)

// Directory backends.
const (
	DirectoryMemory = "memory"
	DirectoryMongo  = "mongo"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	LedgerBackend string `mapstructure:"LEDGER_BACKEND"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBSchema      string `mapstructure:"DB_SCHEMA"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	LevelDBPath   string `mapstructure:"LEVELDB_PATH"`

	DirectoryBackend string `mapstructure:"DIRECTORY_BACKEND"`
	MongoURI         string `mapstructure:"MONGODB_URI"`
	MongoDatabase    string `mapstructure:"MONGODB_DATABASE"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`

	DoctorDefaultVerified bool   `mapstructure:"DOCTOR_DEFAULT_VERIFIED"`
	SentryDSN             string `mapstructure:"SENTRY_DSN"`

	FabricMSPID        string `mapstructure:"FABRIC_MSP_ID"`
	FabricPeerEndpoint string `mapstructure:"FABRIC_PEER_ENDPOINT"`
	FabricGatewayPeer  string `mapstructure:"FABRIC_GATEWAY_PEER"`
	FabricCertPath     string `mapstructure:"FABRIC_CERT_PATH"`
	FabricKeyPath      string `mapstructure:"FABRIC_KEY_PATH"`
	FabricTLSCertPath  string `mapstructure:"FABRIC_TLS_CERT_PATH"`
	FabricChannel      string `mapstructure:"FABRIC_CHANNEL"`
	FabricChaincode    string `mapstructure:"FABRIC_CHAINCODE"`

	ChaincodeServerAddress string `mapstructure:"CHAINCODE_SERVER_ADDRESS"`
	ChaincodeID            string `mapstructure:"CHAINCODE_ID"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"LEDGER_BACKEND", "DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS", "LEVELDB_PATH",
	"DIRECTORY_BACKEND", "MONGODB_URI", "MONGODB_DATABASE",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REDIS_URL", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"DOCTOR_DEFAULT_VERIFIED", "SENTRY_DSN",
	"FABRIC_MSP_ID", "FABRIC_PEER_ENDPOINT", "FABRIC_GATEWAY_PEER", "FABRIC_CERT_PATH",
	"FABRIC_KEY_PATH", "FABRIC_TLS_CERT_PATH", "FABRIC_CHANNEL", "FABRIC_CHAINCODE",
	"CHAINCODE_SERVER_ADDRESS", "CHAINCODE_ID",
}

// Load reads configuration from the environment and an optional .env file in
// the working directory. Call Validate before using the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LEDGER_BACKEND", LedgerMemory)
	v.SetDefault("DB_SCHEMA", "medledger")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("LEVELDB_PATH", "data/ledger")
	v.SetDefault("DIRECTORY_BACKEND", DirectoryMemory)
	v.SetDefault("MONGODB_DATABASE", "medledger")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "64K")
	v.SetDefault("DOCTOR_DEFAULT_VERIFIED", true)
	v.SetDefault("FABRIC_GATEWAY_PEER", "peer0.org1.example.com")
	v.SetDefault("FABRIC_CHANNEL", "mychannel")
	v.SetDefault("FABRIC_CHAINCODE", "medledger")

	// Bind explicitly so Unmarshal sees keys that only exist in the environment.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	cfg.LedgerBackend = strings.ToLower(cfg.LedgerBackend)
	cfg.DirectoryBackend = strings.ToLower(cfg.DirectoryBackend)

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration can be served. Outside development
// a real identity provider must be configured, since the caller address is
// the only authorization input the registry trusts.
func (c *Config) Validate() error {
	switch c.LedgerBackend {
	case LedgerMemory:
	case LedgerLevelDB:
		if c.LevelDBPath == "" {
			return fmt.Errorf("LEVELDB_PATH is required when LEDGER_BACKEND is %q", LedgerLevelDB)
		}
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when LEDGER_BACKEND is %q", LedgerPostgres)
		}
	default:
		return fmt.Errorf("LEDGER_BACKEND must be %q, %q or %q, got %q",
			LedgerMemory, LedgerLevelDB, LedgerPostgres, c.LedgerBackend)
	}

	switch c.DirectoryBackend {
	case DirectoryMemory:
	case DirectoryMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required when DIRECTORY_BACKEND is %q", DirectoryMongo)
		}
	default:
		return fmt.Errorf("DIRECTORY_BACKEND must be %q or %q, got %q",
			DirectoryMemory, DirectoryMongo, c.DirectoryBackend)
	}

	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q; "+
				"refusing to start without caller authentication", c.Env)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// FabricConfigured reports whether enough of the Fabric block is set to
// open a gateway connection.
func (c *Config) FabricConfigured() bool {
	return c.FabricMSPID != "" && c.FabricPeerEndpoint != "" &&
		c.FabricCertPath != "" && c.FabricKeyPath != "" && c.FabricTLSCertPath != ""
}
