// Command medledger-chaincode runs the registry as Hyperledger Fabric
// chaincode. With CHAINCODE_SERVER_ADDRESS set it listens as an external
// chaincode service under CHAINCODE_ID; otherwise it connects back to the peer
// that launched it.
//
// It is built apart from the medledger binary: the chaincode shim and the
// gateway client link different generations of the Fabric protobufs, which
// cannot be registered in one process.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/config"
	"github.com/medledger/medledger/internal/domain/registry"
	"github.com/medledger/medledger/internal/platform/chaincode"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	if err := chaincode.Serve(logger, policy(cfg), serverConfig(cfg)); err != nil {
		logger.Fatal().Err(err).Msg("chaincode stopped")
	}
}

func policy(cfg *config.Config) registry.Policy {
	return registry.Policy{DoctorsVerifiedByDefault: cfg.DoctorDefaultVerified}
}

func serverConfig(cfg *config.Config) chaincode.ServerConfig {
	return chaincode.ServerConfig{
		CCID:    cfg.ChaincodeID,
		Address: cfg.ChaincodeServerAddress,
	}
}

// newLogger writes JSON to stdout, where the peer or the chaincode container
// collects it.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "medledger-chaincode").Logger().Level(level)
}
