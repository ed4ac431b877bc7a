package chaincode

import (
	"fmt"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/domain/registry"
)

// ServerConfig selects how the chaincode is run. With Address set it serves
// as an external chaincode (chaincode-as-a-service) under CCID; otherwise it
// connects to the peer that launched it.
type ServerConfig struct {
	CCID    string
	Address string
}

// New builds the Fabric chaincode around a RegistryContract.
func New(logger zerolog.Logger, policy registry.Policy) (*contractapi.ContractChaincode, error) {
	contract := NewRegistryContract(logger, policy)
	contract.Name = "medledger"
	contract.Info.Title = "Consent-gated medical record registry"
	contract.Info.Version = "1.0.0"

	cc, err := contractapi.NewChaincode(contract)
	if err != nil {
		return nil, fmt.Errorf("create chaincode: %w", err)
	}
	cc.DefaultContract = contract.Name
	return cc, nil
}

// Serve blocks until the chaincode stops.
func Serve(logger zerolog.Logger, policy registry.Policy, cfg ServerConfig) error {
	cc, err := New(logger, policy)
	if err != nil {
		return err
	}

	if cfg.Address == "" {
		logger.Info().Msg("starting chaincode under peer control")
		return cc.Start()
	}

	if cfg.CCID == "" {
		return fmt.Errorf("chaincode id is required when serving on %s", cfg.Address)
	}
	server := &shim.ChaincodeServer{
		CCID:    cfg.CCID,
		Address: cfg.Address,
		CC:      cc,
		TLSProps: shim.TLSProperties{
			Disabled: true,
		},
	}
	logger.Info().Str("address", cfg.Address).Str("ccid", cfg.CCID).Msg("starting chaincode server")
	return server.Start()
}
