package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/medledger/medledger/internal/config"
	"github.com/medledger/medledger/internal/platform/gateway"
)

// ledgerCmd runs registry operations against a Fabric network as the
// identity in FABRIC_CERT_PATH.
func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Run registry transactions through a Fabric gateway",
	}

	cmd.AddCommand(
		gatewayCmd("register-patient", "Register the calling identity as a patient", 0,
			func(ctx context.Context, c *gateway.Client, _ []string) (interface{}, error) {
				return c.RegisterPatient(ctx)
			}),
		gatewayCmd("register-doctor", "Register the calling identity as a doctor", 0,
			func(ctx context.Context, c *gateway.Client, _ []string) (interface{}, error) {
				return c.RegisterDoctor(ctx)
			}),
		gatewayCmd("account", "Show the calling identity's account", 0,
			func(ctx context.Context, c *gateway.Client, _ []string) (interface{}, error) {
				return c.GetAccount(ctx)
			}),
		gatewayCmd("verify-doctor <doctor> <true|false>", "Set a doctor's verification (admin)", 2,
			func(ctx context.Context, c *gateway.Client, args []string) (interface{}, error) {
				verified, err := strconv.ParseBool(args[1])
				if err != nil {
					return nil, fmt.Errorf("invalid verification flag %q", args[1])
				}
				return c.SetDoctorVerification(ctx, args[0], verified)
			}),
		uploadCmd(),
		gatewayCmd("authorize <doctor>", "Grant a doctor access to your reports", 1,
			func(ctx context.Context, c *gateway.Client, args []string) (interface{}, error) {
				return c.AuthorizeDoctor(ctx, args[0])
			}),
		gatewayCmd("revoke <doctor>", "Revoke a doctor's access to your reports", 1,
			func(ctx context.Context, c *gateway.Client, args []string) (interface{}, error) {
				return nil, c.RevokeDoctor(ctx, args[0])
			}),
		gatewayCmd("is-authorized <patient> <doctor>", "Check whether a doctor holds a grant", 2,
			func(ctx context.Context, c *gateway.Client, args []string) (interface{}, error) {
				ok, err := c.IsAuthorized(ctx, args[0], args[1])
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"patient": args[0], "doctor": args[1], "authorized": ok}, nil
			}),
		gatewayCmd("grants", "List the calling patient's grants", 0,
			func(ctx context.Context, c *gateway.Client, _ []string) (interface{}, error) {
				return c.ListGrants(ctx)
			}),
		gatewayCmd("view <patient>", "Read a patient's reports", 1,
			func(ctx context.Context, c *gateway.Client, args []string) (interface{}, error) {
				return c.ViewReports(ctx, args[0])
			}),
		gatewayCmd("emergency <patient>", "Read a patient's emergency reports", 1,
			func(ctx context.Context, c *gateway.Client, args []string) (interface{}, error) {
				return c.EmergencyAccess(ctx, args[0])
			}),
	)
	return cmd
}

func uploadCmd() *cobra.Command {
	var emergency bool
	cmd := gatewayCmd("upload <content-hash>", "Record a report for the calling patient", 1,
		func(ctx context.Context, c *gateway.Client, args []string) (interface{}, error) {
			return c.UploadReport(ctx, args[0], emergency)
		})
	cmd.Flags().BoolVar(&emergency, "emergency", false, "Mark the report as emergency-relevant")
	return cmd
}

type gatewayFunc func(ctx context.Context, c *gateway.Client, args []string) (interface{}, error)

func gatewayCmd(use, short string, nargs int, fn gatewayFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.FabricConfigured() {
				return fmt.Errorf("FABRIC_MSP_ID, FABRIC_PEER_ENDPOINT, FABRIC_CERT_PATH, FABRIC_KEY_PATH and FABRIC_TLS_CERT_PATH are required")
			}

			client, err := gateway.Connect(gatewayConfig(cfg))
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			out, err := fn(ctx, client, args)
			if err != nil {
				return err
			}
			if out == nil {
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		MSPID:        cfg.FabricMSPID,
		PeerEndpoint: cfg.FabricPeerEndpoint,
		GatewayPeer:  cfg.FabricGatewayPeer,
		CertPath:     cfg.FabricCertPath,
		KeyPath:      cfg.FabricKeyPath,
		TLSCertPath:  cfg.FabricTLSCertPath,
		Channel:      cfg.FabricChannel,
		Chaincode:    cfg.FabricChaincode,
	}
}
