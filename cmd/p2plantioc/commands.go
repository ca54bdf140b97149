package main

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/p2plant-ioc/internal/auth"
	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/logging"
	"github.com/nerrad567/p2plant-ioc/internal/plant"
)

const defaultSimulateAddress = "127.0.0.1:50000"

// newSimulateCommand serves the in-memory demo plant over TCP, so the IOC
// can be run without real hardware.
func newSimulateCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve a demo plant backend over TCP",
		Long: `simulate answers the P2Plant backend protocol from an in-memory plant
holding a small demo catalog. Point plant.connection at tcp://` + defaultSimulateAddress + `
to run the IOC against it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New(config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"}, version)

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", listen, err)
			}

			backend := plant.NewMemory(plant.DemoCatalog())
			defer backend.Close()

			return plant.NewServer(backend, log).Serve(cmd.Context(), ln)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", defaultSimulateAddress, "address to listen on")
	return cmd
}

// newTokenCommand prints a bearer token for the HTTP API.
func newTokenCommand(root *options) *cobra.Command {
	var (
		subject string
		role    string
		secret  string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Long: `token signs a JWT for the HTTP API with api.auth.jwt_secret from the
configuration file, or with --secret when given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				cfg, _, err := loadConfig(root.configPath)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				secret = cfg.API.Auth.JWTSecret
			}
			if secret == "" {
				return errors.New("no signing secret: set api.auth.jwt_secret or pass --secret")
			}

			token, err := auth.GenerateToken(subject, auth.Role(role), secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&subject, "subject", "operator", "token subject, recorded with every write")
	flags.StringVar(&role, "role", string(auth.RoleOperator), "role: viewer or operator")
	flags.StringVar(&secret, "secret", "", "HS256 signing secret (overrides the configuration)")
	flags.DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	return cmd
}
