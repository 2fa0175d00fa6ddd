package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func CreateRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nft-router",
		Short: "Gateway authorized NFT collection router",
		Long: `nft-router deploys NFT collections on behalf of callers that hold an authorization signed by the
gateway. Every authorization carries a nonce that can be used for exactly one deployment.`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.AddCommand(
		CreateServeCommand(),
		CreateHashCommand(),
		CreateSignCommand(),
		CreateAddressCommand(),
		CreateWatchCommand(),
		CreateVersionCommand(),
	)

	return rootCmd
}

func loggerFromEnv() (*Logger, error) {
	return NewLogger(getEnv("ROUTER_LOG_MODE", "development"))
}

func CreateServeCommand() *cobra.Command {
	var host string
	var port int
	var metricsInterval time.Duration

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the router HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := loggerFromEnv()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			service, err := NewRouterServiceFromEnv(ctx, log)
			if err != nil {
				return fmt.Errorf("failed to configure router, err: %v", err)
			}
			defer service.Close()

			server := NewRouterServer(service.Router, service.NonceStore, service.Settings.CORSAllowedOrigins, log)
			server.HTTPSRedirect = getEnv("ROUTER_HTTPS_REDIRECT", "") == "true"

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return server.RunServer(groupCtx, host, port)
			})
			if metricsInterval > 0 {
				group.Go(func() error {
					reportMetrics(groupCtx, log, metricsInterval)
					return nil
				})
			}
			return group.Wait()
		},
	}

	serveCmd.Flags().StringVar(&host, "host", "127.0.0.1", "Server listening address")
	serveCmd.Flags().IntVar(&port, "port", 3743, "Server listening port")
	serveCmd.Flags().DurationVar(&metricsInterval, "metrics-interval", time.Minute, "How often counters are written to the log (0 disables)")

	return serveCmd
}

func reportMetrics(ctx context.Context, log *Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("counters", "metrics", MetricsSnapshot())
		}
	}
}

func addAuthorizationFlags(cmd *cobra.Command, nonce, kind, scheme *string) {
	cmd.Flags().StringVar(nonce, "nonce", "", "Authorization nonce")
	cmd.Flags().StringVar(kind, "kind", "reward", "Asset kind: reward (0) or contributor (1)")
	cmd.Flags().StringVar(scheme, "scheme", "", "Signing scheme: kind-bound or legacy (default from ROUTER_SIGNING_SCHEME, else kind-bound)")
	cmd.MarkFlagRequired("nonce")
}

func parseAuthorizationFlags(kindRaw, schemeRaw string) (AssetKind, SigningScheme, error) {
	kind, err := ParseAssetKind(kindRaw)
	if err != nil {
		return 0, "", err
	}
	if kind.EventName() == "" {
		return 0, "", fmt.Errorf("%w: %s", ErrUnknownAssetKind, kindRaw)
	}
	if schemeRaw == "" {
		schemeRaw = os.Getenv("ROUTER_SIGNING_SCHEME")
	}
	scheme, err := ParseSigningScheme(schemeRaw)
	if err != nil {
		return 0, "", err
	}
	return kind, scheme, nil
}

func CreateHashCommand() *cobra.Command {
	var nonce, kindRaw, schemeRaw string

	hashCmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the digest the gateway signs for an authorization",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, scheme, err := parseAuthorizationFlags(kindRaw, schemeRaw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "0x"+hex.EncodeToString(AuthorizationHash(scheme, kind, []byte(nonce))))
			return nil
		},
	}
	addAuthorizationFlags(hashCmd, &nonce, &kindRaw, &schemeRaw)

	return hashCmd
}

func CreateSignCommand() *cobra.Command {
	var nonce, kindRaw, schemeRaw string

	signCmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign an authorization with the gateway key",
		Long: `Sign an authorization with the gateway key. The key is loaded from ROUTER_PRIVATE_KEY,
ROUTER_SIGNER_AWS_SECRET_ID or ROUTER_KEYSTORE (in that order).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, scheme, err := parseAuthorizationFlags(kindRaw, schemeRaw)
			if err != nil {
				return err
			}

			authorizer := &GatewayAuthorizer{}
			if err := authorizer.ConfigureFromEnv(cmd.Context()); err != nil {
				return err
			}
			authorizer.Scheme = scheme

			signature, err := authorizer.Authorize(kind, []byte(nonce))
			if err != nil {
				return err
			}

			output := map[string]string{
				"signer":            authorizer.Address().Hex(),
				"scheme":            string(scheme),
				"kind":              kind.String(),
				"nonce":             nonce,
				"authorizationHash": "0x" + hex.EncodeToString(authorizer.AuthorizationHash(kind, []byte(nonce))),
				"signature":         "0x" + hex.EncodeToString(signature),
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(output)
		},
	}
	addAuthorizationFlags(signCmd, &nonce, &kindRaw, &schemeRaw)

	return signCmd
}

func CreateAddressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address of the gateway key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := SigningKeyFromEnv(cmd.Context())
			if err != nil {
				return err
			}
			authorizer, err := NewGatewayAuthorizer(key, KindBoundScheme)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), authorizer.Address().Hex())
			return nil
		},
	}
}

func CreateWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print creation records published on ROUTER_EVENTS_CHANNEL",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := getEnv("ROUTER_REDIS_ADDR", "")
			if addr == "" {
				return fmt.Errorf("ROUTER_REDIS_ADDR must be set")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			observer, err := OpenRedisObserver(ctx, addr, getEnv("ROUTER_EVENTS_CHANNEL", "nft-router.creations"))
			if err != nil {
				return err
			}
			defer observer.Close()

			encoder := json.NewEncoder(cmd.OutOrStdout())
			err = observer.Subscribe(ctx, func(record CreationRecord) {
				_ = encoder.Encode(record)
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

func CreateVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of nft-router that you are currently using",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), RouterVersion())
		},
	}
}
