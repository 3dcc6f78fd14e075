package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/agencybridge/sidecar/internal/config"
	"github.com/agencybridge/sidecar/internal/logging"
	"github.com/agencybridge/sidecar/internal/server"
	"github.com/agencybridge/sidecar/internal/svc"
)

var (
	cfgFile string
	envFile string
	quiet   bool
	headful bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sidecar",
		Short: "Browser-automation credential sidecar",
		Long: `sidecar keeps authenticated sessions for browser-only vendor portals
and exposes them over a small HTTP API: session extraction with
caching, verified SMS delivery, and a chat widget proxy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&envFile, "env", ".env", "env file with provider credentials")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress request logging")
	cmd.PersistentFlags().BoolVar(&headful, "headful", false, "run browsers with a visible window")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(sessionCmd())

	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// sessionCmd extracts one provider session and prints it, for smoke
// testing a deployment without the HTTP surface.
func sessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session <provider>",
		Short: "Extract a provider session and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			svcCtx, err := svc.NewServiceContext(c)
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			resolved, err := svcCtx.Creds.Session(ctx, args[0], true)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(resolved.Session, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func loadConfig() (config.Config, error) {
	// Missing env file is fine; credentials may come from the real
	// environment.
	_ = godotenv.Load(envFile)

	c, err := config.Load(cfgFile)
	if err != nil {
		return c, err
	}
	if headful {
		c.Browser.Headless = false
	}
	return c, nil
}

func runServe(ctx context.Context) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Infof("received %v, shutting down", sig)
		cancel()
	}()

	svcCtx, err := svc.NewServiceContext(c)
	if err != nil {
		return err
	}
	defer svcCtx.Close()

	// Credential rotations land in the env file; watching it lets us
	// drop sessions minted with the old secrets immediately.
	if envFile != "" {
		go func() {
			if err := config.WatchEnv(ctx, envFile, svcCtx.Creds.ClearAll); err != nil {
				logging.Warnf("env watch disabled: %v", err)
			}
		}()
	}

	return server.Run(ctx, c, server.Options{SvcCtx: svcCtx, Quiet: quiet})
}
