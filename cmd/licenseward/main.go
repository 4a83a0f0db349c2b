// Package main is the entrypoint for the licenseward CLI.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/licenseward/licenseward-go/config"
	"github.com/licenseward/licenseward-go/device"
	"github.com/licenseward/licenseward-go/license"
	"github.com/licenseward/licenseward-go/store"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "licenseward",
		Short: "Licenseward - license lifecycle client",
		Long: `Licenseward activates, validates, and deactivates product licenses
against a Licenseward server, and keeps a signed offline token cached
so entitlements stay verifiable without network access.

Run 'licenseward config set-server <url>' to get started.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Local overrides for development; missing file is fine.
			_ = godotenv.Load()
		},
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newActivateCmd(),
		newValidateCmd(),
		newDeactivateCmd(),
		newStatusCmd(),
		newEntitlementCmd(),
		newSyncCmd(),
		newResetCmd(),
		newRunCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Licenseward %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetServerCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDefault()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			configPath, _ := config.DefaultConfigPath()
			fmt.Printf("Config file: %s\n", configPath)
			fmt.Println()

			if cfg.ServerURL == "" {
				fmt.Println("Not configured. Run 'licenseward config set-server <url>' to set up.")
				return nil
			}

			fmt.Printf("Server URL:   %s\n", cfg.ServerURL)
			fmt.Printf("License key:  %s\n", maskLicenseKey(cfg.LicenseKey))
			if cfg.ProductSlug != "" {
				fmt.Printf("Product:      %s\n", cfg.ProductSlug)
			}
			if cfg.AutoValidateInterval > 0 {
				fmt.Printf("Validate every:  %s\n", cfg.AutoValidateInterval)
			}
			if cfg.HeartbeatInterval > 0 {
				fmt.Printf("Heartbeat every: %s\n", cfg.HeartbeatInterval)
			}
			if cfg.MaxOfflineDays > 0 {
				fmt.Printf("Offline grace:   %d days\n", cfg.MaxOfflineDays)
			}
			return nil
		},
	}
}

func newConfigSetServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-server <url>",
		Short: "Set the server URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL := args[0]

			parsed, err := url.Parse(serverURL)
			if err != nil {
				return fmt.Errorf("invalid server URL: %w", err)
			}
			if parsed.Scheme != "http" && parsed.Scheme != "https" {
				return fmt.Errorf("server URL must use http or https scheme")
			}

			path, err := config.DefaultConfigPath()
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			cfg.ServerURL = strings.TrimSuffix(serverURL, "/")

			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Printf("Server URL set to: %s\n", cfg.ServerURL)
			return nil
		},
	}
}

func newActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <license-key>",
		Short: "Activate a license for this device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			lic, err := eng.Activate(ctx, args[0])
			if err != nil {
				return fmt.Errorf("activate: %w", err)
			}

			fmt.Println("License activated.")
			fmt.Printf("  Device ID:   %s\n", lic.DeviceID)
			if lic.Activation != nil {
				fmt.Printf("  Activation:  %s\n", lic.Activation.ID)
			}
			fmt.Printf("  Activated:   %s\n", lic.ActivatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the cached license against the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			lic := eng.License(ctx)
			if lic == nil {
				return fmt.Errorf("no license activated; run 'licenseward activate' first")
			}

			res, err := eng.Validate(ctx, lic.LicenseKey)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}

			printResult(res)
			return nil
		},
	}
}

func newDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate this device's license",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			if err := eng.Deactivate(ctx); err != nil {
				return fmt.Errorf("deactivate: %w", err)
			}

			fmt.Println("License deactivated.")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show license standing without contacting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			fmt.Printf("Status:    %s\n", eng.Status(ctx))
			fmt.Printf("Device ID: %s\n", eng.DeviceID())

			if lic := eng.License(ctx); lic != nil {
				fmt.Printf("License:   %s\n", maskLicenseKey(lic.LicenseKey))
				if !lic.LastValidated.IsZero() {
					fmt.Printf("Validated: %s\n", lic.LastValidated.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

func newEntitlementCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entitlement <key>",
		Short: "Check whether an entitlement is active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			check := eng.CheckEntitlement(cmd.Context(), args[0])
			if check.Active {
				fmt.Printf("%s: active\n", args[0])
				return nil
			}
			fmt.Printf("%s: inactive (%s)\n", args[0], check.Reason)
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch and cache the offline token and its signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			if err := eng.SyncOfflineAssets(ctx); err != nil {
				return fmt.Errorf("sync offline assets: %w", err)
			}

			fmt.Println("Offline assets synced.")
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear all cached license state without contacting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("reset discards the cached license and offline token; re-run with --force")
			}

			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			eng.Reset(cmd.Context())
			fmt.Println("Local license state cleared.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm clearing local state")

	return cmd
}

func newRunCmd() *cobra.Command {
	var resyncCron string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the license daemon",
		Long: `Run licenseward as a long-running daemon process.

The daemon will:
  - Re-validate the license on the configured interval
  - Send liveness heartbeats to the server
  - Periodically refresh the cached offline token and signing key`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(resyncCron)
		},
	}

	cmd.Flags().StringVar(&resyncCron, "resync-cron", "0 */6 * * *", "Cron expression for offline asset refresh")

	return cmd
}

func runDaemon(resyncCron string) error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	eng, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Printf("Licenseward %s starting...\n", Version)
	fmt.Printf("Device ID: %s\n", eng.DeviceID())
	fmt.Printf("Status:    %s\n", eng.Status(context.Background()))

	unsub := eng.Subscribe(license.EventNetworkOffline, func(any) {
		logger.Warn().Msg("server unreachable, running offline")
	})
	defer unsub()
	unsub2 := eng.Subscribe(license.EventNetworkOnline, func(any) {
		logger.Info().Msg("server reachable again")
	})
	defer unsub2()

	// The engine drives validation and heartbeats on its own timers; the
	// cron scheduler only refreshes offline assets on a coarser cadence.
	cronScheduler := cron.New()
	if _, err := cronScheduler.AddFunc(resyncCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := eng.SyncOfflineAssets(ctx); err != nil {
			logger.Warn().Err(err).Msg("offline asset refresh failed")
		} else {
			logger.Info().Msg("offline assets refreshed")
		}
	}); err != nil {
		return fmt.Errorf("invalid resync cron expression: %w", err)
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("Daemon running. Press Ctrl+C to stop.")

	sig := <-sigChan
	fmt.Printf("\nReceived %s, shutting down...\n", sig)
	return nil
}

// buildEngine wires the store, device collaborators, and engine from the
// default configuration. The returned cleanup stops the engine's timers.
func buildEngine() (*license.Engine, func(), error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("not configured: %w (run 'licenseward config set-server')", err)
	}

	dir, err := config.DefaultConfigDir()
	if err != nil {
		return nil, nil, err
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if os.Getenv("LICENSEWARD_DEBUG") == "" {
		logger = logger.Level(zerolog.WarnLevel)
	}

	st, err := store.NewSQLite(dir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open license store: %w", err)
	}

	gen := device.NewGenerator(dir)
	collector := device.NewCollector(Version)

	eng, err := license.New(context.Background(), license.Config{
		ServerURL:            cfg.ServerURL,
		ProductSlug:          cfg.ProductSlug,
		Store:                st,
		DeviceID:             gen.ID,
		Telemetry:            collector.Collect,
		AutoValidateInterval: cfg.AutoValidateInterval,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		MaxOfflineDays:       cfg.MaxOfflineDays,
		MaxClockSkew:         cfg.MaxClockSkew,
		OfflineFallback:      cfg.OfflineFallback,
		MaxRetries:           cfg.MaxRetries,
		RetryDelay:           cfg.RetryDelay,
		Logger:               logger,
	})
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("create engine: %w", err)
	}

	cleanup := func() {
		eng.Close()
		st.Close()
	}
	return eng, cleanup, nil
}

func printResult(res license.ValidationResult) {
	if res.Valid {
		if res.Offline {
			fmt.Println("License valid (verified offline).")
		} else {
			fmt.Println("License valid.")
		}
		for _, ent := range res.Entitlements {
			fmt.Printf("  Entitlement: %s\n", ent.Key)
		}
		for _, w := range res.Warnings {
			fmt.Printf("  Warning: %s\n", w)
		}
		return
	}
	fmt.Printf("License invalid: %s", res.Code)
	if res.Message != "" {
		fmt.Printf(" (%s)", res.Message)
	}
	fmt.Println()
}

// maskLicenseKey returns a masked version of the license key for display.
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
