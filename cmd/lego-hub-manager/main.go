package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"tinygo.org/x/bluetooth"

	"lego-hub-manager/internal/api"
	"lego-hub-manager/internal/config"
	"lego-hub-manager/internal/display"
	"lego-hub-manager/internal/fleet"
	"lego-hub-manager/internal/hub"
	"lego-hub-manager/internal/logger"
	"lego-hub-manager/internal/lpf2"
	"lego-hub-manager/internal/mqtt"
	"lego-hub-manager/internal/stats"
	"lego-hub-manager/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "lego-hub-manager",
	Short: "Drive a fleet of LEGO train hubs over Bluetooth LE",
	Long: `lego-hub-manager connects to LEGO Powered Up hubs and remotes, groups them
into colored speed channels and exposes the channels over MQTT and HTTP.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.DetailedInfo())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgManager := config.NewManager(configPath)
	if err := cfgManager.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := cfgManager.Get()

	if err := logger.Init(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.Level); err != nil {
		log.Printf("[WARN] Failed to initialize file logging: %v (continuing with stdout only)", err)
		if err := logger.Init("", 0, 0, cfg.Logging.Level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	defer logger.Get().Close()

	logger.Info("Starting %s with config %s", version.Info(), cfgManager.FilePath())

	bluez, err := lpf2.NewBlueZ(cfg.BLE.AdapterID)
	if err != nil {
		logger.Warn("[BLE] BlueZ unavailable, relying on the radio only: %v", err)
		bluez = nil
	}
	adapter := lpf2.NewAdapter(bluetooth.DefaultAdapter, bluez)
	if err := adapter.Open(); err != nil {
		return err
	}
	defer adapter.Close()

	seeds, err := fleetSeeds(&cfg)
	if err != nil {
		return err
	}
	f, err := fleet.New(adapter, fleet.Options{
		Slots:          cfg.BLE.MaxDevices,
		Channels:       cfg.BLE.MaxChannels,
		Seeds:          seeds,
		ScanWindow:     cfg.BLE.ScanWindow,
		PersistentScan: cfg.BLE.PersistentScan,
		Timing: fleet.Timing{
			Tick:              cfg.BLE.TickInterval,
			IdlePoll:          cfg.BLE.IdlePollInterval,
			ScanTimeout:       cfg.BLE.ScanTimeout,
			SettleDelay:       cfg.BLE.SettleDelay,
			TelemetryInterval: cfg.BLE.TelemetryInterval,
			ActivityPoll:      cfg.BLE.ActivityPollInterval,
		},
	})
	if err != nil {
		return err
	}

	statsCollector := stats.NewCollector()
	wsHub := api.NewHub()
	handler := api.NewHandler(f, statsCollector, wsHub)
	handler.SetVersion(version.GetVersion())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return f.Run(ctx)
	})

	eg.Go(func() error {
		wsHub.Run(ctx)
		return nil
	})

	eg.Go(func() error {
		ticker := time.NewTicker(stats.HistoryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				snap := f.Snapshot()
				statsCollector.Record(snap.Speeds, snap.Connected)
				wsHub.Broadcast("snapshot", snap)
			}
		}
	})

	if cfg.Display.Enabled {
		eg.Go(func() error {
			display.NewRenderer().Run(ctx, os.Stdout, cfg.Display.Interval, f.Snapshot)
			return nil
		})
	}

	if cfg.MQTT.Enabled {
		mqttSvc := mqtt.New(cfg.MQTT, f)
		if err := mqttSvc.Connect(); err != nil {
			logger.Warn("[MQTT] %v, retrying in the background", err)
		}
		if err := mqttSvc.Start(); err != nil {
			return err
		}
		eg.Go(func() error {
			<-ctx.Done()
			mqttSvc.Close()
			return nil
		})
	}

	eg.Go(func() error {
		logger.Info("[API] listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = eg.Wait()
	logger.Info("Shutdown complete")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func fleetSeeds(cfg *config.Config) ([]fleet.Seed, error) {
	known := cfg.Seeds()
	seeds := make([]fleet.Seed, 0, len(known))
	for _, d := range known {
		addr, err := hub.ParseAddress(d.Address)
		if err != nil {
			return nil, fmt.Errorf("known device %s: %w", d.Address, err)
		}
		seeds = append(seeds, fleet.Seed{Address: addr, Channel: d.Channel, Name: d.Name})
	}
	return seeds, nil
}
