package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/clock"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/config"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/metrics"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/device"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/event"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/health"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/persistence"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/router"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/sensor"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/sprinkler"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/updater"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/pkg/broker"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/pkg/relay"
)

var version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:          "sprinkler",
		Short:        "Sprinkler node",
		Long:         "Network-connected irrigation node: broker session, schedules and relay control.",
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the node until interrupted",
		RunE:  runNode,
	}

	idCmd = &cobra.Command{
		Use:   "id",
		Short: "Print the device identity used in topic names",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), model.NewDeviceID(cfg.DeviceID))
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sprinkler %s\n", version)
		},
	}
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(idCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// switchable is a relay whose state can be read back.
type switchable interface {
	sprinkler.Actuator
	Active() bool
}

func runNode(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetLevel(cfg.Level())
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	id := model.NewDeviceID(cfg.DeviceID)
	log := logrus.NewEntry(logger).WithField("device", string(id))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- settings ----
	settings, err := persistence.Open(cfg.SettingsPath)
	if err != nil {
		return fmt.Errorf("settings store %s: %w", cfg.SettingsPath, err)
	}
	defer settings.Close()

	// ---- relay ----
	var valve switchable
	if cfg.GPIOEnabled() {
		g, err := relay.OpenGPIO(cfg.GPIORoot, cfg.RelayGPIO, cfg.RelayActiveLow)
		if err != nil {
			return err
		}
		valve = g
	} else {
		log.Warn("no relay GPIO configured, using a simulated relay")
		valve = relay.NewSimulated(log.WithField("component", "relay"))
	}

	// ---- watering history ----
	var (
		recorder sprinkler.Recorder = event.Nop{}
		writer   *event.Writer
		history  http.Handler
	)
	if cfg.HistoryEnabled() {
		opts := influxdb2.DefaultOptions().SetBatchSize(20).SetFlushInterval(1000)
		influx := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
		defer influx.Close()
		writer = event.NewWriter(influx.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket), log.WithField("component", "history"))
		defer writer.Flush()
		recorder = writer
		history = event.NewHistoryHandler(influx.QueryAPI(cfg.InfluxOrg), cfg.InfluxBucket, string(id))
	}

	// ---- firmware ----
	var upd router.Updater
	if cfg.UpdatesEnabled() {
		upd = updater.New(updater.Config{URL: cfg.FirmwareURL, StagePath: cfg.FirmwarePath}, log.WithField("component", "updater"))
	}

	var reader sensor.Reader
	if cfg.SensorSimulated {
		reader = sensor.NewSimulatedReader(cfg.HumidityDecay, valve.Active)
	}

	collector := metrics.New()
	publishFailed := func(topic string, _ error) { collector.PublishFailed(topic) }
	transport := broker.NewClient(broker.Config{
		Host:           cfg.BrokerHost,
		Port:           cfg.BrokerPort,
		User:           cfg.BrokerUser,
		Password:       cfg.BrokerPassword,
		ClientID:       "sprinkler-" + string(id),
		KeepAlive:      cfg.KeepAlive,
		OnPublishError: publishFailed,
	}, log.WithField("component", "broker"))

	dev, err := device.New(device.Options{
		ID:             id,
		FirmwareTopic:  cfg.FirmwareTopic,
		Transport:      transport,
		TimeSource:     clock.NTPSource{Server: cfg.NTPServer, Timeout: cfg.SyncRetry},
		Relay:          valve,
		Settings:       settings,
		Recorder:       recorder,
		Updater:        upd,
		Sensors:        reader,
		Metrics:        collector,
		Location:       loc,
		SyncInterval:   cfg.SyncInterval,
		SyncRetry:      cfg.SyncRetry,
		RetryDelay:     cfg.RetryDelay,
		AttemptTimeout: cfg.AttemptTimeout,
		TickInterval:   cfg.TickInterval,
		SensorSchedule: cfg.SensorSchedule,
		SampleSchedule: cfg.SampleSchedule,
		MaxManualRun:   cfg.MaxManualRun,
	}, log)
	if err != nil {
		return err
	}

	// ---- HTTP ----
	mux := http.NewServeMux()
	var ager health.ErrorAger
	if writer != nil {
		ager = writer
	}
	mux.Handle("/healthz", health.NewHealthHandler(dev, ager))
	mux.Handle("/readyz", health.NewReadyHandler(dev))
	mux.Handle("/metrics", collector.Handler())
	if history != nil {
		mux.Handle("/history", history)
	}
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("HTTP listening on %s", hs.Addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http server error: %v", err)
		}
	}()

	// ---- gRPC health ----
	addr := ":" + strconv.Itoa(cfg.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	grpcServer := grpc.NewServer()
	hg := health.NewGRPC(dev)
	hg.Register(grpcServer)
	go hg.Watch(ctx, time.Second)
	go func() {
		log.Infof("gRPC health listening on %s", addr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("gRPC serve error: %v", err)
		}
	}()

	err = dev.Run(ctx)

	log.Info("shutting down...")
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = hs.Shutdown(shCtx)
	grpcServer.GracefulStop()
	return err
}
