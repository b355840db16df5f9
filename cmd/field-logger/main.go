// Command field-logger samples sensor channels, classifies event states and
// logs the results to delimited files, the console, SQLite and MQTT.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sweeney/field-logger/internal/acquire"
	"github.com/sweeney/field-logger/internal/clock"
	"github.com/sweeney/field-logger/internal/config"
	"github.com/sweeney/field-logger/internal/gpio"
	"github.com/sweeney/field-logger/internal/history"
	"github.com/sweeney/field-logger/internal/logger"
	"github.com/sweeney/field-logger/internal/logic"
	"github.com/sweeney/field-logger/internal/mqtt"
	"github.com/sweeney/field-logger/internal/status"
	"github.com/sweeney/field-logger/internal/web"
)

const softwareName = "field-logger"

// Set via ldflags.
var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	runE := func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, cfgFile)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg, cmd.OutOrStdout())
	}

	root := &cobra.Command{
		Use:   softwareName,
		Short: "Sample sensor channels and log events",
		Long: `field-logger samples a set of configured channels at a fixed period,
keeps running statistics per report interval and classifies event trackers
from pins or channel thresholds.

Reports go to numbered delimited files, the console, an optional SQLite
history database and an optional MQTT broker. Without a subcommand the
acquisition loop runs until SIGINT or SIGTERM.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runE,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file (TOML or YAML)")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the acquisition loop (default)",
			Args:  cobra.NoArgs,
			RunE:  runE,
		},
		&cobra.Command{
			Use:   "header",
			Short: "Print the spreadsheet and transition headers of the configured layout",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(cmd, cfgFile)
				if err != nil {
					return err
				}
				return printHeader(cmd.OutOrStdout(), cfg)
			},
		},
		&cobra.Command{
			Use:   "print-state",
			Short: "Read every configured pin once and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(cmd, cfgFile)
				if err != nil {
					return err
				}
				pins, err := openPins(cfg)
				if err != nil {
					return err
				}
				if pins != nil {
					defer pins.Close()
				}
				return printState(cmd.OutOrStdout(), cfg, pins)
			},
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(cmd, cfgFile)
				if err != nil {
					return err
				}
				return cfg.Dump(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\ncommit: %s\nbuilt:  %s\n", softwareName, appVersion, appCommit, appDate)
			},
		},
	)
	return root
}

// loadConfig reads the configuration and sets up logging on the command's
// error stream so records on stdout stay clean.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.InitWriter(cmd.ErrOrStderr(), level, logger.IsService())
	logger.Debug().Str("device", cfg.Device.Code).Msg("Config loaded")
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	session := uuid.New()

	pins, err := openPins(cfg)
	if err != nil {
		return err
	}
	if pins != nil {
		defer pins.Close()
	}

	var publisher mqtt.Publisher
	if cfg.Broker != "" {
		topics := mqtt.TopicsFor(cfg.Device.Code)
		will, _ := mqtt.FormatSystemPayload(mqtt.SystemEvent{
			Timestamp: time.Now(),
			Event:     "OFFLINE",
			Reason:    "connection lost",
		})
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.Broker,
			ClientID: cfg.ClientID,
			Topics:   topics,
			Will:     will,
		}, logger.Component("mqtt"))
		if err != nil {
			logger.Error().Err(err).Str("broker", cfg.Broker).Msg("MQTT disabled")
		} else {
			publisher = p
			defer p.Close()
		}
	}

	hist, err := history.NewRepository(history.Config{
		Enabled: cfg.HistoryDB != "",
		DBPath:  cfg.HistoryDB,
	}, logger.Component("history"))
	if err != nil {
		logger.Error().Err(err).Str("db", cfg.HistoryDB).Msg("history disabled")
		hist = nil
	} else {
		defer hist.Close()
	}

	tracker := status.NewTracker(time.Now(), cfg.Device.Name, cfg.Device.Code, session.String(), status.Config{
		SampleMs:    cfg.SampleMs,
		ReportMs:    cfg.ReportMs,
		HeartbeatMs: cfg.HeartbeatMs,
		Broker:      cfg.Broker,
		HTTPAddr:    cfg.HTTPAddr,
		DataDir:     cfg.DataRoot,
	})

	clk := clock.NewSystem()
	acq, err := acquire.New(cfg, acquire.Deps{
		Clock:     clk,
		Pins:      pins,
		Publisher: publisher,
		History:   hist,
		Status:    tracker,
		Console:   out,
		Session:   session,
		Software:  softwareName + " " + appVersion,
		Log:       logger.Get(),
	})
	if err != nil {
		return err
	}
	if err := acq.WriteHeaders(ctx); err != nil {
		logger.Warn().Err(err).Msg("headers not written to every sink")
	}

	if publisher != nil {
		if err := publisher.PublishSystem(acq.SystemEvent("STARTUP", "", true)); err != nil {
			logger.Warn().Err(err).Msg("failed to publish startup event")
		}
	}

	if cfg.HTTPAddr != "" {
		var src web.TransitionSource
		if cfg.HistoryDB != "" && hist != nil {
			src = hist
		}
		srv := web.New(cfg.HTTPAddr, tracker, src)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP status server listening")
	}

	data, events := acq.Paths()
	logger.Info().
		Str("device", cfg.Device.Code).
		Str("session", session.String()).
		Int64("sample_ms", cfg.SampleMs).
		Int64("report_ms", cfg.ReportMs).
		Str("data", data).
		Str("events", events).
		Msg("Started")

	ticker := time.NewTicker(time.Duration(cfg.SampleMs) * time.Millisecond)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return runLoop(ctx, acq, publisher, clk.Now, ticker.C, sigCh)
}

// runLoop ticks the acquirer until a signal arrives or ctx is cancelled,
// then publishes a retained SHUTDOWN event.
func runLoop(ctx context.Context, acq *acquire.Acquirer, publisher mqtt.Publisher, now func() clock.Millis, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			logger.Info().Str("signal", s.String()).Msg("Shutting down")
			shutdown(acq, publisher, signalName(s))
			return nil

		case <-ctx.Done():
			logger.Info().Msg("Context cancelled, shutting down")
			shutdown(acq, publisher, "CANCELLED")
			return nil

		case <-tick:
			if err := acq.Tick(ctx, now()); err != nil {
				logger.Warn().Err(err).Msg("tick completed with sink errors")
			}
		}
	}
}

func shutdown(acq *acquire.Acquirer, publisher mqtt.Publisher, reason string) {
	if publisher == nil {
		return
	}
	if err := publisher.PublishSystem(acq.SystemEvent("SHUTDOWN", reason, true)); err != nil {
		logger.Warn().Err(err).Msg("failed to publish shutdown event")
		return
	}
	logger.Info().Msg("Published shutdown event")
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// openPins returns the pins the configuration reads, or nil when it reads
// none. Simulated runs get fake pins held at each event's initial state.
func openPins(cfg *config.Config) (gpio.Pins, error) {
	if cfg.Simulate {
		return simulatedPins(cfg), nil
	}
	if !needsPins(cfg) {
		return nil, nil
	}
	pins, err := gpio.NewRealPins(cfg.Chip, cfg.ActiveLow)
	if err != nil {
		return nil, err
	}
	return pins, nil
}

func needsPins(cfg *config.Config) bool {
	for _, ev := range cfg.Events {
		if ev.Pin != nil {
			return true
		}
	}
	for _, ch := range cfg.Channels {
		if ch.Source == config.SourcePin {
			return true
		}
	}
	return false
}

func simulatedPins(cfg *config.Config) *gpio.FakePins {
	pins := gpio.NewFakePins()
	for _, ev := range cfg.Events {
		if ev.Pin != nil {
			pins.Script(*ev.Pin, ev.Initial)
		}
	}
	return pins
}

// printHeader writes the header rows the configured layout produces.
func printHeader(w io.Writer, cfg *config.Config) error {
	layout := *cfg
	layout.FileOutput = false
	layout.Console = false
	layout.Simulate = true

	acq, err := acquire.New(&layout, acquire.Deps{
		Clock: clock.NewFake(0),
		Pins:  simulatedPins(cfg),
		Log:   logger.Get(),
	})
	if err != nil {
		return err
	}
	f := acq.Formatter()
	if err := f.Spreadsheet(w, acq.Channels().Channels(), acq.Events().Trackers(), 0, true); err != nil {
		return err
	}
	return f.TransitionHeader(w)
}

// printState reads every configured pin once. Event pins print the state
// label, channel pins the raw level.
func printState(w io.Writer, cfg *config.Config, pins gpio.Pins) error {
	if pins == nil {
		fmt.Fprintln(w, "no pins configured")
		return nil
	}

	layout := *cfg
	layout.FileOutput = false
	layout.Console = false

	acq, err := acquire.New(&layout, acquire.Deps{
		Clock: clock.NewFake(0),
		Pins:  pins,
		Log:   logger.Get(),
	})
	if err != nil {
		return err
	}

	for _, t := range acq.Events().Trackers() {
		if t.Pin == logic.NoPin {
			continue
		}
		fmt.Fprintf(w, "%s: %s (pin %d)\n", t.Short, t.CurrentLabel(), t.Pin)
	}
	if cfg.Simulate {
		return nil
	}
	for _, ch := range cfg.Channels {
		if ch.Source != config.SourcePin {
			continue
		}
		level, err := pins.ReadDigital(ch.Pin)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %d (pin %d)\n", ch.Short, level, ch.Pin)
	}
	return nil
}
