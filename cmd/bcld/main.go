package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/bcld/internal/battery"
	"codeberg.org/mutker/bcld/internal/bus"
	"codeberg.org/mutker/bcld/internal/config"
	"codeberg.org/mutker/bcld/internal/event"
	"codeberg.org/mutker/bcld/internal/governor"
	"codeberg.org/mutker/bcld/internal/history"
	"codeberg.org/mutker/bcld/internal/irq"
	"codeberg.org/mutker/bcld/internal/logger"
	"codeberg.org/mutker/bcld/internal/monitor"
	"codeberg.org/mutker/bcld/internal/mqtt"
	"codeberg.org/mutker/bcld/internal/pid"
	"codeberg.org/mutker/bcld/internal/rail"
	"codeberg.org/mutker/bcld/internal/sysreg"
	"codeberg.org/mutker/bcld/internal/throttle"
	"codeberg.org/mutker/bcld/internal/workqueue"
)

const shutdownTimeout = 5 * time.Second

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load(config.WithArgs(os.Args[1:]))
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(level, logger.IsService())
	logger.Debug().Str("file", cfg.File).Msg("Config loaded")
}

func main() {
	pidFile := pid.Default()
	if err := pidFile.Write(); err != nil {
		logger.Fatal().Err(err).Msg("bcld is already running")
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error().Err(err).Msg("Failed to remove PID file")
		}
	}()

	if err := run(); err != nil {
		logger.Error().Err(err).Msg("Exiting with error")
		os.Exit(1)
	}
	logger.Info().Msg("Exiting...")
}

func run() error {
	store, err := history.NewService(historyConfig(), logger.New("history"))
	if err != nil {
		return err
	}
	defer closeAndLog("history", store.Close)

	recorders := event.Recorders{store}
	if cfg.MQTT.Enabled {
		publisher, err := mqtt.NewRealPublisher(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
		}, logger.New("mqtt"))
		if err != nil {
			return err
		}
		defer closeAndLog("mqtt", publisher.Close)
		recorders = append(recorders, mqtt.Recorder{Publisher: publisher, Logger: logger.New("mqtt")})
	}

	transport, err := bus.OpenI2C(bus.I2CConfig{
		Bus:           cfg.Bus.Name,
		Addresses:     cfg.ChipAddresses(),
		PEC:           cfg.Bus.PEC,
		Attempts:      cfg.Bus.Attempts,
		RetryInterval: cfg.Bus.RetryInterval(),
	}, logger.New("bus"))
	if err != nil {
		return err
	}

	lines, err := irq.NewGPIO(cfg.GPIO.Chip, logger.New("irq"))
	if err != nil {
		closeAndLog("bus", transport.Close)
		return err
	}

	var gauge battery.Provider
	if cfg.Battery.Enabled {
		fg := battery.NewMAX17048(transport.Bus(), uint16(cfg.Battery.Address))
		if version, err := fg.Version(); err != nil {
			logger.New("battery").Warn().Err(err).Msg("Fuel gauge not responding, event snapshots will carry no battery data")
		} else {
			logger.New("battery").Info().Str("version", fmt.Sprintf("0x%04x", version)).Msg("Fuel gauge found")
			gauge = fg
		}
	}

	regs, err := registerFile()
	if err != nil {
		closeAndLog("irq", lines.Close)
		closeAndLog("bus", transport.Close)
		return err
	}
	defer closeAndLog("sysreg", regs.Close)

	queue := workqueue.New(cfg.Workers, logger.New("workqueue"))

	mon, err := monitor.New(monitor.Config{
		Transport:   transport,
		IRQ:         lines,
		Scheduler:   queue,
		Drain:       queue.Stop,
		Battery:     gauge,
		Throttle:    throttle.New(regs, cfg.Throttle.Clusters, logger.New("throttle")),
		Recorder:    recorders,
		Governor:    governor.New(queue, cfg.Governor.PollInterval(), logger.New("governor")),
		Rails:       railConfigs(),
		ChargerLine: chargerLine(),

		DiscoveryBackoff:  cfg.Discovery.Backoff(),
		DiscoveryAttempts: cfg.Discovery.MaxAttempts,
		Logger:            logger.New("monitor"),
	})
	if err != nil {
		closeAndLog("irq", lines.Close)
		closeAndLog("bus", transport.Close)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := mon.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start monitor")
		cancel()
	}
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	return mon.Stop(stopCtx)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func closeAndLog(name string, fn func() error) {
	if err := fn(); err != nil {
		logger.Error().Err(err).Str("component", name).Msg("Failed to close")
	}
}

func historyConfig() history.Config {
	hc := history.DefaultConfig()
	hc.Enabled = cfg.History.Enabled
	if cfg.History.DBPath != "" {
		hc.DBPath = cfg.History.DBPath
	}
	hc.BackupDir = cfg.History.BackupDir
	if cfg.History.BatchSize > 0 {
		hc.BatchSize = cfg.History.BatchSize
	}
	if cfg.History.BatchTimeoutMs > 0 {
		hc.BatchTimeout = cfg.History.BatchTimeout()
	}
	return hc
}

// registerFile maps the SoC registers when throttling is enabled and
// falls back to an in-memory file otherwise.
func registerFile() (sysreg.File, error) {
	if !cfg.Throttle.Enabled {
		return sysreg.NewMemory(), nil
	}
	mem, err := sysreg.OpenDevMem(cfg.Throttle.DevMem)
	if err != nil {
		return nil, err
	}
	return mem, nil
}

func railConfigs() map[rail.ID]monitor.RailConfig {
	out := make(map[rail.ID]monitor.RailConfig)
	for id, rc := range cfg.RailOptions() {
		mc := monitor.RailConfig{
			InitialThreshold: rc.InitialThreshold,
			DebounceWindow:   rc.DebounceWindow(),
			HysteresisMargin: rc.HysteresisMargin,
			PollInterval:     rc.PollingInterval(),
		}
		if rc.Line != nil {
			mc.Line = &irq.Line{Offset: *rc.Line, ActiveLow: rc.ActiveLow}
		}
		out[id] = mc
	}
	return out
}

func chargerLine() *irq.Line {
	if cfg.GPIO.ChargerLine < 0 {
		return nil
	}
	return &irq.Line{Offset: cfg.GPIO.ChargerLine, ActiveLow: cfg.GPIO.ChargerActiveLow}
}
