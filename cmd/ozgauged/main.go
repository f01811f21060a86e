package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"ozgauge/internal/bq25895"
	"ozgauge/internal/config"
	"ozgauge/internal/gauge"
	"ozgauge/internal/oz8806"
	"ozgauge/internal/profile"
	"ozgauge/internal/server"
	"ozgauge/internal/sleepwatch"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting ozgauged...")

	cfg := config.Load()
	prof, err := profile.Load(cfg.Profile)
	if err != nil {
		log.Fatalf("Failed to load battery profile: %v", err)
	}
	if cfg.PollInterval > 0 {
		prof.Interval = cfg.PollInterval
	}
	if cfg.FastPollInterval > 0 {
		prof.FastInterval = cfg.FastPollInterval
	}

	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		log.Fatalf("failed to open I2C: %v", err)
	}
	defer bus.Close()

	oz, err := oz8806.NewOZ8806(bus, &oz8806.Opts{
		SenseResistor: physic.ElectricResistance(cfg.SenseMilliOhm) * physic.MilliOhm,
		Attempts:      oz8806.DefaultOpts.Attempts,
		RetryDelay:    oz8806.DefaultOpts.RetryDelay,
	})
	if err != nil {
		log.Fatalf("Failed to set up OZ8806: %v", err)
	}
	// The gauge keeps retrying initialization, so a missing chip is not fatal.
	if err := oz.Init(); err != nil {
		log.Printf("OZ8806 not answering yet: %v", err)
	}

	opts := []gauge.Option{gauge.WithLogger(log.Default())}

	var charger server.ChargerClient
	if cfg.Charger {
		bq, err := bq25895.NewBQ25895(bus, nil)
		if err != nil {
			log.Printf("Failed to init BQ25895: %v", err)
		} else {
			if err := bq.Init(cfg.InputLimit); err != nil {
				log.Printf("Failed to configure BQ25895: %v", err)
			}
			charger = bq
			opts = append(opts, gauge.WithCharger(gauge.ChargerFunc(func() (gauge.ChargerState, error) {
				pg, done, err := bq.Supply()
				return gauge.ChargerState{AdapterPresent: pg, ChargeDone: done}, err
			})))
		}
	}

	watchdog, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Printf("Ignoring systemd watchdog settings: %v", err)
	}
	if watchdog > 0 {
		log.Printf("systemd watchdog every %s", watchdog)
		opts = append(opts, gauge.WithTickHook(func(s gauge.Snapshot) {
			if s.Initialized {
				daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}))
	}

	g, err := gauge.New(oz, prof, opts...)
	if err != nil {
		log.Fatalf("Invalid gauge configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gaugeDone := make(chan struct{})
	go func() {
		defer close(gaugeDone)
		if err := g.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Gauge loop stopped: %v", err)
		}
	}()

	if cfg.SleepWatch {
		w, err := sleepwatch.New(g, log.Default())
		if err != nil {
			log.Printf("Sleep watcher disabled: %v", err)
		} else {
			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("Sleep watcher stopped: %v", err)
				}
			}()
		}
	}

	log.Printf("Hardware Initialized: OZ8806 (Addr: 0x%X, Rsense %d mOhm), BQ25895 (Addr: 0x%X, enabled %t)",
		oz8806.Addr, cfg.SenseMilliOhm, bq25895.Addr, charger != nil)
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := server.Run(ctx, cfg.Addr, server.New(g, charger)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	<-gaugeDone
	log.Println("ozgauged stopped")
}
