package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"rollcall/api"
	"rollcall/attendance"
	"rollcall/attendance/memstore"
	"rollcall/attendance/sqlstore"
	"rollcall/bridge"
	"rollcall/eventpipe"
	"rollcall/indicator"
	"rollcall/monitor"
	"rollcall/mqtt"
	"rollcall/redispub"
	"rollcall/scanner"
	"rollcall/serialport"
)

var myBuild string

// App holds the application state and dependencies.
type App struct {
	cfg *Config
	log *logrus.Logger

	bridge     *bridge.Manager
	sim        *serialport.Simulated
	attendance *attendance.Service
	store      *sqlstore.Store
	server     *api.Server
	mqtt       *mqtt.Client
	redis      *redispub.Publisher
	indicator  indicator.Indicator
	scanner    *scanner.Scanner
	pipe       *eventpipe.EventPipe

	events chan bridge.Event

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	fmt.Printf("rollcall build %s\n", myBuild)

	cfgfile := flag.String("cfg", "rollcall.yaml", "Config file (empty for defaults)")
	envfile := flag.String("env", ".env", "Environment file loaded before overrides")
	flag.Parse()

	cfg, err := LoadConfig(*cfgfile, *envfile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		cfg:    &cfg,
		log:    log,
		events: make(chan bridge.Event, 256),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.setup(); err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	app.start()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	log.WithField("signal", sig.String()).Info("shutting down")
	app.shutdown()
	log.Info("shutdown complete")
}

func (app *App) setup() error {
	cfg := app.cfg
	var err error

	monitor.NewMonitor(app.log).StartRuntimeMonitor(app.ctx.Done())

	// Initialize indicator (LEDs, neopixels)
	app.indicator, err = indicator.New(cfg.Indicator)
	if err != nil {
		return fmt.Errorf("init indicator: %w", err)
	}
	app.indicator.ConnectionLost() // until the reader reports in

	if err := app.setupAttendance(); err != nil {
		return err
	}

	if cfg.Bridge.Enabled {
		if err := app.setupBridge(); err != nil {
			return err
		}
	} else {
		app.log.Warn("reader disabled by configuration")
	}

	app.mqtt, err = mqtt.New(cfg.MQTT, mqtt.Handlers{
		OnConnect:    app.onMQTTConnect,
		OnDisconnect: app.onMQTTDisconnect,
		OnMessage:    app.onMQTTMessage,
	}, app.log)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}

	if cfg.Redis.Addr != "" {
		app.redis, err = redispub.New(app.ctx, cfg.Redis, app.log)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
	}

	app.scanner, err = scanner.New(cfg.Scanner, app.log)
	if err != nil {
		return fmt.Errorf("init scanner: %w", err)
	}

	if cfg.EventPipe.Path != "" {
		if app.sim == nil {
			app.log.Warn("eventpipe requires the simulated serial driver; ignoring")
		} else {
			app.pipe, err = eventpipe.New(cfg.EventPipe, app.sim.Inject, app.log)
			if err != nil {
				return fmt.Errorf("init eventpipe: %w", err)
			}
		}
	}

	opts := api.Options{
		Address:        cfg.HTTP.Address,
		Debug:          cfg.HTTP.Debug,
		DisableReqLogs: cfg.HTTP.DisableRequestLogs,
		ConnectTimeout: cfg.HTTP.ConnectTimeout,
		Attendance:     app.attendance,
		Log:            app.log,
	}
	if app.bridge != nil {
		opts.Bridge = app.bridge
	}
	app.server = api.NewServer(opts)
	return nil
}

func (app *App) setupAttendance() error {
	cfg := app.cfg.Database

	loc := time.Local
	if app.cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(app.cfg.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}

	var repo attendance.Repository
	switch cfg.Driver {
	case "", "memory":
		repo = memstore.New()
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
		ctx, cancel := context.WithTimeout(app.ctx, 30*time.Second)
		defer cancel()
		store, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return fmt.Errorf("open attendance store: %w", err)
		}
		app.store = store
		repo = store
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	app.attendance = attendance.NewService(repo, loc, app.log)

	if cfg.Roster != "" {
		students, err := attendance.LoadRoster(cfg.Roster)
		if err != nil {
			return fmt.Errorf("load roster: %w", err)
		}
		if err := app.attendance.Import(app.ctx, students); err != nil {
			return fmt.Errorf("import roster: %w", err)
		}
		app.log.WithField("students", len(students)).Info("roster loaded")
	}
	return nil
}

func (app *App) setupBridge() error {
	cfg := app.cfg.Bridge

	if cfg.Driver == serialport.DriverSimulated {
		app.sim = serialport.NewSimulated()
	}
	open, err := serialport.NewOpener(cfg.Driver, app.sim)
	if err != nil {
		return fmt.Errorf("init serial: %w", err)
	}

	app.bridge = bridge.New(cfg.Config, open, app.log)
	app.bridge.Subscribe(func(ev bridge.Event) {
		select {
		case app.events <- ev:
		default:
			app.log.WithField("type", ev.Type).Warn("event fan-out backlog full, dropping event")
		}
	})
	return nil
}

func (app *App) start() {
	if app.bridge != nil {
		go func() {
			if err := app.bridge.Run(app.ctx); err != nil && err != context.Canceled {
				app.log.WithError(err).Error("bridge stopped")
			}
		}()
		go app.forwardEvents()

		if app.cfg.Bridge.AutoConnect {
			go app.autoConnect()
		}
	}

	go func() {
		if err := app.mqtt.Connect(); err != nil {
			app.log.WithError(err).Warn("mqtt connect")
		}
	}()

	if app.scanner != nil {
		go app.scanListener()
	}
	if app.pipe != nil {
		go app.pipe.Start()
	}

	go func() {
		if err := app.server.Start(); err != nil {
			app.log.WithError(err).Fatal("http server")
		}
	}()
}

func (app *App) autoConnect() {
	ctx, cancel := context.WithTimeout(app.ctx, app.cfg.HTTP.ConnectTimeout)
	defer cancel()

	err := app.bridge.Connect(ctx, app.cfg.Bridge.Port, app.cfg.Bridge.BaudRate, app.cfg.Bridge.PageID)
	if err != nil {
		app.log.WithError(err).Warn("auto-connect failed; waiting for a page to connect")
	}
}

func (app *App) shutdown() {
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	if err := app.server.Stop(stopCtx); err != nil {
		app.log.WithError(err).Warn("http shutdown")
	}

	if app.bridge != nil {
		if err := app.bridge.Disconnect(stopCtx); err != nil {
			app.log.WithError(err).Debug("bridge disconnect")
		}
	}
	app.cancel()
	if app.bridge != nil {
		<-app.bridge.Done()
	}

	app.mqtt.Disconnect()
	if app.redis != nil {
		app.redis.Close()
	}
	if app.scanner != nil {
		app.scanner.Close()
	}
	if app.pipe != nil {
		app.pipe.Close()
	}
	if app.store != nil {
		app.store.Close()
	}

	app.indicator.Shutdown()
	app.indicator.Release()
}
