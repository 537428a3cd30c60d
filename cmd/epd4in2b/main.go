package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"periph.io/x/conn/v3/physic"

	"epd4in2b/internal/battery"
	"epd4in2b/internal/capture"
	"epd4in2b/internal/config"
	"epd4in2b/internal/convert"
	"epd4in2b/internal/display"
	"epd4in2b/internal/epd"
	appLog "epd4in2b/internal/log"
	"epd4in2b/internal/refresh"
	"epd4in2b/internal/web"
)

// flagConfig holds CLI flag values. Non-empty values override the config
// file.
type flagConfig struct {
	configPath string
	image      string
	red        string
	url        string
	text       string
	listen     string
	clear      bool
	once       bool
	dryRun     bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	applyFlags(conf, flags)
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"refresh", conf.RefreshCron,
		"busy_timeout", conf.BusyTimeout,
		"bus", conf.Bus.Driver,
		"revision", conf.Bus.Revision,
		"spi_port", conf.Bus.SPIPort,
		"dither", conf.Source.Dither,
		"fit", conf.Source.Fit,
		"once", flags.once,
		"clear", flags.clear,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("epd4in2b failed", err)
		os.Exit(1)
	}
	appLog.Info("epd4in2b exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	revision, err := epd.ParseRevisionMode(conf.Bus.Revision)
	if err != nil {
		return err
	}
	bus, err := openBus(conf.Bus)
	if err != nil {
		return err
	}
	sess, err := display.New(bus, display.Options{
		BusyTimeout: conf.BusyTimeout,
		Revision:    revision,
		Planes: convert.PlaneOptions{
			Threshold: conf.Source.Threshold,
			Dither:    conf.Source.Dither,
		},
	})
	if err != nil {
		return err
	}

	svc := refresh.New(sess, sourceFor(conf.Source), conf.PreviewPath)
	defer func() {
		// The panel must reach deep sleep even when ctx is already cancelled.
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			appLog.Error("panel close failed", err)
		}
	}()

	if flags.clear {
		if err := svc.Clear(ctx); err != nil {
			return err
		}
		if !flags.once {
			return nil
		}
	}
	if flags.once {
		return svc.Refresh(ctx)
	}

	return daemon(ctx, conf, svc, batteryFor(conf, flags.dryRun))
}

// daemon refreshes on the cron schedule and serves the API until ctx is
// cancelled.
func daemon(ctx context.Context, conf *config.Config, svc *refresh.Service, bat battery.Reader) error {
	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		_ = svc.Refresh(ctx)
	}); err != nil {
		return fmt.Errorf("cron %q: %w", conf.RefreshCron, err)
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()

	go func() {
		_ = svc.Refresh(ctx)
	}()

	if conf.Listen == "" {
		<-ctx.Done()
		return nil
	}
	srv := web.NewServer(ctx, conf, svc, bat)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// cronLogger routes cron's own logging through appLog. Scheduler chatter
// goes to debug.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

func openBus(bc config.BusConfig) (epd.Bus, error) {
	switch bc.Driver {
	case config.DriverSim:
		appLog.Info("using simulated bus; nothing is sent to hardware")
		return epd.NewSimBus(epd.RevisionB), nil
	case config.DriverCgo:
		return epd.NewCBus()
	default:
		return epd.NewPeriphBus(bc.SPIPort, physic.Frequency(bc.SPIHz)*physic.Hertz, epd.PeriphPins{
			RST:  bc.RST,
			DC:   bc.DC,
			CS:   bc.CS,
			Busy: bc.Busy,
		}), nil
	}
}

// sourceFor picks the first configured source: image, then URL, then text.
func sourceFor(sc config.SourceConfig) refresh.Source {
	switch {
	case sc.Image != "":
		return capture.FileSource{Black: sc.Image, Red: sc.RedImage, Fit: sc.Fit}
	case sc.URL != "":
		return capture.URLSource{URL: sc.URL, WaitSelector: sc.WaitSelector}
	case sc.Text != "":
		return capture.TextSource{Text: sc.Text}
	default:
		return nil
	}
}

func batteryFor(conf *config.Config, dryRun bool) battery.Reader {
	if conf.Battery == nil {
		return nil
	}
	if dryRun {
		return battery.Static{Percent: 100}
	}
	const batteryCacheTTL = 30 * time.Second
	return battery.NewCached(battery.NewI2CReader(conf.Battery.I2CBus, conf.Battery.Addr), batteryCacheTTL)
}

// applyFlags lets the command line override the config file. A source
// flag replaces the configured source entirely.
func applyFlags(conf *config.Config, flags flagConfig) {
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.dryRun {
		conf.Bus.Driver = config.DriverSim
	}
	if flags.image != "" || flags.url != "" || flags.text != "" {
		conf.Source.Image = flags.image
		conf.Source.RedImage = flags.red
		conf.Source.URL = flags.url
		conf.Source.Text = flags.text
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epd4in2b/config.yaml", "Path to config file")
	flag.StringVar(&cfg.image, "image", "", "Image file to display (PNG/JPEG)")
	flag.StringVar(&cfg.red, "red", "", "Image file whose dark pixels go to the red plane (with -image)")
	flag.StringVar(&cfg.url, "url", "", "Web page to capture and display")
	flag.StringVar(&cfg.text, "text", "", "Text to display; the first line is drawn in red")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.clear, "clear", false, "Clear the panel to white")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh cycle and exit")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Use a simulated bus; do not touch display hardware")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	if cfg.red != "" && cfg.image == "" {
		fmt.Fprintln(os.Stderr, "-red requires -image")
		os.Exit(2)
	}
	return cfg
}
