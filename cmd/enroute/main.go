// cmd/enroute/main.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

// This file contains main(), which sets up logging, the configuration and
// the data directory and then runs a single command on the flight route
// or the installed maps.

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmp/enroute/datamanager"
	"github.com/mmp/enroute/download"
	"github.com/mmp/enroute/geomaps"
	"github.com/mmp/enroute/log"
	"github.com/mmp/enroute/navigation"
	"github.com/mmp/enroute/util"

	"github.com/apenwarr/fixconsole"
	"github.com/goforj/godump"
)

var (
	logLevel    = flag.String("loglevel", "info", "logging level: debug, info, warn, error")
	logDir      = flag.String("logdir", "", "log file directory")
	dataDirFlag = flag.String("datadir", "", "directory for maps and the flight route (overrides the saved setting)")
	indexURL    = flag.String("index", "", "maps index: URL of maps.json, or a gs:// or s3:// bucket prefix")
	ignoreSSL   = flag.Bool("ignoressl", false, "accept invalid certificates when downloading")
	timeout     = flag.Duration("timeout", 10*time.Minute, "time limit for network operations")
	dumpState   = flag.Bool("dump", false, "dump the configuration and the flight route after running the command")
	saveConfig  = flag.Bool("save", false, "save -datadir, -index and -ignoressl to the configuration")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: enroute [flags] command [arguments]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %-28s %s\n", c.name, c.args, c.help)
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if err := fixconsole.FixConsoleIfNeeded(); err != nil {
		fmt.Printf("FixConsole: %v\n", err)
	}

	os.Exit(run())
}

func run() int {
	// Initialize the logging system first and foremost.
	lg := log.New(*logLevel, *logDir)
	defer lg.CatchAndReportCrash()

	if flag.NArg() == 0 {
		usage()
		return 2
	}
	cmd, ok := lookupCommand(flag.Arg(0))
	if !ok {
		fmt.Fprintf(os.Stderr, "%s: unknown command\n", flag.Arg(0))
		usage()
		return 2
	}
	args := flag.Args()[1:]
	if len(args) < cmd.minArgs || (cmd.maxArgs >= 0 && len(args) > cmd.maxArgs) {
		fmt.Fprintf(os.Stderr, "usage: enroute %s %s\n", cmd.name, cmd.args)
		return 2
	}

	config, configErr := LoadOrMakeDefaultConfig(lg)
	if configErr != nil {
		fmt.Fprintf(os.Stderr, "Saved configuration file is corrupt. Discarding. (%v)\n", configErr)
	}
	effective := *config
	applyFlags(&effective)
	if *saveConfig {
		config = &effective
		if err := config.Save(lg); err != nil {
			lg.Errorf("%v", err)
		}
	}

	a, err := newApp(config, &effective, cmd.name == "watch", lg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if cmd.network {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, *timeout)
		defer tcancel()
	}

	lg.Info("running command", slog.String("command", cmd.name), slog.Any("args", args))
	err = cmd.run(a, ctx, args)
	a.reportEvents()

	if *dumpState {
		godump.Dump(a.config)
		godump.Dump(a.route.Waypoints())
	}

	if err != nil {
		lg.Error("command failed", slog.String("command", cmd.name), slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func applyFlags(config *Config) {
	if *dataDirFlag != "" {
		config.DataDir = *dataDirFlag
	}
	if *indexURL != "" {
		config.MapsIndexURL = *indexURL
	}
	if *ignoreSSL {
		config.IgnoreSSLProblems = true
	}
}

// app holds everything a command may work with.
type app struct {
	// config is what gets saved; command line flags only apply to the
	// current run.
	config *Config
	lg     *log.Logger

	events *util.EventStream
	sub    *util.EventsSubscription
	temps  *util.TempFileRegistry
	client *download.Client

	maps     *datamanager.Manager
	library  *geomaps.WaypointLibrary
	aircraft *navigation.Aircraft
	wind     *navigation.Wind
	route    *navigation.FlightRoute
}

func newApp(config, effective *Config, autoUpdate bool, lg *log.Logger) (*app, error) {
	a := &app{
		config: config,
		lg:     lg,
		events: util.NewEventStream(lg),
		temps:  util.MakeTempFileRegistry(lg),
	}
	a.sub = a.events.Subscribe()

	dataDir := effective.dataDir(lg)
	a.client = download.NewClient(effective.IgnoreSSLProblems, lg)

	var err error
	a.maps, err = datamanager.New(datamanager.Options{
		DataDir:    dataDir,
		IndexURL:   effective.MapsIndexURL,
		AutoUpdate: autoUpdate,
		Client:     a.client,
		TempFiles:  a.temps,
		Events:     a.events,
		Logger:     lg,
	})
	if err != nil {
		a.client.Close()
		return nil, err
	}
	a.library = geomaps.NewWaypointLibrary(a.maps.AviationMaps, a.events, lg)

	a.aircraft = navigation.NewAircraft(config.Aircraft)
	a.wind = navigation.NewWind(config.Wind)
	a.route = navigation.NewFlightRoute(a.aircraft, a.wind, a.events, lg)

	routeFile := navigation.StdFilePath(dataDir)
	if _, err := os.Stat(routeFile); err == nil {
		if err := a.route.LoadFromGeoJSON(routeFile); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
	a.route.PersistTo(routeFile)

	// Aircraft and wind changes go straight to the saved configuration.
	a.aircraft.Changed.Connect(func() { a.saveSettings() })
	a.wind.Changed.Connect(func() { a.saveSettings() })

	return a, nil
}

func (a *app) saveSettings() {
	a.config.Aircraft = a.aircraft.Settings()
	a.config.Wind = a.wind.Settings()
	if err := a.config.Save(a.lg); err != nil {
		a.lg.Errorf("unable to save config: %v", err)
	}
}

// loadMaps makes sure that the maps index is present and read. The
// waypoint library is built from the installed aviation maps.
func (a *app) loadMaps(ctx context.Context) error {
	if !a.maps.Index().HasFile() {
		fmt.Println("Downloading list of maps...")
		if err := a.maps.UpdateIndex(ctx); err != nil {
			return fmt.Errorf("unable to download list of maps: %w", err)
		}
	} else {
		a.maps.Start()
	}
	return a.library.Rebuild(ctx)
}

// reportEvents prints the events that the user should know about.
func (a *app) reportEvents() {
	for _, e := range a.sub.Get() {
		switch e.Type {
		case util.DownloadErrorEvent, util.StatusMessageEvent, util.UpdatesAvailableEvent:
			fmt.Fprintln(os.Stderr, e.String())
		default:
			a.lg.Debug("event", slog.Any("event", e))
		}
	}
}

func (a *app) Close() {
	a.route.Close()
	a.library.Close()
	a.maps.Close()
	a.client.Close()
	a.sub.Unsubscribe()
	a.events.Destroy()
	a.temps.RemoveAll()
}
