package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"nmfstore/internal/config"
	"nmfstore/internal/constants"
	"nmfstore/internal/jobs"
	"nmfstore/internal/registry"
	"nmfstore/internal/storage"
)

// Global debug flag
var debugMode bool

// debugPrint prints debug messages only when debug mode is enabled
func debugPrint(format string, args ...interface{}) {
	if debugMode {
		logrus.Debugf(format, args...)
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "usage: %s [-d] [-config file] <command> [args]\n\ncommands:\n", constants.ApplicationName)
	for _, c := range commandTable {
		fmt.Fprintf(out, "  %-8s %s\n", c.name, c.help)
	}
	fmt.Fprintln(out, "\nflags:")
	flag.PrintDefaults()
}

func main() {
	var configPath string
	flag.BoolVar(&debugMode, "d", false, "Enable debug mode")
	flag.StringVar(&configPath, "config", "", "Configuration file (default: OS config dir)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	configManager := config.NewManager()
	if configPath != "" {
		configManager = config.NewManagerAt(configPath)
	}
	cfg, err := configManager.Load()
	if err != nil {
		logrus.Fatalf("Error loading configuration: %v", err)
	}

	logrus.SetOutput(os.Stderr)
	if lvl, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logrus.SetLevel(lvl)
	}
	if debugMode {
		logrus.SetLevel(logrus.DebugLevel)
	}
	storage.SetLogger(logrus.StandardLogger())
	jobs.SetDebug(debugPrint)

	reg, err := registry.New(cfg, configManager.Path(), registry.WithPrompt(termPrompt(os.Stdin, os.Stderr)))
	if err != nil {
		logrus.Fatalf("Error initializing storage: %v", err)
	}
	jm := jobs.NewManager(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	c := &cli{
		reg:    reg,
		jobs:   jm,
		cfg:    cfg,
		config: configManager,
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	err = c.run(ctx, flag.Args())
	stop()
	jm.Close()
	if cerr := reg.Close(); cerr != nil {
		debugPrint("registry close: %v", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", constants.ApplicationName, err)
		os.Exit(1)
	}
}
