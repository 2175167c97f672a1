package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"connscope/pkg/config"
	"connscope/pkg/dashboard"
	"connscope/pkg/detect"
	"connscope/pkg/ingest"
	"connscope/pkg/report"
)

const version = "0.1.0"

var (
	configFlag = cli.StringFlag{
		Name:  "config, c",
		Usage: "Path to configuration file",
	}
	inputFlag = cli.StringSliceFlag{
		Name:  "input, i",
		Usage: "Conn log file or directory to analyze (overrides config)",
	}
	exportFlag = cli.StringFlag{
		Name:  "export, o",
		Usage: "Export matched records as JSON lines into this directory",
	}
	listenFlag = cli.StringFlag{
		Name:  "listen, l",
		Usage: "Listen address for the report viewer (overrides config)",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "connscope"
	app.Usage = "Flag suspicious connections in captured Zeek conn logs"
	app.Version = version
	app.Commands = []cli.Command{
		{
			Name:   "analyze",
			Usage:  "Evaluate a batch of conn logs and print per-rule match counts",
			Flags:  []cli.Flag{configFlag, inputFlag, exportFlag},
			Action: analyze,
		},
		{
			Name:   "serve",
			Usage:  "Evaluate a batch of conn logs and serve the report over HTTP",
			Flags:  []cli.Flag{configFlag, inputFlag, listenFlag},
			Action: serve,
		},
		{
			Name:  "config",
			Usage: "Configuration helpers",
			Subcommands: []cli.Command{
				{
					Name:      "init",
					Usage:     "Write the default configuration to a file",
					ArgsUsage: "<path>",
					Action:    configInit,
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runBatch performs one ingest + evaluate pass and returns the finished report.
func runBatch(c *cli.Context) (*report.Report, *config.Config, *log.Logger, error) {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, nil, nil, cli.NewExitError(err.Error(), 1)
	}

	if inputs := c.StringSlice("input"); len(inputs) > 0 {
		cfg.Ingest.Paths = inputs
	}
	if len(cfg.Ingest.Paths) == 0 {
		return nil, nil, nil, cli.NewExitError("no input paths: pass --input or set ingest.paths in the config", 1)
	}

	logger := newLogger(cfg.Logging)

	engine, err := detect.NewEngine(cfg.Detection)
	if err != nil {
		return nil, nil, nil, cli.NewExitError(err.Error(), 1)
	}

	files := ingest.GatherLogFiles(cfg.Ingest.Paths, logger)
	if len(files) == 0 {
		return nil, nil, nil, cli.NewExitError("no .log or .gz files found under the input paths", 1)
	}

	reader := ingest.NewReader(cfg.Ingest, logger)
	records, err := reader.ReadFiles(files)
	if err != nil {
		return nil, nil, nil, cli.NewExitError(err.Error(), 1)
	}
	logger.WithFields(log.Fields{
		"records": len(records),
		"files":   len(files),
	}).Info("Ingested conn log batch")

	start := time.Now()
	anomalies := engine.Evaluate(records)
	elapsed := time.Since(start)

	for _, result := range anomalies.Results {
		if result.Err != nil {
			logger.WithFields(log.Fields{
				"rule":  result.Rule.String(),
				"error": result.Err.Error(),
			}).Error("Rule evaluation failed")
		}
	}

	rep := report.New(anomalies, records, report.Meta{
		SourceFiles: files,
		Elapsed:     elapsed,
	})
	return rep, cfg, logger, nil
}

func analyze(c *cli.Context) error {
	rep, cfg, logger, err := runBatch(c)
	if err != nil {
		return err
	}

	rep.Summarize(os.Stdout)

	if dir := c.String("export"); dir != "" {
		cfg.Report.ExportDir = dir
		cfg.Report.ExportEnable = true
	}
	if cfg.Report.ExportEnable {
		exporter := report.NewExporter(cfg.Report.ExportDir, logger)
		if err := exporter.Export(rep); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
	}

	return nil
}

func serve(c *cli.Context) error {
	rep, cfg, logger, err := runBatch(c)
	if err != nil {
		return err
	}

	if addr := c.String("listen"); addr != "" {
		cfg.Viewer.ListenAddr = addr
	}

	rep.Summarize(os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	viewer, err := dashboard.New(cfg, rep, logger)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if err := viewer.Start(ctx); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	logger.WithField("addr", cfg.Viewer.ListenAddr).Info("Report viewer running, press Ctrl+C to stop")
	<-sigChan
	logger.Info("Shutting down")

	cancel()
	if err := viewer.Stop(); err != nil {
		logger.WithError(err).Error("Error stopping report viewer")
	}
	return nil
}

func configInit(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.NewExitError("specify an output path for the config file", 1)
	}
	if err := config.DefaultConfig().SaveToFile(path); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}

// loadConfig loads configuration from file or returns the defaults
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return cfg, nil
}

// newLogger builds the process logger from config
func newLogger(cfg config.LoggingConfig) *log.Logger {
	logger := log.New()

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	return logger
}
