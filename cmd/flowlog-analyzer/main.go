package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FlowTagger/internal/alerter"
	"FlowTagger/internal/config"
	"FlowTagger/internal/engine/manager"
	"FlowTagger/internal/factory"
	"FlowTagger/internal/model"
	"FlowTagger/internal/notification"
	"FlowTagger/internal/report"
	_ "FlowTagger/internal/store"

	"github.com/urfave/cli/v2"
)

const argsUsage = "<flow_log> <lookup_table> <output>"

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:            "flowlog-analyzer",
		Usage:           "tag flow log records and count tags and port/protocol combinations",
		ArgsUsage:       argsUsage,
		HideHelpCommand: true,
		Writer:          stdout,
		ErrWriter:       stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "number of parallel workers (default: one per CPU)"},
			&cli.StringFlag{Name: "schema", Usage: "flow log field layout: v2, aws-v2 or legacy"},
			&cli.StringFlag{Name: "order", Usage: "report row order: count or key"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "suppress progress logging"},
		},
		Action: analyzeAction,
		// Errors are reported by main, never by exiting inside the library.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func analyzeAction(c *cli.Context) error {
	if c.NArg() != 3 {
		return fmt.Errorf("expected 3 arguments %s, got %d", argsUsage, c.NArg())
	}
	flowLogPath, lookupPath, outputPath := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)

	if c.Bool("quiet") {
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(c.App.ErrWriter)
	}
	started := time.Now()

	// 1. Load configuration
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	// 2. Create the writers before doing any work
	extra, err := factory.CreateWriters(cfg)
	if err != nil {
		return err
	}
	writers := append([]model.Writer{report.NewTextWriter(outputPath, cfg.Report.Order)}, extra...)
	defer func() {
		if err := report.CloseAll(writers); err != nil {
			log.Printf("Failed to close writers: %v", err)
		}
	}()

	// 3. Run the pipeline
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	result, err := manager.AnalyzeFiles(ctx, cfg.Pipeline, flowLogPath, lookupPath)
	if err != nil {
		return err
	}

	// 4. Write every output
	if err := report.WriteAll(writers, result, report.Timestamp(started)); err != nil {
		return err
	}

	// 5. Alert on the run's diagnostics
	if cfg.Alerter.Enabled {
		if err := runAlerter(cfg, flowLogPath, result); err != nil {
			log.Printf("Alerting failed: %v", err)
		}
	}

	fmt.Fprintf(c.App.Writer, "Processed %d records (%d malformed lines, %d invalid lookup rows) in %d chunks in %s. Report written to %s\n",
		result.Records, result.MalformedTotal(), result.Lookup.InvalidRows, result.Chunks,
		time.Since(started).Round(time.Millisecond), outputPath)
	if result.Incomplete {
		fmt.Fprintf(c.App.ErrWriter, "Warning: %d chunk(s) failed and were skipped; counts are incomplete.\n", len(result.FailedChunks))
	}
	return nil
}

// loadConfig reads the config file if one is given and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("workers") {
		if c.Int("workers") <= 0 {
			return nil, errors.New("--workers must be a positive number")
		}
		cfg.Pipeline.NumWorkers = c.Int("workers")
	}
	if c.IsSet("schema") {
		cfg.Pipeline.Schema = c.String("schema")
	}
	if c.IsSet("order") {
		cfg.Report.Order = c.String("order")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runAlerter(cfg *config.Config, source string, result *model.Result) error {
	a, err := alerter.NewAlerter(&cfg.Alerter, notification.New(cfg.SMTP))
	if err != nil {
		return err
	}
	_, err = a.Notify(source, result)
	return err
}
