// Package main is the entry point for the replanner CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/limiquantix/replanner/internal/config"
	"github.com/limiquantix/replanner/internal/driver"
	"github.com/limiquantix/replanner/internal/plan"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	app = kingpin.New("replanner", "Plan and execute cluster reconfigurations")

	configPath = app.Flag("config", "path to the config file (set $REPLANNER_CONFIG to override)").
			Short('c').
			Envar("REPLANNER_CONFIG").
			String()

	planCmd      = app.Command("plan", "compute a reconfiguration plan")
	planScenario = planCmd.Arg("scenario", "YAML scenario").Required().ExistingFile()
	planJSON     = planCmd.Flag("json", "print the plan record as JSON").Short('j').Bool()

	applyCmd      = app.Command("apply", "compute a reconfiguration plan and execute it")
	applyScenario = applyCmd.Arg("scenario", "YAML scenario").Required().ExistingFile()
	applyDryRun   = applyCmd.Flag("dry-run", "only wait for the scheduled durations").Bool()
	applyServe    = applyCmd.Flag("serve", "keep the status server up after the execution").Bool()

	versionCmd = app.Command("version", "show version information")
)

func main() {
	app.Version(version)
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if cmd == versionCmd.FullCommand() {
		fmt.Println("replanner")
		fmt.Println("Version:", version)
		fmt.Println("Commit:", commit)
		fmt.Println("Build Date:", buildDate)
		return
	}

	cfg, err := config.Load(*configPath)
	app.FatalIfError(err, "Failed to load config")

	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal", zap.String("signal", sig.String()))
		cancel()
	}()

	switch cmd {
	case planCmd.FullCommand():
		err = runPlan(ctx, cfg, logger, *planScenario, *planJSON)
	case applyCmd.FullCommand():
		if *applyDryRun {
			cfg.Drivers.Mode = driver.ModeDryRun
		}
		err = runApply(ctx, cfg, logger, *applyScenario, *applyServe)
	}
	if err != nil {
		logger.Error("Command failed", zap.String("command", cmd), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func runPlan(ctx context.Context, cfg *config.Config, logger *zap.Logger, scenarioPath string, asJSON bool) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	rp, err := a.compute(ctx, scenarioPath)
	if err != nil {
		return err
	}

	if asJSON {
		rec, err := rp.Record()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	g, err := rp.Graph()
	if err != nil {
		return err
	}
	fmt.Print(rp.String())
	fmt.Println()
	fmt.Print(plan.FormatAgenda(g.Agenda()))
	return nil
}

// setupLogger configures the zap logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}

	return logger
}
