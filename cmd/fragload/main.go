// Command fragload loads shared page fragments into HTML pages, either once
// to produce static files (assemble) or on every request (serve).
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"

	"impractical.co/fragments"
)

type envKey struct{}

// env is what every subcommand needs, prepared once the command line has
// been parsed.
type env struct {
	cfg *fragments.Config
	log *slog.Logger
}

func envFromContext(ctx context.Context) *env {
	if e, ok := ctx.Value(envKey{}).(*env); ok {
		return e
	}
	return &env{log: slog.New(slog.NewTextHandler(os.Stderr, nil))}
}

// initializeAppContext loads the environment file and configuration and
// prepares logging, before any subcommand runs.
func initializeAppContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if envFile := cmd.String("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return ctx, fmt.Errorf("unable to load environment file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ctx, fmt.Errorf("unable to load .env: %w", err)
	}

	cfg, err := fragments.LoadConfig(cmd.String("config"))
	if err != nil {
		return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.LogLevel = level
		if err := cfg.Validate(); err != nil {
			return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
		}
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	log.Debug("Program started", "args", os.Args)
	if cmd.String("config") == "" {
		log.Debug("Using defaults (no configuration file)")
	}

	ctx = context.WithValue(ctx, envKey{}, &env{cfg: cfg, log: log})
	return fragments.LoggingContext(ctx, log), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	app := &cli.Command{
		Name:            "fragload",
		Usage:           "loads shared header and footer fragments into HTML pages",
		HideHelpCommand: true,
		Before:          initializeAppContext,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "load configuration from `FILE` (YAML)", Sources: cli.EnvVars("FRAGLOAD_CONFIG")},
			&cli.StringFlag{Name: "env-file", Usage: "load environment variables from `FILE` instead of .env"},
			&cli.StringFlag{Name: "log-level", Usage: "override the configured log `LEVEL` (debug, info, warn, error)", Sources: cli.EnvVars("FRAGLOAD_LOG_LEVEL")},
		},
		Commands: []*cli.Command{
			{
				Name:      "assemble",
				Usage:     "Loads fragments into page file(s) and writes the resulting HTML",
				Action:    runAssemble,
				ArgsUsage: "PAGE...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source-dir", Usage: "read fragments from `DIR` instead of the directory of each page (ignored when base_url is set)"},
					&cli.StringFlag{Name: "base-url", Usage: "fetch fragments from `URL`, overrides base_url", Sources: cli.EnvVars("FRAGLOAD_BASE_URL")},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write assembled pages to `DIR` instead of STDOUT"},
					&cli.StringFlag{Name: "location", Usage: "treat every page as viewed at `PATH` (default: /<page file name>)"},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serves pages over HTTP, loading fragments into each one on request",
				Action: runServe,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "listen on `ADDR`", Sources: cli.EnvVars("FRAGLOAD_ADDR")},
					&cli.StringFlag{Name: "pages", Value: ".", Usage: "serve pages from `DIR`"},
					&cli.StringFlag{Name: "base-url", Usage: "fetch fragments from `URL`, overrides base_url", Sources: cli.EnvVars("FRAGLOAD_BASE_URL")},
				},
			},
			{
				Name:      "dumpconfig",
				Usage:     "Dumps either default or actual configuration (YAML)",
				Action:    outputConfiguration,
				ArgsUsage: "DESTINATION",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "default", Usage: "output default embedded configuration"},
				},
			},
		},
	}

	err := app.Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Program ended with error: %v\n", err)
		os.Exit(1)
	}
}

func outputConfiguration(ctx context.Context, cmd *cli.Command) error {
	e := envFromContext(ctx)
	if cmd.Args().Len() > 1 {
		e.log.Warn("Malformed command line, too many destinations", "ignoring", cmd.Args().Slice()[1:])
	}

	var (
		data []byte
		err  error
	)
	if cmd.Bool("default") {
		data = fragments.DefaultConfig()
	} else if data, err = e.cfg.Dump(); err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}

	fname := cmd.Args().Get(0)
	if fname == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(fname, data, 0o644); err != nil {
		return fmt.Errorf("unable to write configuration to '%s': %w", fname, err)
	}
	return nil
}
