package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"

	"impractical.co/fragments"
)

// assembler loads fragments into page files, once per page.
type assembler struct {
	cfg *fragments.Config
	log *slog.Logger

	// sourceDir is where fragments are read from when there's no base
	// URL; empty means the directory of each page.
	sourceDir string

	// outDir receives the assembled pages; empty means stdout.
	outDir string

	// location overrides the location every page is viewed at; empty
	// means /<page file name>.
	location string

	stdout io.Writer
}

func runAssemble(ctx context.Context, cmd *cli.Command) error {
	e := envFromContext(ctx)
	if cmd.NArg() == 0 {
		return errors.New("no pages to assemble")
	}
	if err := applyBaseURL(e.cfg, cmd.String("base-url")); err != nil {
		return err
	}
	a := &assembler{
		cfg:       e.cfg,
		log:       e.log,
		sourceDir: cmd.String("source-dir"),
		outDir:    cmd.String("out"),
		location:  cmd.String("location"),
		stdout:    os.Stdout,
	}
	return a.assemble(ctx, cmd.Args().Slice())
}

// assemble assembles every page, reporting the errors of all the pages that
// failed.
func (a *assembler) assemble(ctx context.Context, pages []string) error {
	if a.outDir != "" {
		if err := os.MkdirAll(a.outDir, 0o755); err != nil {
			return fmt.Errorf("unable to create output directory '%s': %w", a.outDir, err)
		}
	}

	var err error
	for _, page := range pages {
		if er := a.assemblePage(ctx, page); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to assemble '%s': %w", page, er))
		}
	}
	return err
}

func (a *assembler) assemblePage(ctx context.Context, page string) error {
	location := a.location
	if location == "" {
		location = "/" + filepath.Base(page)
	}

	src, err := os.ReadFile(page)
	if err != nil {
		return err
	}
	doc, err := fragments.ParseDocument(bytes.NewReader(src), location)
	if err != nil {
		return err
	}

	sourceDir := a.sourceDir
	if sourceDir == "" {
		sourceDir = filepath.Dir(page)
	}
	fetcher, err := a.cfg.Fetcher(os.DirFS(sourceDir))
	if err != nil {
		return err
	}

	// every page is its own page view, so every page gets a fresh Loader
	// and with it a fresh cache
	loader := fragments.NewLoader(fetcher, a.cfg.LoaderOptions()...)
	if !fragments.Bootstrap(ctx, doc, loader) {
		a.log.Info("No fragment containers found, copying page as is", "page", page)
	}

	if a.outDir == "" {
		return doc.Render(a.stdout)
	}
	dest := filepath.Join(a.outDir, filepath.Base(page))
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if err := doc.Render(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("unable to write '%s': %w", dest, err)
	}
	a.log.Info("Assembled page", "page", page, "destination", dest)
	return nil
}

func applyBaseURL(cfg *fragments.Config, baseURL string) error {
	if baseURL == "" {
		return nil
	}
	cfg.BaseURL = baseURL
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	return nil
}
