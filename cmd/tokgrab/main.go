package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/iconidentify/tokgrab/internal/config"
	"github.com/iconidentify/tokgrab/internal/domain"
	"github.com/iconidentify/tokgrab/internal/downloader"
	"github.com/iconidentify/tokgrab/internal/extractor"
	"github.com/iconidentify/tokgrab/internal/logging"
	"github.com/iconidentify/tokgrab/internal/service"
	"github.com/iconidentify/tokgrab/pkg/tiktok"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	_ = godotenv.Load()

	app := &cli.App{
		Name:  "tokgrab",
		Usage: "inspect and download TikTok videos",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
				Usage: "log `LEVEL` (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "resolve a video and print its metadata",
				ArgsUsage: "URL",
				Action:    func(c *cli.Context) error { return info(ctx, c) },
			},
			{
				Name:      "fetch",
				Usage:     "download a video or its audio track",
				ArgsUsage: "URL",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "video", Usage: "video or audio"},
					&cli.StringFlag{Name: "quality", Aliases: []string{"q"}, Value: "high", Usage: "high or standard"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write to `PATH` (default: derived from the title)"},
				},
				Action: func(c *cli.Context) error { return fetch(ctx, c) },
			},
		},
		HideHelpCommand: true,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type env struct {
	cfg    *config.Config
	chain  *extractor.Chain
	logger *slog.Logger
}

func setup(c *cli.Context) (*env, string, error) {
	rawURL := c.Args().First()
	if !tiktok.Validate(rawURL) {
		return nil, "", cli.Exit(domain.ErrInvalidURL.Error(), 2)
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, "", err
	}
	logger := logging.New(os.Stderr, c.String("log-level"))

	return &env{
		cfg:    cfg,
		chain:  extractor.NewDefaultChain(cfg.Providers, nil, logger),
		logger: logger,
	}, rawURL, nil
}

type infoOutput struct {
	*domain.ExtractionResult
	HumanSizes map[string]string `json:"human_sizes"`
}

func info(ctx context.Context, c *cli.Context) error {
	e, rawURL, err := setup(c)
	if err != nil {
		return err
	}

	res, err := e.chain.Resolve(ctx, rawURL)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(infoOutput{
		ExtractionResult: res,
		HumanSizes: map[string]string{
			"high":     humanize.IBytes(uint64(res.Sizes.High)),
			"standard": humanize.IBytes(uint64(res.Sizes.Standard)),
			"audio":    humanize.IBytes(uint64(res.Sizes.Audio)),
		},
	})
}

func fetch(ctx context.Context, c *cli.Context) error {
	e, rawURL, err := setup(c)
	if err != nil {
		return err
	}
	format, err := domain.ParseFormat(c.String("format"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	quality, err := domain.ParseQuality(c.String("quality"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	res, err := e.chain.Resolve(ctx, rawURL)
	if err != nil {
		return err
	}
	mediaURL := res.MediaURL(format, quality)
	if mediaURL == "" {
		return fmt.Errorf("%w: no %s url", domain.ErrDownloadFailed, format)
	}

	dl := downloader.NewHTTPDownloader(e.cfg.Download, nil, e.logger)
	body, size, err := dl.Download(ctx, mediaURL, format)
	if err != nil {
		return err
	}
	defer body.Close()

	path := outputPath(c.String("output"), res.Title, format)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	bar := progressbar.DefaultBytes(size, "downloading")
	written, err := io.Copy(io.MultiWriter(f, bar), body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Fprintf(c.App.Writer, "\nsaved %s (%s) from %s\n", path, humanize.IBytes(uint64(written)), res.Provider)
	return nil
}

// outputPath returns explicit when set, otherwise a file in the working directory named after title.
func outputPath(explicit, title string, format domain.Format) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(".", service.FilenameBase(&title)+"."+format.Extension())
}
