package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/examtools/imgdl/lib"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	rootDir         string
	concurrency     int
	fileConcurrency int
	retries         int
	manifestDir     string
	dryRun          bool
	verbose         bool
	configPath      string
	proxyURL        string

	log = logrus.New()

	rootCmd = &cobra.Command{
		Use:   "imgdl",
		Short: "Download images referenced in JSON-stored HTML and replace urls with local assets",
		Long: `imgdl scans JSON files for HTML fragments containing <img> elements,
downloads every referenced image exactly once, rewrites the fragments so the
references point at the local copies, and records a manifest of mappings and
failures next to each JSON file.`,
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&rootDir, "root", lib.DefaultRoot, "Root folder to scan for JSON files")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", lib.DefaultDownloadConcurrency, "Concurrent downloads per JSON file")
	rootCmd.Flags().IntVar(&fileConcurrency, "file-concurrency", lib.DefaultFileConcurrency, "Number of JSON files to process concurrently")
	rootCmd.Flags().IntVar(&retries, "retries", lib.DefaultRetries, "Download retries per URL")
	rootCmd.Flags().StringVar(&manifestDir, "manifest-dir", lib.DefaultManifestDir, "Folder name next to each JSON file to write manifests")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Do not write manifests or rewritten JSON; only download and log")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path of a YAML configuration file")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "x", "", "Proxy url for downloads")
}

func run(cmd *cobra.Command, args []string) error {
	log.SetOutput(os.Stderr)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	fetcherOpts := []lib.FetcherOption{}
	if configPath != "" {
		cfg, err := lib.LoadFileConfig(configPath)
		if err != nil {
			return err
		}
		applyFileConfig(cmd, cfg, &fetcherOpts)
	}
	fetcherOpts = append(fetcherOpts, lib.WithRetries(retries))
	if proxyURL != "" {
		parsed, err := parseURL(proxyURL)
		if err != nil {
			return fmt.Errorf("invalid proxy url: %w", err)
		}
		fetcherOpts = append(fetcherOpts, lib.WithProxyURL(parsed))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc := lib.NewProcessor(lib.Options{
		Root:                rootDir,
		ManifestDir:         manifestDir,
		DownloadConcurrency: concurrency,
		FileConcurrency:     fileConcurrency,
		Retries:             retries,
		DryRun:              dryRun,
		Logger:              log,
	}, lib.NewFetcher(fetcherOpts...))

	var bar *progressbar.ProgressBar
	if !verbose {
		proc.OnStart = func(total int) {
			bar = progressbar.Default(int64(total), "files")
		}
		proc.OnFileDone = func(lib.FileResult) {
			if bar != nil {
				bar.Add(1)
			}
		}
	}

	start := time.Now()
	stats, err := proc.Run(ctx)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		if ctx.Err() != nil {
			log.Info("interrupted")
			return nil
		}
		return err
	}

	log.WithFields(logrus.Fields{
		"processed":   stats.Processed,
		"skipped":     stats.Skipped,
		"failed":      stats.FilesFailed,
		"downloaded":  stats.Downloaded,
		"cached":      stats.Cached,
		"urls_failed": stats.URLsFailed,
	}).Infof("done in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

// applyFileConfig fills in flag values from the config file for flags the
// user did not set explicitly.
func applyFileConfig(cmd *cobra.Command, cfg *lib.FileConfig, fetcherOpts *[]lib.FetcherOption) {
	flags := cmd.Flags()
	if cfg.Root != "" && !flags.Changed("root") {
		rootDir = cfg.Root
	}
	if cfg.Concurrency > 0 && !flags.Changed("concurrency") {
		concurrency = cfg.Concurrency
	}
	if cfg.FileConcurrency > 0 && !flags.Changed("file-concurrency") {
		fileConcurrency = cfg.FileConcurrency
	}
	if cfg.Retries != nil && !flags.Changed("retries") {
		retries = *cfg.Retries
	}
	if cfg.ManifestDir != "" && !flags.Changed("manifest-dir") {
		manifestDir = cfg.ManifestDir
	}
	if cfg.UserAgent != "" {
		*fetcherOpts = append(*fetcherOpts, lib.WithUserAgent(cfg.UserAgent))
	}
	if cfg.Proxy != "" && proxyURL == "" {
		proxyURL = cfg.Proxy
	}
}

func parseURL(toTest string) (*url.URL, error) {
	u, err := url.Parse(toTest)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid url: %s", toTest)
	}
	return u, nil
}
