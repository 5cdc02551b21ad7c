package lib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/k3a/html2text"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Defaults mirrored by the CLI flags.
const (
	DefaultRoot                = "examgroups"
	DefaultManifestDir         = "manifest"
	DefaultDownloadConcurrency = 32
	DefaultFileConcurrency     = 4
)

// jsonDepthPattern locates candidate files: one JSON file four directory
// levels below the root.
const jsonDepthPattern = "*/*/*/*/*.json"

// Options configures a Processor. The zero value is usable; empty or negative
// fields fall back to the defaults above.
type Options struct {
	Root                string
	ManifestDir         string
	DownloadConcurrency int
	FileConcurrency     int
	// Retries is the per-URL retry count; negative selects DefaultRetries,
	// zero disables retries.
	Retries   int
	RetryWait time.Duration
	// DryRun performs discovery, extraction, downloads, and all logging, but
	// skips writing the manifest and the rewritten JSON.
	DryRun bool
	Logger *logrus.Logger
}

func (o *Options) defaults() {
	if o.Root == "" {
		o.Root = DefaultRoot
	}
	if o.ManifestDir == "" {
		o.ManifestDir = DefaultManifestDir
	}
	if o.DownloadConcurrency <= 0 {
		o.DownloadConcurrency = DefaultDownloadConcurrency
	}
	if o.FileConcurrency <= 0 {
		o.FileConcurrency = DefaultFileConcurrency
	}
	if o.Retries < 0 {
		o.Retries = DefaultRetries
	}
	if o.RetryWait <= 0 {
		o.RetryWait = DefaultRetryWait
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

// Manifest records, for one JSON file, which canonical URLs were substituted
// with which relative paths and which failed.
type Manifest struct {
	Mappings map[string]string `json:"mappings"`
	Failed   map[string]string `json:"failed"`
}

// FileResult summarizes one file's pass through the pipeline.
type FileResult struct {
	Path       string
	Skipped    bool
	Err        error
	URLs       int
	Downloaded int
	Cached     int
	Failed     int
}

// RunStats aggregates a whole run. Run returns it instead of keeping
// process-wide counters so the pipeline stays independently testable.
type RunStats struct {
	FilesFound  int
	Processed   int
	Skipped     int
	FilesFailed int
	Downloaded  int
	Cached      int
	URLsFailed  int
}

// Processor drives the scan/download/rewrite pipeline over a root directory.
type Processor struct {
	opts    Options
	fetcher *Fetcher
	log     *logrus.Logger

	// OnStart, when set, is invoked with the number of candidate files before
	// any processing begins.
	OnStart func(total int)
	// OnFileDone, when set, is invoked after each file reaches a terminal
	// state. Used by the CLI for progress display.
	OnFileDone func(FileResult)
}

// NewProcessor builds a Processor. fetcher may be nil, in which case a
// default Fetcher carrying the options' retry policy is used.
func NewProcessor(opts Options, fetcher *Fetcher) *Processor {
	opts.defaults()
	if fetcher == nil {
		fetcher = NewFetcher(WithRetries(opts.Retries), WithRetryWait(opts.RetryWait))
	}
	return &Processor{opts: opts, fetcher: fetcher, log: opts.Logger}
}

// Run processes every candidate JSON file under the root with at most
// FileConcurrency files in flight. Files are independent units of work: a
// failing file never aborts its siblings. Cancelling ctx abandons outstanding
// work; partially downloaded assets are re-fetched on the next run.
func (p *Processor) Run(ctx context.Context) (RunStats, error) {
	files, err := filepath.Glob(filepath.Join(p.opts.Root, jsonDepthPattern))
	if err != nil {
		return RunStats{}, fmt.Errorf("glob %s: %w", p.opts.Root, err)
	}
	stats := RunStats{FilesFound: len(files)}
	if len(files) == 0 {
		p.log.WithField("root", p.opts.Root).Warn("no matching JSON files")
		return stats, nil
	}
	p.log.WithField("count", len(files)).Info("found JSON files")
	if p.OnStart != nil {
		p.OnStart(len(files))
	}

	sem := make(chan struct{}, p.opts.FileConcurrency)
	var mu sync.Mutex
	var eg errgroup.Group

	for _, file := range files {
		file := file
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res := p.safeProcessFile(ctx, file)
			mu.Lock()
			switch {
			case res.Err != nil:
				stats.FilesFailed++
			case res.Skipped:
				stats.Skipped++
			default:
				stats.Processed++
			}
			stats.Downloaded += res.Downloaded
			stats.Cached += res.Cached
			stats.URLsFailed += res.Failed
			mu.Unlock()
			if p.OnFileDone != nil {
				p.OnFileDone(res)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return stats, err
	}
	return stats, ctx.Err()
}

// safeProcessFile isolates one file's pipeline: panics and errors are logged
// with the file identity and converted into a failed FileResult.
func (p *Processor) safeProcessFile(ctx context.Context, path string) (res FileResult) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{"file": path, "panic": r}).
				Errorf("pipeline panic:\n%s", debug.Stack())
			res = FileResult{Path: path, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	res = p.processFile(ctx, path)
	if res.Err != nil {
		p.log.WithError(res.Err).WithField("file", path).Error("failed processing file")
	}
	return res
}

// processFile runs the full pass for one JSON file: scan, extract, download,
// rewrite, persist manifest and document.
func (p *Processor) processFile(ctx context.Context, jsonPath string) FileResult {
	res := FileResult{Path: jsonPath}
	log := p.log.WithField("file", jsonPath)
	log.Info("processing")

	doc, err := ReadDocument(jsonPath)
	if err != nil {
		res.Err = err
		return res
	}

	hits := CollectHTML(doc)
	if len(hits) == 0 {
		log.Info("no HTML with <img> found")
		res.Skipped = true
		return res
	}

	dir := filepath.Dir(jsonPath)
	stem := strings.TrimSuffix(filepath.Base(jsonPath), filepath.Ext(jsonPath))
	assetsDir := filepath.Join(dir, "assets", stem)

	// Parse each hit once; the same parsed fragments are rewritten later.
	fragments := make([]*Fragment, 0, len(hits))
	targets := make(map[string]string)
	for _, hit := range hits {
		frag, err := ParseFragment(hit)
		if err != nil {
			res.Err = err
			return res
		}
		fragments = append(fragments, frag)
		if p.log.IsLevelEnabled(logrus.DebugLevel) {
			log.Debugf("fragment at %s: %.80s", hit.Path, html2text.HTML2Text(hit.HTML))
		}
		for _, ref := range frag.Refs() {
			canonical, ok := CanonicalURL(ref.URL)
			if !ok {
				log.WithField("url", ref.URL).Debug("skipping non-absolute URL")
				continue
			}
			if _, seen := targets[canonical]; !seen {
				targets[canonical] = filepath.Join(assetsDir, FilenameForURL(canonical))
			}
		}
	}
	if len(targets) == 0 {
		log.Info("no downloadable image URLs found")
		res.Skipped = true
		return res
	}
	res.URLs = len(targets)

	if err := os.MkdirAll(assetsDir, 0755); err != nil {
		res.Err = fmt.Errorf("create assets dir: %w", err)
		return res
	}

	coord := &Coordinator{Fetcher: p.fetcher, Concurrency: p.opts.DownloadConcurrency, Log: p.log}
	outcomes := coord.Download(ctx, targets)
	if ctx.Err() != nil {
		res.Err = ctx.Err()
		return res
	}

	manifest := Manifest{Mappings: map[string]string{}, Failed: map[string]string{}}
	urlMap := make(map[string]string, len(outcomes))
	for url, out := range outcomes {
		if !out.OK() {
			manifest.Failed[url] = out.Reason
			res.Failed++
			continue
		}
		if out.Cached {
			res.Cached++
		} else {
			res.Downloaded++
		}
		rel, err := filepath.Rel(dir, out.Path)
		if err != nil {
			rel = out.Path
		}
		rel = filepath.ToSlash(rel)
		urlMap[url] = rel
		manifest.Mappings[url] = rel
	}

	for _, frag := range fragments {
		frag.Rewrite(urlMap)
		html, err := frag.Serialize()
		if err != nil {
			res.Err = err
			return res
		}
		if err := SetByPath(&doc, frag.Path, html); err != nil {
			res.Err = fmt.Errorf("write back fragment: %w", err)
			return res
		}
	}

	manifestPath := filepath.Join(dir, p.opts.ManifestDir, stem+"_manifest.json")
	if p.opts.DryRun {
		log.WithField("manifest", manifestPath).Info("[dry-run] manifest not written")
		log.Info("[dry-run] JSON not updated")
		return res
	}
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0755); err != nil {
		res.Err = fmt.Errorf("create manifest dir: %w", err)
		return res
	}
	if err := WriteDocument(manifestPath, manifest); err != nil {
		res.Err = fmt.Errorf("write manifest: %w", err)
		return res
	}
	log.WithField("manifest", manifestPath).Info("wrote manifest")

	if err := WriteDocument(jsonPath, doc); err != nil {
		res.Err = fmt.Errorf("update json: %w", err)
		return res
	}
	log.Info("updated JSON")
	return res
}
