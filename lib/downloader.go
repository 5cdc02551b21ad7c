package lib

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Failure reason codes recorded in the manifest.
const (
	ReasonDownloadFailed = "download_failed"
	ReasonWriteFailed    = "write_failed"
)

// Outcome is the terminal result for one download target: a local path on
// disk, or a failure reason.
type Outcome struct {
	Path   string
	Reason string
	Cached bool
}

// OK reports whether the URL's content ended up on disk.
func (o Outcome) OK() bool { return o.Reason == "" }

// Coordinator downloads one file's URL set with bounded concurrency.
type Coordinator struct {
	Fetcher     *Fetcher
	Concurrency int
	Log         *logrus.Logger
}

// Download resolves every target to a terminal outcome. targets maps each
// canonical URL to its planned destination path. Destinations already on disk
// and non-empty are not fetched again, which keeps reruns cheap after a
// partial prior run. The returned map covers every input URL; the call
// returns only once all outcomes are terminal.
func (c *Coordinator) Download(ctx context.Context, targets map[string]string) map[string]Outcome {
	outcomes := make(map[string]Outcome, len(targets))
	if len(targets) == 0 {
		return outcomes
	}

	urls := make([]string, 0, len(targets))
	for u := range targets {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultDownloadConcurrency
	}
	sem := make(chan struct{}, concurrency)
	var mu sync.Mutex
	var eg errgroup.Group

	for _, u := range urls {
		u := u
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			out := c.download(ctx, u, targets[u])
			mu.Lock()
			outcomes[u] = out
			mu.Unlock()
			return nil
		})
	}
	eg.Wait()

	return outcomes
}

func (c *Coordinator) download(ctx context.Context, url, dest string) Outcome {
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		c.Log.WithField("dest", dest).Debug("already on disk, skipping download")
		return Outcome{Path: dest, Cached: true}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		c.Log.WithError(err).WithField("dest", dest).Warn("cannot create assets directory")
		return Outcome{Reason: ReasonWriteFailed}
	}
	body, contentType, err := c.Fetcher.FetchBytes(ctx, url)
	if err != nil {
		c.Log.WithError(err).WithField("url", url).Warn("download failed after retries")
		return Outcome{Reason: ReasonDownloadFailed}
	}
	dest = ensureExt(dest, contentType)
	if err := os.WriteFile(dest, body, 0644); err != nil {
		os.Remove(dest)
		c.Log.WithError(err).WithField("dest", dest).Warn("cannot write image")
		return Outcome{Reason: ReasonWriteFailed}
	}
	c.Log.WithFields(logrus.Fields{"url": url, "dest": dest}).Debug("saved image")
	return Outcome{Path: dest}
}

// imageExts maps common image content types to a canonical extension. The
// mime package is only a fallback: its answers vary across platforms and
// derived paths must be deterministic.
var imageExts = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/avif":    ".avif",
	"image/bmp":     ".bmp",
	"image/tiff":    ".tiff",
	"image/x-icon":  ".ico",
}

// ensureExt appends an extension inferred from the response content type when
// the destination path lacks one.
func ensureExt(dest, contentType string) string {
	if filepath.Ext(dest) != "" || contentType == "" {
		return dest
	}
	ctype := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if ext, ok := imageExts[ctype]; ok {
		return dest + ext
	}
	if exts, err := mime.ExtensionsByType(ctype); err == nil && len(exts) > 0 {
		return dest + exts[0]
	}
	return dest
}
