package caseimage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/radresearch/caseagent/pkg/agent"
)

// cacheExtensions are the extensions probed when looking for a cached copy
var cacheExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// Fetcher downloads one image URL to a local path
type Fetcher interface {
	Fetch(ctx context.Context, url, savePath string) error
}

// Loader resolves catalogued case images to data URLs, using a local cache
// and falling back to the fetcher for anything not yet downloaded. It is the
// image source the agent run loop consults on case navigation.
type Loader struct {
	index    *Index
	cacheDir string
	fetcher  Fetcher
	logger   zerolog.Logger
}

// LoaderOptions configures a Loader. Fetcher may be nil for cache-only use.
type LoaderOptions struct {
	CacheDir string
	Fetcher  Fetcher
	Logger   zerolog.Logger
}

func NewLoader(index *Index, opts LoaderOptions) *Loader {
	return &Loader{
		index:    index,
		cacheDir: opts.CacheDir,
		fetcher:  opts.Fetcher,
		logger:   opts.Logger,
	}
}

// Index exposes the underlying catalogue
func (l *Loader) Index() *Index {
	return l.index
}

// cachedPath returns the cached file for an image, or "" when not cached
func (l *Loader) cachedPath(caseID, imgID string) string {
	for _, ext := range cacheExtensions {
		path := filepath.Join(l.cacheDir, caseID, imgID+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Cached reports whether an image is already present in the cache
func (l *Loader) Cached(caseID, imgID string) bool {
	return l.cachedPath(caseID, imgID) != ""
}

// Prefetch downloads a case's missing images into the cache. Images already
// cached are skipped, and a failed download moves on to the next image. It
// returns how many images were downloaded and how many failed; without a
// fetcher every uncached image counts as failed.
func (l *Loader) Prefetch(ctx context.Context, caseID string) (downloaded, failed int) {
	for _, img := range l.index.Images(caseID) {
		if ctx.Err() != nil {
			failed++
			continue
		}
		if l.cachedPath(caseID, img.ImgID) != "" {
			continue
		}
		if l.fetcher == nil {
			failed++
			continue
		}
		savePath := filepath.Join(l.cacheDir, caseID, img.ImgID+extFromURL(img.URL))
		if err := l.fetcher.Fetch(ctx, img.URL, savePath); err != nil {
			l.logger.Warn().Err(err).Str("case_id", caseID).Str("img_id", img.ImgID).Msg("Failed to prefetch case image")
			failed++
			continue
		}
		downloaded++
	}
	return downloaded, failed
}

// extFromURL picks the cache extension for a URL, defaulting to .jpg
func extFromURL(url string) string {
	path := strings.ToLower(strings.SplitN(url, "?", 2)[0])
	for _, ext := range []string{".png", ".gif", ".webp"} {
		if strings.HasSuffix(path, ext) {
			return ext
		}
	}
	return ".jpg"
}

// resolve produces a data URL for one image, downloading on a cache miss.
// The second return is false when the image could not be made available.
func (l *Loader) resolve(ctx context.Context, caseID string, img Image) (string, bool) {
	if path := l.cachedPath(caseID, img.ImgID); path != "" {
		dataURL, err := agent.EncodeImageFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to encode cached image")
			return "", false
		}
		return dataURL, true
	}

	if l.fetcher == nil {
		return "", false
	}

	savePath := filepath.Join(l.cacheDir, caseID, img.ImgID+extFromURL(img.URL))
	if err := l.fetcher.Fetch(ctx, img.URL, savePath); err != nil {
		l.logger.Warn().Err(err).Str("url", img.URL).Msg("Failed to download case image")
		return "", false
	}

	dataURL, err := agent.EncodeImageFile(savePath)
	if err != nil {
		l.logger.Warn().Err(err).Str("path", savePath).Msg("Failed to encode downloaded image")
		return "", false
	}
	return dataURL, true
}

// ContentBlocks renders a case's images as caption/image block pairs. An
// image that cannot be resolved collapses to a single caption block marked
// "(image not available)" so the model still sees what exists for the case.
func (l *Loader) ContentBlocks(ctx context.Context, caseID string) []agent.ContentBlock {
	images := l.index.Images(caseID)
	if len(images) == 0 {
		return nil
	}

	var blocks []agent.ContentBlock
	for i, img := range images {
		n := i + 1
		caption := img.Caption
		if caption == "" {
			caption = fmt.Sprintf("Image %d", n)
		}

		dataURL, ok := l.resolve(ctx, caseID, img)
		if !ok {
			blocks = append(blocks, agent.TextBlock(fmt.Sprintf("[Image %d/%d] %s (image not available)", n, len(images), caption)))
			continue
		}
		blocks = append(blocks,
			agent.TextBlock(fmt.Sprintf("[Image %d/%d] %s", n, len(images), caption)),
			agent.ImageBlock(dataURL),
		)
	}
	return blocks
}

// FormatText renders a case's image catalogue as a plain-text listing for
// models without vision support. Returns "" when the case has no images.
func (l *Loader) FormatText(caseID string) string {
	images := l.index.Images(caseID)
	if len(images) == 0 {
		return ""
	}

	lines := make([]string, 0, len(images)+1)
	lines = append(lines, fmt.Sprintf("Case %s has %d image(s):", caseID, len(images)))
	for i, img := range images {
		caption := img.Caption
		if caption == "" {
			caption = "No caption"
		}
		lines = append(lines, fmt.Sprintf("  %d. %s (URL: %s)", i+1, caption, img.URL))
	}
	return strings.Join(lines, "\n")
}

var _ agent.CaseImageSource = (*Loader)(nil)

// CaseImages returns the full injectable block list for a case: a header
// identifying the case followed by the caption/image pairs. Empty when the
// case has no catalogued images.
func (l *Loader) CaseImages(ctx context.Context, caseID string) ([]agent.ContentBlock, error) {
	pairs := l.ContentBlocks(ctx, caseID)
	if len(pairs) == 0 {
		return nil, nil
	}
	blocks := make([]agent.ContentBlock, 0, len(pairs)+1)
	blocks = append(blocks, agent.TextBlock(fmt.Sprintf("Images for case %s:", caseID)))
	return append(blocks, pairs...), nil
}

// CaseImagesText returns the text-mode rendering of a case's images
func (l *Loader) CaseImagesText(_ context.Context, caseID string) (string, error) {
	return l.FormatText(caseID), nil
}
