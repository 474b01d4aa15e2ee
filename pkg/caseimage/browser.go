package caseimage

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// challengeURL is the image host's front page. Loading it once lets the
// browser clear the Cloudflare challenge before any image is requested.
const challengeURL = "https://www.eurorad.org"

// canvasExtractJS pulls the largest image on the page through a canvas so
// the bytes come out of the already-cleared browser context instead of a
// fresh HTTP request that would hit the challenge again.
const canvasExtractJS = `() => {
	const imgs = Array.from(document.querySelectorAll('img'));
	if (imgs.length === 0) return null;
	let img = imgs[0];
	for (const candidate of imgs) {
		if (candidate.naturalWidth * candidate.naturalHeight > img.naturalWidth * img.naturalHeight) {
			img = candidate;
		}
	}
	if (!img.naturalWidth || !img.naturalHeight) return null;
	const canvas = document.createElement('canvas');
	canvas.width = img.naturalWidth;
	canvas.height = img.naturalHeight;
	canvas.getContext('2d').drawImage(img, 0, 0);
	return canvas.toDataURL('image/jpeg', 0.95);
}`

// BrowserFetcher downloads case images through a real browser. The browser
// is started lazily on the first fetch and reused for the rest of the
// process; a failed startup is remembered so every later fetch fails fast
// instead of relaunching.
type BrowserFetcher struct {
	headless bool
	logger   zerolog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
	failed  bool
}

func NewBrowserFetcher(headless bool, logger zerolog.Logger) *BrowserFetcher {
	return &BrowserFetcher{headless: headless, logger: logger}
}

// ensurePage starts the browser once and waits out the challenge page
func (f *BrowserFetcher) ensurePage() (*rod.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.page != nil {
		return f.page, nil
	}
	if f.failed {
		return nil, fmt.Errorf("browser startup previously failed")
	}

	f.logger.Info().Bool("headless", f.headless).Msg("Starting browser for image downloads")

	controlURL, err := launcher.New().Headless(f.headless).Launch()
	if err != nil {
		f.failed = true
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		f.failed = true
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: challengeURL})
	if err != nil {
		f.failed = true
		_ = browser.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	// The challenge interstitial titles itself "Just a moment..." until it
	// clears. Poll the title rather than waiting a fixed worst-case time.
	for i := 0; i < 30; i++ {
		time.Sleep(time.Second)
		title, err := page.Eval(`() => document.title`)
		if err != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(title.Value.String()), "moment") {
			break
		}
	}

	f.browser = browser
	f.page = page
	f.logger.Info().Msg("Browser ready")
	return page, nil
}

// Fetch navigates to the image URL and saves the rendered bytes to savePath
func (f *BrowserFetcher) Fetch(ctx context.Context, url, savePath string) error {
	page, err := f.ensurePage()
	if err != nil {
		return err
	}

	if err := page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	time.Sleep(time.Second)

	result, err := page.Context(ctx).Eval(canvasExtractJS)
	if err != nil {
		return fmt.Errorf("failed to extract image from %s: %w", url, err)
	}

	dataURL := result.Value.String()
	if !strings.HasPrefix(dataURL, "data:") {
		return fmt.Errorf("no image rendered at %s", url)
	}

	_, b64, ok := strings.Cut(dataURL, ",")
	if !ok {
		return fmt.Errorf("malformed data URL from %s", url)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("failed to decode image data: %w", err)
	}
	if len(raw) < 100 {
		return fmt.Errorf("image from %s too small (%d bytes), likely a challenge placeholder", url, len(raw))
	}

	if err := os.MkdirAll(filepath.Dir(savePath), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(savePath, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write cached image: %w", err)
	}

	f.logger.Info().Str("url", url).Str("path", savePath).Int("bytes", len(raw)).Msg("Downloaded case image")
	return nil
}

// Close shuts the browser down. Safe to call when it never started.
func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	f.page = nil
	return err
}
