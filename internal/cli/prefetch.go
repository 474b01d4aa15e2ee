package cli

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/radresearch/caseagent/pkg/caseimage"
)

var (
	prefetchAll      bool
	prefetchStatus   bool
	prefetchCacheDir string
)

var prefetchCmd = &cobra.Command{
	Use:   "prefetch [case-id]...",
	Short: "Download case images into the local cache",
	Long: `Download case images into the local cache ahead of a run, so the
agent never waits on the browser fetcher mid-diagnosis. Pass case IDs, or
--all for every catalogued case. --status reports cache coverage without
downloading anything.`,
	RunE: runPrefetch,
}

func init() {
	rootCmd.AddCommand(prefetchCmd)

	prefetchCmd.Flags().BoolVar(&prefetchAll, "all", false, "prefetch every case in the catalogue")
	prefetchCmd.Flags().BoolVar(&prefetchStatus, "status", false, "show cache coverage and exit")
	prefetchCmd.Flags().StringVar(&prefetchCacheDir, "cache-dir", "", "cache directory (default from config)")
}

func runPrefetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	cacheDir := prefetchCacheDir
	if cacheDir == "" {
		cacheDir = cfg.Images.CacheDir
	}

	index, err := caseimage.LoadIndex(cfg.Images.CSVPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Loaded %d images across %d cases from CSV\n", index.TotalImages(), len(index.CaseIDs()))

	cacheOnly := caseimage.NewLoader(index, caseimage.LoaderOptions{
		CacheDir: cacheDir,
		Logger:   log.GetZerolog(),
	})

	if prefetchStatus {
		printCacheStatus(out, index, cacheOnly, cacheDir)
		return nil
	}

	if !prefetchAll && len(args) == 0 {
		return fmt.Errorf("specify case IDs or --all")
	}

	caseIDs := args
	if prefetchAll {
		caseIDs = index.CaseIDs()
	}

	pending := 0
	for _, caseID := range caseIDs {
		for _, img := range index.Images(caseID) {
			if !cacheOnly.Cached(caseID, img.ImgID) {
				pending++
			}
		}
	}
	if pending == 0 {
		fmt.Fprintln(out, "All images already cached!")
		return nil
	}
	fmt.Fprintf(out, "Downloading %d images across %d cases...\n", pending, len(caseIDs))

	fetcher := caseimage.NewBrowserFetcher(cfg.Images.Headless, log.GetZerolog())
	defer fetcher.Close()
	loader := caseimage.NewLoader(index, caseimage.LoaderOptions{
		CacheDir: cacheDir,
		Fetcher:  fetcher,
		Logger:   log.GetZerolog(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	totalDownloaded, totalFailed := 0, 0
	for _, caseID := range caseIDs {
		if !index.HasImages(caseID) {
			fmt.Fprintf(out, "  No images found for case %s\n", caseID)
			continue
		}

		downloaded, failed := loader.Prefetch(ctx, caseID)
		fmt.Fprintf(out, "  case %s: %d downloaded, %d failed\n", caseID, downloaded, failed)
		totalDownloaded += downloaded
		totalFailed += failed

		if ctx.Err() != nil {
			break
		}
	}

	fmt.Fprintf(out, "\nDone! %d downloaded, %d failed.\n", totalDownloaded, totalFailed)
	return nil
}

func printCacheStatus(out io.Writer, index *caseimage.Index, loader *caseimage.Loader, cacheDir string) {
	cached, missing := 0, 0
	for _, caseID := range index.CaseIDs() {
		for _, img := range index.Images(caseID) {
			if loader.Cached(caseID, img.ImgID) {
				cached++
			} else {
				missing++
			}
		}
	}

	total := cached + missing
	fmt.Fprintf(out, "Image cache: %s\n", cacheDir)
	fmt.Fprintf(out, "Total cases: %d\n", len(index.CaseIDs()))
	fmt.Fprintf(out, "Total images: %d\n", total)
	fmt.Fprintf(out, "Cached: %d\n", cached)
	fmt.Fprintf(out, "Missing: %d\n", missing)
	if total > 0 {
		fmt.Fprintf(out, "Coverage: %.1f%%\n", float64(cached)/float64(total)*100)
	}
}
