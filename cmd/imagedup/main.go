package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"imagedup/internal/app"
	"imagedup/internal/config"
	"imagedup/internal/dedup"
	"imagedup/internal/rename"
)

func newDetector(cfg *config.Config, workers, threshold int) (*dedup.Detector, int) {
	if workers <= 0 {
		workers = cfg.Index.Workers
	}
	if threshold < 0 {
		threshold = cfg.Search.Threshold
	}
	return dedup.NewDetector(
		dedup.WithWorkers(workers),
		dedup.WithSnapshotName(cfg.Index.SnapshotName),
		dedup.WithExtensions(cfg.Index.Extensions),
	), threshold
}

func findDuplicates(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(app.DefaultAppName, flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	threshold := fs.Int("t", -1, "Hamming distance threshold (default from config)")
	workers := fs.Int("workers", 0, "Number of hashing goroutines (default from config)")
	verbose := fs.Bool("v", false, "Verbose logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <directory> [image]\n\n", app.DefaultAppName)
		fmt.Fprintf(os.Stderr, "Index the images under a directory and report near-duplicate groups.\n")
		fmt.Fprintf(os.Stderr, "With an image argument, report its duplicates and closest matches instead.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		os.Exit(1)
	}

	setupLogging(*verbose)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	directory, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	detector, th := newDetector(cfg, *workers, *threshold)

	if fs.NArg() == 2 {
		return pointQuery(ctx, detector, cfg, directory, fs.Arg(1), th)
	}
	return groupReport(ctx, detector, directory, th)
}

func groupReport(ctx context.Context, detector *dedup.Detector, directory string, threshold int) error {
	fmt.Printf("Scanning directory: %s\n", directory)

	groups, err := detector.FindDuplicateGroups(ctx, directory, threshold)
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d files\n\n", detector.Store().Len())
	if len(groups) == 0 {
		fmt.Printf("No duplicates found at threshold %d\n", threshold)
		return nil
	}

	for i, g := range groups {
		fmt.Printf("Group %d (%d files):\n", i+1, len(g.Members))
		for _, m := range g.Members {
			fmt.Printf("  [d=%2d] %s\n", m.Distance, m.Path)
		}
		fmt.Println()
	}
	fmt.Printf("Found %d duplicate groups at threshold %d\n", len(groups), threshold)
	return nil
}

func pointQuery(ctx context.Context, detector *dedup.Detector, cfg *config.Config, directory, imagePath string, threshold int) error {
	imagePath, err := filepath.Abs(imagePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	fmt.Printf("Scanning directory: %s\n", directory)
	if _, err := detector.BuildOrUpdateIndex(ctx, directory); err != nil {
		return err
	}

	target, err := detector.HashImage(ctx, imagePath)
	if err != nil {
		return fmt.Errorf("failed to hash query image: %w", err)
	}
	fmt.Printf("Query image: %s (hash %s)\n\n", imagePath, target)

	matches := detector.Similar(target, threshold, filepath.Clean(imagePath))
	if len(matches) == 0 {
		fmt.Printf("No duplicates within threshold %d\n", threshold)
	} else {
		fmt.Printf("Duplicates within threshold %d:\n", threshold)
		for _, m := range matches {
			fmt.Printf("  [d=%2d] %s\n", m.Distance, m.Path)
		}
	}

	closest := detector.Closest(target, threshold, cfg.Search.ClosestCount, filepath.Clean(imagePath))
	if len(closest) > 0 {
		fmt.Printf("\nClosest matches beyond the threshold:\n")
		for _, m := range closest {
			fmt.Printf("  [d=%2d] %s\n", m.Distance, m.Path)
		}
	}
	return nil
}

func renameByDate(args []string) error {
	fs := flag.NewFlagSet("rename", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	dryRun := fs.Bool("dry-run", false, "Show the plan without renaming anything")
	format := fs.String("format", "", "Go time layout for new names (default from config)")
	verbose := fs.Bool("v", false, "Verbose logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s rename [options] <directory>\n\n", app.DefaultAppName)
		fmt.Fprintf(os.Stderr, "Rename the images directly under a directory to their capture timestamp,\n")
		fmt.Fprintf(os.Stderr, "taken from EXIF data, the file name, or the modification time.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}

	setupLogging(*verbose)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *format == "" {
		*format = cfg.Rename.DateFormat
	}

	directory, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	renamer := rename.NewRenamer(rename.WithDateFormat(*format))
	ops, err := renamer.Run(directory, cfg.Index.Extensions, *dryRun)
	if err != nil {
		return err
	}

	var renamed, unchanged, failed int
	for _, op := range ops {
		switch op.Status {
		case rename.StatusRenamed:
			renamed++
			fmt.Printf("  %s -> %s (%s)\n", filepath.Base(op.Path), filepath.Base(op.Target), op.Source)
		case rename.StatusNoChange:
			unchanged++
		default:
			failed++
			fmt.Printf("  ! %s: %v\n", filepath.Base(op.Path), op.Err)
		}
	}

	if *dryRun {
		fmt.Printf("\nDry run: %d would be renamed, %d unchanged, %d skipped or failed\n", renamed, unchanged, failed)
	} else {
		fmt.Printf("\nRenamed %d files, %d unchanged, %d skipped or failed\n", renamed, unchanged, failed)
	}
	return nil
}

// setupLogging routes library logs through slog; the default level only
// surfaces warnings so normal runs stay quiet.
func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	logger := app.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <directory> [image]\n", app.DefaultAppName)
		fmt.Fprintf(os.Stderr, "       %s rename [options] <directory>\n", app.DefaultAppName)
		os.Exit(1)
	}

	var err error
	if os.Args[1] == "rename" {
		err = renameByDate(os.Args[2:])
	} else {
		err = findDuplicates(ctx, os.Args[1:])
	}

	if err != nil {
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
