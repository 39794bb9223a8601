package app

import (
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var (
	// DefaultAppName is used for config lookup paths and user-facing output
	DefaultAppName    = "imagedup"
	DefaultConfigPath = filepath.Join(getHomeDir(), ".config", DefaultAppName)

	// DefaultSnapshotName is the persisted index file created inside the
	// scanned directory, alongside the images it describes.
	DefaultSnapshotName = ".imagedup.idx"

	// DefaultIgnoreName is the optional per-directory exclusion file
	// honoured by the scanner.
	DefaultIgnoreName = ".imagedupignore"
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}
