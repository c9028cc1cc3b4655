package logger_test

import (
	"log/slog"
	"os"

	"github.com/soundprediction/chronograph/pkg/logger"
)

func ExampleNewDefaultLogger() {
	// Create a logger with default settings
	log := logger.NewDefaultLogger(slog.LevelDebug)

	// Log different levels
	log.Debug("This is a debug message")
	log.Info("This is an info message")
	log.Info("Episode committed")         // Will be green in terminal
	log.Warn("This is a warning message") // Will be yellow in terminal
	log.Error("This is an error message") // Will be red in terminal
}

func ExampleNewColorHandler() {
	// Create a logger writing to stdout
	log := slog.New(logger.NewColorHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Log with attributes
	log.Info("Resolving entities", "episode_id", "ep-1", "candidates", 3)
	log.Info("Entities persisted", "group_id", "team-a", "count", 42) // Green
	log.Warn("Search channel timed out", "channel", "vector")         // Yellow
	log.Error("Commit failed", "error", "timeout", "attempts", 3)     // Red
}
