package main

import (
	"log/slog"

	"github.com/soundprediction/chronograph/pkg/logger"
)

func main() {
	log := logger.NewDefaultLogger(slog.LevelDebug)

	log.Info("chronograph colored logger demo")

	log.Debug("extracting episode", "episode_id", "ep-1")
	log.Info("resolved entities", "created", 2, "merged", 1)
	log.Info("episode committed", "episode_id", "ep-1", "edges", 3)
	log.Warn("search channel timed out", "channel", "vector")
	log.Error("commit failed", "error", "deadline exceeded", "attempts", 3)

	grouped := log.With("group_id", "team-a").WithGroup("community")
	grouped.Info("communities persisted", "count", 4)
}
