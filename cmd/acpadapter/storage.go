package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/common/config"
	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/transcript"
)

const resumeTimeout = 10 * time.Second

// provideTranscript opens the transcript store and starts a recorder that
// continues the stored sequence. Both are nil when storage is disabled.
func provideTranscript(cfg config.DatabaseConfig, log *logger.Logger) (transcript.Repository, *transcript.Recorder, func(), error) {
	repo, closeRepo, err := transcript.Provide(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if repo == nil {
		log.Info("transcript storage disabled")
		return nil, nil, func() {}, nil
	}

	rec := transcript.NewRecorder(repo, log)
	resumeRecorder(repo, rec, log)

	cleanup := func() {
		rec.Close()
		if err := closeRepo(); err != nil {
			log.Warn("failed to close transcript store", zap.Error(err))
		}
	}
	log.Info("transcript storage enabled", zap.String("driver", cfg.Driver))
	return repo, rec, cleanup, nil
}

func resumeRecorder(repo transcript.Repository, rec *transcript.Recorder, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), resumeTimeout)
	defer cancel()

	sessions, err := repo.ListSessions(ctx)
	if err != nil {
		log.Warn("failed to list stored sessions", zap.Error(err))
		return
	}
	for _, id := range sessions {
		msgs, err := repo.ListMessages(ctx, id)
		if err != nil {
			log.Warn("failed to load stored session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		rec.Resume(msgs)
	}
}
