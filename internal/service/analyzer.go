package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"oiwatch/internal/detector"
	"oiwatch/internal/storage"
	"oiwatch/internal/trigger"
)

// Analyzer runs detection cycles whenever its trigger source fires.
type Analyzer struct {
	source   trigger.Source
	detector *detector.Detector
	locker   storage.AdvisoryLocker
	lockKey  int64
	logger   zerolog.Logger
}

// NewAnalyzer wires a trigger source to a detector. locker may be nil; a
// zero lockKey disables cross-process locking.
func NewAnalyzer(source trigger.Source, det *detector.Detector, locker storage.AdvisoryLocker, lockKey int64, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		source:   source,
		detector: det,
		locker:   locker,
		lockKey:  lockKey,
		logger:   logger.With().Str("component", "analyzer").Str("trigger", source.Name()).Logger(),
	}
}

// Run blocks until ctx is cancelled and the in-flight cycle has finished.
func (a *Analyzer) Run(ctx context.Context) error {
	a.logger.Info().Float64("threshold", a.detector.Threshold()).Msg("analyzer started")
	err := a.source.Run(ctx, a.Cycle)
	a.logger.Info().Msg("analyzer stopped")
	return err
}

// Cycle runs a single detection cycle, skipping it when another analyzer
// instance holds the advisory lock.
func (a *Analyzer) Cycle(ctx context.Context) error {
	unlock, proceed, err := acquireLock(ctx, a.locker, a.lockKey)
	if err != nil {
		return err
	}
	if !proceed {
		a.logger.Info().Msg("skip cycle because another analyzer holds the lock")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if _, err := a.detector.RunCycle(ctx); err != nil {
		return fmt.Errorf("detection cycle: %w", err)
	}
	return nil
}
