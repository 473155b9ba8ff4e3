package storage

import (
	"context"
	"time"
)

// Observation is one sample of the OI growth metric for one token.
// ID is store-assigned and only used for tie-breaking and deletion targeting.
type Observation struct {
	ID         int64
	ObservedAt time.Time
	Symbol     string
	Name       string
	Value      float64
}

// NewObservation is what the collector hands to the store; the store assigns
// ID and ObservedAt.
type NewObservation struct {
	Symbol string
	Name   string
	Value  float64
}

// Pair is the two most recent observations of a token, newest first.
type Pair struct {
	Current  Observation
	Previous Observation
}

// Delta is the change of the metric between Previous and Current.
func (p Pair) Delta() float64 {
	return p.Current.Value - p.Previous.Value
}

// ObservationWriter is the collector-side contract.
type ObservationWriter interface {
	InsertObservations(ctx context.Context, batch []NewObservation) (int64, error)
}

// WindowStore is the analyzer-side contract over the unconsumed window.
type WindowStore interface {
	ListCandidateTokens(ctx context.Context) ([]string, error)
	LatestTwo(ctx context.Context, symbol string) (Pair, bool, error)
	DeleteConsumed(ctx context.Context, symbol string, current Observation) (int64, error)
}

// ObservationStore is implemented by every backend.
type ObservationStore interface {
	ObservationWriter
	WindowStore
	ListWindow(ctx context.Context, limit int) ([]Observation, error)
	CountObservations(ctx context.Context) (int64, error)
	Close()
}
