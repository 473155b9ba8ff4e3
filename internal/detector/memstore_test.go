package detector

import (
	"context"
	"sort"
	"sync"
	"time"

	"oiwatch/internal/alerting"
	"oiwatch/internal/storage"
)

// memStore is an in-memory WindowStore with the same ordering and pruning
// rules as the SQL backends.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	clock   time.Time
	rows    map[string][]storage.Observation
	deletes int

	listErr   error
	readErr   map[string]error
	deleteErr map[string]error
	// vanish drops a token between listing and reading it
	vanish map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		clock:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		rows:      make(map[string][]storage.Observation),
		readErr:   make(map[string]error),
		deleteErr: make(map[string]error),
		vanish:    make(map[string]bool),
	}
}

func (m *memStore) add(symbol string, values ...float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		m.nextID++
		m.clock = m.clock.Add(time.Minute)
		m.rows[symbol] = append(m.rows[symbol], storage.Observation{
			ID:         m.nextID,
			ObservedAt: m.clock,
			Symbol:     symbol,
			Name:       symbol + " name",
			Value:      v,
		})
	}
}

// addAt inserts with an explicit timestamp, out of id order if needed.
func (m *memStore) addAt(symbol string, at time.Time, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.rows[symbol] = append(m.rows[symbol], storage.Observation{ID: m.nextID, ObservedAt: at, Symbol: symbol, Value: value})
}

func (m *memStore) values(symbol string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, 0, len(m.rows[symbol]))
	for _, obs := range m.sorted(symbol) {
		out = append(out, obs.Value)
	}
	return out
}

// sorted returns rows newest first; caller holds mu.
func (m *memStore) sorted(symbol string) []storage.Observation {
	rows := append([]storage.Observation(nil), m.rows[symbol]...)
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].ObservedAt.Equal(rows[j].ObservedAt) {
			return rows[i].ObservedAt.After(rows[j].ObservedAt)
		}
		return rows[i].ID > rows[j].ID
	})
	return rows
}

func (m *memStore) ListCandidateTokens(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []string
	for symbol, rows := range m.rows {
		if len(rows) >= 2 {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) LatestTwo(_ context.Context, symbol string) (storage.Pair, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr[symbol]; err != nil {
		return storage.Pair{}, false, err
	}
	if m.vanish[symbol] {
		delete(m.rows, symbol)
	}
	rows := m.sorted(symbol)
	if len(rows) < 2 {
		return storage.Pair{}, false, nil
	}
	return storage.Pair{Current: rows[0], Previous: rows[1]}, true, nil
}

func (m *memStore) DeleteConsumed(_ context.Context, symbol string, current storage.Observation) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if err := m.deleteErr[symbol]; err != nil {
		return 0, err
	}
	var kept []storage.Observation
	var deleted int64
	for _, obs := range m.rows[symbol] {
		older := obs.ObservedAt.Before(current.ObservedAt) ||
			(obs.ObservedAt.Equal(current.ObservedAt) && obs.ID < current.ID)
		if older {
			deleted++
			continue
		}
		kept = append(kept, obs)
	}
	m.rows[symbol] = kept
	return deleted, nil
}

type captureDispatcher struct {
	mu     sync.Mutex
	alerts []alerting.Alert
	accept bool
}

func newCapture() *captureDispatcher {
	return &captureDispatcher{accept: true}
}

func (c *captureDispatcher) Dispatch(alert alerting.Alert) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return c.accept
}

func (c *captureDispatcher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}
