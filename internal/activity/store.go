package activity

import (
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/idlewatch/internal/metrics"
)

// Store owns all activity records. It is the single writer: handlers mutate
// records only through Touch. Every mutation is written through to the
// activity file so state survives restarts.
type Store struct {
	mu      sync.RWMutex
	path    string
	records map[string]*Record
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewStore creates an empty store backed by the JSON file at path.
// metrics may be nil (tests).
func NewStore(path string, m *metrics.Metrics, logger zerolog.Logger) *Store {
	return &Store{
		path:    path,
		records: make(map[string]*Record),
		logger:  logger.With().Str("component", "activity.store").Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// Load reads the persisted activity file into memory. A missing file yields
// an empty store; a malformed file or individual malformed records are
// skipped with a warning. Only total inaccessibility (file exists but
// cannot be read) is returned as an error.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Info().Str("path", s.path).Msg("no existing activity data - starting fresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read activity file %s: %w", s.path, err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("activity file is not valid JSON - starting fresh")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	skipped := 0
	for id, entry := range entries {
		var r Record
		if err := json.Unmarshal(entry, &r); err != nil {
			s.logger.Warn().Err(err).Str("identifier", id).Msg("skipping malformed activity record")
			skipped++
			continue
		}
		if r.Identifier == "" {
			r.Identifier = id
		}
		if r.LastSeen.IsZero() {
			s.logger.Warn().Str("identifier", id).Msg("skipping activity record without last_seen")
			skipped++
			continue
		}
		// Older files omit first_seen.
		if r.FirstSeen.IsZero() {
			r.FirstSeen = r.LastSeen
		}
		if r.MessageCount < 1 {
			r.MessageCount = 1
		}
		s.records[r.Identifier] = &r
	}

	s.logger.Info().Int("members", len(s.records)).Int("skipped", skipped).Msg("loaded activity data")
	s.updateGauge()
	return nil
}

// Touch records one observed message from the given member. New members get
// a fresh record with first_seen = last_seen = now and message_count 1;
// known members get last_seen bumped and message_count incremented. The
// store is persisted afterwards; a persistence failure is logged and the
// in-memory state stays authoritative for this process run.
func (s *Store) Touch(identifier string) Record {
	s.mu.Lock()
	now := s.now()
	r, ok := s.records[identifier]
	if ok {
		r.LastSeen = now
		r.MessageCount++
	} else {
		r = &Record{
			Identifier:   identifier,
			LastSeen:     now,
			MessageCount: 1,
			FirstSeen:    now,
		}
		s.records[identifier] = r
	}
	out := *r
	s.updateGauge()
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		s.logger.Error().Err(err).Str("identifier", identifier).Msg("failed to persist activity data")
		if s.metrics != nil {
			s.metrics.PersistErrors.Inc()
		}
	}
	return out
}

// Get returns the record for identifier, if tracked.
func (s *Store) Get(identifier string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[identifier]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Len returns the number of tracked members.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All returns a restartable sequence over a point-in-time snapshot of all
// records. Iteration order is unspecified.
func (s *Store) All() iter.Seq[Record] {
	s.mu.RLock()
	snapshot := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		snapshot = append(snapshot, *r)
	}
	s.mu.RUnlock()

	return func(yield func(Record) bool) {
		for _, r := range snapshot {
			if !yield(r) {
				return
			}
		}
	}
}

// persist writes the full record map to a temp file in the same directory
// and renames it over the activity file, so a failed write never corrupts
// previously-good records.
func (s *Store) persist() error {
	s.mu.RLock()
	out := make(map[string]*Record, len(s.records))
	for id, r := range s.records {
		out[id] = r
	}
	data, err := json.MarshalIndent(out, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal activity data: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".activity-*.json")
	if err != nil {
		return fmt.Errorf("create temp activity file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write activity data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp activity file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace activity file: %w", err)
	}
	return nil
}

func (s *Store) updateGauge() {
	if s.metrics != nil {
		s.metrics.TrackedMembers.Set(float64(len(s.records)))
	}
}
