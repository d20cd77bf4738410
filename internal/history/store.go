// Package history persists past sessions. The backing file is a single JSON
// document, newest first, rewritten wholesale on every mutation; all writes
// must come from the coordination context.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/vox/internal/domain"
	"github.com/joss/vox/internal/logging"
)

// Store owns the history file and its retention policy.
type Store struct {
	path string
	max  int
	log  *logging.Logger

	mu    sync.Mutex
	index *Index // optional search index, best effort
}

// NewStore opens a store over path, retaining at most max records.
func NewStore(path string, max int) *Store {
	if max <= 0 {
		max = 50
	}
	return &Store{
		path: path,
		max:  max,
		log:  logging.New("history"),
	}
}

// WithIndex attaches a search index that is kept in step with the file.
func (s *Store) WithIndex(idx *Index) *Store {
	s.index = idx
	return s
}

// Archive inserts the record at the head and enforces retention, deleting
// evicted records' screenshot files. Idempotence across termination paths is
// guarded at the orchestrator layer; the store simply inserts.
func (s *Store) Archive(rec domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	records = append([]domain.Session{rec}, records...)

	var evicted []domain.Session
	if len(records) > s.max {
		evicted = records[s.max:]
		records = records[:s.max]
	}

	if err := s.rewrite(records); err != nil {
		return err
	}

	// Screenshots are removed only after the rewrite succeeded, so no
	// surviving record can point at a deleted file.
	for _, old := range evicted {
		if old.ScreenshotRef != "" {
			if err := os.Remove(old.ScreenshotRef); err != nil && !os.IsNotExist(err) {
				s.log.Warn("screenshot_gc", map[string]interface{}{"path": old.ScreenshotRef}, err)
			}
		}
	}

	if s.index != nil {
		if err := s.index.Put(rec); err != nil {
			s.log.Warn("index_put", map[string]interface{}{"id": rec.ID}, err)
		}
		for _, old := range evicted {
			s.index.Delete(old.ID)
		}
	}
	return nil
}

// AppendTurn appends a turn to an existing record. Unknown ids are a no-op;
// the record may have been evicted.
func (s *Store) AppendTurn(id string, turn domain.Turn) error {
	return s.mutate(id, func(rec *domain.Session) {
		rec.Turns = append(rec.Turns, turn)
		rec.EndedAt = turn.Timestamp
	})
}

// UpdateAssistantTurn replaces the last pending assistant turn for the
// session, or appends when none is pending. Unknown ids are a no-op.
func (s *Store) UpdateAssistantTurn(id, content string) error {
	return s.mutate(id, func(rec *domain.Session) {
		now := time.Now()
		for i := len(rec.Turns) - 1; i >= 0; i-- {
			if rec.Turns[i].Role == domain.RoleAssistant && rec.Turns[i].Pending {
				rec.Turns[i].Content = content
				rec.Turns[i].Pending = false
				rec.Turns[i].Timestamp = now
				rec.EndedAt = now
				return
			}
		}
		rec.Turns = append(rec.Turns, domain.Turn{
			ID:        NewTurnID(),
			Role:      domain.RoleAssistant,
			Content:   content,
			Timestamp: now,
		})
		rec.EndedAt = now
	})
}

func (s *Store) mutate(id string, fn func(*domain.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID == id {
			fn(&records[i])
			if err := s.rewrite(records); err != nil {
				return err
			}
			if s.index != nil {
				if err := s.index.Put(records[i]); err != nil {
					s.log.Warn("index_put", map[string]interface{}{"id": id}, err)
				}
			}
			return nil
		}
	}
	return nil
}

// List returns all records, newest first.
func (s *Store) List() ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns a record by id, or nil when unknown.
func (s *Store) Get(id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id {
			return &records[i], nil
		}
	}
	return nil, nil
}

// Clear removes all records and their screenshot files.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	if err := s.rewrite(nil); err != nil {
		return err
	}
	for _, rec := range records {
		if rec.ScreenshotRef != "" {
			os.Remove(rec.ScreenshotRef)
		}
		if s.index != nil {
			s.index.Delete(rec.ID)
		}
	}
	return nil
}

// storedRecord tolerates the legacy single-transcript shape on read. New
// writes always use the turns-list shape; transcript and aiResponse are
// derived projections, never stored.
type storedRecord struct {
	domain.Session
	LegacyTranscript string     `json:"transcript,omitempty"`
	LegacyResponse   string     `json:"aiResponse,omitempty"`
	LegacyTimestamp  *time.Time `json:"timestamp,omitempty"`
}

func (s *Store) load() ([]domain.Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}

	var stored []storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}

	records := make([]domain.Session, 0, len(stored))
	for _, r := range stored {
		records = append(records, upcast(r))
	}
	return records, nil
}

// upcast migrates a legacy record into the turns-list shape.
func upcast(r storedRecord) domain.Session {
	rec := r.Session
	if len(rec.Turns) > 0 {
		return rec
	}

	ts := rec.StartedAt
	if r.LegacyTimestamp != nil {
		ts = *r.LegacyTimestamp
		rec.StartedAt = ts
		rec.EndedAt = ts
	}
	if r.LegacyTranscript != "" {
		rec.Turns = append(rec.Turns, domain.Turn{
			ID:        NewTurnID(),
			Role:      domain.RoleUser,
			Content:   r.LegacyTranscript,
			Timestamp: ts,
		})
	}
	if r.LegacyResponse != "" {
		rec.Turns = append(rec.Turns, domain.Turn{
			ID:        NewTurnID(),
			Role:      domain.RoleAssistant,
			Content:   r.LegacyResponse,
			Timestamp: ts,
		})
	}
	if rec.EndReason == "" {
		rec.EndReason = domain.EndCompleted
	}
	return rec
}

func (s *Store) rewrite(records []domain.Session) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	if records == nil {
		records = []domain.Session{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// NewTurnID mints a sortable turn identifier.
func NewTurnID() string {
	return ulid.Make().String()
}
