package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/types"
)

var (
	// ErrInvalidEpisodeID is returned when an episode ID is empty or contains
	// the key separator.
	ErrInvalidEpisodeID = errors.New("invalid episode ID")
	// ErrInvalidTransition is returned when a checkpoint is moved to a state
	// the pipeline does not allow from its current one.
	ErrInvalidTransition = errors.New("invalid pipeline transition")
	// ErrStoreClosed is returned by a store used after Close.
	ErrStoreClosed = errors.New("checkpoint store closed")
)

const keyPrefix = "checkpoint:"

// Transition is one recorded state change.
type Transition struct {
	From  types.PipelineState `json:"from"`
	To    types.PipelineState `json:"to"`
	At    time.Time           `json:"at"`
	Error string              `json:"error,omitempty"`
}

// EpisodeCheckpoint is the pipeline state of one episode.
type EpisodeCheckpoint struct {
	EpisodeID   string              `json:"episode_id"`
	GroupID     string              `json:"group_id"`
	ContentHash string              `json:"content_hash"`
	State       types.PipelineState `json:"state"`

	CreatedAt     time.Time       `json:"created_at"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
	AttemptCount  int             `json:"attempt_count"`
	LastError     string          `json:"last_error,omitempty"`
	ErrorKind     types.ErrorKind `json:"error_kind,omitempty"`

	History []Transition `json:"history,omitempty"`
}

// Store persists checkpoints keyed by episode ID. Load returns (nil, nil) for
// an unknown episode.
type Store interface {
	Save(ctx context.Context, cp *EpisodeCheckpoint) error
	Load(ctx context.Context, episodeID string) (*EpisodeCheckpoint, error)
	Delete(ctx context.Context, episodeID string) error
	List(ctx context.Context) ([]*EpisodeCheckpoint, error)
	Close() error
}

// New opens the store selected by cfg: memory when InMemory is set or no
// path is given, badger otherwise.
func New(cfg config.CheckpointConfig, logger *slog.Logger) (Store, error) {
	if cfg.InMemory || cfg.Path == "" {
		return NewMemoryStore(), nil
	}
	return OpenBadgerStore(cfg.Path, logger)
}

func validateEpisodeID(episodeID string) error {
	if episodeID == "" || strings.ContainsAny(episodeID, ":\x00") {
		return ErrInvalidEpisodeID
	}
	return nil
}

func checkpointKey(episodeID string) []byte {
	return []byte(keyPrefix + episodeID)
}

// BadgerStore keeps checkpoints in a badger database so that pipeline
// progress survives restarts.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// OpenBadgerStore opens or creates a badger database in dir.
func OpenBadgerStore(dir string, logger *slog.Logger) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions(dir), logger)
}

// OpenInMemoryBadgerStore opens a badger database that lives only in memory.
func OpenInMemoryBadgerStore(logger *slog.Logger) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true), logger)
}

func openBadger(opts badger.Options, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.
		WithLogger(nil).
		WithMemTableSize(8 << 20).
		WithValueLogFileSize(32 << 20).
		WithNumMemtables(1).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(4 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

func (s *BadgerStore) ensureOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *BadgerStore) withView(fn func(txn *badger.Txn) error) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func (s *BadgerStore) withUpdate(fn func(txn *badger.Txn) error) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

// Save implements Store.
func (s *BadgerStore) Save(ctx context.Context, cp *EpisodeCheckpoint) error {
	if err := validateEpisodeID(cp.EpisodeID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return s.withUpdate(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(cp.EpisodeID), data)
	})
}

// Load implements Store.
func (s *BadgerStore) Load(ctx context.Context, episodeID string) (*EpisodeCheckpoint, error) {
	if err := validateEpisodeID(episodeID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cp *EpisodeCheckpoint
	err := s.withView(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(episodeID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			cp = &EpisodeCheckpoint{}
			return json.Unmarshal(val, cp)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", episodeID, err)
	}
	return cp, nil
}

// Delete implements Store. Deleting an unknown episode is not an error.
func (s *BadgerStore) Delete(ctx context.Context, episodeID string) error {
	if err := validateEpisodeID(episodeID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.withUpdate(func(txn *badger.Txn) error {
		return txn.Delete(checkpointKey(episodeID))
	})
}

// List implements Store. Entries that fail to decode are skipped.
func (s *BadgerStore) List(ctx context.Context) ([]*EpisodeCheckpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*EpisodeCheckpoint
	err := s.withView(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var cp EpisodeCheckpoint
				if err := json.Unmarshal(val, &cp); err != nil {
					s.logger.Warn("skipping undecodable checkpoint", "key", string(item.Key()), "error", err)
					return nil
				}
				out = append(out, &cp)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	sortCheckpoints(out)
	return out, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// MemoryStore keeps checkpoints in a map.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string][]byte)}
}

// Save implements Store. The checkpoint is copied.
func (m *MemoryStore) Save(ctx context.Context, cp *EpisodeCheckpoint) error {
	if err := validateEpisodeID(cp.EpisodeID); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.EpisodeID] = data
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context, episodeID string) (*EpisodeCheckpoint, error) {
	if err := validateEpisodeID(episodeID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.checkpoints[episodeID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var cp EpisodeCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, episodeID string) error {
	if err := validateEpisodeID(episodeID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, episodeID)
	return nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context) ([]*EpisodeCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*EpisodeCheckpoint, 0, len(m.checkpoints))
	for _, data := range m.checkpoints {
		var cp EpisodeCheckpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		out = append(out, &cp)
	}
	sortCheckpoints(out)
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

func sortCheckpoints(cps []*EpisodeCheckpoint) {
	sort.Slice(cps, func(i, j int) bool {
		if !cps[i].CreatedAt.Equal(cps[j].CreatedAt) {
			return cps[i].CreatedAt.Before(cps[j].CreatedAt)
		}
		return cps[i].EpisodeID < cps[j].EpisodeID
	})
}
