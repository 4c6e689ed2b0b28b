package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/raphaelgruber/pmchat/internal/models"
)

const fileFormatVersion = 1

// fileEncMode keeps sub-second timestamps; the default CBOR time encoding is whole seconds.
var fileEncMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	fileEncMode, err = opts.EncMode()
	if err != nil {
		panic("ledger: CBOR file encoder initialization failed: " + err.Error())
	}
}

type fileContents struct {
	Version int                  `cbor:"version"`
	Entries []models.LedgerEntry `cbor:"entries"`
}

// FileStore keeps entries in a single CBOR file that is rewritten atomically
// (temp file + rename) on every mutation. It is safe for use by one process.
type FileStore struct {
	path    string
	mu      sync.Mutex
	entries map[string]models.LedgerEntry
}

// OpenFileStore loads the ledger file at path, creating its directory if needed.
// A missing file is an empty ledger.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	s := &FileStore{path: path, entries: make(map[string]models.LedgerEntry)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var contents fileContents
	if err := cbor.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("decode ledger file %s: %w", path, err)
	}
	if contents.Version != fileFormatVersion {
		return nil, fmt.Errorf("ledger file %s: unsupported version %d", path, contents.Version)
	}
	for _, e := range contents.Entries {
		s.entries[e.Key.String()] = e
	}
	return s, nil
}

// Path returns the ledger file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(_ context.Context, key models.LedgerKey) (models.LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.String()]
	return e, ok, nil
}

func (s *FileStore) PutIfAbsent(_ context.Context, entry models.LedgerEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := entry.Key.String()
	if _, ok := s.entries[k]; ok {
		return false, nil
	}
	s.entries[k] = entry
	if err := s.flush(); err != nil {
		delete(s.entries, k)
		return false, err
	}
	return true, nil
}

func (s *FileStore) Put(_ context.Context, entry models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := entry.Key.String()
	prev, had := s.entries[k]
	s.entries[k] = entry
	if err := s.flush(); err != nil {
		if had {
			s.entries[k] = prev
		} else {
			delete(s.entries, k)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, key models.LedgerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	prev, had := s.entries[k]
	if !had {
		return nil
	}
	delete(s.entries, k)
	if err := s.flush(); err != nil {
		s.entries[k] = prev
		return err
	}
	return nil
}

func (s *FileStore) List(_ context.Context, conversationID string) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterSorted(s.entries, conversationID), nil
}

// flush writes all entries. Callers hold s.mu.
func (s *FileStore) flush() error {
	data, err := fileEncMode.Marshal(fileContents{
		Version: fileFormatVersion,
		Entries: filterSorted(s.entries, ""),
	})
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ledger-*")
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close ledger: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}
