package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bucketSongs  = "songs"
	bucketOwners = "owners"
)

// BoltStore keeps songs as JSON values in a bbolt file. A second bucket
// indexes song ids by owner with keys of the form "<owner>\x00<id>".
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open song database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketSongs, bucketOwners} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

func ownerKey(ownerID, id string) []byte {
	return []byte(ownerID + "\x00" + id)
}

// Create stores a new song with a pending analysis.
func (s *BoltStore) Create(song *Song) error {
	if song.ID == "" || song.OwnerID == "" {
		return fmt.Errorf("song needs an id and an owner")
	}
	if song.CreatedAt.IsZero() {
		song.CreatedAt = s.now().UTC()
	}
	if song.Analysis == "" {
		song.Analysis = AnalysisPending
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		songs := tx.Bucket([]byte(bucketSongs))
		if songs.Get([]byte(song.ID)) != nil {
			return fmt.Errorf("%w: %s", ErrExists, song.ID)
		}
		data, err := json.Marshal(song)
		if err != nil {
			return fmt.Errorf("failed to marshal song: %w", err)
		}
		if err := songs.Put([]byte(song.ID), data); err != nil {
			return fmt.Errorf("failed to store song: %w", err)
		}
		return tx.Bucket([]byte(bucketOwners)).Put(ownerKey(song.OwnerID, song.ID), []byte{})
	})
}

// Get returns the song with id.
func (s *BoltStore) Get(id string) (*Song, error) {
	var song *Song
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		song, err = getSong(tx, id)
		return err
	})
	return song, err
}

func getSong(tx *bolt.Tx, id string) (*Song, error) {
	data := tx.Bucket([]byte(bucketSongs)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var song Song
	if err := json.Unmarshal(data, &song); err != nil {
		return nil, fmt.Errorf("failed to unmarshal song: %w", err)
	}
	return &song, nil
}

// ListByOwner returns an owner's songs, newest first.
func (s *BoltStore) ListByOwner(ownerID string) ([]*Song, error) {
	songs := []*Song{}
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := []byte(ownerID + "\x00")
		c := tx.Bucket([]byte(bucketOwners)).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			song, err := getSong(tx, string(k[len(prefix):]))
			if err != nil {
				return err
			}
			songs = append(songs, song)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(songs, func(i, j int) bool {
		return songs[i].CreatedAt.After(songs[j].CreatedAt)
	})
	return songs, nil
}

// ListPending returns songs still waiting for analysis, oldest first.
func (s *BoltStore) ListPending() ([]*Song, error) {
	songs := []*Song{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSongs)).ForEach(func(_, v []byte) error {
			var song Song
			if err := json.Unmarshal(v, &song); err != nil {
				return fmt.Errorf("failed to unmarshal song: %w", err)
			}
			if song.Analysis == AnalysisPending {
				songs = append(songs, &song)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(songs, func(i, j int) bool {
		return songs[i].CreatedAt.Before(songs[j].CreatedAt)
	})
	return songs, nil
}

// SetAnalysis records the analysis attributes of a song. It succeeds once
// per song; later calls return ErrAlreadyAnalyzed.
func (s *BoltStore) SetAnalysis(id string, a Analysis) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		song, err := getSong(tx, id)
		if err != nil {
			return err
		}
		if song.Analysis != AnalysisPending {
			return fmt.Errorf("%w: %s", ErrAlreadyAnalyzed, id)
		}

		song.Waveform = a.Waveform
		song.Duration = a.Duration
		song.Analysis = AnalysisReady
		if a.Failed {
			song.Analysis = AnalysisFailed
		}
		now := s.now().UTC()
		song.AnalyzedAt = &now

		data, err := json.Marshal(song)
		if err != nil {
			return fmt.Errorf("failed to marshal song: %w", err)
		}
		return tx.Bucket([]byte(bucketSongs)).Put([]byte(id), data)
	})
}

// Close closes the underlying database
func (s *BoltStore) Close() error {
	return s.db.Close()
}
