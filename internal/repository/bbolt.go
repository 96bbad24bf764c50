package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	positionsBucket = "playback_positions"
	schemaVersion   = 1
	metadataBucket  = "metadata"
)

// BboltPositionStore implements PositionStore on top of an embedded bbolt
// database, one row per (infohash, file path) pair.
type BboltPositionStore struct {
	db *bbolt.DB
}

// NewBboltPositionStore opens (creating if necessary) a bbolt database at
// dbPath and prepares its bucket layout.
func NewBboltPositionStore(dbPath string) (*BboltPositionStore, error) {
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &BboltPositionStore{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *BboltPositionStore) initialize() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(positionsBucket)); err != nil {
			return fmt.Errorf("failed to create positions bucket: %w", err)
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		return meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion)))
	})
}

func positionKey(infoHash, filePath string) []byte {
	return []byte(infoHash + "\x00" + filePath)
}

// SavePosition upserts pos, stamping UpdatedAt with the current time.
func (s *BboltPositionStore) SavePosition(pos PlaybackPosition) error {
	pos.UpdatedAt = time.Now()

	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to marshal playback position: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(positionsBucket))
		return bucket.Put(positionKey(pos.InfoHash, pos.FilePath), data)
	})
}

// FindPosition looks up the last saved position for (infoHash, filePath). It
// returns ok=false, with no error, when nothing has been saved yet.
func (s *BboltPositionStore) FindPosition(infoHash, filePath string) (PlaybackPosition, bool, error) {
	var pos PlaybackPosition
	var found bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(positionsBucket))
		data := bucket.Get(positionKey(infoHash, filePath))
		if data == nil {
			return nil
		}

		found = true
		return json.Unmarshal(data, &pos)
	})
	if err != nil {
		return PlaybackPosition{}, false, err
	}

	return pos, found, nil
}

// Close closes the underlying database.
func (s *BboltPositionStore) Close() error {
	return s.db.Close()
}
