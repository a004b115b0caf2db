package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/buntdb"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = buntdb.ErrNotFound

// Storable is an object stored as JSON under its key.
type Storable interface {
	Key() string
}

type DB struct {
	*buntdb.DB
}

// NewBunt opens the database at filePath. ":memory:" opens an in-memory database.
func NewBunt(filePath string) (*DB, error) {
	if filePath != ":memory:" {
		if dir := filepath.Dir(filePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}
	db, err := buntdb.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("could not open bunt db %s: %w", filePath, err)
	}
	log.Debugf("[Bunt] opened %s", filePath)
	return &DB{db}, nil
}

// Get loads object by its key.
func (db *DB) Get(object Storable) error {
	return db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(object.Key())
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), object)
	})
}

// Set stores object under its key.
func (db *DB) Set(object Storable) error {
	b, err := json.Marshal(object)
	if err != nil {
		return err
	}
	return db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(object.Key(), string(b), nil)
		if err != nil {
			log.Errorf("[Bunt] could not set %s: %v", object.Key(), err)
		}
		return err
	})
}

// Delete removes a key. Deleting a missing key is not an error.
func (db *DB) Delete(key string) error {
	return db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// GetString returns the raw value of key.
func (db *DB) GetString(key string) (string, error) {
	var value string
	err := db.View(func(tx *buntdb.Tx) error {
		var err error
		value, err = tx.Get(key)
		return err
	})
	return value, err
}

func (db *DB) SetString(key, value string) error {
	return db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, value, nil)
		return err
	})
}
