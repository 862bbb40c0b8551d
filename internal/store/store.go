// Package store keeps the last calibration of every tracker in a bbolt
// file so a rig that has not moved can skip recalibrating.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/relabs-tech/cycle_tracker/internal/calibration"
)

var bucketCalibrations = []byte("calibrations")

// ErrNotFound is returned by Load for a tracker with no saved calibration.
var ErrNotFound = errors.New("calibration not found")

// Record is one saved calibration.
type Record struct {
	ID      uuid.UUID       `json:"id"`
	Tracker string          `json:"tracker"`
	Fit     calibration.Fit `json:"fit"`
	SavedAt time.Time       `json:"saved_at"`
}

// Store is a bbolt database holding one Record per tracker name.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path. bbolt holds an exclusive
// file lock, so a second writer waits up to one second before failing.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCalibrations)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Save stores fit as the calibration of tracker, replacing any older one.
func (s *Store) Save(tracker string, fit calibration.Fit) (Record, error) {
	rec := Record{
		ID:      uuid.New(),
		Tracker: tracker,
		Fit:     fit,
		SavedAt: time.Now().UTC(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("store: encode %s: %w", tracker, err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCalibrations).Put([]byte(tracker), b)
	})
	if err != nil {
		return Record{}, fmt.Errorf("store: save %s: %w", tracker, err)
	}
	return rec, nil
}

// Load returns the saved calibration of tracker.
func (s *Store) Load(tracker string) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCalibrations).Get([]byte(tracker))
		if b == nil {
			return ErrNotFound
		}
		return json.Unmarshal(b, &rec)
	})
	if err != nil {
		return Record{}, fmt.Errorf("store: load %s: %w", tracker, err)
	}
	return rec, nil
}

// List returns every saved record ordered by tracker name.
func (s *Store) List() ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCalibrations).ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tracker < out[j].Tracker })
	return out, nil
}

// Delete removes the calibration of tracker. Deleting a missing key is not
// an error.
func (s *Store) Delete(tracker string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCalibrations).Delete([]byte(tracker))
	})
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}
