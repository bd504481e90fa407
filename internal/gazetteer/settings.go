package gazetteer

import (
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
)

var modelsBucket = []byte("models")

// Settings persists trained models keyed by training fingerprint so a restart
// with unchanged training data skips retraining
type Settings struct {
	db *bolt.DB
}

// OpenSettings opens or creates the settings file at path
func OpenSettings(path string) (*Settings, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, Error.New("failed to open settings %s: %v", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(modelsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, Error.Wrap(err)
	}

	return &Settings{db: db}, nil
}

// Close releases the settings file
func (s *Settings) Close() error {
	return Error.Wrap(s.db.Close())
}

// Load returns the model stored for fingerprint, if any
func (s *Settings) Load(fingerprint string) (*Model, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(modelsBucket).Get([]byte(fingerprint)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, Error.Wrap(err)
	}
	if data == nil {
		return nil, false, nil
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, Error.Wrap(err)
	}
	return &m, true, nil
}

// Save stores model under fingerprint, replacing any previous value
func (s *Settings) Save(fingerprint string, model *Model) error {
	data, err := json.Marshal(model)
	if err != nil {
		return Error.Wrap(err)
	}

	return Error.Wrap(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(modelsBucket).Put([]byte(fingerprint), data)
	}))
}
