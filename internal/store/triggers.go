package store

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v4"
	apperrors "github.com/gmsas95/pillpal/internal/errors"
)

// ==================== Trigger Id Sets (BadgerDB) ====================

func triggerSetKey(patientID string) []byte {
	return []byte("triggers:" + patientID)
}

// LoadTriggerIDs returns the trigger ids created by the patient's last resync
func (s *Store) LoadTriggerIDs(patientID string) ([]string, error) {
	var ids []string
	err := s.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get(triggerSetKey(patientID))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &ids)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Backend("loading trigger ids", err)
	}
	return ids, nil
}

// SaveTriggerIDs replaces the patient's persisted trigger id set
func (s *Store) SaveTriggerIDs(patientID string, ids []string) error {
	if len(ids) == 0 {
		err := s.badger.Update(func(txn *badger.Txn) error {
			return txn.Delete(triggerSetKey(patientID))
		})
		if err != nil {
			return apperrors.Backend("clearing trigger ids", err)
		}
		return nil
	}

	data, err := json.Marshal(ids)
	if err != nil {
		return apperrors.Backend("encoding trigger ids", err)
	}
	err = s.badger.Update(func(txn *badger.Txn) error {
		return txn.Set(triggerSetKey(patientID), data)
	})
	if err != nil {
		return apperrors.Backend("saving trigger ids", err)
	}
	return nil
}

// AddTriggerID appends one id to the patient's set inside a single badger
// transaction
func (s *Store) AddTriggerID(patientID, id string) error {
	err := s.badger.Update(func(txn *badger.Txn) error {
		var ids []string
		item, err := txn.Get(triggerSetKey(patientID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &ids)
			}); err != nil {
				return err
			}
		}

		for _, existing := range ids {
			if existing == id {
				return nil
			}
		}
		data, err := json.Marshal(append(ids, id))
		if err != nil {
			return err
		}
		return txn.Set(triggerSetKey(patientID), data)
	})
	if err != nil {
		return apperrors.Backend("adding trigger id", err)
	}
	return nil
}

// ==================== Pending Triggers (BadgerDB) ====================

const pendingPrefix = "pending:"

// PutPending stores an armed trigger so it survives a restart
func (s *Store) PutPending(id string, payload []byte) error {
	err := s.badger.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(pendingPrefix+id), payload)
	})
	if err != nil {
		return apperrors.Backend("saving pending trigger", err)
	}
	return nil
}

// DeletePending removes an armed trigger. Missing ids are ignored.
func (s *Store) DeletePending(id string) error {
	err := s.badger.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(pendingPrefix + id))
	})
	if err != nil {
		return apperrors.Backend("deleting pending trigger", err)
	}
	return nil
}

// ListPending returns every armed trigger keyed by id
func (s *Store) ListPending() (map[string][]byte, error) {
	pending := make(map[string][]byte)
	prefix := []byte(pendingPrefix)

	err := s.badger.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(prefix):])
			if err := item.Value(func(v []byte) error {
				pending[id] = append([]byte{}, v...)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Backend("listing pending triggers", err)
	}
	return pending, nil
}

// PendingIDs returns the armed trigger ids in sorted order
func (s *Store) PendingIDs() ([]string, error) {
	pending, err := s.ListPending()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
