package counter

import (
	"github.com/holiman/uint256"
)

var valueKey = []byte("value")

// State is the whole persisted counter: the scalar value plus the record
// log. Entry points load it once and write it back through Apply.
type State struct {
	store   kvStore
	value   *uint256.Int
	records *RecordLog
}

// LoadState reads the counter from store. A fresh store yields zero.
func LoadState(store kvStore) (*State, error) {
	value := new(uint256.Int)
	if _, err := store.KVGet(valueKey, value); err != nil {
		return nil, err
	}
	return &State{store: store, value: value, records: NewRecordLog(store)}, nil
}

// Value returns a copy of the counter value.
func (s *State) Value() *uint256.Int { return new(uint256.Int).Set(s.value) }

// Records exposes the record log.
func (s *State) Records() *RecordLog { return s.records }

// Apply stores the new value and appends rec.
func (s *State) Apply(value *uint256.Int, rec Record) error {
	if err := s.store.KVPut(valueKey, value); err != nil {
		return err
	}
	if _, err := s.records.Append(rec); err != nil {
		return err
	}
	s.value = new(uint256.Int).Set(value)
	return nil
}

// SetInitialValue overwrites the counter value without recording an action.
// It is meant for genesis seeding.
func SetInitialValue(store kvStore, value *uint256.Int) error {
	if value == nil {
		value = new(uint256.Int)
	}
	return store.KVPut(valueKey, value)
}
