package counter

import (
	"errors"
	"fmt"
	"math"
)

// kvStore abstracts the subset of host functionality required by the
// counter state.
type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	recordsLenKey = []byte("records/len")
	recordPrefix  = "records/"
)

// ErrRecordMissing signals a hole in the record sequence.
var ErrRecordMissing = errors.New("counter: record missing")

func recordKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", recordPrefix, index))
}

// RecordLog is an append-only sequence of action records. Index order is
// insertion order.
type RecordLog struct {
	store kvStore
}

// NewRecordLog binds a record log to store.
func NewRecordLog(store kvStore) *RecordLog {
	return &RecordLog{store: store}
}

// Len returns the number of records.
func (l *RecordLog) Len() (uint64, error) {
	var n uint64
	if _, err := l.store.KVGet(recordsLenKey, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Append stores rec at the end of the log and returns its index.
func (l *RecordLog) Append(rec Record) (uint64, error) {
	n, err := l.Len()
	if err != nil {
		return 0, err
	}
	if n == math.MaxUint64 {
		return 0, errors.New("counter: record log full")
	}
	if err := l.store.KVPut(recordKey(n), rec); err != nil {
		return 0, err
	}
	if err := l.store.KVPut(recordsLenKey, n+1); err != nil {
		return 0, err
	}
	return n, nil
}

// Get returns the record at index.
func (l *RecordLog) Get(index uint64) (Record, bool, error) {
	var rec Record
	ok, err := l.store.KVGet(recordKey(index), &rec)
	return rec, ok, err
}

// Query returns up to take records, newest first, after skipping the skip
// most recent ones. Out-of-range skip and zero take yield an empty slice.
func (l *RecordLog) Query(skip, take uint64) ([]Record, error) {
	n, err := l.Len()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0)
	if skip >= n || take == 0 {
		return out, nil
	}
	count := n - skip
	if take < count {
		count = take
	}
	for k := uint64(0); k < count; k++ {
		index := n - 1 - skip - k
		rec, ok, err := l.Get(index)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrRecordMissing, index)
		}
		out = append(out, rec)
	}
	return out, nil
}
