package state

import (
	"fmt"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"counterchain/storage/trie"
)

// Manager provides RLP-encoded key/value access to the host state trie.
// Program code never talks to the Manager directly; the host runtime hands
// each program a namespaced, gas-metered view instead.
type Manager struct {
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Get returns the raw bytes stored under key. Missing keys yield a nil slice.
func (m *Manager) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("kv: key must not be empty")
	}
	return m.trie.Get(kvKey(key))
}

// Put stores raw bytes under key.
func (m *Manager) Put(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.trie.Update(kvKey(key), value)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256 to match the requirements of
// the underlying trie implementation.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.Put(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	data, err := m.Get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice to avoid nil
// surprises for callers.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	data, err := m.Get(key)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// Namespace returns a view whose keys are prefixed with "<prefix>/".
func (m *Manager) Namespace(prefix string) *View {
	return &View{manager: m, prefix: []byte(prefix + "/")}
}

// View is a prefix-scoped window onto the state manager.
type View struct {
	manager *Manager
	prefix  []byte
}

func (v *View) key(key []byte) []byte {
	out := make([]byte, 0, len(v.prefix)+len(key))
	out = append(out, v.prefix...)
	return append(out, key...)
}

// Get returns the raw bytes stored under the scoped key.
func (v *View) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("kv: key must not be empty")
	}
	return v.manager.Get(v.key(key))
}

// Put stores raw bytes under the scoped key.
func (v *View) Put(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return v.manager.Put(v.key(key), value)
}

// KVGet decodes the RLP value stored under the scoped key.
func (v *View) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return v.manager.KVGet(v.key(key), out)
}

// KVPut RLP-encodes value under the scoped key.
func (v *View) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return v.manager.KVPut(v.key(key), value)
}
