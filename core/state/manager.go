package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"aphdex/storage"
)

var (
	ErrTxClosed = errors.New("state: transaction already committed or discarded")
	ErrEmptyKey = errors.New("state: empty key")
)

// KV is the view of contract storage handed to native engines. Reads of a
// missing key return a nil value and no error.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
}

// Manager owns the committed database and hands out invocation-scoped
// overlays. Only one overlay should be open at a time.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager on top of db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens an overlay. Writes stay private until Commit.
func (m *Manager) Begin() *Tx {
	return &Tx{
		db:     m.db,
		writes: make(map[string][]byte),
	}
}

// Digest returns a blake3 commitment over every committed entry under prefix,
// visited in key order.
func (m *Manager) Digest(prefix []byte) ([32]byte, error) {
	h := blake3.New(32, nil)
	var lenBuf [4]byte
	err := m.db.Iterate(prefix, func(key, value []byte) bool {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(key)))
		h.Write(lenBuf[:])
		h.Write(key)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
		h.Write(lenBuf[:])
		h.Write(value)
		return true
	})
	var out [32]byte
	if err != nil {
		return out, err
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Tx is a write overlay. A nil entry in writes marks a delete.
type Tx struct {
	db     storage.Database
	writes map[string][]byte
	closed bool
}

func (t *Tx) Get(key []byte) ([]byte, error) {
	if t.closed {
		return nil, ErrTxClosed
	}
	if v, ok := t.writes[string(key)]; ok {
		if v == nil {
			return nil, nil
		}
		return append([]byte(nil), v...), nil
	}
	v, err := t.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func (t *Tx) Put(key, value []byte) error {
	if t.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if value == nil {
		value = []byte{}
	}
	t.writes[string(key)] = append([]byte{}, value...)
	return nil
}

func (t *Tx) Delete(key []byte) error {
	if t.closed {
		return ErrTxClosed
	}
	t.writes[string(key)] = nil
	return nil
}

// Iterate merges committed entries with pending writes and visits the result
// in ascending key order.
func (t *Tx) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	if t.closed {
		return ErrTxClosed
	}
	merged := make(map[string][]byte)
	if err := t.db.Iterate(prefix, func(key, value []byte) bool {
		merged[string(key)] = value
		return true
	}); err != nil {
		return err
	}
	for k, v := range t.writes {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), append([]byte(nil), merged[k]...)) {
			return nil
		}
	}
	return nil
}

// Pending reports the number of keys touched by the overlay.
func (t *Tx) Pending() int { return len(t.writes) }

// Commit writes the overlay atomically and closes it.
func (t *Tx) Commit() error {
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true
	batch := new(storage.Batch)
	keys := make([]string, 0, len(t.writes))
	for k := range t.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := t.writes[k]; v == nil {
			batch.Delete([]byte(k))
		} else {
			batch.Put([]byte(k), v)
		}
	}
	if err := t.db.Apply(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Discard drops every pending write.
func (t *Tx) Discard() {
	t.closed = true
	t.writes = nil
}

// Namespace returns a view of kv where every key is prefixed with ns.
func Namespace(kv KV, ns []byte) KV {
	return &namespaced{kv: kv, ns: append([]byte(nil), ns...)}
}

type namespaced struct {
	kv KV
	ns []byte
}

func (n *namespaced) key(k []byte) []byte {
	out := make([]byte, 0, len(n.ns)+len(k))
	return append(append(out, n.ns...), k...)
}

func (n *namespaced) Get(key []byte) ([]byte, error) { return n.kv.Get(n.key(key)) }
func (n *namespaced) Put(key, value []byte) error    { return n.kv.Put(n.key(key), value) }
func (n *namespaced) Delete(key []byte) error        { return n.kv.Delete(n.key(key)) }

func (n *namespaced) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return n.kv.Iterate(n.key(prefix), func(key, value []byte) bool {
		return fn(key[len(n.ns):], value)
	})
}

// PutRLP stores the RLP encoding of value under key.
func PutRLP(kv KV, key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %x: %w", key, err)
	}
	return kv.Put(key, encoded)
}

// GetRLP decodes the record stored under key into out. The boolean is false
// when the key is absent.
func GetRLP(kv KV, key []byte, out interface{}) (bool, error) {
	raw, err := kv.Get(key)
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key, err)
	}
	return true, nil
}
