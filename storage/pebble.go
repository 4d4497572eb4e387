package storage

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// PebbleDB is a persistent backend built on CockroachDB's pebble LSM.
type PebbleDB struct {
	db *pebble.DB
}

// NewPebbleDB opens or creates a pebble store in dir.
func NewPebbleDB(dir string) (*PebbleDB, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleDB{db: db}, nil
}

func (p *PebbleDB) Put(key []byte, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *PebbleDB) Get(key []byte) ([]byte, error) {
	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return clone(val), nil
}

func (p *PebbleDB) Has(key []byte) (bool, error) {
	_, err := p.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (p *PebbleDB) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if !fn(clone(iter.Key()), clone(iter.Value())) {
			break
		}
	}
	return iter.Error()
}

func (p *PebbleDB) Apply(b *Batch) error {
	if b == nil || len(b.ops) == 0 {
		return nil
	}
	batch := p.db.NewBatch()
	defer batch.Close()
	for _, op := range b.ops {
		var err error
		if op.delete {
			err = batch.Delete(op.key, nil)
		} else {
			err = batch.Set(op.key, op.value, nil)
		}
		if err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (p *PebbleDB) Close() {
	p.db.Close()
}
