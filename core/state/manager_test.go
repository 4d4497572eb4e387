package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"aphdex/storage"
)

func TestTxCommitIsAtomicAndVisible(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, db.Put([]byte("old"), []byte{1}))
	mgr := NewManager(db)

	tx := mgr.Begin()
	require.NoError(t, tx.Put([]byte("new"), []byte{2}))
	require.NoError(t, tx.Delete([]byte("old")))

	// Pending writes are visible inside the overlay only.
	v, err := tx.Get([]byte("new"))
	require.NoError(t, err)
	require.Equal(t, []byte{2}, v)
	v, err = tx.Get([]byte("old"))
	require.NoError(t, err)
	require.Nil(t, v)
	ok, err := db.Has([]byte("new"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tx.Commit())
	ok, err = db.Has([]byte("old"))
	require.NoError(t, err)
	require.False(t, ok)
	got, err := db.Get([]byte("new"))
	require.NoError(t, err)
	require.Equal(t, []byte{2}, got)

	require.ErrorIs(t, tx.Commit(), ErrTxClosed)
}

func TestTxDiscardLeavesNoWrites(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	before, err := mgr.Digest(nil)
	require.NoError(t, err)

	tx := mgr.Begin()
	require.NoError(t, tx.Put([]byte("a"), []byte{1}))
	require.Equal(t, 1, tx.Pending())
	tx.Discard()

	after, err := mgr.Digest(nil)
	require.NoError(t, err)
	require.Equal(t, before, after)
	_, err = tx.Get([]byte("a"))
	require.ErrorIs(t, err, ErrTxClosed)
}

func TestTxIterateMergesOverlay(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, db.Put([]byte("p1"), []byte("committed")))
	require.NoError(t, db.Put([]byte("p2"), []byte("deleted")))
	require.NoError(t, db.Put([]byte("q1"), []byte("other")))
	tx := NewManager(db).Begin()
	require.NoError(t, tx.Delete([]byte("p2")))
	require.NoError(t, tx.Put([]byte("p0"), []byte("pending")))

	var keys []string
	require.NoError(t, tx.Iterate([]byte("p"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	require.Equal(t, []string{"p0", "p1"}, keys)
}

func TestNamespaceScopesKeys(t *testing.T) {
	db := storage.NewMemDB()
	tx := NewManager(db).Begin()
	ns := Namespace(tx, []byte("nep5:"))
	require.NoError(t, ns.Put([]byte("k"), []byte{7}))
	raw, err := tx.Get([]byte("nep5:k"))
	require.NoError(t, err)
	require.Equal(t, []byte{7}, raw)

	var seen [][]byte
	require.NoError(t, ns.Iterate(nil, func(key, _ []byte) bool {
		seen = append(seen, key)
		return true
	}))
	require.Equal(t, [][]byte{[]byte("k")}, seen)
}

func TestRLPHelpers(t *testing.T) {
	type record struct {
		Name  string
		Value uint64
	}
	tx := NewManager(storage.NewMemDB()).Begin()
	found, err := GetRLP(tx, []byte("r"), new(record))
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, PutRLP(tx, []byte("r"), &record{Name: "x", Value: 9}))
	var out record
	found, err = GetRLP(tx, []byte("r"), &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, record{Name: "x", Value: 9}, out)
}

func TestDigestTracksContent(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	empty, err := mgr.Digest(nil)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	filled, err := mgr.Digest(nil)
	require.NoError(t, err)
	require.NotEqual(t, empty, filled)
	other, err := mgr.Digest([]byte("z"))
	require.NoError(t, err)
	require.Equal(t, empty, other)
}
