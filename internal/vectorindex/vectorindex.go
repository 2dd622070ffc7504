// Package vectorindex persists fixed-width acoustic feature vectors and
// serves approximate nearest-neighbor lookups over them, per spec.md §3's
// "tree-based ANN index keyed by MediaFile id" and §4.6. Persistence is
// grounded on internal/wal's badger/v4 usage in the retrieved pack (the
// only embedded-KV store the examples wire); no library anywhere in the
// pack implements the tree-based ANN search itself, so the index
// structure (an in-memory KD-tree rebuilt from the persisted vectors) is
// a from-scratch, pack-grounded implementation of the Annoy-style
// search_k semantics spec.md §4.6 specifies explicitly.
package vectorindex

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/runic-labs/rune/pkg/ids"
)

// Dimensions is the fixed vector width every entry must have, per
// spec.md §9's redesign fix ("vector dimension is fixed at 61
// everywhere").
const Dimensions = 61

// Vector is one fixed-width feature vector.
type Vector [Dimensions]float64

// Neighbor is one ranked result of a Search/Neighbors call.
type Neighbor struct {
	MediaFileID int64
	Distance    float64
}

var keyPrefix = []byte("vec:")

// Index is a badger-backed store of per-MediaFile feature vectors with an
// in-memory KD-tree rebuilt on Upsert/Delete/Rebuild for nearest-neighbor
// queries.
type Index struct {
	db *badger.DB

	mu   sync.RWMutex
	tree *kdNode
	ids  []int64
}

// Open opens (or creates) the badger database at dir and rebuilds the
// in-memory tree from its persisted contents.
func Open(dir string) (*Index, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, ids.Wrap(ids.KindIO, "vectorindex: open", err)
	}
	idx := &Index{db: db}
	if err := idx.Rebuild(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// OpenInMemory opens an ephemeral, non-persistent index, used by tests and
// by any caller that wants vector similarity without disk durability.
func OpenInMemory() (*Index, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, ids.Wrap(ids.KindIO, "vectorindex: open in-memory", err)
	}
	return &Index{db: db}, nil
}

func (idx *Index) Close() error { return idx.db.Close() }

func encodeKey(mediaFileID int64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], uint64(mediaFileID))
	return key
}

func encodeVector(v Vector) []byte {
	buf := make([]byte, Dimensions*8)
	for i, f := range v {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(buf []byte) (Vector, error) {
	var v Vector
	if len(buf) != Dimensions*8 {
		return v, ids.New(ids.KindDecode, "vectorindex: corrupt vector record")
	}
	for i := range v {
		v[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[i*8:]))
	}
	return v, nil
}

// Upsert stores vec under mediaFileID and incorporates it into the
// in-memory tree.
func (idx *Index) Upsert(ctx context.Context, mediaFileID int64, vec [Dimensions]float64) error {
	err := idx.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeKey(mediaFileID), encodeVector(Vector(vec)))
	})
	if err != nil {
		return ids.Wrap(ids.KindIO, "vectorindex: upsert", err)
	}
	return idx.Rebuild(ctx)
}

// Delete removes mediaFileID's vector, if present.
func (idx *Index) Delete(ctx context.Context, mediaFileID int64) error {
	err := idx.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(encodeKey(mediaFileID))
	})
	if err != nil {
		return ids.Wrap(ids.KindIO, "vectorindex: delete", err)
	}
	return idx.Rebuild(ctx)
}

// Rebuild reloads every persisted vector from badger and rebuilds the
// in-memory KD-tree. After Rebuild returns, the set of ids the tree
// answers queries over exactly equals the set of ids persisted in
// badger: no stale or missing entries survive a rebuild.
func (idx *Index) Rebuild(ctx context.Context) error {
	var points []kdPoint
	err := idx.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			mediaFileID := int64(binary.BigEndian.Uint64(key[len(keyPrefix):]))
			err := item.Value(func(val []byte) error {
				v, err := decodeVector(val)
				if err != nil {
					return err
				}
				points = append(points, kdPoint{id: mediaFileID, vec: v})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ids.Wrap(ids.KindIO, "vectorindex: rebuild scan", err)
	}

	tree := buildKDTree(points, 0)
	allIDs := make([]int64, len(points))
	for i, p := range points {
		allIDs[i] = p.id
	}

	idx.mu.Lock()
	idx.tree = tree
	idx.ids = allIDs
	idx.mu.Unlock()
	return nil
}

// Len reports how many vectors the index currently holds.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.ids)
}

// Neighbors returns the n closest vectors to the one stored for
// mediaFileID, excluding mediaFileID itself. searchK bounds how many
// candidate leaves the tree walk visits, per spec.md §4.6's
// search_k = n * trees * C sizing; ties resolve by id ascending.
func (idx *Index) Neighbors(mediaFileID int64, n, searchK int) ([]Neighbor, error) {
	vec, ok := idx.vectorFor(mediaFileID)
	if !ok {
		return nil, ids.New(ids.KindNotFound, "vectorindex: no vector for media file")
	}
	return idx.search(vec, n, searchK, mediaFileID), nil
}

// Search returns the n closest vectors to vec, an arbitrary query point
// not necessarily tied to a stored MediaFile (spec.md §4.6's "by
// parameter" query form).
func (idx *Index) Search(vec Vector, n, searchK int) []Neighbor {
	return idx.search(vec, n, searchK, -1)
}

func (idx *Index) vectorFor(mediaFileID int64) (Vector, bool) {
	var vec Vector
	var found bool
	err := idx.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeKey(mediaFileID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := decodeVector(val)
			if err != nil {
				return err
			}
			vec = v
			found = true
			return nil
		})
	})
	if err != nil {
		return Vector{}, false
	}
	return vec, found
}

func (idx *Index) search(vec Vector, n, searchK int, exclude int64) []Neighbor {
	idx.mu.RLock()
	tree := idx.tree
	idx.mu.RUnlock()
	if tree == nil || n <= 0 {
		return nil
	}
	if searchK <= 0 {
		searchK = n
	}

	visited := make([]kdPoint, 0, searchK)
	tree.collect(vec, searchK, &visited)

	out := make([]Neighbor, 0, len(visited))
	for _, p := range visited {
		if p.id == exclude {
			continue
		}
		out = append(out, Neighbor{MediaFileID: p.id, Distance: euclidean(vec, p.vec)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].MediaFileID < out[j].MediaFileID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func euclidean(a, b Vector) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
