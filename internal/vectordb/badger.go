package vectordb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	badgeropts "github.com/dgraph-io/badger/v4/options"
)

const (
	badgerCollectionPrefix = "vcol/"
	badgerRecordPrefix     = "vrec/"
)

// BadgerStore is an embedded, single-writer vector store. Records live in a
// Badger key/value database; search is a brute-force scan until the
// collection reaches the index threshold, after which a packed in-memory flat
// index is built and used instead.
//
// Badger has no multi-key transaction large enough for arbitrary batches, so
// each sub-batch commits on its own: when a later sub-batch fails, earlier
// ones stay visible.
type BadgerStore struct {
	// path is the data directory (ignored in memory mode).
	path string

	// inMemory runs Badger without touching disk.
	inMemory bool

	// opts holds the shared backend options.
	opts options

	// db is the open database, nil until Connect.
	db *badger.DB

	// writeMu serialises writers.
	writeMu sync.Mutex

	// idxMu guards indexes.
	idxMu sync.RWMutex

	// indexes holds the flat index of each collection that has one.
	indexes map[string]*flatIndex
}

var _ Store = (*BadgerStore)(nil)

// collectionMeta is the JSON value stored under a collection key.
type collectionMeta struct {
	Size      int       `json:"size"`
	Distance  Distance  `json:"distance"`
	CreatedAt time.Time `json:"created_at"`
}

// badgerRecord is the JSON value stored under a record key.
type badgerRecord struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Vector   []byte         `json:"vector"`
}

// flatIndex packs every vector of a collection contiguously for scoring.
// pos maps a record id to its slot in ids.
type flatIndex struct {
	ids     []int64
	vectors []float32
	dim     int
	pos     map[int64]int
}

func newFlatIndex(dim int, capacity int64) *flatIndex {
	return &flatIndex{
		dim:     dim,
		ids:     make([]int64, 0, capacity),
		vectors: make([]float32, 0, capacity*int64(dim)),
		pos:     make(map[int64]int, capacity),
	}
}

// put inserts or overwrites the vector of id.
func (f *flatIndex) put(id int64, v []float32) {
	if i, ok := f.pos[id]; ok {
		copy(f.vectors[i*f.dim:(i+1)*f.dim], v)
		return
	}
	f.pos[id] = len(f.ids)
	f.ids = append(f.ids, id)
	f.vectors = append(f.vectors, v...)
}

// remove deletes id by moving the last slot into its place.
func (f *flatIndex) remove(id int64) {
	i, ok := f.pos[id]
	if !ok {
		return
	}
	last := len(f.ids) - 1
	if i != last {
		f.ids[i] = f.ids[last]
		copy(f.vectors[i*f.dim:(i+1)*f.dim], f.vectors[last*f.dim:(last+1)*f.dim])
		f.pos[f.ids[i]] = i
	}
	f.ids = f.ids[:last]
	f.vectors = f.vectors[:last*f.dim]
	delete(f.pos, id)
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (l *badgerLogger) Infof(msg string, items ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

// NewBadgerStore returns an unconnected BadgerStore. With inMemory set the
// path is ignored.
func NewBadgerStore(path string, inMemory bool, opts ...Option) *BadgerStore {
	return &BadgerStore{
		path:     path,
		inMemory: inMemory,
		opts:     buildOptions(opts),
		indexes:  make(map[string]*flatIndex),
	}
}

// Name returns "badger".
func (s *BadgerStore) Name() string { return "badger" }

// Connect opens the database. Calling it on an open store is a no-op.
func (s *BadgerStore) Connect(_ context.Context) error {
	if s.db != nil && !s.db.IsClosed() {
		return nil
	}

	var bopts badger.Options
	if s.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(s.path)
		switch {
		case os.IsNotExist(err):
			if err := os.MkdirAll(s.path, 0o755); err != nil {
				return fmt.Errorf("badger: create %s: %w", s.path, err)
			}
		case err != nil:
			return fmt.Errorf("badger: stat %s: %w", s.path, err)
		case !info.IsDir():
			return fmt.Errorf("badger: %s is not a directory", s.path)
		}
		bopts = badger.DefaultOptions(s.path)
	}
	bopts.Logger = &badgerLogger{logger: s.opts.logger.With(slog.String("component", "badger"))}
	bopts.Compression = badgeropts.None

	db, err := badger.Open(bopts)
	if err != nil {
		return fmt.Errorf("badger: open: %w", err)
	}
	s.db = db
	return nil
}

// Disconnect closes the database.
func (s *BadgerStore) Disconnect() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("badger: close: %w", err)
	}
	return nil
}

// Ping reports whether the database is open.
func (s *BadgerStore) Ping(_ context.Context) error {
	if s.db == nil || s.db.IsClosed() {
		return errors.New("badger: not connected")
	}
	return nil
}

// CollectionExists reports whether the named collection exists.
func (s *BadgerStore) CollectionExists(_ context.Context, name string) (bool, error) {
	_, err := s.meta(name)
	if errors.Is(err, ErrCollectionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListCollections returns all collection names in key order.
func (s *BadgerStore) ListCollections(_ context.Context) ([]string, error) {
	if err := s.Ping(context.Background()); err != nil {
		return nil, err
	}
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(badgerCollectionPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), badgerCollectionPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: list collections: %w", err)
	}
	return names, nil
}

// GetCollectionInfo describes the collection or returns ErrCollectionNotFound.
func (s *BadgerStore) GetCollectionInfo(_ context.Context, name string) (*CollectionInfo, error) {
	m, err := s.meta(name)
	if err != nil {
		return nil, err
	}
	n, err := s.count(name)
	if err != nil {
		return nil, err
	}
	s.idxMu.RLock()
	_, indexed := s.indexes[name]
	s.idxMu.RUnlock()

	return &CollectionInfo{
		Name:        name,
		Backend:     s.Name(),
		VectorSize:  m.Size,
		Distance:    m.Distance,
		RecordCount: n,
		Indexed:     indexed,
		Details: map[string]any{
			"created_at":      m.CreatedAt,
			"index_threshold": s.opts.indexThreshold,
			"in_memory":       s.inMemory,
		},
	}, nil
}

// CreateCollection creates the collection, dropping it first when reset is set.
func (s *BadgerStore) CreateCollection(ctx context.Context, name string, size int, reset bool) (bool, error) {
	if err := validateBadgerName(name); err != nil {
		return false, err
	}
	if size <= 0 {
		return false, fmt.Errorf("%w: vector size must be positive, got %d", ErrValidation, size)
	}
	if reset {
		if _, err := s.DeleteCollection(ctx, name); err != nil {
			return false, err
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	val, err := json.Marshal(collectionMeta{Size: size, Distance: s.opts.distance, CreatedAt: time.Now().UTC()})
	if err != nil {
		return false, fmt.Errorf("badger: encode collection %s: %w", name, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(collectionKey(name), val)
	}); err != nil {
		return false, fmt.Errorf("badger: create collection %s: %w", name, err)
	}
	s.opts.logger.Info("badger: collection created", slog.String("collection", name), slog.Int("size", size))
	return true, nil
}

// DeleteCollection removes the collection and all its records.
func (s *BadgerStore) DeleteCollection(ctx context.Context, name string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	exists, err := s.CollectionExists(ctx, name)
	if err != nil || !exists {
		return false, err
	}

	s.dropIndex(name)

	var keys [][]byte
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: recordPrefix(name)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger: scan %s: %w", name, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return false, fmt.Errorf("badger: delete records of %s: %w", name, err)
		}
	}
	if err := wb.Delete(collectionKey(name)); err != nil {
		return false, fmt.Errorf("badger: delete collection %s: %w", name, err)
	}
	if err := wb.Flush(); err != nil {
		return false, fmt.Errorf("badger: delete collection %s: %w", name, err)
	}
	s.opts.logger.Info("badger: collection deleted", slog.String("collection", name), slog.Int("records", len(keys)))
	return true, nil
}

// UpsertOne writes a single record.
func (s *BadgerStore) UpsertOne(ctx context.Context, name string, rec Record) (bool, error) {
	return s.UpsertBatch(ctx, name, Batch{
		Texts:    []string{rec.Text},
		Vectors:  [][]float32{rec.Vector},
		Metadata: []map[string]any{rec.Metadata},
		IDs:      []int64{rec.ID},
	}, 1)
}

// UpsertBatch writes the batch, committing each sub-batch of batchSize
// records separately. A built flat index is updated in place with each
// committed sub-batch; otherwise the index is built once the collection has
// reached the threshold.
func (s *BadgerStore) UpsertBatch(_ context.Context, name string, b Batch, batchSize int) (bool, error) {
	if err := validateBatch(b); err != nil {
		return false, err
	}
	m, err := s.meta(name)
	if errors.Is(err, ErrCollectionNotFound) {
		s.opts.logger.Error("badger: upsert into missing collection", slog.String("collection", name))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := validateSize(b, m.Size); err != nil {
		return false, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = subBatches(b.Len(), batchSize, func(start, end int) error {
		err := s.db.Update(func(txn *badger.Txn) error {
			for i := start; i < end; i++ {
				rec := b.Record(i)
				meta, err := normalizeMetadata(rec.Metadata)
				if err != nil {
					return err
				}
				val, err := json.Marshal(badgerRecord{Text: rec.Text, Metadata: meta, Vector: encodeVector(rec.Vector)})
				if err != nil {
					return fmt.Errorf("encode record %d: %w", rec.ID, err)
				}
				if err := txn.Set(recordKey(name, rec.ID), val); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.idxMu.Lock()
		if idx := s.indexes[name]; idx != nil {
			for i := start; i < end; i++ {
				idx.put(b.Record(i).ID, b.Vectors[i])
			}
		}
		s.idxMu.Unlock()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger: upsert into %s: %w", name, err)
	}

	if err := s.ensureIndex(name, m.Size); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteRecords removes the records with the given ids. Missing ids and a
// missing collection are not errors.
func (s *BadgerStore) DeleteRecords(ctx context.Context, name string, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	exists, err := s.CollectionExists(ctx, name)
	if err != nil || !exists {
		return 0, err
	}

	var keys [][]byte
	err = s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			k := recordKey(name, id)
			if _, err := txn.Get(k); errors.Is(err, badger.ErrKeyNotFound) {
				continue
			} else if err != nil {
				return err
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger: look up records of %s: %w", name, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("badger: delete records of %s: %w", name, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("badger: delete records of %s: %w", name, err)
	}

	s.idxMu.Lock()
	if idx := s.indexes[name]; idx != nil {
		for _, id := range ids {
			idx.remove(id)
		}
	}
	s.idxMu.Unlock()
	return len(keys), nil
}

// SearchByVector scores the query against every record (or the flat index
// when built) and returns the best limit matches.
func (s *BadgerStore) SearchByVector(_ context.Context, name string, vector []float32, limit int) ([]SearchResult, error) {
	limit = searchLimit(limit)
	m, err := s.meta(name)
	if errors.Is(err, ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(vector) != m.Size {
		return nil, fmt.Errorf("%w: query vector has size %d, collection expects %d", ErrValidation, len(vector), m.Size)
	}

	s.idxMu.RLock()
	idx := s.indexes[name]
	s.idxMu.RUnlock()

	var results []SearchResult
	if idx != nil {
		results, err = s.searchIndex(name, m.Distance, idx, vector, limit)
	} else {
		results, err = s.searchScan(name, m.Distance, vector, limit)
	}
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results, nil
}

func (s *BadgerStore) searchScan(name string, d Distance, vector []float32, limit int) ([]SearchResult, error) {
	var results []SearchResult
	prefix := recordPrefix(name)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec badgerRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			results = append(results, SearchResult{
				ID:       idFromKey(item.Key(), prefix),
				Text:     rec.Text,
				Score:    similarity(d, vector, decodeVector(rec.Vector)),
				Metadata: rec.Metadata,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: scan %s: %w", name, err)
	}
	return topK(results, limit), nil
}

func (s *BadgerStore) searchIndex(name string, d Distance, idx *flatIndex, vector []float32, limit int) ([]SearchResult, error) {
	scored := make([]SearchResult, len(idx.ids))
	for i, id := range idx.ids {
		scored[i] = SearchResult{ID: id, Score: similarity(d, vector, idx.vectors[i*idx.dim:(i+1)*idx.dim])}
	}
	scored = topK(scored, limit)

	err := s.db.View(func(txn *badger.Txn) error {
		for i := range scored {
			item, err := txn.Get(recordKey(name, scored[i].ID))
			if err != nil {
				return err
			}
			var rec badgerRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			scored[i].Text = rec.Text
			scored[i].Metadata = rec.Metadata
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: load hits from %s: %w", name, err)
	}
	return scored, nil
}

// ensureIndex builds the flat index once the collection holds at least the
// threshold number of records. An existing index is left alone; callers
// hold writeMu.
func (s *BadgerStore) ensureIndex(name string, dim int) error {
	s.idxMu.RLock()
	_, ok := s.indexes[name]
	s.idxMu.RUnlock()
	if ok {
		return nil
	}

	n, err := s.count(name)
	if err != nil {
		return err
	}
	if n < int64(s.opts.indexThreshold) {
		return nil
	}

	idx := newFlatIndex(dim, n)
	prefix := recordPrefix(name)
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec badgerRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			idx.put(idFromKey(it.Item().Key(), prefix), decodeVector(rec.Vector))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger: build index for %s: %w", name, err)
	}

	s.idxMu.Lock()
	s.indexes[name] = idx
	s.idxMu.Unlock()
	s.opts.logger.Debug("badger: flat index built", slog.String("collection", name), slog.Int64("records", n))
	return nil
}

func (s *BadgerStore) dropIndex(name string) {
	s.idxMu.Lock()
	delete(s.indexes, name)
	s.idxMu.Unlock()
}

func (s *BadgerStore) meta(name string) (*collectionMeta, error) {
	if err := s.Ping(context.Background()); err != nil {
		return nil, err
	}
	var m collectionMeta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(collectionKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &m) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("badger: read collection %s: %w", name, err)
	}
	return &m, nil
}

func (s *BadgerStore) count(name string) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: recordPrefix(name)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger: count %s: %w", name, err)
	}
	return n, nil
}

func validateBadgerName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: invalid collection name %q", ErrValidation, name)
	}
	return nil
}

func collectionKey(name string) []byte {
	return []byte(badgerCollectionPrefix + name)
}

func recordPrefix(name string) []byte {
	return []byte(badgerRecordPrefix + name + "/")
}

// recordKey is prefix followed by the big-endian id so keys iterate in id order.
func recordKey(name string, id int64) []byte {
	prefix := recordPrefix(name)
	key := make([]byte, len(prefix)+8)
	n := copy(key, prefix)
	binary.BigEndian.PutUint64(key[n:], uint64(id))
	return key
}

func idFromKey(key, prefix []byte) int64 {
	rest := bytes.TrimPrefix(key, prefix)
	if len(rest) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(rest))
}
