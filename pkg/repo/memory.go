package repo

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Memory is an in-process Collection. Documents are kept BSON-encoded so
// filters compare values the same way the server does for equality. Only
// top-level fields can be targeted by an update.
type Memory[T any] struct {
	mu    sync.RWMutex
	docs  []bson.Raw
	fails map[string]error
}

// NewMemory returns an empty in-memory collection.
func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{fails: make(map[string]error)}
}

var _ Collection[struct{}] = (*Memory[struct{}])(nil)

// FailWith makes every later call of op ("find", "exists", "insert",
// "update", "bulk") return err. A nil err clears it.
func (m *Memory[T]) FailWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fails, op)
		return
	}
	m.fails[op] = err
}

// Len returns the number of stored documents.
func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// All decodes every stored document in insertion order.
func (m *Memory[T]) All() []T {
	docs, _ := m.Find(context.Background(), nil)
	return docs
}

func (m *Memory[T]) FindOne(ctx context.Context, filter Filter) (T, error) {
	var zero T
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fails["find"]; err != nil {
		return zero, err
	}
	for _, raw := range m.docs {
		if matches(raw, filter) {
			return decode[T](raw)
		}
	}
	return zero, ErrNotFound
}

func (m *Memory[T]) Find(ctx context.Context, filter Filter) ([]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fails["find"]; err != nil {
		return nil, err
	}
	var out []T
	for _, raw := range m.docs {
		if !matches(raw, filter) {
			continue
		}
		doc, err := decode[T](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (m *Memory[T]) Exists(ctx context.Context, filter Filter) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fails["exists"]; err != nil {
		return false, err
	}
	for _, raw := range m.docs {
		if matches(raw, filter) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory[T]) InsertOne(ctx context.Context, doc T) error {
	return m.InsertMany(ctx, []T{doc})
}

func (m *Memory[T]) InsertMany(ctx context.Context, docs []T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fails["insert"]; err != nil {
		return err
	}
	encoded := make([]bson.Raw, 0, len(docs))
	for _, doc := range docs {
		raw, err := bson.Marshal(doc)
		if err != nil {
			return fmt.Errorf("repo: memory: encode: %w", err)
		}
		raw, err = withID(raw)
		if err != nil {
			return err
		}
		encoded = append(encoded, raw)
	}
	m.docs = append(m.docs, encoded...)
	return nil
}

func (m *Memory[T]) UpdateOne(ctx context.Context, filter Filter, update Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fails["update"]; err != nil {
		return err
	}
	for i, raw := range m.docs {
		if !matches(raw, filter) {
			continue
		}
		updated, err := applySet(raw, update.Set)
		if err != nil {
			return err
		}
		m.docs[i] = updated
		return nil
	}
	return nil
}

func (m *Memory[T]) BulkUpsert(ctx context.Context, ops []UpsertOp) (BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res BulkResult
	if err := m.fails["bulk"]; err != nil {
		return res, err
	}
	for _, op := range ops {
		idx := -1
		for i, raw := range m.docs {
			if matches(raw, op.Filter) {
				idx = i
				break
			}
		}
		if idx >= 0 {
			updated, err := applySet(m.docs[idx], op.Update.Set)
			if err != nil {
				return res, err
			}
			res.Matched++
			if !bytes.Equal(updated, m.docs[idx]) {
				res.Modified++
			}
			m.docs[idx] = updated
			continue
		}
		created, err := upsertDoc(op)
		if err != nil {
			return res, err
		}
		m.docs = append(m.docs, created)
		res.Upserted++
	}
	return res, nil
}

func decode[T any](raw bson.Raw) (T, error) {
	var doc T
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("repo: memory: decode: %w", err)
	}
	return doc, nil
}

func matches(raw bson.Raw, filter Filter) bool {
	for key, want := range filter {
		got, err := raw.LookupErr(strings.Split(key, ".")...)
		if err != nil {
			return false
		}
		t, b, err := bson.MarshalValue(want)
		if err != nil {
			return false
		}
		if !valueEqual(got, bson.RawValue{Type: t, Value: b}) {
			return false
		}
	}
	return true
}

func valueEqual(a, b bson.RawValue) bool {
	if a.Type == b.Type {
		return bytes.Equal(a.Value, b.Value)
	}
	af, aok := number(a)
	bf, bok := number(b)
	return aok && bok && af == bf
}

func number(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bsontype.Int32:
		return float64(v.Int32()), true
	case bsontype.Int64:
		return float64(v.Int64()), true
	case bsontype.Double:
		return v.Double(), true
	}
	return 0, false
}

func toD(raw bson.Raw) (bson.D, error) {
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("repo: memory: decode: %w", err)
	}
	return d, nil
}

func setField(d bson.D, key string, val any) (bson.D, error) {
	if strings.Contains(key, ".") {
		return nil, fmt.Errorf("repo: memory: dotted update path %q not supported", key)
	}
	for i := range d {
		if d[i].Key == key {
			d[i].Value = val
			return d, nil
		}
	}
	return append(d, bson.E{Key: key, Value: val}), nil
}

func sortedKeys(m bson.M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func applyFields(d bson.D, fields bson.M) (bson.D, error) {
	var err error
	for _, k := range sortedKeys(fields) {
		if d, err = setField(d, k, fields[k]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func applySet(raw bson.Raw, set bson.M) (bson.Raw, error) {
	if len(set) == 0 {
		return raw, nil
	}
	d, err := toD(raw)
	if err != nil {
		return nil, err
	}
	if d, err = applyFields(d, set); err != nil {
		return nil, err
	}
	return bson.Marshal(d)
}

// upsertDoc builds the document an upsert inserts: the filter's top-level
// equality fields, then $set, then $setOnInsert.
func upsertDoc(op UpsertOp) (bson.Raw, error) {
	d := bson.D{}
	for _, k := range sortedKeys(op.Filter) {
		if strings.Contains(k, ".") {
			continue
		}
		d = append(d, bson.E{Key: k, Value: op.Filter[k]})
	}
	var err error
	if d, err = applyFields(d, op.Update.Set); err != nil {
		return nil, err
	}
	if d, err = applyFields(d, op.Update.SetOnInsert); err != nil {
		return nil, err
	}
	raw, err := bson.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("repo: memory: encode: %w", err)
	}
	return withID(raw)
}

func withID(raw bson.Raw) (bson.Raw, error) {
	if _, err := raw.LookupErr("_id"); err == nil {
		return raw, nil
	}
	d, err := toD(raw)
	if err != nil {
		return nil, err
	}
	d = append(bson.D{{Key: "_id", Value: primitive.NewObjectID()}}, d...)
	return bson.Marshal(d)
}
