package docstore

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. It normalizes values on write exactly the
// way the Postgres backend does after a JSONB round trip, so code tested
// against it behaves the same against the real backend.
type Memory struct {
	mu           sync.RWMutex
	collections  map[string]map[string]Doc
	PollInterval time.Duration
}

func NewMemory() *Memory {
	return &Memory{
		collections:  make(map[string]map[string]Doc),
		PollInterval: 100 * time.Millisecond,
	}
}

func (m *Memory) Add(ctx context.Context, collection string, doc Doc) (string, error) {
	id := uuid.NewString()
	if err := m.Set(ctx, collection, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDoc(doc, id), nil
}

func (m *Memory) Set(ctx context.Context, collection, id string, doc Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]Doc)
	}
	stored := make(Doc, len(doc))
	for k, v := range doc {
		stored[k] = normalizeValue(v)
	}
	m.collections[collection][id] = stored
	return nil
}

func (m *Memory) UpdateFields(ctx context.Context, collection, id string, fields Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	applyFields(doc, fields)
	return nil
}

func (m *Memory) Query(ctx context.Context, collection string, filters []Filter, order *OrderBy, limit int) ([]Doc, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var results []Doc
	for id, doc := range m.collections[collection] {
		if matches(doc, filters) {
			results = append(results, copyDoc(doc, id))
		}
	}
	m.mu.RUnlock()

	if order != nil {
		sortDocs(results, order)
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *Memory) Count(ctx context.Context, collection string, filters []Filter) (int64, error) {
	if err := validateFilters(filters); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, doc := range m.collections[collection] {
		if matches(doc, filters) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.collections[collection], id)
	return nil
}

func (m *Memory) BatchWrite(ctx context.Context, ops []WriteOp) error {
	for _, op := range ops {
		var err error
		switch op.Kind {
		case WriteSet:
			err = m.Set(ctx, op.Collection, op.ID, op.Doc)
		case WriteUpdate:
			err = m.UpdateFields(ctx, op.Collection, op.ID, op.Doc)
		case WriteDelete:
			err = m.Delete(ctx, op.Collection, op.ID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, collection string, filters []Filter, order *OrderBy, limit int, fn func([]Doc)) (func(), error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	return pollQuery(ctx, m, m.PollInterval, collection, filters, order, limit, fn), nil
}

func applyFields(doc Doc, fields Doc) {
	for k, v := range fields {
		if inc, ok := v.(Increment); ok {
			doc[k] = Int(doc, k) + inc.Delta
			continue
		}
		doc[k] = normalizeValue(v)
	}
}

func normalizeValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return FormatTime(t)
	}
	return v
}

func matches(doc Doc, filters []Filter) bool {
	for _, f := range filters {
		cmp, ok := compareValues(doc[f.Field], normalizeValue(f.Value))
		if !ok {
			return false
		}
		switch f.Op {
		case "==":
			if cmp != 0 {
				return false
			}
		case "!=":
			if cmp == 0 {
				return false
			}
		case ">":
			if cmp <= 0 {
				return false
			}
		case ">=":
			if cmp < 0 {
				return false
			}
		case "<":
			if cmp >= 0 {
				return false
			}
		case "<=":
			if cmp > 0 {
				return false
			}
		}
	}
	return true
}

func sortDocs(docs []Doc, order *OrderBy) {
	sort.SliceStable(docs, func(i, j int) bool {
		cmp, ok := compareValues(docs[i][order.Field], docs[j][order.Field])
		if !ok {
			return false
		}
		if order.Desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

func copyDoc(doc Doc, id string) Doc {
	out := make(Doc, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out["id"] = id
	return out
}

// pollQuery implements Subscribe for both backends: re-run the query on a
// fixed interval, notify on change. The first result is always delivered.
func pollQuery(ctx context.Context, s Store, interval time.Duration, collection string, filters []Filter, order *OrderBy, limit int, fn func([]Doc)) func() {
	stopCh := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last []Doc
		first := true
		for {
			docs, err := s.Query(ctx, collection, filters, order, limit)
			if err == nil && (first || !reflect.DeepEqual(docs, last)) {
				last = docs
				first = false
				fn(docs)
			}

			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		once.Do(func() { close(stopCh) })
	}
}
