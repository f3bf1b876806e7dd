package docstore

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("document not found")

	ErrInvalidFilter = errors.New("invalid filter operator")
)

// Doc is one document: flat field name -> scalar value. Stores inject the
// document id under the "id" key on every read.
type Doc map[string]any

// Increment is a field value sentinel for UpdateFields: the store adds Delta
// to the current numeric value atomically instead of overwriting it.
type Increment struct {
	Delta int64
}

func Inc(n int64) Increment {
	return Increment{Delta: n}
}

type Filter struct {
	Field string
	Op    string // "==", "!=", ">", ">=", "<", "<="
	Value any
}

func Where(field, op string, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

type OrderBy struct {
	Field string
	Desc  bool
}

type WriteKind int

const (
	WriteSet WriteKind = iota
	WriteUpdate
	WriteDelete
)

type WriteOp struct {
	Kind       WriteKind
	Collection string
	ID         string
	Doc        Doc
}

// Store is the generic document-store surface the analytics core is written
// against. The hosted backend is Postgres JSONB; the in-memory backend backs
// tests and single-binary setups.
type Store interface {
	Add(ctx context.Context, collection string, doc Doc) (string, error)
	Get(ctx context.Context, collection, id string) (Doc, error)
	Set(ctx context.Context, collection, id string, doc Doc) error
	UpdateFields(ctx context.Context, collection, id string, fields Doc) error
	Query(ctx context.Context, collection string, filters []Filter, order *OrderBy, limit int) ([]Doc, error)
	Count(ctx context.Context, collection string, filters []Filter) (int64, error)
	Delete(ctx context.Context, collection, id string) error
	BatchWrite(ctx context.Context, ops []WriteOp) error

	// Subscribe re-runs the query on a fixed interval and invokes fn whenever
	// the result set changes, starting with the initial result. The returned
	// function stops the subscription.
	Subscribe(ctx context.Context, collection string, filters []Filter, order *OrderBy, limit int, fn func([]Doc)) (func(), error)
}

var validOps = map[string]struct{}{
	"==": {}, "!=": {}, ">": {}, ">=": {}, "<": {}, "<=": {},
}

func validateFilters(filters []Filter) error {
	for _, f := range filters {
		if _, ok := validOps[f.Op]; !ok {
			return ErrInvalidFilter
		}
	}
	return nil
}
