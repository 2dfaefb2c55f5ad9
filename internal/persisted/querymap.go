// Package persisted resolves client-supplied query IDs into trusted,
// server-side GraphQL query text.
package persisted

import (
	"context"
	"fmt"
	"maps"
)

// LookupFunc resolves a query ID. found=false means the ID is unknown;
// a non-nil error means the lookup itself failed.
type LookupFunc func(ctx context.Context, queryID string) (query string, found bool, err error)

type queryMapKind int

const (
	kindUnset queryMapKind = iota
	kindStaticTable
	kindDynamicResolver
)

// QueryMap is either a static table of query text or a dynamic resolver.
// The zero value is neither and is rejected by ParseOptions.
type QueryMap struct {
	kind   queryMapKind
	table  map[string]string
	lookup LookupFunc
}

// StaticTable builds a QueryMap backed by a copy of table.
func StaticTable(table map[string]string) QueryMap {
	return QueryMap{kind: kindStaticTable, table: maps.Clone(table)}
}

// DynamicResolver builds a QueryMap that asks fn for every lookup.
func DynamicResolver(fn LookupFunc) QueryMap {
	if fn == nil {
		return QueryMap{}
	}
	return QueryMap{kind: kindDynamicResolver, lookup: fn}
}

// Source names the variant, for logs and metrics.
func (q QueryMap) Source() string {
	switch q.kind {
	case kindStaticTable:
		return "static"
	case kindDynamicResolver:
		return "dynamic"
	}
	return "unset"
}

// Len is the number of entries of a static table, or -1 for a dynamic resolver.
func (q QueryMap) Len() int {
	if q.kind == kindStaticTable {
		return len(q.table)
	}
	return -1
}

func (q QueryMap) valid() bool { return q.kind != kindUnset }

// Lookup finds the query text for queryID. Static tables only match keys they
// actually hold.
func (q QueryMap) Lookup(ctx context.Context, queryID string) (query string, found bool, err error) {
	switch q.kind {
	case kindStaticTable:
		query, found = q.table[queryID]
		return query, found, nil
	case kindDynamicResolver:
		return q.callLookup(ctx, queryID)
	}
	return "", false, fmt.Errorf("query map is not configured")
}

func (q QueryMap) callLookup(ctx context.Context, queryID string) (query string, found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			query, found, err = "", false, fmt.Errorf("query map lookup panicked: %v", r)
		}
	}()
	return q.lookup(ctx, queryID)
}
