package persisted

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pq-gateway/internal/failure"
	"pq-gateway/internal/model"
)

func mustParse(t *testing.T, opts Options) ParsedOptions {
	t.Helper()
	parsed, err := ParseOptions(&opts)
	require.NoError(t, err)
	return parsed
}

func requireFailure(t *testing.T, err error, kind failure.Kind, msg string) {
	t.Helper()
	require.Error(t, err)
	f := failure.From(err)
	assert.Equal(t, kind, f.Kind)
	assert.Equal(t, msg, f.Message)
}

var greetTable = StaticTable(map[string]string{"greet": "{ greet }"})

func TestResolve_FromSearchParams(t *testing.T) {
	opts := mustParse(t, Options{QueryMap: greetTable})
	q, ok, err := Resolve(context.Background(), opts, "queryId=greet", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "{ greet }", q)
}

func TestResolve_SearchParamsWinOverBody(t *testing.T) {
	opts := mustParse(t, Options{QueryMap: StaticTable(map[string]string{"a": "{ a }", "b": "{ b }"})})
	q, _, err := Resolve(context.Background(), opts, "queryId=a", model.BodyMapping{"queryId": "b"})
	require.NoError(t, err)
	assert.Equal(t, "{ a }", q)
}

func TestResolve_FromBody(t *testing.T) {
	opts := mustParse(t, Options{QueryMap: greetTable})
	q, ok, err := Resolve(context.Background(), opts, "", map[string]any{"queryId": "greet"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "{ greet }", q)
}

func TestResolve_CustomKey(t *testing.T) {
	opts := mustParse(t, Options{QueryIDKey: "id", QueryMap: greetTable, Strict: true})
	q, _, err := Resolve(context.Background(), opts, "id=greet", nil)
	require.NoError(t, err)
	assert.Equal(t, "{ greet }", q)

	_, _, err = Resolve(context.Background(), opts, "queryId=greet", nil)
	requireFailure(t, err, failure.StrictViolation,
		`Request must provide a query ID under "id" key either in search params or request body.`)
}

func TestResolve_NonStringBodyIDIsIgnored(t *testing.T) {
	opts := mustParse(t, Options{QueryMap: greetTable})
	for _, body := range []any{
		model.BodyMapping{"queryId": 42},
		model.BodyMapping{"queryId": []string{"greet", "greet"}},
		model.BodyMapping{"queryId": nil},
		"queryId=greet",
	} {
		_, ok, err := Resolve(context.Background(), opts, "", body)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestResolve_NonStrictWithoutID(t *testing.T) {
	opts := mustParse(t, Options{QueryMap: greetTable})
	_, ok, err := Resolve(context.Background(), opts, "query=%7B+a+%7D", model.BodyMapping{"query": "{ a }"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolve_NotFound(t *testing.T) {
	opts := mustParse(t, Options{QueryMap: StaticTable(map[string]string{})})
	_, _, err := Resolve(context.Background(), opts, "", model.BodyMapping{"queryId": "missing"})
	requireFailure(t, err, failure.QueryIDNotFound, `The provided query ID "missing" did not match any persisted query.`)
	assert.Equal(t, http.StatusBadRequest, failure.From(err).StatusCode)
}

func TestResolve_NoInheritedMembers(t *testing.T) {
	opts := mustParse(t, Options{QueryMap: greetTable})
	for _, id := range []string{"toString", "__proto__", "constructor", "hasOwnProperty", "valueOf", ""} {
		t.Run(id, func(t *testing.T) {
			_, _, err := Resolve(context.Background(), opts, "", model.BodyMapping{"queryId": id})
			requireFailure(t, err, failure.QueryIDNotFound, `The provided query ID "`+id+`" did not match any persisted query.`)
		})
	}
}

func TestResolve_StrictPrecedence(t *testing.T) {
	opts := mustParse(t, Options{QueryMap: greetTable, Strict: true})
	tests := []struct {
		name     string
		rawQuery string
		body     any
		want     string
	}{
		{
			name:     "query in params wins over valid id",
			rawQuery: "query=%7B+a+%7D&queryId=greet",
			want:     `Search params have "query" but only persisted queries are allowed.`,
		},
		{
			name:     "params checked before body",
			rawQuery: "query=",
			body:     model.BodyMapping{"query": "{ a }"},
			want:     `Search params have "query" but only persisted queries are allowed.`,
		},
		{
			name: "query in body wins over valid id",
			body: model.BodyMapping{"query": "{ a }", "queryId": "greet"},
			want: `Request body has "query" but only persisted queries are allowed.`,
		},
		{
			name: "null query in body still counts",
			body: model.BodyMapping{"query": nil},
			want: `Request body has "query" but only persisted queries are allowed.`,
		},
		{
			name: "raw query checks run before lookup",
			body: model.BodyMapping{"query": "{ a }", "queryId": "missing"},
			want: `Request body has "query" but only persisted queries are allowed.`,
		},
		{
			name: "no id",
			want: `Request must provide a query ID under "queryId" key either in search params or request body.`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Resolve(context.Background(), opts, tt.rawQuery, tt.body)
			requireFailure(t, err, failure.StrictViolation, tt.want)
		})
	}

	q, ok, err := Resolve(context.Background(), opts, "queryId=greet", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "{ greet }", q)
}

func TestResolve_DynamicResolver(t *testing.T) {
	var calls []string
	qm := DynamicResolver(func(ctx context.Context, id string) (string, bool, error) {
		calls = append(calls, id)
		select {
		case <-time.After(5 * time.Millisecond):
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
		if id == "greet" {
			return "{ greet }", true, nil
		}
		return "", false, nil
	})
	opts := mustParse(t, Options{QueryMap: qm})

	q, ok, err := Resolve(context.Background(), opts, "queryId=greet", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "{ greet }", q)

	_, _, err = Resolve(context.Background(), opts, "queryId=nope", nil)
	requireFailure(t, err, failure.QueryIDNotFound, `The provided query ID "nope" did not match any persisted query.`)
	assert.Equal(t, []string{"greet", "nope"}, calls)
}

func TestResolve_DynamicResolverFailures(t *testing.T) {
	tests := []struct {
		name string
		fn   LookupFunc
		want string
	}{
		{
			name: "error",
			fn: func(context.Context, string) (string, bool, error) {
				return "", false, errors.New("store offline")
			},
			want: "store offline",
		},
		{
			name: "panic",
			fn: func(context.Context, string) (string, bool, error) {
				panic("boom")
			},
			want: "query map lookup panicked: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := mustParse(t, Options{QueryMap: DynamicResolver(tt.fn)})
			_, _, err := Resolve(context.Background(), opts, "queryId=x", nil)
			requireFailure(t, err, failure.UpstreamRejected, tt.want)
			assert.Equal(t, http.StatusInternalServerError, failure.From(err).StatusCode)
		})
	}
}

func TestResolve_SemicolonInSearchParams(t *testing.T) {
	strict := mustParse(t, Options{QueryMap: greetTable, Strict: true})
	_, _, err := Resolve(context.Background(), strict, "query=%7Ba;b%7D&queryId=greet", nil)
	requireFailure(t, err, failure.StrictViolation, failure.NewQueryInSearchParams().Message)

	lax := mustParse(t, Options{QueryMap: greetTable})
	_, _, err = Resolve(context.Background(), lax, "queryId=a;b", nil)
	requireFailure(t, err, failure.QueryIDNotFound, failure.NewQueryIDNotFound("a;b").Message)

	semi := mustParse(t, Options{QueryIDKey: "q;id", QueryMap: StaticTable(map[string]string{"x;y": "{ x }"})})
	q, ok, err := Resolve(context.Background(), semi, "q;id=x;y", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "{ x }", q)
}
