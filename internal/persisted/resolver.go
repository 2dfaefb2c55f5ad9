package persisted

import (
	"context"
	"net/url"

	"pq-gateway/internal/bodyparse"
	"pq-gateway/internal/failure"
	"pq-gateway/internal/model"
)

// Resolve returns the persisted query text for a request with the given raw
// search-param string and logical body.
//
// ok=false with a nil error means no query ID was supplied and the request
// may proceed unchanged; this only happens when not strict.
func Resolve(ctx context.Context, opts ParsedOptions, rawQuery string, body any) (query string, ok bool, err error) {
	params := bodyparse.ParseSearchParams(rawQuery)
	mapping, isMapping := model.AsMapping(body)

	if opts.Strict {
		if params.Has("query") {
			return "", false, failure.NewQueryInSearchParams()
		}
		if isMapping {
			if _, has := mapping["query"]; has {
				return "", false, failure.NewQueryInBody()
			}
		}
	}

	queryID, found := queryIDFrom(opts.QueryIDKey, params, mapping)
	if !found {
		if opts.Strict {
			return "", false, failure.NewMissingQueryID(opts.QueryIDKey)
		}
		return "", false, nil
	}

	text, found, err := opts.QueryMap.Lookup(ctx, queryID)
	if err != nil {
		return "", false, failure.NewUpstreamRejected(err)
	}
	if !found {
		return "", false, failure.NewQueryIDNotFound(queryID)
	}
	return text, true, nil
}

// queryIDFrom prefers the search params over the body.
func queryIDFrom(key string, params url.Values, body model.BodyMapping) (string, bool) {
	if params.Has(key) {
		return params.Get(key), true
	}
	if id, ok := body[key].(string); ok {
		return id, true
	}
	return "", false
}
