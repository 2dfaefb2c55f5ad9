package persisted

import (
	"fmt"

	"pq-gateway/internal/failure"
)

// Defaults applied by ParseOptions.
const (
	DefaultQueryIDKey = "queryId"
	DefaultBodyLimit  = 100 << 10 // 100 KiB of decoded body
)

// Options configures persisted-query resolution.
type Options struct {
	// QueryIDKey is the search-param/body key carrying the query ID.
	QueryIDKey string
	QueryMap   QueryMap
	// Strict rejects any client-supplied query text.
	Strict bool
	// BodyLimit is the decoded-byte ceiling for request bodies. Zero selects
	// DefaultBodyLimit; a zero ceiling cannot be expressed.
	BodyLimit int64
}

// ParsedOptions are validated Options with defaults applied.
type ParsedOptions struct {
	QueryIDKey string
	QueryMap   QueryMap
	Strict     bool
	BodyLimit  int64
}

// ParseOptions validates opts. Failures are ConfigurationInvalid.
func ParseOptions(opts *Options) (ParsedOptions, error) {
	if opts == nil {
		return ParsedOptions{}, failure.NewConfigurationInvalid("Persisted queries options must be provided.")
	}
	if !opts.QueryMap.valid() {
		return ParsedOptions{}, failure.NewConfigurationInvalid(
			`Persisted queries option "queryMap" must be a static table or a dynamic resolver.`)
	}
	if opts.BodyLimit < 0 {
		return ParsedOptions{}, failure.NewConfigurationInvalid(
			fmt.Sprintf(`Persisted queries option "bodyLimit" must be non-negative; got %d.`, opts.BodyLimit))
	}

	parsed := ParsedOptions{
		QueryIDKey: opts.QueryIDKey,
		QueryMap:   opts.QueryMap,
		Strict:     opts.Strict,
		BodyLimit:  opts.BodyLimit,
	}
	if parsed.QueryIDKey == "" {
		parsed.QueryIDKey = DefaultQueryIDKey
	}
	if parsed.BodyLimit == 0 {
		parsed.BodyLimit = DefaultBodyLimit
	}
	return parsed, nil
}
