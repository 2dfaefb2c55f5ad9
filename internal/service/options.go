package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pq-gateway/internal/client"
	"pq-gateway/internal/config"
	"pq-gateway/internal/failure"
	"pq-gateway/internal/persisted"
)

// manifestFetchTimeout bounds the startup download of a remote manifest.
const manifestFetchTimeout = 30 * time.Second

// NewOptionSource builds the persisted-query options from cfg.Persisted.
// Local sources settle immediately or on a background load; a remote
// manifest is fetched in the background so the server can start first.
func NewOptionSource(cfg *config.Config, c *client.UpstreamClient, logger *slog.Logger) *persisted.Future[*persisted.Options] {
	p := &cfg.Persisted
	logger = logger.With("component", "option_source")

	options := func(qm persisted.QueryMap) *persisted.Options {
		return &persisted.Options{
			QueryIDKey: p.QueryIDKey,
			QueryMap:   qm,
			Strict:     p.Strict,
			BodyLimit:  p.BodyLimitBytes(),
		}
	}
	static := func(table map[string]string) (*persisted.Options, error) {
		if p.ValidateDocuments {
			if err := persisted.ValidateDocuments(table); err != nil {
				return nil, failure.NewConfigurationInvalid(fmt.Sprintf("Persisted query manifest is invalid: %v.", err))
			}
		}
		logger.Info("persisted queries loaded", "source", p.Source(), "queries", len(table))
		return options(persisted.StaticTable(table)), nil
	}

	switch p.Source() {
	case config.SourceInline:
		return persisted.Go(func() (*persisted.Options, error) {
			return static(p.Queries)
		})

	case config.SourceManifest:
		path := p.ManifestPath
		return persisted.Go(func() (*persisted.Options, error) {
			table, err := persisted.LoadManifestFile(path)
			if err != nil {
				return nil, failure.NewConfigurationInvalid(fmt.Sprintf("Persisted query manifest is invalid: %v.", err))
			}
			return static(table)
		})

	case config.SourceManifestURL:
		manifestURL := p.ManifestURL
		return persisted.Go(func() (*persisted.Options, error) {
			ctx, cancel := context.WithTimeout(context.Background(), manifestFetchTimeout)
			defer cancel()

			data, err := c.FetchManifest(ctx, manifestURL)
			if err != nil {
				return nil, err
			}
			table, err := persisted.ParseManifest(data)
			if err != nil {
				return nil, failure.NewConfigurationInvalid(fmt.Sprintf("Persisted query manifest is invalid: %v.", err))
			}
			return static(table)
		})

	case config.SourceStore:
		logger.Info("persisted queries served from store", "url", p.StoreURL)
		return persisted.Ready(options(persisted.DynamicResolver(storeLookup(c, p.StoreURL))))
	}

	// No source: ParseOptions reports the missing query map.
	return persisted.Ready(options(persisted.QueryMap{}))
}

// storeLookup adapts the query store client to a LookupFunc.
func storeLookup(c *client.UpstreamClient, storeURL string) persisted.LookupFunc {
	return func(ctx context.Context, queryID string) (string, bool, error) {
		query, err := c.FetchQuery(ctx, storeURL, queryID)
		if errors.Is(err, client.ErrQueryNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return query, true, nil
	}
}
