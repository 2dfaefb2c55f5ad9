package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"pq-gateway/internal/bodyparse"
	"pq-gateway/internal/failure"
	"pq-gateway/internal/metrics"
	"pq-gateway/internal/model"
	"pq-gateway/internal/persisted"
)

// PersistedQueries returns middleware that materializes the request body,
// resolves a persisted query ID and injects the query text as body["query"]
// before calling the next handler.
//
// Option parsing starts immediately and is shared by every request; a
// configuration failure is logged once and then answered with 500 on every
// request. The metrics parameter is optional.
func PersistedQueries(src *persisted.Future[*persisted.Options], logger *slog.Logger, m *metrics.Metrics) (echo.MiddlewareFunc, error) {
	if src == nil {
		return nil, failure.NewConfigurationInvalid("Persisted queries options must be provided.")
	}
	logger = logger.With("component", "persisted_queries")

	parsed := persisted.Then(src, persisted.ParseOptions)
	go func() {
		po, err := parsed.Await(context.Background())
		if err != nil {
			logger.Error("persisted queries configuration failed", "err", err)
			return
		}
		logger.Info("persisted queries ready",
			"source", po.QueryMap.Source(),
			"strict", po.Strict,
			"query_id_key", po.QueryIDKey,
		)
	}()

	pq := &persistedQueries{options: parsed, logger: logger, metrics: m}
	return pq.middleware, nil
}

type persistedQueries struct {
	options *persisted.Future[persisted.ParsedOptions]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func (p *persistedQueries) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := req.Context()

		po, err := p.options.Await(ctx)
		if err != nil {
			return p.reject(c, err)
		}

		body, err := bodyparse.NewMaterializer(po.BodyLimit).Materialize(req, model.Body(c))
		if err != nil {
			return p.reject(c, err)
		}
		model.SetBody(c, body)

		query, ok, err := persisted.Resolve(ctx, po, req.URL.RawQuery, body)
		p.recordLookup(po.QueryMap.Source(), ok, err)
		if err != nil {
			return p.reject(c, err)
		}

		if ok {
			mapping, isMapping := model.AsMapping(body)
			if !isMapping {
				mapping = model.BodyMapping{}
				model.SetBody(c, mapping)
			}
			mapping["query"] = query
		}

		return next(c)
	}
}

// reject writes err as an error envelope. The handler chain stops here.
func (p *persistedQueries) reject(c echo.Context, err error) error {
	f := failure.From(err)

	level := slog.LevelDebug
	if f.StatusCode >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	p.logger.Log(c.Request().Context(), level, "persisted query request rejected",
		"kind", f.Kind.String(),
		"status", f.StatusCode,
		"err", err,
		"path", c.Request().URL.Path,
	)
	if p.metrics != nil {
		p.metrics.Failures.WithLabelValues(f.Kind.String()).Inc()
	}

	if werr := failure.Write(c.Response(), f); werr != nil {
		p.logger.Debug("writing error envelope", "err", werr)
	}
	return nil
}

func (p *persistedQueries) recordLookup(source string, ok bool, err error) {
	if p.metrics == nil {
		return
	}
	outcome := metrics.OutcomeSkipped
	var f *failure.Failure
	switch {
	case ok:
		outcome = metrics.OutcomeHit
	case errors.As(err, &f) && f.Kind == failure.QueryIDNotFound:
		outcome = metrics.OutcomeMiss
	case errors.As(err, &f) && f.Kind == failure.UpstreamRejected:
		outcome = metrics.OutcomeError
	case err != nil:
		// Strict-mode violations never reach the lookup.
		return
	}
	p.metrics.PersistedLookups.WithLabelValues(source, outcome).Inc()
}
