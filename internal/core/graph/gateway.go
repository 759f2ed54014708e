// Package graph implements the graph writer gateway of spec.md §4.5: a
// single execute(template, params) operation over a Bolt-protocol
// property graph, with connection ownership, reconnection, and error
// classification hidden behind it.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Config mirrors spec.md §6's graph.* options.
type Config struct {
	Host                 string        `envconfig:"GRAPH_HOST" default:"127.0.0.1"`
	Port                 string        `envconfig:"GRAPH_PORT" default:"7687"`
	Username             string        `envconfig:"GRAPH_USERNAME" default:"neo4j"`
	Password             string        `envconfig:"GRAPH_PASSWORD"`
	Database             string        `envconfig:"GRAPH_DATABASE" default:"neo4j"`
	ReconnectMaxAttempts int           `envconfig:"GRAPH_RECONNECT_MAX_ATTEMPTS" default:"10"`
	ReconnectMaxBackoff  time.Duration `envconfig:"GRAPH_RECONNECT_MAX_BACKOFF_MS" default:"30s"`
}

func (c Config) uri() string {
	return fmt.Sprintf("bolt://%s:%s", c.Host, c.Port)
}

// Gateway owns one driver to the graph server and opens a fresh write
// session for each Execute call. Callers never see the underlying Bolt
// handle (spec.md §4.5).
type Gateway struct {
	cfg    Config
	driver neo4j.DriverWithContext
	log    *slog.Logger
}

// Connect opens the driver and verifies connectivity once, fatally
// failing startup if the initial connection cannot be established —
// reconnection only applies to connections lost after a successful
// start (spec.md §4.5, §6's "initial connection failure" exit code).
func Connect(ctx context.Context, cfg Config, log *slog.Logger) (*Gateway, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.uri(), neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create graph driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify graph connectivity: %w", err)
	}

	return &Gateway{cfg: cfg, driver: driver, log: log}, nil
}

// Close releases the driver. Safe to call once, on every exit path.
func (g *Gateway) Close(ctx context.Context) error {
	if err := g.driver.Close(ctx); err != nil {
		return fmt.Errorf("close graph driver: %w", err)
	}
	return nil
}

// Execute runs template with params as an auto-commit write
// transaction and drains the result, per spec.md §4.5's synchronous,
// write-only contract. On connection loss it blocks the caller while
// reconnecting with exponential backoff capped at
// cfg.ReconnectMaxBackoff, surfacing ClassFatal once
// cfg.ReconnectMaxAttempts is exhausted; while reconnecting, the
// consumption loop must not advance its offset.
func (g *Gateway) Execute(ctx context.Context, template string, params map[string]any) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: g.cfg.Database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	err := run(ctx, sessionAdapter{session}, template, params)
	if err == nil {
		return nil
	}

	execErr := classify(err)
	if execErr.Class != ClassConnectionLost {
		return execErr
	}

	if reconnectErr := g.reconnect(ctx); reconnectErr != nil {
		return reconnectErr
	}

	// Retry once against the freshly reconnected driver; the
	// consumption loop's own retry loop covers further failures.
	session2 := g.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: g.cfg.Database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session2.Close(ctx)

	if err := run(ctx, sessionAdapter{session2}, template, params); err != nil {
		return classify(err)
	}
	return nil
}

// cypherSession is the narrow view of a write session run needs,
// kept separate from neo4j.SessionWithContext so the drain behavior
// below is exercisable without a real Bolt connection.
type cypherSession interface {
	run(ctx context.Context, cypher string, params map[string]any) (cypherResult, error)
}

// cypherResult is the narrow view of a query result run needs.
type cypherResult interface {
	consume(ctx context.Context) error
}

// sessionAdapter adapts a real neo4j.SessionWithContext onto
// cypherSession.
type sessionAdapter struct{ session neo4j.SessionWithContext }

func (a sessionAdapter) run(ctx context.Context, cypher string, params map[string]any) (cypherResult, error) {
	result, err := a.session.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return resultAdapter{result}, nil
}

type resultAdapter struct{ result neo4j.ResultWithContext }

func (a resultAdapter) consume(ctx context.Context) error {
	_, err := a.result.Consume(ctx)
	return err
}

// run executes cypher as an auto-commit write and drains its result
// stream before returning. The neo4j driver pipelines RUN and PULL:
// session.Run only ever surfaces connection-level failures. Query
// execution errors (constraint violations, type errors in a
// SET/MERGE, ...) only appear once the result is consumed.
func run(ctx context.Context, session cypherSession, cypher string, params map[string]any) error {
	result, err := session.run(ctx, cypher, params)
	if err != nil {
		return err
	}
	return result.consume(ctx)
}

func (g *Gateway) reconnect(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = g.cfg.ReconnectMaxBackoff
	policy.MaxElapsedTime = 0 // bounded by attempt count below, not elapsed time

	attempts := 0
	operation := func() error {
		attempts++
		g.log.Warn("graph connection lost, attempting reconnect", slog.Int("attempt", attempts))
		if err := g.driver.VerifyConnectivity(ctx); err != nil {
			if attempts >= g.cfg.ReconnectMaxAttempts {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return &ExecError{Class: ClassFatal, Err: fmt.Errorf("reconnect budget exhausted after %d attempts: %w", attempts, err)}
	}
	return nil
}
