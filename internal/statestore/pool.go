package statestore

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// pool is a bounded connection pool on top of database/sql's own
// connection pool. The purpose is not to replace database/sql's pooling
// (it already pools physical connections) but to cap the number of
// *logical* concurrent borrowers and implement the spec's acquire-timeout
// -then-ad-hoc-fallback behavior (spec.md §4.2), matching
// original_source/python/scheduler/state_manager.py's _get_connection.
type pool struct {
	db             *sql.DB
	slots          chan struct{}
	acquireTimeout time.Duration
	logger         *log.Logger
}

func newPool(db *sql.DB, size int, acquireTimeout time.Duration, logger *log.Logger) *pool {
	if logger == nil {
		logger = log.Default()
	}
	return &pool{
		db:             db,
		slots:          make(chan struct{}, size),
		acquireTimeout: acquireTimeout,
		logger:         logger,
	}
}

// acquired represents a borrowed connection. Release must be called on
// every exit path (success, error, panic).
type acquired struct {
	conn    *sql.Conn
	release func()
}

// Release returns the connection, closing it and freeing the pool slot
// if one was held, or simply closing it for an ad-hoc fallback
// connection.
func (a *acquired) Release() {
	if a.release != nil {
		a.release()
	}
}

// acquire blocks up to the configured timeout trying to take a pool
// slot; on timeout it logs a warning and opens an ad-hoc connection that
// does not count against the pool's bound.
func (p *pool) acquire(ctx context.Context) (*acquired, error) {
	select {
	case p.slots <- struct{}{}:
		conn, err := p.db.Conn(ctx)
		if err != nil {
			<-p.slots
			return nil, err
		}
		return &acquired{conn: conn, release: func() {
			conn.Close()
			<-p.slots
		}}, nil
	case <-time.After(p.acquireTimeout):
		p.logger.Printf("statestore: connection pool exhausted after %v, falling back to ad-hoc connection", p.acquireTimeout)
		conn, err := p.db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		return &acquired{conn: conn, release: func() {
			conn.Close()
		}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
