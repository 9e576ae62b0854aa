package database

import (
	"context"
	"database/sql/driver"
	"math/rand"
	"strings"
	"time"
)

const (
	retryBaseDelay = 50 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// isBusyError reports whether err is SQLITE_BUSY or SQLITE_LOCKED. Both the
// mattn and modernc drivers are matched by message since they don't share an
// error type.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"database is locked", "database table is locked", "SQLITE_BUSY", "SQLITE_LOCKED", "(5)", "(6)"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// backoffDelay is exponential with up to 25% jitter, capped at retryMaxDelay.
func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<attempt)
	delay += time.Duration(rand.Int63n(int64(delay/4) + 1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// withBusyRetry runs fn until it succeeds, fails with a non-busy error, or
// maxRetries retries have been spent.
func withBusyRetry[T any](ctx context.Context, maxRetries int, fn func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 0; ; attempt++ {
		result, err = fn()
		if !isBusyError(err) || attempt >= maxRetries {
			return result, err
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(backoffDelay(attempt)):
		}
	}
}

type busyRetryConnector struct {
	driver.Connector
	maxRetries int
}

func (rc *busyRetryConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := rc.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &busyRetryConn{conn: conn, maxRetries: rc.maxRetries}, nil
}

// busyRetryConn retries transaction starts and statement execution on busy
// errors. It forwards the optional driver interfaces database/sql probes for.
type busyRetryConn struct {
	conn       driver.Conn
	maxRetries int
}

func (c *busyRetryConn) Prepare(query string) (driver.Stmt, error) {
	stmt, err := c.conn.Prepare(query)
	if err != nil {
		return nil, err
	}
	return &busyRetryStmt{stmt: stmt, maxRetries: c.maxRetries}, nil
}

func (c *busyRetryConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	pc, ok := c.conn.(driver.ConnPrepareContext)
	if !ok {
		return c.Prepare(query)
	}
	stmt, err := pc.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &busyRetryStmt{stmt: stmt, maxRetries: c.maxRetries}, nil
}

func (c *busyRetryConn) Close() error {
	return c.conn.Close()
}

func (c *busyRetryConn) Begin() (driver.Tx, error) {
	return withBusyRetry(context.Background(), c.maxRetries, func() (driver.Tx, error) {
		return c.conn.Begin() //nolint:staticcheck // required by driver.Conn
	})
}

func (c *busyRetryConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	bt, ok := c.conn.(driver.ConnBeginTx)
	if !ok {
		return c.Begin()
	}
	return withBusyRetry(ctx, c.maxRetries, func() (driver.Tx, error) {
		return bt.BeginTx(ctx, opts)
	})
}

func (c *busyRetryConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	ec, ok := c.conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	return withBusyRetry(ctx, c.maxRetries, func() (driver.Result, error) {
		return ec.ExecContext(ctx, query, args)
	})
}

func (c *busyRetryConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	qc, ok := c.conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	return withBusyRetry(ctx, c.maxRetries, func() (driver.Rows, error) {
		return qc.QueryContext(ctx, query, args)
	})
}

func (c *busyRetryConn) Ping(ctx context.Context) error {
	if p, ok := c.conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *busyRetryConn) ResetSession(ctx context.Context) error {
	if r, ok := c.conn.(driver.SessionResetter); ok {
		return r.ResetSession(ctx)
	}
	return nil
}

func (c *busyRetryConn) IsValid() bool {
	if v, ok := c.conn.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

type busyRetryStmt struct {
	stmt       driver.Stmt
	maxRetries int
}

func (s *busyRetryStmt) Close() error {
	return s.stmt.Close()
}

func (s *busyRetryStmt) NumInput() int {
	return s.stmt.NumInput()
}

func (s *busyRetryStmt) Exec(args []driver.Value) (driver.Result, error) {
	return withBusyRetry(context.Background(), s.maxRetries, func() (driver.Result, error) {
		return s.stmt.Exec(args) //nolint:staticcheck // required by driver.Stmt
	})
}

func (s *busyRetryStmt) Query(args []driver.Value) (driver.Rows, error) {
	return withBusyRetry(context.Background(), s.maxRetries, func() (driver.Rows, error) {
		return s.stmt.Query(args) //nolint:staticcheck // required by driver.Stmt
	})
}

func (s *busyRetryStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if ec, ok := s.stmt.(driver.StmtExecContext); ok {
		return withBusyRetry(ctx, s.maxRetries, func() (driver.Result, error) {
			return ec.ExecContext(ctx, args)
		})
	}
	return s.Exec(namedToValues(args))
}

func (s *busyRetryStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if qc, ok := s.stmt.(driver.StmtQueryContext); ok {
		return withBusyRetry(ctx, s.maxRetries, func() (driver.Rows, error) {
			return qc.QueryContext(ctx, args)
		})
	}
	return s.Query(namedToValues(args))
}

func namedToValues(args []driver.NamedValue) []driver.Value {
	values := make([]driver.Value, len(args))
	for i, arg := range args {
		values[i] = arg.Value
	}
	return values
}
