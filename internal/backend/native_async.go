package backend

import (
	"database/sql"
	"fmt"
	"sync"

	"memstore/internal/logging"
)

// nativeAsyncAdapter drives the native engine through one logical
// connection owned by a dedicated goroutine. Every call enqueues a
// request and waits on its reply channel, so callers observe the same
// per-call atomicity as native-sync, only funneled through a queue.
type nativeAsyncAdapter struct {
	db       *sql.DB
	path     string
	requests chan *asyncRequest

	// stop is closed by Close; both the worker and blocked submitters
	// select on it, so the requests channel itself is never closed.
	stop      chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// asyncRequest is one unit of work for the connection goroutine. Exactly
// one of the reply fields is populated when replied on.
type asyncRequest struct {
	run   func() *asyncReply
	reply chan *asyncReply
}

type asyncReply struct {
	rows *sql.Rows
	row  *sql.Row
	err  error
}

const asyncQueueDepth = 64

func openNativeAsync(path string) (*nativeAsyncAdapter, error) {
	timer := logging.StartTimer(logging.CategoryBackend, "openNativeAsync")
	defer timer.Stop()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: native-async: %v", ErrBackendUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: native-async: cannot open %s: %v", ErrBackendUnavailable, path, err)
	}

	// One logical connection: the pool never grows, the worker is the
	// only issuer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, nativePragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: native-async: %v", ErrBackendUnavailable, err)
	}

	a := &nativeAsyncAdapter{
		db:       db,
		path:     path,
		requests: make(chan *asyncRequest, asyncQueueDepth),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go a.loop()

	logging.Backend("native-async backend opened: %s", path)
	return a, nil
}

// loop serializes all engine calls onto the adapter's goroutine. It
// finishes the request in flight before honoring stop.
func (a *nativeAsyncAdapter) loop() {
	defer close(a.done)
	for {
		select {
		case <-a.stop:
			return
		case req := <-a.requests:
			req.reply <- req.run()
		}
	}
}

// submit enqueues work and waits for its future to resolve. Once stop is
// closed, both the enqueue and the wait abandon the request and report
// the adapter closed.
func (a *nativeAsyncAdapter) submit(op string, run func() *asyncReply) *asyncReply {
	req := &asyncRequest{run: run, reply: make(chan *asyncReply, 1)}
	select {
	case a.requests <- req:
	case <-a.stop:
		return &asyncReply{err: wrapErr(NativeAsync, op, errAdapterClosed)}
	}
	select {
	case reply := <-req.reply:
		return reply
	case <-a.stop:
		return &asyncReply{err: wrapErr(NativeAsync, op, errAdapterClosed)}
	}
}

func (a *nativeAsyncAdapter) ID() ID { return NativeAsync }

func (a *nativeAsyncAdapter) Exec(stmt string, args ...any) error {
	reply := a.submit("exec", func() *asyncReply {
		_, err := a.db.Exec(stmt, args...)
		return &asyncReply{err: wrapErr(NativeAsync, "exec", err)}
	})
	return reply.err
}

// Query issues the statement on the worker goroutine. The returned rows
// hold the logical connection; close them before issuing the next call.
func (a *nativeAsyncAdapter) Query(stmt string, args ...any) (*sql.Rows, error) {
	reply := a.submit("query", func() *asyncReply {
		rows, err := a.db.Query(stmt, args...)
		return &asyncReply{rows: rows, err: wrapErr(NativeAsync, "query", err)}
	})
	return reply.rows, reply.err
}

func (a *nativeAsyncAdapter) QueryRow(stmt string, args ...any) (*sql.Row, error) {
	reply := a.submit("query-row", func() *asyncReply {
		return &asyncReply{row: a.db.QueryRow(stmt, args...)}
	})
	return reply.row, reply.err
}

func (a *nativeAsyncAdapter) Transaction(fn func(tx Executor) error) error {
	reply := a.submit("transaction", func() *asyncReply {
		tx, err := a.db.Begin()
		if err != nil {
			return &asyncReply{err: wrapErr(NativeAsync, "begin", err)}
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.BackendWarn("native-async rollback failed: %v", rbErr)
			}
			return &asyncReply{err: err}
		}
		return &asyncReply{err: wrapErr(NativeAsync, "commit", tx.Commit())}
	})
	return reply.err
}

func (a *nativeAsyncAdapter) Pragma(name, value string) error {
	return a.Exec(fmt.Sprintf("PRAGMA %s=%s", name, value))
}

func (a *nativeAsyncAdapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		logging.BackendDebug("closing native-async backend: %s", a.path)
		close(a.stop)
		<-a.done
		err = wrapErr(NativeAsync, "close", a.db.Close())
	})
	return err
}
