// Package db provides the bounded connection pool, the positional SQL
// templater and the row-to-object projection.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
)

// Pool is a fixed-size pool of dedicated database connections with
// blocking acquisition.
//
// Acquisition takes two locks in a strict order: the counter lock first
// (held exactly while the pool is empty, mimicking a semaphore) and then
// the queue lock. Release takes only the queue lock and unlocks the
// counter when the queue transitions from empty to one element. Taking the
// counter before the queue, never the reverse, keeps a releaser from
// waiting on the counter while an acquirer waits on the queue.
type Pool struct {
	db    *sql.DB
	queue []*sql.Conn

	queueMu   sync.Mutex
	counterMu sync.Mutex
}

// Open connects to connStr and fills the pool with n dedicated
// connections.
func Open(connStr string, n int) (*Pool, error) {
	return open("postgres", connStr, n)
}

func open(driver, connStr string, n int) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("db: pool size must be positive, got %d", n)
	}
	sqlDB, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(n)
	p := &Pool{db: sqlDB, queue: make([]*sql.Conn, 0, n)}
	for i := 0; i < n; i++ {
		conn, err := sqlDB.Conn(context.Background())
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("db: connecting: %w", err)
		}
		p.queue = append(p.queue, conn)
	}
	return p, nil
}

// GetOrBlock removes a connection from the pool, blocking while none is
// available.
func (p *Pool) GetOrBlock() *Conn {
	p.counterMu.Lock()
	p.queueMu.Lock()
	raw := p.queue[0]
	p.queue = p.queue[1:]
	if len(p.queue) > 0 {
		p.counterMu.Unlock()
	}
	p.queueMu.Unlock()
	return &Conn{pool: p, raw: raw}
}

// put returns a connection to the back of the queue, waking one blocked
// acquirer when the queue was empty.
func (p *Pool) put(raw *sql.Conn) {
	p.queueMu.Lock()
	if p.queue == nil {
		// Close has run; the connection is closed instead of requeued.
		p.queueMu.Unlock()
		raw.Close()
		return
	}
	p.queue = append(p.queue, raw)
	if len(p.queue) == 1 {
		p.counterMu.Unlock()
	}
	p.queueMu.Unlock()
}

// Close releases the idle connections and the underlying handle. In-flight
// wrappers keep working; their connections close on release.
func (p *Pool) Close() error {
	p.queueMu.Lock()
	for _, conn := range p.queue {
		conn.Close()
	}
	p.queue = nil
	p.queueMu.Unlock()
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Available reports how many connections sit in the queue.
func (p *Pool) Available() int {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	return len(p.queue)
}

// Conn is a single-owner wrapper around a pooled connection. It must not
// be copied; Release returns the connection to its pool exactly once. The
// resolver releases the wrapper when the request that acquired it ends.
type Conn struct {
	pool *Pool
	raw  *sql.Conn
	once sync.Once
}

// Raw exposes the underlying dedicated connection.
func (c *Conn) Raw() *sql.Conn { return c.raw }

// Release puts the connection back at the tail of the pool queue.
func (c *Conn) Release() {
	c.once.Do(func() {
		c.pool.put(c.raw)
	})
}

// Begin opens a transaction on the wrapped connection.
func (c *Conn) Begin() (*Tx, error) {
	tx, err := c.raw.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, fmt.Errorf("db: begin: %w", err)
	}
	return &Tx{tx: realTx{tx: tx}}, nil
}
