package comm

import (
	"io"
	"sync"
	"time"
)

// Pool is a communication pool which holds one or more connections to a
// device that will be closed if they are not in use, and re-opened as
// needed.  It is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= cap(conns)
	timeout time.Duration           // idle time after which all connections are freed
	conns   chan io.ReadWriteCloser // the circular buffer of connections
	reclaim *time.Timer             // pending idle reclamation, nil until first Put
	maker   CreationFunc

	mu *sync.Mutex
}

// NewPool creates a new pool of up to maxSize connections made by maker,
// which are closed after the pool has been left fully idle for timeout
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	return &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		maker:   maker,
		mu:      &sync.Mutex{},
	}
}

// Get retrieves a connection from the pool, dialing a new one if none are
// idle and the pool is not exhausted, or blocking until one is returned if
// it is.  It is guaranteed that there is no contention for the ReadWriter.
// The consumer should not attempt to cast it to its concrete type and use
// it outside this interface.
//
// When done with the connection, return it with Put(), or discard it with
// Destroy() if it has gone bad (e.g., all calls error).  ReturnWithError
// does the right thing with one call.
//
// If the error from Get is not nil, you must not return the connection
// to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.mu.Lock()
	if p.reclaim != nil {
		p.reclaim.Stop()
	}
	if len(p.conns) > 0 {
		ret := <-p.conns
		p.onLease++
		p.mu.Unlock()
		return ret, nil
	}
	if p.onLease == p.maxSize {
		// all given out; wait for one to come back
		p.mu.Unlock()
		ret := <-p.conns
		p.mu.Lock()
		p.onLease++
		p.mu.Unlock()
		return ret, nil
	}
	// no connection available and they aren't all out; make one.
	// only increment the lease count if we are giving out something
	// other than garbage
	c, err := p.maker()
	if err == nil {
		p.onLease++
	}
	p.mu.Unlock()
	return c, err
}

// Put restores a connection to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.  Junk connections (ones that always error) should be
// Destroy()'d and not returned with Put.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.mu.Lock()
	p.conns <- rwc
	p.onLease--
	if p.onLease == 0 {
		p.scheduleReclaim()
	}
	p.mu.Unlock()
}

// Destroy immediately frees a connection from the pool.  This should be used
// instead of Put if the connection has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	rwc.Close()
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
}

// ReturnWithError sends the connection back with Put when err is nil, and
// Destroys it otherwise.  Designed for use in a deferred call wrapping a
// conversation with the device:
//
//	conn, err := p.Get()
//	if err != nil { ... }
//	defer func() { p.ReturnWithError(conn, err) }()
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err == nil {
		p.Put(rw)
		return
	}
	p.Destroy(rw)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections owned by the pool that are
// currently given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// scheduleReclaim arms the idle timer.  Callers must hold mu.
func (p *Pool) scheduleReclaim() {
	if p.reclaim != nil {
		p.reclaim.Stop()
	}
	p.reclaim = time.AfterFunc(p.timeout, p.doReclaim)
}

// doReclaim closes every idle connection, unless the pool went back into
// use while the timer was pending
func (p *Pool) doReclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onLease != 0 {
		return
	}
	for len(p.conns) > 0 {
		c := <-p.conns
		c.Close()
	}
}
