package bridge

import (
	"io"
	"net"
	"sync"
)

// link owns the current serial channel and the current network session.
// Pumps only ever see both handles through these accessors, under one lock.
//
// Every opened port gets a new generation number. A pump that fails on a
// port closes it by generation, so a stale failure never tears down a port
// opened after it.
type link struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
	path string
	gen  uint64
	conn net.Conn
}

func (l *link) setPort(port io.ReadWriteCloser, path string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	l.port = port
	l.path = path
	return l.gen
}

func (l *link) currentPort() (io.ReadWriteCloser, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port, l.gen
}

// isCurrent reports whether gen is the open port.
func (l *link) isCurrent(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil && l.gen == gen
}

// takePort detaches the port if it is still generation gen (any when gen is
// zero). It also returns the session attached at that moment, so the caller
// can report the close to it.
func (l *link) takePort(gen uint64) (io.ReadWriteCloser, string, net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil || (gen != 0 && gen != l.gen) {
		return nil, "", nil
	}
	port, path := l.port, l.path
	l.port = nil
	l.path = ""
	return port, path, l.conn
}

func (l *link) portOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

func (l *link) attach(conn net.Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
}

// detach clears the session if it is still conn.
func (l *link) detach(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != conn {
		return false
	}
	l.conn = nil
	return true
}

func (l *link) session() net.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// notify writes a status line to the attached session, if any. A failed
// write is returned for logging only; the session loop sees the broken
// connection on its next read and ends the session.
func (l *link) notify(msg []byte) error {
	if conn := l.session(); conn != nil {
		_, err := conn.Write(msg)
		return err
	}
	return nil
}
