package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/RoanBrand/serialbridge/protocol"
)

// session is one accepted client. It moves through the protocol states
// exactly once; a new client always gets a new session.
type session struct {
	conn   net.Conn
	state  protocol.State
	logger *slog.Logger
}

func (s *session) to(next protocol.State) {
	if s.state == next {
		return
	}
	if !protocol.CanTransition(s.state, next) {
		s.logger.Warn("invalid session transition", "from", s.state, "to", next)
		return
	}
	s.logger.Debug("session state", "from", s.state, "to", next)
	s.state = next
}

// Accept clients one at a time. Serving a session blocks this loop, so a
// second client stays pending in the listen backlog until the first ends.
func (b *Bridge) acceptLoop(ctx context.Context) {
	defer b.pumps.Done()
	for {
		b.logger.Info("listening for network connection", "addr", b.listener.Addr().String())
		conn, err := b.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			b.logger.Error("accept failed", "error", err)
			b.metrics.acceptFailed()
			sleep(ctx, b.cfg.PollInterval)
			continue
		}
		b.serveSession(ctx, conn)
	}
}

func (b *Bridge) serveSession(ctx context.Context, conn net.Conn) {
	s := &session{
		conn:   conn,
		state:  protocol.WaitingForClient,
		logger: b.logger.With("peer", conn.RemoteAddr().String()),
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.logger.Info("connection accepted")
	s.to(protocol.Connected)
	b.metrics.sessionStarted()
	terminated := false
	defer func() {
		b.link.detach(conn)
		conn.Close()
		s.to(protocol.Closed)
		b.metrics.sessionEnded(terminated)
		s.logger.Info("session closed")
	}()

	if _, err := conn.Write(protocol.Greeting(b.cfg.Name, b.cfg.Keyword)); err != nil {
		s.logger.Warn("greeting failed", "error", err)
		return
	}
	// Attached only now, so queued device output cannot overtake the greeting.
	b.link.attach(conn)

	rx := make([]byte, b.cfg.NetReadSize)
	for {
		if !b.channel.IsOpen() {
			s.to(protocol.WaitingForDevice)
			if !b.waitForDevice(ctx, s) {
				return
			}
		}
		s.to(protocol.Relaying)

		conn.SetReadDeadline(time.Now().Add(b.cfg.PollInterval))
		n, err := conn.Read(rx)
		if n > 0 {
			chunk := rx[:n]
			b.logger.Debug("NET", "data", string(chunk))
			if protocol.IsTermination(chunk, b.cfg.Keyword) {
				terminated = true
				b.terminate(ctx, s)
				return
			}
			b.netQ.Put(chunk)
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if isExpectedCloseError(err) {
				s.logger.Info("client disconnected")
			} else {
				s.logger.Warn("error receiving from client", "error", err)
			}
			return
		}
	}
}

// waitForDevice retries the channel until it opens, telling the client it
// is waiting at most once per WaitInterval. It returns false when the
// session should end instead.
func (b *Bridge) waitForDevice(ctx context.Context, s *session) bool {
	for {
		if err := b.channel.Open(); err == nil {
			return true
		}
		if _, err := s.conn.Write(protocol.MsgWaiting); err != nil {
			s.logger.Info("client gone while waiting for device", "error", err)
			return false
		}
		if !sleep(ctx, b.cfg.WaitInterval) {
			return false
		}
	}
}

// terminate ends the session on the client's request: the client is told,
// the connection and the serial channel are closed, and the listener pauses
// briefly before accepting again.
func (b *Bridge) terminate(ctx context.Context, s *session) {
	s.logger.Info("client requested disconnect")
	if _, err := s.conn.Write(protocol.MsgDisconnected); err != nil {
		s.logger.Debug("disconnect notice not delivered", "error", err)
	}
	b.link.detach(s.conn)
	s.conn.Close()
	s.to(protocol.Closed)
	b.channel.Close()
	sleep(ctx, b.cfg.Cooldown)
}
