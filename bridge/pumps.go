package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

// Receive from the serial device and queue for the client.
// A read that returns nothing (tarm/serial reports a read timeout as io.EOF)
// is followed by a short idle wait. A read failure closes the channel this
// pump was bound to and backs off; the session loop opens a fresh one.
func (b *Bridge) pumpSerial(ctx context.Context) {
	defer b.pumps.Done()
	rx := make([]byte, b.cfg.SerialReadSize)
	for ctx.Err() == nil {
		port, gen := b.link.currentPort()
		if port == nil {
			sleep(ctx, b.cfg.PollInterval)
			continue
		}

		n, err := port.Read(rx)
		if n > 0 {
			b.logger.Debug("SER", "data", string(rx[:n]))
			b.serialQ.Put(rx[:n])
		}
		if err == nil || errors.Is(err, io.EOF) {
			if n == 0 {
				sleep(ctx, b.cfg.PollInterval)
			}
			continue
		}

		// The port may already have been closed and replaced under us.
		if !b.link.isCurrent(gen) {
			continue
		}
		b.logger.Error("error reading serial port", "error", err)
		b.metrics.deviceFault()
		b.channel.closeGen(gen)
		sleep(ctx, b.cfg.ReadBackoff)
	}
}

// Forward local input to the device one byte at a time. The network client
// and this pump both feed the same queue; their bytes interleave in arrival
// order. The escape byte stops the bridge instead of being forwarded.
//
// A blocked read on a terminal cannot be interrupted, so this pump is not
// waited for on shutdown.
func (b *Bridge) pumpLocal(ctx context.Context, in io.Reader) {
	var one [1]byte
	for ctx.Err() == nil {
		n, err := in.Read(one[:])
		if n == 1 {
			if b.cfg.EscapeByte != 0 && one[0] == b.cfg.EscapeByte {
				b.logger.Info("escape from local input, stopping")
				b.shutdown()
				return
			}
			b.netQ.Put(one[:])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				b.logger.Info("local input closed")
				return
			}
			b.logger.Error("error reading local input", "error", err)
			sleep(ctx, b.cfg.ReadBackoff)
		}
	}
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// isExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe or connection reset.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
