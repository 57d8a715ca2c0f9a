package bridge

import (
	"io"
	"log/slog"

	"github.com/RoanBrand/serialbridge/protocol"
)

// OpenFunc opens a serial device. comwrapper.Open is the production one.
type OpenFunc func(path string, baud int) (io.ReadWriteCloser, error)

// channel manages the open/close lifecycle of the serial connection. It does
// not retry; the session loop calls Open again until it succeeds.
type channel struct {
	link    *link
	locate  func() (string, error)
	open    OpenFunc
	baud    int
	logger  *slog.Logger
	metrics *Metrics
}

// Open resolves the device and opens it, reporting progress to the console
// and to the attached session. Opening an already open channel is a no-op.
func (c *channel) Open() error {
	if c.link.portOpen() {
		return nil
	}

	path, err := c.locate()
	if err != nil {
		c.logger.Info("waiting for device", "error", err)
		return err
	}

	c.metrics.openAttempt()
	c.logger.Info("connecting", "device", path, "baud", c.baud)
	c.notify(protocol.Connecting(path))

	port, err := c.open(path, c.baud)
	if err != nil {
		c.metrics.openFailed()
		c.logger.Warn("failed to open device", "device", path, "error", err)
		c.notify(protocol.MsgFailed)
		return err
	}

	c.link.setPort(port, path)
	c.metrics.channelOpen(true)
	c.logger.Info("connected", "device", path)
	c.notify(protocol.MsgConnected)
	return nil
}

// Close releases the channel whatever its generation. Idempotent.
func (c *channel) Close() {
	c.closeGen(0)
}

// closeGen releases the channel only if it is still generation gen.
func (c *channel) closeGen(gen uint64) {
	port, path, conn := c.link.takePort(gen)
	if port == nil {
		return
	}
	c.logger.Info("closing", "device", path)
	if conn != nil {
		if _, err := conn.Write(protocol.Closing(path)); err != nil {
			c.logger.Debug("closing notice not delivered", "device", path, "error", err)
		}
	}
	if err := port.Close(); err != nil {
		c.logger.Debug("device close", "device", path, "error", err)
	}
	c.metrics.channelOpen(false)
}

func (c *channel) notify(msg []byte) {
	if err := c.link.notify(msg); err != nil {
		c.logger.Debug("status line not delivered", "error", err)
	}
}

// IsOpen is a non-blocking health check.
func (c *channel) IsOpen() bool {
	return c.link.portOpen()
}
