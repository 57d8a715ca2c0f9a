// RS-232/Virtual-Serial over USB access for the bridge:
// locating the device node and opening it with tarm/serial.

package comwrapper

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tarm/serial"
)

var (
	ErrDeviceNotFound  = errors.New("no serial device found")
	ErrDeviceOpen      = errors.New("serial device open failed")
	ErrNoDevicePattern = errors.New("no device pattern can ever match")
	ErrDeviceGone      = errors.New("serial device gone")
)

// ReadTimeout bounds a single read on an opened port. A read that times out
// without data returns io.EOF, which callers treat as "nothing available".
// A hung-up tty also reads as io.EOF, but immediately; Port tells the two apart.
const ReadTimeout = 100 * time.Millisecond

// Config for opening a device node.
func Config(path string, baud int) *serial.Config {
	return &serial.Config{
		Name:        path,
		Baud:        baud,
		ReadTimeout: ReadTimeout,
		// Two stop bits keep a slow receiver from losing pasted characters.
		StopBits: serial.Stop2,
	}
}

// Open the device at path. It fails if the device is absent or cannot be
// configured and does not retry.
func Open(path string, baud int) (io.ReadWriteCloser, error) {
	p, err := serial.OpenPort(Config(path, baud))
	if err != nil {
		return nil, fmt.Errorf("%w: %s @ %d: %v", ErrDeviceOpen, path, baud, err)
	}
	return NewPort(p, path, ReadTimeout), nil
}

// Port is an opened device that reports a vanished device as ErrDeviceGone
// instead of the io.EOF of an idle read timeout.
type Port struct {
	rwc     io.ReadWriteCloser
	path    string
	timeout time.Duration
}

// NewPort wraps rwc, whose empty reads return after timeout. An empty path
// skips the device node check.
func NewPort(rwc io.ReadWriteCloser, path string, timeout time.Duration) *Port {
	return &Port{rwc: rwc, path: path, timeout: timeout}
}

// Read returns io.EOF only for an empty read that waited out the timeout
// on a device node that still exists.
func (p *Port) Read(b []byte) (int, error) {
	start := time.Now()
	n, err := p.rwc.Read(b)
	if n > 0 || (err != nil && !errors.Is(err, io.EOF)) {
		return n, err
	}
	if elapsed := time.Since(start); elapsed < p.timeout/2 {
		return 0, fmt.Errorf("%w: %s: empty read after %v", ErrDeviceGone, p.path, elapsed)
	}
	if p.path != "" {
		if _, serr := os.Stat(p.path); serr != nil {
			return 0, fmt.Errorf("%w: %v", ErrDeviceGone, serr)
		}
	}
	return 0, io.EOF
}

func (p *Port) Write(b []byte) (int, error) {
	return p.rwc.Write(b)
}

func (p *Port) Close() error {
	return p.rwc.Close()
}
