package bridge

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RoanBrand/goBuffers"
	"github.com/stretchr/testify/require"
)

// Fake serial device. What the bridge writes lands in a blocking wire the
// firmware goroutine reads; what the firmware emits is polled by the bridge,
// which sees io.EOF on an empty poll just like a tarm/serial read timeout.
// Once hung up, empty polls return io.EOF at once, as a tty does after the
// device is unplugged.
type fakeDevice struct {
	mu        sync.Mutex
	out       bytes.Buffer
	wire      *goBuffers.BlockingReadWriter
	written   bytes.Buffer
	writes    []time.Time
	idle      time.Duration
	closed    bool
	hungUp    bool
	failRead  error
	failWrite error
}

func newFakeDevice(idle time.Duration) *fakeDevice {
	if idle == 0 {
		idle = 2 * time.Millisecond
	}
	return &fakeDevice{wire: goBuffers.NewBlockingReadWriter(), idle: idle}
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, os.ErrClosed
	}
	if d.out.Len() > 0 {
		n, _ := d.out.Read(p)
		d.mu.Unlock()
		return n, nil
	}
	if err := d.failRead; err != nil {
		d.mu.Unlock()
		return 0, err
	}
	if d.hungUp {
		d.mu.Unlock()
		return 0, io.EOF
	}
	idle := d.idle
	d.mu.Unlock()
	time.Sleep(idle)
	return 0, io.EOF
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, os.ErrClosed
	}
	if err := d.failWrite; err != nil {
		d.mu.Unlock()
		return 0, err
	}
	d.writes = append(d.writes, time.Now())
	d.written.Write(p)
	d.mu.Unlock()
	return d.wire.Write(p)
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) emit(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out.WriteString(s)
}

func (d *fakeDevice) setFailRead(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failRead = err
}

func (d *fakeDevice) hangUp() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hungUp = true
}

func (d *fakeDevice) setFailWrite(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWrite = err
}

func (d *fakeDevice) received() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written.String()
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDevice) writeTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.writes...)
}

// runFirmware mimics a line-oriented interpreter: it echoes what it is sent
// and answers every line followed by the "\r\n> " prompt.
func (d *fakeDevice) runFirmware() {
	go func() {
		var line []byte
		rx := make([]byte, 1)
		for {
			n, err := d.wire.Read(rx)
			if err != nil {
				return
			}
			if n == 0 {
				continue
			}
			if rx[0] != '\n' {
				line = append(line, rx[0])
				d.emit(string(rx[:1]))
				continue
			}
			switch strings.TrimSpace(string(line)) {
			case "boot":
				d.emit("\r\nbitlash here! v2.0\r\n> ")
			case "print millis":
				d.emit("\r\n4242\r\n> ")
			default:
				d.emit("\r\n> ")
			}
			line = line[:0]
		}
	}()
}

// fakeDevices hands out a fresh device per open, failing while down is set.
type fakeDevices struct {
	mu       sync.Mutex
	opened   []*fakeDevice
	down     bool
	firmware bool
	idle     time.Duration
	attempts int
}

func (f *fakeDevices) open(path string, baud int) (io.ReadWriteCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.down {
		return nil, os.ErrNotExist
	}
	d := newFakeDevice(f.idle)
	if f.firmware {
		d.runFirmware()
	}
	f.opened = append(f.opened, d)
	return d, nil
}

func (f *fakeDevices) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeDevices) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func (f *fakeDevices) get(i int) *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[i]
}

// wait blocks until the n-th device has been opened and returns it.
func (f *fakeDevices) wait(t *testing.T, n int) *fakeDevice {
	t.Helper()
	require.Eventually(t, func() bool { return f.count() >= n }, 3*time.Second, 5*time.Millisecond,
		"device #%d never opened", n)
	return f.get(n - 1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.WriteDelay = time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.WaitInterval = 100 * time.Millisecond
	cfg.ReadBackoff = 20 * time.Millisecond
	cfg.Cooldown = 50 * time.Millisecond
	cfg.CycleDelay = 10 * time.Millisecond
	return cfg
}

func startBridge(t *testing.T, cfg Config, devices *fakeDevices) *Bridge {
	t.Helper()
	b := &Bridge{
		Config: cfg,
		Logger: discardLogger(),
		Open:   devices.open,
		Locate: func() (string, error) { return "/dev/fake0", nil },
	}
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(b.Stop)
	return b
}

// testClient is a scripted network client: send a line, wait for a prompt.
type testClient struct {
	t    *testing.T
	conn net.Conn
	seen bytes.Buffer
}

func dial(t *testing.T, b *Bridge) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", b.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(s string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(s))
	require.NoError(c.t, err)
}

// expect reads until want has been seen and returns everything up to and
// including it. Output after want stays buffered for the next call.
func (c *testClient) expect(want string, timeout time.Duration) string {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	rx := make([]byte, 1024)
	for {
		if i := strings.Index(c.seen.String(), want); i >= 0 {
			got := string(c.seen.Next(i + len(want)))
			return got
		}
		if time.Now().After(deadline) {
			c.t.Fatalf("timed out waiting for %q, have %q", want, c.seen.String())
		}
		c.conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
		n, err := c.conn.Read(rx)
		c.seen.Write(rx[:n])
		if err != nil && !isTimeout(err) {
			c.t.Fatalf("read while waiting for %q: %v (have %q)", want, err, c.seen.String())
		}
	}
}

// expectAll reads until every string in wants has been seen, in any order,
// and returns everything read so far.
func (c *testClient) expectAll(timeout time.Duration, wants ...string) string {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	rx := make([]byte, 1024)
	for {
		all := true
		for _, w := range wants {
			if !strings.Contains(c.seen.String(), w) {
				all = false
				break
			}
		}
		if all {
			got := c.seen.String()
			c.seen.Reset()
			return got
		}
		if time.Now().After(deadline) {
			c.t.Fatalf("timed out waiting for %q, have %q", wants, c.seen.String())
		}
		c.conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
		n, err := c.conn.Read(rx)
		c.seen.Write(rx[:n])
		if err != nil && !isTimeout(err) {
			c.t.Fatalf("read while waiting for %q: %v (have %q)", wants, err, c.seen.String())
		}
	}
}

// quiet asserts nothing arrives for d.
func (c *testClient) quiet(d time.Duration) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(d))
	rx := make([]byte, 64)
	n, err := c.conn.Read(rx)
	require.Zero(c.t, n, "unexpected %q", rx[:n])
	require.True(c.t, isTimeout(err), "expected timeout, got %v", err)
}

// closed asserts the bridge closes the connection within d.
func (c *testClient) closed(d time.Duration) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(d))
	rx := make([]byte, 1024)
	for {
		_, err := c.conn.Read(rx)
		if err == nil {
			continue
		}
		require.False(c.t, isTimeout(err), "connection still open after %v", d)
		return
	}
}

// lockedBuffer is a concurrency-safe io.Writer for local output.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}
