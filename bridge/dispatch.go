package bridge

import (
	"context"
	"time"
)

// dispatch is the only writer to the device and to the client. Each cycle
// drains client input to the device with pacing, then drains device output
// to the client, then waits for either queue or the next tick.
func (b *Bridge) dispatch(ctx context.Context) {
	defer b.pumps.Done()
	ticker := time.NewTicker(b.cfg.CycleDelay)
	defer ticker.Stop()

	var lastWrite time.Time
	for {
		b.drainToDevice(ctx, &lastWrite)
		b.drainToClient()

		select {
		case <-ctx.Done():
			return
		case <-b.netQ.Ready():
		case <-b.serialQ.Ready():
		case <-ticker.C:
		}
	}
}

// drainToDevice writes every queued client chunk to the serial channel. With
// a WriteDelay, bytes go out one at a time no closer together than the delay.
// Nothing is dropped: while the channel is closed the queue is left alone,
// and on a write failure the unwritten remainder goes back to the front.
func (b *Bridge) drainToDevice(ctx context.Context, lastWrite *time.Time) {
	port, gen := b.link.currentPort()
	if port == nil {
		return
	}
	chunks := b.netQ.Drain()
	for i, chunk := range chunks {
		step := len(chunk)
		if b.cfg.WriteDelay > 0 {
			step = 1
		}
		for j := 0; j < len(chunk); j += step {
			if b.cfg.WriteDelay > 0 && !lastWrite.IsZero() {
				if wait := b.cfg.WriteDelay - time.Since(*lastWrite); wait > 0 && !sleep(ctx, wait) {
					b.netQ.Requeue(append([][]byte{chunk[j:]}, chunks[i+1:]...)...)
					return
				}
			}
			if _, err := port.Write(chunk[j : j+step]); err != nil {
				b.logger.Error("error writing serial port", "error", err)
				b.metrics.deviceFault()
				b.channel.closeGen(gen)
				b.netQ.Requeue(append([][]byte{chunk[j:]}, chunks[i+1:]...)...)
				return
			}
			*lastWrite = time.Now()
			b.metrics.wroteDevice(step)
		}
	}
}

// drainToClient forwards queued device output to the attached session, and
// to the local terminal in passthrough mode. Without a session the output is
// discarded.
func (b *Bridge) drainToClient() {
	chunks := b.serialQ.Drain()
	if len(chunks) == 0 {
		return
	}
	conn := b.link.session()
	for _, chunk := range chunks {
		if b.localOut != nil {
			b.localOut.Write(chunk)
		}
		if conn == nil {
			b.metrics.discarded(len(chunk))
			continue
		}
		if _, err := conn.Write(chunk); err != nil {
			if isExpectedCloseError(err) {
				b.logger.Info("client gone while relaying", "error", err)
			} else {
				b.logger.Error("error writing network port", "error", err)
			}
			b.channel.Close()
			conn = nil
			continue
		}
		b.metrics.wroteClient(len(chunk))
	}
}
