// Package bridge relays raw bytes between one serial-attached device and one
// TCP client at a time.
//
// A [Bridge] runs a fixed set of goroutines:
//
//   - the accept loop, which serves one session at a time: greeting, waiting
//     for the device, reading client chunks and watching for the termination
//     keyword;
//   - the serial pump, which polls the open device and queues its output;
//   - the optional local-input pump, which queues terminal keystrokes for the
//     device alongside the client's bytes;
//   - the dispatch loop, the single writer to both the device and the client.
//
// The two [ByteQueue]s decouple readers from the writer. Client bytes reach
// the device paced by Config.WriteDelay, which gives slow firmware serial
// receivers time to keep up. The current serial port and the current client
// connection live in one lock-guarded link so no goroutine sees a half
// updated pair.
//
// Device faults never stop the bridge: the port is closed, and the session
// loop keeps reopening it, telling the client it is waiting.
package bridge
