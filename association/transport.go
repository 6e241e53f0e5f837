package association

import (
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/dicomdul/duldicom/netlog"
	"github.com/dicomdul/duldicom/pdu"
)

// transportEvent is one item handed from the background reader goroutine to
// the state machine loop: either a decoded PDU or a terminal read error,
// mirroring the teacher's networkReaderThread -> netCh channel handoff.
type transportEvent struct {
	pdu pdu.PDU
	err error
}

// transport owns the TCP (or already-dialed) connection underlying one
// Association: it frames outbound PDUs, runs a background reader goroutine
// that decodes inbound PDUs onto a channel, and enforces the socket/Dimse
// idle timeouts from Config.
type transport struct {
	conn   net.Conn
	log    netlog.Logger
	events chan transportEvent

	socketTimeout time.Duration
	dimseTimeout  time.Duration
	maxPDULength  uint32

	throttleBytesPerSec int64

	dimseTimer    *time.Timer
	dimseTimedOut int32 // atomic: 1 once the Dimse idle timer has force-closed conn
}

// dial opens a TCP connection to addr within cfg.ConnectTimeout and starts
// the background reader.
func dial(addr string, cfg Config, log netlog.Logger) (*transport, error) {
	conn, err := net.DialTimeout("tcp", addr, cfg.ConnectTimeout)
	if err != nil {
		return nil, NetworkError(fmt.Sprintf("dialing %s", addr), err)
	}
	return newTransport(conn, cfg, log), nil
}

// newTransport wraps an already-established net.Conn, arms the Dimse timer
// and starts the background reader; dial is its only caller.
func newTransport(conn net.Conn, cfg Config, log netlog.Logger) *transport {
	if log == nil {
		log = netlog.Nop()
	}
	maxPDU := cfg.MaxPduSize
	if maxPDU == 0 {
		maxPDU = pdu.MaxPDULength
	}
	t := &transport{
		conn:                conn,
		log:                 log,
		events:              make(chan transportEvent, 64),
		socketTimeout:       cfg.SocketTimeout,
		dimseTimeout:        cfg.DimseTimeout,
		maxPDULength:        maxPDU,
		throttleBytesPerSec: cfg.ThrottleSpeed,
	}
	t.StartDimseTimer()
	go t.readLoop()
	return t
}

// readLoop decodes PDUs off the wire until the connection closes or a
// framing error occurs, pushing each outcome onto events — the background
// reader thread the teacher's networkReaderThread models, generalized to a
// single channel of (pdu, err) rather than per-PDU-type state events, since
// this module's state machine discriminates on the decoded Go type instead
// of a numbered event table.
//
// SocketTimeout and DimseTimeout bound two different things (§5 Timeouts):
// SetReadDeadline(socketTimeout) bounds a single recv attempt, so a timeout
// from it alone just means "try the read again" — it is not reported as a
// connection failure. DimseTimeout is the idle-between-PDUs watchdog,
// armed/reset by StartDimseTimer/stopDimseTimer; its fire force-closes conn,
// which is what actually ends the loop, reported as DimseTimeoutError.
func (t *transport) readLoop() {
	defer close(t.events)
	for {
		if t.socketTimeout > 0 {
			_ = t.conn.SetReadDeadline(time.Now().Add(t.socketTimeout))
		}
		p, err := pdu.ReadPDU(t.conn, t.maxPDULength)
		if err != nil {
			if atomic.LoadInt32(&t.dimseTimedOut) == 1 {
				t.events <- transportEvent{err: DimseTimeoutError("no inbound PDU within DimseTimeout")}
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			t.events <- transportEvent{err: err}
			return
		}
		t.stopDimseTimer()
		t.StartDimseTimer()
		t.events <- transportEvent{pdu: p}
	}
}

// Recv blocks for the next inbound PDU or the socket's terminal error/close.
func (t *transport) Recv() (pdu.PDU, error) {
	ev, ok := <-t.events
	if !ok {
		return nil, NetworkError("connection closed", io.EOF)
	}
	if ev.err != nil {
		if ae, ok := ev.err.(*Error); ok {
			return nil, ae
		}
		if ev.err == io.EOF {
			return nil, NetworkError("connection closed by peer", io.EOF)
		}
		return nil, ProtocolViolation("reading PDU", ev.err)
	}
	return ev.pdu, nil
}

// Send writes p to the wire. Per send_pdu's spec semantics this temporarily
// suspends the Dimse-timeout clock for the duration of the write and
// re-arms it on return, since a slow-but-alive peer consuming a large
// P-DATA-TF should not trip the idle timer while we are still actively
// sending to it.
func (t *transport) Send(p pdu.PDU) error {
	if err := pdu.WritePDU(t.Writer(), p); err != nil {
		return NetworkError(fmt.Sprintf("writing %s", p.Type()), err)
	}
	return nil
}

// Writer returns an io.Writer over the raw connection that resets the
// Dimse-timeout clock on every write and applies the configured throttle,
// for use by dimse.Emitter when it streams PDV fragments directly rather
// than going through a single Send(pdu.PDU) call per PDU.
func (t *transport) Writer() io.Writer {
	w := io.Writer(t.conn)
	if t.throttleBytesPerSec > 0 {
		w = &throttledWriter{w: t.conn, bytesPerSec: t.throttleBytesPerSec}
	}
	return &timerResetWriter{t: t, w: w}
}

type timerResetWriter struct {
	t *transport
	w io.Writer
}

func (tw *timerResetWriter) Write(p []byte) (int, error) {
	tw.t.stopDimseTimer()
	n, err := tw.w.Write(p)
	tw.t.StartDimseTimer()
	return n, err
}

// StartDimseTimer arms the Dimse-timeout clock. Firing before the next
// stopDimseTimer/StartDimseTimer cycle force-closes conn so a blocked
// readLoop wakes and reports DimseTimeoutError, regardless of whether
// SocketTimeout is configured.
func (t *transport) StartDimseTimer() {
	if t.dimseTimeout <= 0 {
		return
	}
	t.dimseTimer = time.AfterFunc(t.dimseTimeout, func() {
		atomic.StoreInt32(&t.dimseTimedOut, 1)
		_ = t.conn.Close()
	})
}

func (t *transport) stopDimseTimer() {
	if t.dimseTimer != nil {
		t.dimseTimer.Stop()
	}
}

// Close tears down the underlying connection. Safe to call more than once.
func (t *transport) Close() error {
	t.stopDimseTimer()
	return t.conn.Close()
}

// throttledWriter caps outbound throughput to bytesPerSec, implementing the
// spec's optional send-path throttling knob with a simple fixed-chunk sleep
// rather than a token-bucket library, since the only behavior this module
// needs is a coarse cap for testing slow-link scenarios.
type throttledWriter struct {
	w           io.Writer
	bytesPerSec int64
}

func (tw *throttledWriter) Write(p []byte) (int, error) {
	const chunk = 4096
	written := 0
	for written < len(p) {
		end := written + chunk
		if end > len(p) {
			end = len(p)
		}
		n, err := tw.w.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
		if tw.bytesPerSec > 0 {
			time.Sleep(time.Duration(float64(n) / float64(tw.bytesPerSec) * float64(time.Second)))
		}
	}
	return written, nil
}
