// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package inject

import (
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"grimm.is/nidsfuzz/internal/logging"
)

// Responder runs the two listeners the tuned-channel protocol needs: a
// tuning service that decodes TuningMessages and publishes them to the
// broker, and a tuned service that consumes the matching message per
// connection and plays out its opcode (spec.md §4.7).
type Responder struct {
	tuningAddr string
	tunedAddr  string
	broker     *Broker
	readTO     time.Duration
	logger     *logging.Logger

	mu        sync.Mutex
	listeners []net.Listener
	wg        sync.WaitGroup
}

// NewResponder constructs a Responder. broker is typically shared with
// whatever Initiator the caller also owns in-process, or reached
// over the tuning channel by a remote initiator.
func NewResponder(tuningAddr, tunedAddr string, broker *Broker, readTimeout time.Duration, logger *logging.Logger) *Responder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Responder{
		tuningAddr: tuningAddr,
		tunedAddr:  tunedAddr,
		broker:     broker,
		readTO:     readTimeout,
		logger:     logger.WithComponent("inject.responder"),
	}
}

// Start opens both listeners and begins accepting connections in the
// background. It returns once both are listening.
func (r *Responder) Start() error {
	tuningL, err := net.Listen("tcp", r.tuningAddr)
	if err != nil {
		return err
	}
	tunedL, err := net.Listen("tcp", r.tunedAddr)
	if err != nil {
		tuningL.Close()
		return err
	}

	r.mu.Lock()
	r.listeners = []net.Listener{tuningL, tunedL}
	r.mu.Unlock()

	r.wg.Add(2)
	go r.acceptLoop(tuningL, r.handleTuningConn)
	go r.acceptLoop(tunedL, r.handleTunedConn)
	return nil
}

// TuningAddr returns the address the tuning listener actually bound to,
// useful after Start when the constructor was given a ":0" port.
func (r *Responder) TuningAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listeners[0].Addr().String()
}

// TunedAddr returns the address the tuned listener actually bound to.
func (r *Responder) TunedAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listeners[1].Addr().String()
}

// Stop closes both listeners and waits for in-flight connection handlers
// to finish.
func (r *Responder) Stop() {
	r.mu.Lock()
	for _, l := range r.listeners {
		l.Close()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Responder) acceptLoop(l net.Listener, handle func(net.Conn)) {
	defer r.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		go handle(conn)
	}
}

// handleTuningConn decodes TuningMessages from one tuning-channel
// connection and publishes each to the broker, keyed by the connecting
// client's IP and the message's declared tuned-channel port.
func (r *Responder) handleTuningConn(conn net.Conn) {
	defer conn.Close()
	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	dec := newFrameDecoder()
	buf := make([]byte, 4096)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs, ferr := dec.Feed(buf[:n])
			if ferr != nil {
				r.logger.Warn("tuning frame error, dropping connection", "peer", host, "error", ferr)
				return
			}
			for _, msg := range msgs {
				if perr := r.broker.Publish(host, msg); perr != nil {
					r.logger.Warn("broker publish failed", "peer", host, "port", msg.Port, "error", perr)
				}
			}
		}
		if err != nil {
			if err != io.EOF && !isClosedErr(err) {
				r.logger.Debug("tuning connection read error", "peer", host, "error", err)
			}
			return
		}
	}
}

// handleTunedConn blocks for the matching TuningMessage, then executes
// its opcode against the newly connected tuned-channel socket (spec.md
// §4.7 responder state machine).
func (r *Responder) handleTunedConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().(*net.TCPAddr)
	host := remote.IP.String()

	// The TuningMessage's Port is the initiator's chosen local port on
	// the tuned channel, i.e. the port this very connection originates
	// from, which correlates it with the tuning-channel publish.
	msg, err := r.broker.Consume(host, uint16(remote.Port))
	if err != nil {
		r.logger.Warn("tuned connection had no matching tuning message", "peer", host, "error", err)
		return
	}

	if r.readTO > 0 {
		conn.SetReadDeadline(time.Now().Add(r.readTO))
	}

	switch msg.Opcode {
	case OpNoOp:
		io.Copy(io.Discard, conn)
	case OpEchoWait:
		io.Copy(io.Discard, conn)
		conn.Write(msg.Data)
	case OpEchoNoDelay:
		conn.Write(msg.Data)
	default:
		r.logger.Warn("unsupported opcode on tuned channel", "opcode", msg.Opcode)
	}
}

func isClosedErr(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}
