// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package inject

import (
	"io"
	"net"
	"time"

	"grimm.is/nidsfuzz/internal/errors"
	"grimm.is/nidsfuzz/internal/logging"
)

// Initiator drives one test case over the tunable injection protocol: it
// tells the responder what to do via the tuning channel, then plays out
// the request/response on the tuned channel from a specific local port
// (spec.md §4.7).
type Initiator struct {
	cfg    Config
	logger *logging.Logger
}

// Config bundles the injection protocol's resilience knobs. It is a
// separate type from internal/config.Injection (durations and addresses
// here, millisecond counts and a port there), so callers convert between
// the two.
type Config struct {
	ConnectRetries int
	ConnectBackoff time.Duration
	ReadTimeout    time.Duration
	TuningAddr     string
	TunedAddr      string
}

// NewInitiator constructs an Initiator against the given responder
// addresses and resilience configuration.
func NewInitiator(cfg Config, logger *logging.Logger) *Initiator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Initiator{cfg: cfg, logger: logger.WithComponent("inject.initiator")}
}

// Result carries what the tuned channel actually saw, for downstream
// TestBundle construction (spec.md §4.6 TestBundle.request/response are
// what was generated; this Result is what was exchanged, used only for
// diagnostics since the bundle's own request/response is authoritative).
type Result struct {
	LocalPort int
}

// Inject sends request and response through one tuned-channel exchange,
// dialing from a caller-supplied local port so the tuning message's Port
// field correlates correctly (spec.md requires that the initiator's
// chosen tuned-channel port be known before the tuning message is sent).
func (in *Initiator) Inject(localPort int, request, response []byte) (*Result, error) {
	opcode, ok := SelectOpcode(request, response)
	if !ok {
		return &Result{LocalPort: localPort}, nil
	}

	tuningConn, err := in.dialWithRetry(in.cfg.TuningAddr, 0)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInjection, "connect tuning channel")
	}
	defer tuningConn.Close()

	msg := &TuningMessage{Opcode: opcode, Port: uint16(localPort), Data: response}
	if _, err := tuningConn.Write(msg.Pack()); err != nil {
		return nil, errors.Wrap(err, errors.KindInjection, "send tuning message")
	}

	tunedConn, err := in.dialWithRetry(in.cfg.TunedAddr, localPort)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInjection, "connect tuned channel")
	}
	defer tunedConn.Close()

	if in.cfg.ReadTimeout > 0 {
		tunedConn.SetReadDeadline(time.Now().Add(in.cfg.ReadTimeout))
	}

	switch opcode {
	case OpEchoWait:
		if _, err := tunedConn.Write(request); err != nil {
			return nil, errors.Wrap(err, errors.KindInjection, "send request on tuned channel")
		}
		if tc, ok := tunedConn.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		if _, err := io.ReadAll(tunedConn); err != nil {
			return nil, errors.Wrap(err, errors.KindInjection, "await response echo")
		}
	case OpNoOp:
		if _, err := tunedConn.Write(request); err != nil {
			return nil, errors.Wrap(err, errors.KindInjection, "send request on tuned channel")
		}
	case OpEchoNoDelay:
		if _, err := io.ReadAll(tunedConn); err != nil {
			return nil, errors.Wrap(err, errors.KindInjection, "receive response on tuned channel")
		}
	}

	return &Result{LocalPort: localPort}, nil
}

// dialWithRetry dials addr, retrying up to ConnectRetries times with
// ConnectBackoff between attempts (spec.md §5 cancellation/timeouts). A
// non-zero localPort binds the dialer's source port, used on the tuned
// channel to match the port the tuning message already named.
func (in *Initiator) dialWithRetry(addr string, localPort int) (net.Conn, error) {
	var lastErr error
	dialer := &net.Dialer{}
	if localPort != 0 {
		dialer.LocalAddr = &net.TCPAddr{Port: localPort}
	}

	attempts := in.cfg.ConnectRetries
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		conn, err := dialer.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if i < attempts-1 {
			in.logger.Debug("connect attempt failed, retrying", "addr", addr, "attempt", i+1, "error", err)
			time.Sleep(in.cfg.ConnectBackoff)
		}
	}
	return nil, lastErr
}
