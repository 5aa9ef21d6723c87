// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package inject implements the tunable bilateral injection protocol
// (spec.md §4.7, C7): a control channel (tuning) that tells a responder
// what to echo on the data channel (tuned), so the fuzzer controls the
// full traffic timeline regardless of which side the rule under test
// expects to speak first.
package inject

import (
	"encoding/binary"

	"grimm.is/nidsfuzz/internal/errors"
)

// Opcode selects the responder's behavior on the tuned channel.
type Opcode uint16

const (
	OpNoOp        Opcode = 0x00
	OpEchoNoDelay Opcode = 0x01
	OpEchoWait    Opcode = 0x02
)

func (o Opcode) String() string {
	switch o {
	case OpNoOp:
		return "NO_OP"
	case OpEchoNoDelay:
		return "ECHO_NODELAY"
	case OpEchoWait:
		return "ECHO_WAIT"
	default:
		return "UNKNOWN"
	}
}

// HeaderLength is the fixed opcode+port+length prefix size.
const HeaderLength = 8

// TuningMessage is one control-channel record: network byte order,
// opcode (2 bytes), port (2 bytes), length (4 bytes), then length bytes
// of data (spec.md §4.7).
type TuningMessage struct {
	Opcode Opcode
	Port   uint16
	Data   []byte
}

// SelectOpcode picks the opcode for a test case from whether its request
// and response are non-empty (spec.md §4.7/§8 S4). ok is false when
// neither side has bytes, meaning no tuned-channel activity is needed.
func SelectOpcode(request, response []byte) (op Opcode, ok bool) {
	switch {
	case len(request) > 0 && len(response) > 0:
		return OpEchoWait, true
	case len(request) > 0:
		return OpNoOp, true
	case len(response) > 0:
		return OpEchoNoDelay, true
	default:
		return 0, false
	}
}

// Pack serializes the message to wire bytes.
func (m *TuningMessage) Pack() []byte {
	buf := make([]byte, HeaderLength+len(m.Data))
	binary.BigEndian.PutUint16(buf[0:2], uint16(m.Opcode))
	binary.BigEndian.PutUint16(buf[2:4], m.Port)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(m.Data)))
	copy(buf[8:], m.Data)
	return buf
}

// UnpackHeader decodes the fixed 8-byte header into (opcode, port, length).
func UnpackHeader(header []byte) (Opcode, uint16, uint32, error) {
	if len(header) != HeaderLength {
		return 0, 0, 0, errors.Errorf(errors.KindInjection, "header must be exactly %d bytes, got %d", HeaderLength, len(header))
	}
	opcode := Opcode(binary.BigEndian.Uint16(header[0:2]))
	port := binary.BigEndian.Uint16(header[2:4])
	length := binary.BigEndian.Uint32(header[4:8])
	return opcode, port, length, nil
}
