// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package inject

import "grimm.is/nidsfuzz/internal/errors"

// framingState names which half of a TuningMessage the decoder is
// currently accumulating.
type framingState int

const (
	awaitHeader framingState = iota
	awaitBody
)

// frameDecoder incrementally reassembles TuningMessages from a
// per-connection byte stream (spec.md §4.7 framing). A header parse
// error drops the accumulated buffer and resets the state, matching the
// reference implementation's "drop and resync" recovery.
type frameDecoder struct {
	state  framingState
	buf    []byte
	opcode Opcode
	port   uint16
	length uint32
}

func newFrameDecoder() *frameDecoder {
	return &frameDecoder{state: awaitHeader}
}

// Feed appends newly read bytes and returns every complete message now
// available, in arrival order.
func (d *frameDecoder) Feed(chunk []byte) ([]*TuningMessage, error) {
	d.buf = append(d.buf, chunk...)
	var out []*TuningMessage
	for {
		msg, ok, err := d.step()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, msg)
	}
}

func (d *frameDecoder) step() (*TuningMessage, bool, error) {
	switch d.state {
	case awaitHeader:
		if len(d.buf) < HeaderLength {
			return nil, false, nil
		}
		opcode, port, length, err := UnpackHeader(d.buf[:HeaderLength])
		if err != nil {
			d.buf = nil
			d.state = awaitHeader
			return nil, false, errors.Wrapf(err, errors.KindInjection, "parse tuning message header")
		}
		d.opcode, d.port, d.length = opcode, port, length
		d.buf = d.buf[HeaderLength:]
		d.state = awaitBody
		return d.step()
	case awaitBody:
		if uint32(len(d.buf)) < d.length {
			return nil, false, nil
		}
		data := make([]byte, d.length)
		copy(data, d.buf[:d.length])
		d.buf = d.buf[d.length:]
		d.state = awaitHeader
		return &TuningMessage{Opcode: d.opcode, Port: d.port, Data: data}, true, nil
	default:
		return nil, false, nil
	}
}
