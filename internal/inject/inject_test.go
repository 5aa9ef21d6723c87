// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package inject

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectOpcodeMatchesScenarioTable(t *testing.T) {
	op, ok := SelectOpcode([]byte("req"), []byte("resp"))
	require.True(t, ok)
	assert.Equal(t, OpEchoWait, op)

	op, ok = SelectOpcode([]byte("req"), nil)
	require.True(t, ok)
	assert.Equal(t, OpNoOp, op)

	op, ok = SelectOpcode(nil, []byte("resp"))
	require.True(t, ok)
	assert.Equal(t, OpEchoNoDelay, op)

	_, ok = SelectOpcode(nil, nil)
	assert.False(t, ok)
}

func TestTuningMessagePackUnpackRoundTrips(t *testing.T) {
	msg := &TuningMessage{Opcode: OpEchoWait, Port: 40123, Data: []byte("hello")}
	wire := msg.Pack()
	require.Len(t, wire, HeaderLength+5)

	opcode, port, length, err := UnpackHeader(wire[:HeaderLength])
	require.NoError(t, err)
	assert.Equal(t, OpEchoWait, opcode)
	assert.Equal(t, uint16(40123), port)
	assert.Equal(t, uint32(5), length)
}

func TestUnpackHeaderRejectsWrongLength(t *testing.T) {
	_, _, _, err := UnpackHeader([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestFrameDecoderHandlesSplitReads(t *testing.T) {
	msg := &TuningMessage{Opcode: OpNoOp, Port: 9, Data: []byte("abcdef")}
	wire := msg.Pack()

	d := newFrameDecoder()
	msgs, err := d.Feed(wire[:5])
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = d.Feed(wire[5:])
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, OpNoOp, msgs[0].Opcode)
	assert.Equal(t, uint16(9), msgs[0].Port)
	assert.Equal(t, []byte("abcdef"), msgs[0].Data)
}

func TestFrameDecoderHandlesMultipleMessagesInOneChunk(t *testing.T) {
	m1 := (&TuningMessage{Opcode: OpNoOp, Port: 1, Data: []byte("a")}).Pack()
	m2 := (&TuningMessage{Opcode: OpEchoNoDelay, Port: 2, Data: []byte("bb")}).Pack()

	d := newFrameDecoder()
	msgs, err := d.Feed(append(m1, m2...))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint16(1), msgs[0].Port)
	assert.Equal(t, uint16(2), msgs[1].Port)
}

func TestBrokerPublishThenConsume(t *testing.T) {
	b := NewBroker(time.Second)
	msg := &TuningMessage{Opcode: OpEchoWait, Port: 5000, Data: []byte("x")}

	require.NoError(t, b.Publish("10.0.0.1", msg))

	got, err := b.Consume("10.0.0.1", 5000)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestBrokerConsumeTimesOutWhenNothingPublished(t *testing.T) {
	b := NewBroker(50 * time.Millisecond)
	_, err := b.Consume("10.0.0.1", 5000)
	assert.Error(t, err)
}

func TestBrokerConsumeUnblocksOnLatePublish(t *testing.T) {
	b := NewBroker(time.Second)
	msg := &TuningMessage{Opcode: OpNoOp, Port: 7000}

	done := make(chan error, 1)
	go func() {
		_, err := b.Consume("10.0.0.2", 7000)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Publish("10.0.0.2", msg))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consume never unblocked")
	}
}

// TestResponderEchoWaitRoundTrip wires a real Responder and drives it with
// raw TCP dials, exercising the whole tuning/tuned flow for the ECHO_WAIT
// case (spec.md §8 S4).
func TestResponderEchoWaitRoundTrip(t *testing.T) {
	broker := NewBroker(time.Second)
	r := NewResponder("127.0.0.1:0", "127.0.0.1:0", broker, 2*time.Second, nil)
	require.NoError(t, r.Start())
	defer r.Stop()

	tuningConn, err := net.Dial("tcp", r.TuningAddr())
	require.NoError(t, err)
	defer tuningConn.Close()

	localAddr := tuningConn.LocalAddr().(*net.TCPAddr)
	tunedPort := freePort(t)
	respBody := []byte("pong")
	msg := &TuningMessage{Opcode: OpEchoWait, Port: uint16(tunedPort), Data: respBody}
	_, err = tuningConn.Write(msg.Pack())
	require.NoError(t, err)

	dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: localAddr.IP, Port: tunedPort}}
	tunedConn, err := dialer.Dial("tcp", r.TunedAddr())
	require.NoError(t, err)
	defer tunedConn.Close()

	_, err = tunedConn.Write([]byte("ping"))
	require.NoError(t, err)
	tunedConn.(*net.TCPConn).CloseWrite()

	buf := make([]byte, 64)
	tunedConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _ := tunedConn.Read(buf)
	assert.Equal(t, respBody, buf[:n])
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestInitiatorSkipsTunedChannelWhenBothSidesEmpty(t *testing.T) {
	in := NewInitiator(Config{}, nil)
	res, err := in.Inject(freePort(t), nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, res)
}
