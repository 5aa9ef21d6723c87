// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package inject

import (
	"context"
	"sync"
	"time"

	"grimm.is/nidsfuzz/internal/errors"
)

// brokerKey identifies one pending tuned-channel connection by the
// endpoint the tuning channel published for it.
type brokerKey struct {
	ip   string
	port uint16
}

// Broker is the process-wide map the tuning channel publishes into and
// the tuned channel's responder consumes from, keyed by (client_ip,
// port). Publish blocks (bounded) if the key is already occupied;
// Consume blocks (bounded) if the key is missing yet (spec.md §4.7).
type Broker struct {
	mu      sync.Mutex
	entries map[brokerKey]*TuningMessage
	waiters map[brokerKey]chan struct{}
	timeout time.Duration
}

// NewBroker returns a Broker whose publish/consume operations fail after
// timeout if they cannot make progress.
func NewBroker(timeout time.Duration) *Broker {
	return &Broker{
		entries: make(map[brokerKey]*TuningMessage),
		waiters: make(map[brokerKey]chan struct{}),
		timeout: timeout,
	}
}

// Publish stores msg under (ip, msg.Port), waiting for the slot to clear
// if something is already published there.
func (b *Broker) Publish(ip string, msg *TuningMessage) error {
	key := brokerKey{ip: ip, port: msg.Port}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	for {
		b.mu.Lock()
		if _, occupied := b.entries[key]; !occupied {
			b.entries[key] = msg
			if ch, ok := b.waiters[key]; ok {
				close(ch)
				delete(b.waiters, key)
			}
			b.mu.Unlock()
			return nil
		}
		wait := b.waitChanLocked(key)
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return errors.Errorf(errors.KindBrokerTimeout, "publish timed out waiting for slot %s:%d", ip, msg.Port)
		}
	}
}

// Consume removes and returns the message published for (ip, port),
// waiting for it to appear if it has not been published yet.
func (b *Broker) Consume(ip string, port uint16) (*TuningMessage, error) {
	key := brokerKey{ip: ip, port: port}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	for {
		b.mu.Lock()
		if msg, ok := b.entries[key]; ok {
			delete(b.entries, key)
			if ch, ok := b.waiters[key]; ok {
				close(ch)
				delete(b.waiters, key)
			}
			b.mu.Unlock()
			return msg, nil
		}
		wait := b.waitChanLocked(key)
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, errors.Errorf(errors.KindBrokerTimeout, "consume timed out waiting for publish on %s:%d", ip, port)
		}
	}
}

// waitChanLocked returns a channel that closes the next time key's
// occupancy changes. Caller holds b.mu.
func (b *Broker) waitChanLocked(key brokerKey) chan struct{} {
	if ch, ok := b.waiters[key]; ok {
		return ch
	}
	ch := make(chan struct{})
	b.waiters[key] = ch
	return ch
}
