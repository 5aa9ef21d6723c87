// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fuzzloop

import (
	"strings"
	"time"

	"grimm.is/nidsfuzz/internal/errors"
	"grimm.is/nidsfuzz/internal/inject"
	"grimm.is/nidsfuzz/internal/logging"
	"grimm.is/nidsfuzz/internal/portalloc"
)

// replayPause separates one replayed bundle from the next, matching
// Replayer.start's fixed 0.1s pacing.
const replayPause = 100 * time.Millisecond

// Replayer re-injects every discrepancy persisted by a Store, one
// packet bundle at a time, so a human can watch the NIDSes under test
// react to a known-bad case in isolation (grounded on Replayer.py).
type Replayer struct {
	initiator   *inject.Initiator
	ports       *portalloc.Allocator
	initiatorIP string
	logger      *logging.Logger
}

// NewReplayer constructs a Replayer. initiatorIP is stored but not used:
// replayed connections bind only their local port, through initiator.
func NewReplayer(initiator *inject.Initiator, ports *portalloc.Allocator, initiatorIP string, logger *logging.Logger) *Replayer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Replayer{initiator: initiator, ports: ports, initiatorIP: initiatorIP, logger: logger.WithComponent("fuzzloop.replayer")}
}

// Replay loads every stanza and packet record out of dir and re-plays
// them against the responder in order, pausing briefly between each so
// downstream alerting can keep up. It returns the number of bundles
// replayed.
func (r *Replayer) Replay(dir string) (int, error) {
	discrepancies, err := LoadDiscrepancies(dir)
	if err != nil {
		return 0, err
	}
	packets, err := LoadPackets(dir)
	if err != nil {
		return 0, err
	}

	n := len(discrepancies)
	if len(packets) < n {
		n = len(packets)
	}

	for i := 0; i < n; i++ {
		r.logger.Info("replaying", "seed_rules", strings.Join(discrepancies[i].SeedRules, ", "))
		if err := r.replayOne(packets[i]); err != nil {
			return i, err
		}
		time.Sleep(replayPause)
	}

	r.logger.Info("replay finished", "count", n)
	return n, nil
}

func (r *Replayer) replayOne(rec PacketRecord) error {
	tunedPort, err := r.ports.Allocate(true)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "allocate tuned port for replay")
	}
	if _, err := r.ports.Allocate(false); err != nil {
		return errors.Wrap(err, errors.KindInternal, "allocate tuning port for replay")
	}

	for i := range rec.Requests {
		if _, err := r.initiator.Inject(tunedPort, rec.Requests[i], rec.Responses[i]); err != nil {
			return errors.Wrap(err, errors.KindInjection, "replay packet pair")
		}
	}
	return nil
}
