// Package replay is the relay's anti-replay gate. It runs on every
// message-send request after authentication and before persistence, and
// rejects anything that could be a replay: a missing protection triple, a
// timestamp outside the freshness window, a nonce seen before, or a
// sequence number that does not advance the conversation.
//
// The nonce cache and the per-conversation sequence tracker live behind a
// single lock covering both the check and the insert, which makes the
// accept decision linearizable per conversation. A background sweep
// evicts cache entries older than the freshness window.
package replay

import (
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/server/audit"
)

const (
	// Window is how far in the past a timestamp may lie.
	Window = 5 * time.Minute
	// FutureSkew is how far ahead of the relay clock a timestamp may lie.
	FutureSkew = 1 * time.Minute
	// gapWarn is the sequence jump past which a gap is logged.
	gapWarn = 10
	// sweepEvery is the cadence of the nonce-cache eviction pass.
	sweepEvery = 60 * time.Second
)

// SequenceSource is the durable fallback consulted when the in-memory
// tracker has no entry for a conversation.
type SequenceSource interface {
	LastSequence(conv domain.ConversationID) (uint64, bool, error)
}

// nonceEntry records the metadata of an accepted nonce; it is replayed
// into the audit log when a duplicate shows up.
type nonceEntry struct {
	Timestamp  int64
	Sender     domain.UserID
	Recipient  domain.UserID
	Sequence   uint64
	AcceptedAt time.Time
}

// Submission is the replay-relevant slice of one ingest request. Pointer
// fields distinguish absent from zero.
type Submission struct {
	Sender    domain.UserID
	Recipient domain.UserID
	Nonce     *string
	Timestamp *int64
	Sequence  *uint64
}

// Gate evaluates submissions. Construct with New, start the sweeper with
// Start, stop it with Stop.
type Gate struct {
	store SequenceSource
	audit *audit.Logger
	log   *logrus.Logger
	now   func() time.Time

	mu     sync.Mutex // single serialization point for accept decisions
	nonces map[string]nonceEntry
	seqs   map[domain.ConversationID]uint64

	stop chan struct{}
	done chan struct{}
}

// New returns a Gate backed by the given durable sequence source.
func New(store SequenceSource, auditLog *audit.Logger, log *logrus.Logger) *Gate {
	if log == nil {
		log = logrus.New()
	}
	g := &Gate{
		store:  store,
		audit:  auditLog,
		log:    log,
		now:    time.Now,
		nonces: make(map[string]nonceEntry),
		seqs:   make(map[domain.ConversationID]uint64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	return g
}

// Admit evaluates one submission. A nil return means the triple was
// recorded and the caller may persist the message; any error names the
// first failed layer and has already been audited.
func (g *Gate) Admit(sub Submission) error {
	fields := logrus.Fields{
		"sender":    sub.Sender,
		"recipient": sub.Recipient,
	}

	// Layer 0: field presence.
	if sub.Nonce == nil || sub.Timestamp == nil || sub.Sequence == nil {
		g.audit.Log(audit.ReplayMissingFields, fields)
		return oops.Code(domain.CodeMissingReplayFields).Errorf("nonce, timestamp and sequenceNumber are required")
	}
	nonce, ts, seq := *sub.Nonce, *sub.Timestamp, *sub.Sequence
	fields["sequence"] = seq

	// Layer 1: timestamp window.
	now := g.now()
	delta := now.UnixMilli() - ts
	if delta < -FutureSkew.Milliseconds() {
		g.audit.Log(audit.ReplayFutureTimestamp, withDelta(fields, delta))
		return oops.Code(domain.CodeMessageFromFuture).Errorf("timestamp is %d ms in the future", -delta)
	}
	if delta > Window.Milliseconds() {
		g.audit.Log(audit.ReplayOldTimestamp, withDelta(fields, delta))
		return oops.Code(domain.CodeMessageTooOld).Errorf("timestamp is %d ms old", delta)
	}

	conv := domain.Conversation(sub.Sender, sub.Recipient)

	g.mu.Lock()
	defer g.mu.Unlock()

	// Layer 2: nonce uniqueness.
	if prev, seen := g.nonces[nonce]; seen {
		g.audit.Log(audit.ReplayDuplicateNonce, logrus.Fields{
			"sender":             sub.Sender,
			"recipient":          sub.Recipient,
			"sequence":           seq,
			"original_sender":    prev.Sender,
			"original_recipient": prev.Recipient,
			"original_sequence":  prev.Sequence,
			"original_timestamp": prev.Timestamp,
			"accepted_at":        prev.AcceptedAt.UnixMilli(),
		})
		return oops.Code(domain.CodeDuplicateNonce).Errorf("nonce already accepted")
	}

	// Layer 3: sequence monotonicity, durable store on cache miss.
	last, tracked := g.seqs[conv]
	if !tracked {
		stored, found, err := g.store.LastSequence(conv)
		if err != nil {
			return oops.Code(domain.CodeInternal).Wrapf(err, "sequence lookup")
		}
		if found {
			last = stored
		}
	}
	if seq <= last {
		g.audit.Log(audit.ReplayInvalidSequence, logrus.Fields{
			"sender":    sub.Sender,
			"recipient": sub.Recipient,
			"sequence":  seq,
			"last_seen": last,
		})
		return oops.Code(domain.CodeInvalidSequence).Errorf("sequence %d does not exceed %d", seq, last)
	}
	if seq-last > gapWarn {
		g.audit.Log(audit.ReplaySequenceGap, logrus.Fields{
			"sender":    sub.Sender,
			"recipient": sub.Recipient,
			"sequence":  seq,
			"last_seen": last,
			"gap":       seq - last,
		})
	}

	// Accept.
	g.nonces[nonce] = nonceEntry{
		Timestamp:  ts,
		Sender:     sub.Sender,
		Recipient:  sub.Recipient,
		Sequence:   seq,
		AcceptedAt: now,
	}
	g.seqs[conv] = seq
	g.audit.Log(audit.ReplayProtectionPassed, fields)
	return nil
}

// Start launches the background sweep.
func (g *Gate) Start() {
	go func() {
		defer close(g.done)
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.Sweep()
			case <-g.stop:
				return
			}
		}
	}()
}

// Stop halts the background sweep.
func (g *Gate) Stop() {
	close(g.stop)
	<-g.done
}

// Sweep evicts nonce entries older than the freshness window and reports
// how many went.
func (g *Gate) Sweep() int {
	cutoff := g.now().Add(-Window)
	g.mu.Lock()
	defer g.mu.Unlock()

	evicted := 0
	for nonce, entry := range g.nonces {
		if entry.AcceptedAt.Before(cutoff) {
			delete(g.nonces, nonce)
			evicted++
		}
	}
	if evicted > 0 {
		g.log.WithField("evicted", evicted).Debug("nonce cache sweep")
	}
	return evicted
}

func withDelta(fields logrus.Fields, delta int64) logrus.Fields {
	out := logrus.Fields{"delta_ms": delta}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
