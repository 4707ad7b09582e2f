// Package audit writes the relay's security event trail: newline-delimited
// JSON records, one file per day, one record per event on the ingest path.
package audit

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

// Event names every security-relevant occurrence the relay records.
type Event string

const (
	AuthAttempt             Event = "auth_attempt"
	KeyExchangeInitiated    Event = "key_exchange_initiated"
	KeyExchangeResponse     Event = "key_exchange_response"
	KeyExchangeConfirmed    Event = "key_exchange_confirmed"
	KeyExchangeUnauthorized Event = "key_exchange_unauthorized"
	InvalidSignature        Event = "invalid_signature"
	ReplayProtectionPassed  Event = "replay_protection_passed"
	ReplayMissingFields     Event = "replay_protection_missing_fields"
	ReplayFutureTimestamp   Event = "replay_attack_future_timestamp"
	ReplayOldTimestamp      Event = "replay_attack_old_timestamp"
	ReplayDuplicateNonce    Event = "replay_attack_duplicate_nonce"
	ReplayInvalidSequence   Event = "replay_attack_invalid_sequence"
	ReplaySequenceGap       Event = "replay_protection_sequence_gap"
	MessageSent             Event = "message_sent"
	MessageAccess           Event = "message_access"
	FileUploaded            Event = "file_uploaded"
	FileAccessed            Event = "file_accessed"
)

// Logger appends events to rotating daily files. Rotation happens on the
// date check at write time, so an idle relay never holds an empty file
// open for a day that saw no events.
type Logger struct {
	mu   sync.Mutex
	dir  string
	day  string
	file *os.File
	out  *logrus.Logger
	proc *logrus.Logger
	now  func() time.Time
}

// New returns a Logger writing under dir. proc, when non-nil, receives a
// debug-level mirror of every event.
func New(dir string, proc *logrus.Logger) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, oops.Code(domain.CodeInternal).Wrapf(err, "create audit dir")
	}
	out := logrus.New()
	out.SetFormatter(&logrus.JSONFormatter{})
	out.SetLevel(logrus.InfoLevel)
	return &Logger{dir: dir, out: out, proc: proc, now: time.Now}, nil
}

// Log appends one event record.
func (l *Logger) Log(event Event, fields logrus.Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotate(); err != nil {
		if l.proc != nil {
			l.proc.WithError(err).Error("audit rotation failed")
		}
		return
	}
	l.out.WithFields(fields).WithField("event_type", string(event)).Info(string(event))
	if l.proc != nil {
		l.proc.WithFields(fields).WithField("event_type", string(event)).Debug("audit")
	}
}

// Close releases the current day's file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.out.SetOutput(io.Discard)
	return err
}

func (l *Logger) rotate() error {
	day := l.now().UTC().Format("2006-01-02")
	if day == l.day && l.file != nil {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
	}
	f, err := os.OpenFile(filepath.Join(l.dir, "audit-"+day+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	l.file = f
	l.day = day
	l.out.SetOutput(f)
	return nil
}
