package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLogWritesNewlineDelimitedJSON(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, nil)
	require.NoError(t, err)
	defer l.Close()

	l.Log(ReplayProtectionPassed, logrus.Fields{"sender": "alice", "recipient": "bob", "sequence": 1})
	l.Log(ReplayDuplicateNonce, logrus.Fields{"sender": "alice", "recipient": "bob"})

	day := time.Now().UTC().Format("2006-01-02")
	f, err := os.Open(filepath.Join(dir, "audit-"+day+".log"))
	require.NoError(t, err)
	defer f.Close()

	var events []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		events = append(events, rec["event_type"].(string))
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, []string{
		string(ReplayProtectionPassed),
		string(ReplayDuplicateNonce),
	}, events)
}

func TestLogRotatesDaily(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, nil)
	require.NoError(t, err)
	defer l.Close()

	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	l.now = func() time.Time { return day1 }
	l.Log(MessageSent, logrus.Fields{"sender": "alice"})

	day2 := day1.Add(2 * time.Minute)
	l.now = func() time.Time { return day2 }
	l.Log(MessageSent, logrus.Fields{"sender": "alice"})

	_, err = os.Stat(filepath.Join(dir, "audit-2026-03-01.log"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "audit-2026-03-02.log"))
	require.NoError(t, err)
}
