// Package audit keeps the tamper-evident hash-chained event ledger the
// control loop relies on. Each appended entry embeds the previous entry's
// hash, so any retroactive edit breaks verification from that point on.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one canonicalized line of the chain file.
type Entry struct {
	TS       string      `json:"ts"`
	Event    interface{} `json:"event"`
	PrevHash *string     `json:"prev_hash"`
	Hash     string      `json:"hash"`
}

// Report is the result of a full chain verification. The chain past
// FirstErrorIndex is not trustworthy once Valid is false.
type Report struct {
	Valid           bool   `json:"valid"`
	TotalEntries    int    `json:"total_entries"`
	FirstErrorIndex *int   `json:"first_error_index,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// Log is an append-only JSONL chain file. Appends are serialized; the file
// is the single source of truth for the last hash.
type Log struct {
	mu   sync.Mutex
	path string
}

func NewLog(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Log{path: path}, nil
}

func (l *Log) Path() string { return l.path }

// canonicalize round-trips a value through JSON so append-time bytes equal
// verify-time recomputation: maps marshal with sorted keys and no extra
// whitespace, and struct-specific encodings are normalized away.
func canonicalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

func entryHash(ts string, event interface{}, prevHash *string) (string, error) {
	payload := map[string]interface{}{
		"ts":        ts,
		"event":     event,
		"prev_hash": prevHash,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// AppendEvent chains a new event onto the log and returns its hash.
func (l *Log) AppendEvent(event interface{}) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, err := l.readLastHashLocked()
	if err != nil {
		return "", err
	}
	var prevHash *string
	if prev != "" {
		prevHash = &prev
	}

	normalized, err := canonicalize(event)
	if err != nil {
		return "", fmt.Errorf("canonicalize event: %w", err)
	}

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	hash, err := entryHash(ts, normalized, prevHash)
	if err != nil {
		return "", err
	}

	line, err := json.Marshal(Entry{TS: ts, Event: normalized, PrevHash: prevHash, Hash: hash})
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open chain file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("append entry: %w", err)
	}
	return hash, nil
}

// ReadLastHash returns the newest entry's hash, or "" for an empty log.
func (l *Log) ReadLastHash() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLastHashLocked()
}

func (l *Log) readLastHashLocked() (string, error) {
	entries, err := l.readEntriesLocked()
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[len(entries)-1].Hash, nil
}

func (l *Log) readEntriesLocked() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("parse entry %d: %w", len(entries), err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// ReadEntries returns up to limit entries, newest first. limit <= 0 returns
// everything.
func (l *Log) ReadEntries(limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readEntriesLocked()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, entries[i])
	}
	return out, nil
}

// VerifyChain walks the log in order, recomputing every entry's hash and
// checking its prev_hash link. An empty or missing log is valid.
func (l *Log) VerifyChain() Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readEntriesLocked()
	if err != nil {
		zero := 0
		return Report{Valid: false, FirstErrorIndex: &zero, ErrorMessage: err.Error()}
	}

	var prevStored *string
	for i := range entries {
		e := &entries[i]

		recomputed, err := entryHash(e.TS, e.Event, e.PrevHash)
		if err != nil {
			idx := i
			return Report{Valid: false, TotalEntries: len(entries), FirstErrorIndex: &idx, ErrorMessage: err.Error()}
		}
		if recomputed != e.Hash {
			idx := i
			return Report{
				Valid: false, TotalEntries: len(entries), FirstErrorIndex: &idx,
				ErrorMessage: fmt.Sprintf("entry %d: stored hash does not match recomputed hash", i),
			}
		}

		linkBroken := false
		switch {
		case prevStored == nil && e.PrevHash != nil:
			linkBroken = true
		case prevStored != nil && (e.PrevHash == nil || *e.PrevHash != *prevStored):
			linkBroken = true
		}
		if linkBroken {
			idx := i
			return Report{
				Valid: false, TotalEntries: len(entries), FirstErrorIndex: &idx,
				ErrorMessage: fmt.Sprintf("entry %d: prev_hash does not match previous entry", i),
			}
		}

		prevStored = &e.Hash
	}

	return Report{Valid: true, TotalEntries: len(entries)}
}
