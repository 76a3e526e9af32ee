// Package audit keeps a hash-chained, append-only ledger of report runs
// and warehouse loads.
package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry kinds.
const (
	KindReportRun = "report.run"
	KindLoad      = "warehouse.load"
)

// ErrBrokenChain is returned by Verify when an entry does not follow its
// predecessor.
var ErrBrokenChain = errors.New("audit: broken chain")

type Event struct {
	Time   time.Time         `json:"time"`
	Kind   string            `json:"kind"`
	Actor  string            `json:"actor"`
	Target string            `json:"target"`
	Meta   map[string]string `json:"meta,omitempty"`
	Prev   string            `json:"prev"`
	Hash   string            `json:"hash"`
}

// Ledger appends events to a JSON-lines file. Each hash covers the previous
// hash and the event body, so edits anywhere break every later entry.
type Ledger struct {
	mu   sync.Mutex
	f    *os.File
	prev []byte
	now  func() time.Time
}

// Open opens or creates the ledger at path and resumes its chain.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	prev := make([]byte, sha256.Size)
	if b, err := os.ReadFile(path); err == nil {
		if last := lastLine(b); len(last) > 0 {
			var ev Event
			if err := json.Unmarshal(last, &ev); err != nil {
				return nil, fmt.Errorf("audit: read tail of %s: %w", path, err)
			}
			if prev, err = hex.DecodeString(ev.Hash); err != nil || len(prev) != sha256.Size {
				return nil, fmt.Errorf("%w: bad tail hash in %s", ErrBrokenChain, path)
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Ledger{f: f, prev: prev, now: time.Now}, nil
}

func (l *Ledger) Close() error { return l.f.Close() }

// Log appends one event.
func (l *Ledger) Log(kind, actor, target string, meta map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev := Event{Time: l.now().UTC(), Kind: kind, Actor: actor, Target: target, Meta: meta, Prev: hex.EncodeToString(l.prev)}
	h, err := digest(l.prev, ev)
	if err != nil {
		return err
	}
	ev.Hash = hex.EncodeToString(h)
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := l.f.Write(append(b, '\n')); err != nil {
		return err
	}
	copy(l.prev, h)
	return nil
}

// Verify walks a ledger and returns the number of valid entries.
func Verify(r io.Reader) (int, error) {
	prev := make([]byte, sha256.Size)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	n := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return n, fmt.Errorf("audit: entry %d: %w", n+1, err)
		}
		if ev.Prev != hex.EncodeToString(prev) {
			return n, fmt.Errorf("%w at entry %d: prev mismatch", ErrBrokenChain, n+1)
		}
		want := ev.Hash
		ev.Hash = ""
		h, err := digest(prev, ev)
		if err != nil {
			return n, err
		}
		if hex.EncodeToString(h) != want {
			return n, fmt.Errorf("%w at entry %d: hash mismatch", ErrBrokenChain, n+1)
		}
		prev = h
		n++
	}
	return n, sc.Err()
}

// VerifyFile is Verify over the file at path.
func VerifyFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return Verify(f)
}

func digest(prev []byte, ev Event) ([]byte, error) {
	ev.Hash = ""
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(append(append([]byte(nil), prev...), b...))
	return h[:], nil
}

func lastLine(b []byte) []byte {
	b = bytes.TrimRight(b, "\r\n")
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		return b[i+1:]
	}
	return b
}
