// Package state persists the alert inbox: the most recent alerts and whether
// any of them arrived since the operator last acknowledged.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deskwatch/deskwatch/internal/realtime"
)

// DefaultSize is how many alerts the inbox keeps.
const DefaultSize = 50

const stateFileName = "deskwatch_inbox.json"

// Entry is one received alert.
type Entry struct {
	Alert      realtime.Alert `json:"alert"`
	ReceivedAt time.Time      `json:"received_at"`
}

type inboxFile struct {
	Unseen  bool    `json:"unseen"`
	Entries []Entry `json:"entries"`
}

// Inbox is a JSON file holding the last N alerts and the unseen flag.
type Inbox struct {
	mu   sync.Mutex
	path string
	size int
	now  func() time.Time
}

// Open returns an inbox stored in dir. An empty dir falls back to
// DESKWATCH_STATE_DIR, then /var/lib/deskwatch, then the working directory.
func Open(dir string, size int) *Inbox {
	if size <= 0 {
		size = DefaultSize
	}
	if dir == "" {
		dir = defaultDir()
	}
	return &Inbox{path: filepath.Join(dir, stateFileName), size: size, now: time.Now}
}

func defaultDir() string {
	if dir := os.Getenv("DESKWATCH_STATE_DIR"); dir != "" {
		return dir
	}
	const varLib = "/var/lib/deskwatch"
	if err := os.MkdirAll(varLib, 0o755); err == nil {
		return varLib
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return os.TempDir()
}

// Path returns the backing file.
func (in *Inbox) Path() string { return in.path }

// loadUnlocked reads the file. Caller must hold in.mu.
func (in *Inbox) loadUnlocked() (inboxFile, error) {
	var f inboxFile
	data, err := os.ReadFile(in.path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, fmt.Errorf("load inbox: %w", err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("unmarshal inbox: %w", err)
	}
	return f, nil
}

// saveUnlocked writes the file. Caller must hold in.mu.
func (in *Inbox) saveUnlocked(f inboxFile) error {
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal inbox: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(in.path), 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	tmp := in.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o640); err != nil {
		return fmt.Errorf("write inbox: %w", err)
	}
	if err := os.Rename(tmp, in.path); err != nil {
		return fmt.Errorf("replace inbox: %w", err)
	}
	return nil
}

// Record appends a and marks the inbox unseen. The oldest entries are
// dropped past the size cap.
func (in *Inbox) Record(a realtime.Alert) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	f, err := in.loadUnlocked()
	if err != nil {
		return err
	}
	f.Entries = append(f.Entries, Entry{Alert: a, ReceivedAt: in.now().UTC()})
	if over := len(f.Entries) - in.size; over > 0 {
		f.Entries = append([]Entry(nil), f.Entries[over:]...)
	}
	f.Unseen = true
	return in.saveUnlocked(f)
}

// MarkSeen clears the unseen flag, keeping the entries.
func (in *Inbox) MarkSeen() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	f, err := in.loadUnlocked()
	if err != nil {
		return err
	}
	if !f.Unseen {
		return nil
	}
	f.Unseen = false
	return in.saveUnlocked(f)
}

// HasUnseen reports whether an alert was recorded since the last MarkSeen.
func (in *Inbox) HasUnseen() (bool, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	f, err := in.loadUnlocked()
	return f.Unseen, err
}

// Recent returns the stored alerts, newest first.
func (in *Inbox) Recent() ([]Entry, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	f, err := in.loadUnlocked()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(f.Entries))
	for i, e := range f.Entries {
		out[len(f.Entries)-1-i] = e
	}
	return out, nil
}
