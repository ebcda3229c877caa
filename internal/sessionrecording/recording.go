// Package sessionrecording captures a Session-kind exec's terminal bytes
// to disk, fernet-encrypted, for later audit or replay. It is purely
// additive: recording failures never affect the session they observe.
package sessionrecording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fernet/fernet-go"
)

// entry is a single timestamped I/O event, asciinema-v2-inspired like the
// teacher's in-memory recording format, except each entry here is
// encrypted independently before it ever touches disk.
type entry struct {
	Elapsed float64 `json:"elapsed"`
	Type    string  `json:"type"` // "o" for output, "i" for input
	Data    string  `json:"data"`
}

// Factory builds Recorders that all share one fernet key and a common
// recording root directory (<workspace_root>/.recordings).
type Factory struct {
	root string
	key  *fernet.Key
}

// NewFactory loads or generates the fernet key under root and returns a
// Factory for opening per-session Recorders beneath it.
func NewFactory(root string) (*Factory, error) {
	key, err := LoadOrGenerateKey(root)
	if err != nil {
		return nil, err
	}
	return &Factory{root: root, key: key}, nil
}

// New opens (creating if necessary) the transcript file for
// containerName/sessionID and returns a Recorder appending to it.
func (f *Factory) New(containerName, sessionID string) (*Recorder, error) {
	dir := filepath.Join(f.root, containerName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, sessionID+".rec")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open recording %s: %w", path, err)
	}

	return &Recorder{
		file:      file,
		key:       f.key,
		startTime: time.Now(),
	}, nil
}

// Recorder appends fernet-encrypted, newline-delimited entries to one
// open transcript file. Safe for concurrent use since a Session-kind
// ExecBridge's stdin and stdout pumps call it from separate goroutines.
type Recorder struct {
	mu        sync.Mutex
	file      *os.File
	key       *fernet.Key
	startTime time.Time
	entries   int
}

// RecordOutput appends an output event.
func (r *Recorder) RecordOutput(data []byte) {
	r.append("o", data)
}

// RecordInput appends an input event.
func (r *Recorder) RecordInput(data []byte) {
	r.append("i", data)
}

func (r *Recorder) append(kind string, data []byte) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e := entry{
		Elapsed: time.Since(r.startTime).Seconds(),
		Type:    kind,
		Data:    string(data),
	}
	plaintext, err := json.Marshal(e)
	if err != nil {
		return
	}
	token, err := fernet.EncryptAndSign(plaintext, r.key)
	if err != nil {
		return
	}
	// Best-effort: a write failure here must never surface to the
	// SSH session it is silently observing.
	r.file.Write(token)
	r.file.Write([]byte("\n"))
	r.entries++
}

// EntryCount reports how many entries have been written so far.
func (r *Recorder) EntryCount() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries
}

// Close closes the underlying transcript file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.file.Close()
}

// RecordingEntry is the decrypted, decoded form of one transcript event.
type RecordingEntry struct {
	Elapsed float64
	Type    string
	Data    string
}

// ReadTranscript decrypts and returns every entry in the transcript file
// at path, for operator audit tooling.
func ReadTranscript(path string, key *fernet.Key) ([]RecordingEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript %s: %w", path, err)
	}

	var out []RecordingEntry
	start := 0
	for i := 0; i <= len(data); i++ {
		if i < len(data) && data[i] != '\n' {
			continue
		}
		line := data[start:i]
		start = i + 1
		if len(line) == 0 {
			continue
		}
		msg := fernet.VerifyAndDecrypt(line, 0, []*fernet.Key{key})
		if msg == nil {
			return nil, fmt.Errorf("decrypt transcript %s: invalid token", path)
		}
		var e entry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, fmt.Errorf("parse transcript %s: %w", path, err)
		}
		out = append(out, RecordingEntry{Elapsed: e.Elapsed, Type: e.Type, Data: e.Data})
	}
	return out, nil
}
