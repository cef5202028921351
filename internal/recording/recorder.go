package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/snarg/wsreplay/internal/protocol"
)

// Recorder is the append-only capture log for one session. Append order
// is the dispatcher's acceptance order; nothing ever reorders or mutates
// appended messages.
type Recorder struct {
	mu           sync.Mutex
	scenarioName string
	startedAt    string
	messages     []RecordedMessage
}

func NewRecorder(scenarioName string) *Recorder {
	return &Recorder{
		scenarioName: scenarioName,
		startedAt:    protocol.Now(),
	}
}

// Append captures one frame. hash is set for commands only.
func (r *Recorder) Append(env protocol.Envelope, dir protocol.Direction, hash string) {
	msg := RecordedMessage{
		Envelope:   env,
		RecordedAt: protocol.Now(),
		Direction:  dir,
		Hash:       hash,
	}
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
}

// Len reports the number of captured messages.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Messages returns a snapshot at a stable length. Control queries read
// this while the session keeps appending.
func (r *Recorder) Messages() []RecordedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

// Snapshot assembles the full persisted structure.
func (r *Recorder) Snapshot() Recording {
	return Recording{
		SchemaVersion: CurrentSchemaVersion,
		ScenarioName:  r.scenarioName,
		RecordedAt:    r.startedAt,
		Messages:      r.Messages(),
	}
}

// Save serializes the recording, compresses it with zstd, and writes it
// atomically. A missing .zstd suffix is appended, so "scenario.json"
// lands at "scenario.json.zstd". Parent directories are created. Returns
// the final path.
func (r *Recorder) Save(path string) (string, error) {
	if !strings.HasSuffix(path, ".zstd") {
		path += ".zstd"
	}

	data, err := protocol.Encode(r.Snapshot())
	if err != nil {
		return "", fmt.Errorf("save recording %s: encode: %w", path, err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return "", fmt.Errorf("save recording %s: zstd: %w", path, err)
	}
	compressed := enc.EncodeAll(data, nil)
	enc.Close()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("save recording %s: mkdir %s: %w", path, dir, err)
	}

	// Atomic write: temp file + rename.
	tmp, err := os.CreateTemp(dir, ".recording-*.tmp")
	if err != nil {
		return "", fmt.Errorf("save recording %s: create temp: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("save recording %s: write: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("save recording %s: close: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("save recording %s: rename: %w", path, err)
	}
	return path, nil
}
