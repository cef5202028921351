package session

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/wsreplay/internal/hash"
	"github.com/snarg/wsreplay/internal/intercept"
	"github.com/snarg/wsreplay/internal/metrics"
	"github.com/snarg/wsreplay/internal/pending"
	"github.com/snarg/wsreplay/internal/player"
	"github.com/snarg/wsreplay/internal/protocol"
	"github.com/snarg/wsreplay/internal/recording"
)

// Archiver receives the path of every recording flushed to disk. The
// no-op implementation is used when archival is disabled.
type Archiver interface {
	Enqueue(path string)
}

// NopArchiver discards flush notifications.
type NopArchiver struct{}

func (NopArchiver) Enqueue(string) {}

// Registry owns all sessions in the process. Cross-session state sits
// behind a single mutex; everything inside a Session has its own locks.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	baseDir  string
	hasher   hash.Hasher
	archiver Archiver
	log      zerolog.Logger
}

func NewRegistry(baseDir string, hasher hash.Hasher, archiver Archiver, log zerolog.Logger) *Registry {
	if archiver == nil {
		archiver = NopArchiver{}
	}
	return &Registry{
		sessions: make(map[string]*Session),
		baseDir:  baseDir,
		hasher:   hasher,
		archiver: archiver,
		log:      log.With().Str("component", "sessions").Logger(),
	}
}

// resolvePath anchors relative recording paths at the base recording dir.
func (r *Registry) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.baseDir, path)
}

// Create builds a new session. Playback sessions load their recording
// lazily and index it before the session becomes visible.
func (r *Registry) Create(ctx context.Context, opts Options) (*Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[opts.ID]; exists {
		r.mu.Unlock()
		return nil, protocol.SessionAlreadyExists(opts.ID)
	}
	r.mu.Unlock()

	s := &Session{
		ID:            opts.ID,
		Mode:          opts.Mode,
		RecordingPath: r.resolvePath(opts.RecordingPath),
		CreatedAt:     time.Now(),
		Forwards:      pending.NewForwards(),
		Intercepts:    intercept.NewRegistry(),
		Hasher:        r.hasher,
		Log:           r.log.With().Str("session", opts.ID).Logger(),
	}

	switch opts.Mode {
	case ModeRecord:
		if s.RecordingPath == "" {
			s.RecordingPath = filepath.Join(r.baseDir, opts.ID+".json.zstd")
		}
		s.Recorder = recording.NewRecorder(opts.ID)
	case ModePlayback:
		if s.RecordingPath == "" {
			return nil, protocol.RecordingLoadFailed("playback session requires a recording path")
		}
		lazy, err := recording.LoadLazy(ctx, s.RecordingPath)
		if err != nil {
			return nil, protocol.RecordingLoadFailed(err.Error())
		}
		index, err := recording.BuildIndex(ctx, lazy)
		if err != nil {
			return nil, protocol.RecordingLoadFailed(err.Error())
		}
		s.Player = player.New(lazy, index, r.hasher, s.Log)
		metrics.RecordingsLoadedTotal.Inc()
		if opts.RecordWhileReplay {
			s.Recorder = recording.NewRecorder(opts.ID)
		}
		s.Log.Info().
			Str("recording", s.RecordingPath).
			Int("messages", lazy.Len()).
			Msg("recording loaded for playback")
	}

	r.mu.Lock()
	if _, exists := r.sessions[opts.ID]; exists {
		r.mu.Unlock()
		return nil, protocol.SessionAlreadyExists(opts.ID)
	}
	r.sessions[opts.ID] = s
	r.mu.Unlock()

	metrics.SessionsActive.Inc()
	s.Log.Info().Str("mode", string(opts.Mode)).Msg("session created")
	return s, nil
}

// Get looks up a session by ID.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, protocol.SessionNotFound(id)
	}
	return s, nil
}

// List snapshots every session.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// Close removes a session. Record-mode sessions flush their recording
// first; the save completes even during shutdown. A failed save is
// returned to the caller but other sessions are unaffected.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return protocol.SessionNotFound(id)
	}

	metrics.SessionsActive.Dec()

	if s.Recorder != nil && s.Recorder.Len() > 0 {
		final, err := s.Recorder.Save(s.RecordingPath)
		if err != nil {
			s.Log.Error().Err(err).Str("path", s.RecordingPath).Msg("recording save failed")
			return protocol.RecordingSaveFailed(err.Error())
		}
		metrics.RecordingsSavedTotal.Inc()
		r.archiver.Enqueue(final)
		s.Log.Info().Str("path", final).Int("messages", s.Recorder.Len()).Msg("recording saved")
	}

	s.Log.Info().Msg("session closed")
	return nil
}

// CloseAll closes every session, flushing recorders. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Close(id); err != nil {
			r.log.Error().Err(err).Str("session", id).Msg("close failed during shutdown")
		}
	}
}

// Len reports the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
