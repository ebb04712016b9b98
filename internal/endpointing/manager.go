// Package endpointing turns a continuous stream of audio chunks into
// discrete utterances. Buffers and listen settings are process-affine:
// clients must be routed to the same instance for the lifetime of a
// connection (sticky sessions). Conversation state lives in the shared
// store, not here.
package endpointing

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/eleni-ai/shepherd/internal/fault"
	"github.com/eleni-ai/shepherd/internal/gateway"
	"github.com/eleni-ai/shepherd/internal/observability"
)

// Config holds the endpointing thresholds. Zero values fall back to the
// documented defaults.
type Config struct {
	SilenceThreshold  time.Duration // silence needed to close an utterance
	MinUtteranceBytes int           // minimum accumulated audio for a valid utterance
	VADEnergy         float64       // RMS threshold for voice activity
	TapWindow         time.Duration // default tap-to-listen duration
}

const (
	defaultSilenceThreshold  = 1500 * time.Millisecond
	defaultMinUtteranceBytes = 8000
	defaultTapWindow         = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = defaultSilenceThreshold
	}
	if c.MinUtteranceBytes <= 0 {
		c.MinUtteranceBytes = defaultMinUtteranceBytes
	}
	if c.VADEnergy <= 0 {
		c.VADEnergy = gateway.DefaultVADEnergy
	}
	if c.TapWindow <= 0 {
		c.TapWindow = defaultTapWindow
	}
	return c
}

// Result is the outcome of one chunk submission. A final result carries the
// transcript of a completed utterance; non-final results carry nothing.
type Result struct {
	Transcript string
	Final      bool
}

// sessionState carries two locks on purpose: submitMu serializes whole
// submissions for one session, including any transcription call, while mu
// guards the fields and is only ever held for in-memory work. Settings
// updates and the janitor take mu alone, so they never wait on the network.
type sessionState struct {
	submitMu sync.Mutex
	mu       sync.Mutex

	chunks        [][]byte
	totalBytes    int
	lastChunkTime time.Time
	lastSeenAt    time.Time

	alwaysListen bool
	awake        bool
	tapExpiresAt time.Time
}

// Manager owns the per-session audio buffers and listen settings.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*sessionState

	cfg     Config
	stt     gateway.Transcriber
	metrics *observability.Metrics
	now     func() time.Time
}

func NewManager(cfg Config, stt gateway.Transcriber, metrics *observability.Metrics) *Manager {
	return &Manager{
		sessions: make(map[string]*sessionState),
		cfg:      cfg.withDefaults(),
		stt:      stt,
		metrics:  metrics,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) state(sessionID string) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		m.sessions[sessionID] = st
	}
	return st
}

// SubmitChunk feeds one audio chunk into the session's buffer and reports
// whether it completed an utterance. Submissions for the same session are
// serialized end to end so the state machine never observes interleaved
// appends and clears; different sessions never contend, even while one is
// blocked on a transcription call.
func (m *Manager) SubmitChunk(ctx context.Context, sessionID string, pcm []byte, sampleRate int) (Result, error) {
	st := m.state(sessionID)
	st.submitMu.Lock()
	defer st.submitMu.Unlock()

	now := m.now()
	st.mu.Lock()
	st.lastSeenAt = now
	st.mu.Unlock()

	if gateway.DetectVoiceActivity(pcm, m.cfg.VADEnergy) {
		return m.handleVoice(ctx, sessionID, st, pcm, sampleRate, now)
	}
	return m.handleSilence(ctx, sessionID, st, sampleRate, now)
}

func (m *Manager) handleVoice(ctx context.Context, sessionID string, st *sessionState, pcm []byte, sampleRate int, now time.Time) (Result, error) {
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)

	st.mu.Lock()
	st.chunks = append(st.chunks, chunk)
	st.totalBytes += len(chunk)
	st.lastChunkTime = now
	probeNeeded := st.alwaysListen && !st.awake && st.totalBytes > m.cfg.MinUtteranceBytes/4
	var probePCM []byte
	if probeNeeded {
		probePCM = concat(st.chunks, st.totalBytes)
	}
	st.mu.Unlock()

	if !probeNeeded {
		return Result{}, nil
	}

	// Wake-word probe: in always-listen mode, once a quarter of the minimum
	// utterance length has accumulated, transcribe the partial buffer and
	// treat two or more tokens as a wake word. The token heuristic is a
	// documented placeholder; see DESIGN.md before changing it. The probe
	// runs on a snapshot, outside the data lock.
	transcript, err := m.stt.Transcribe(ctx, probePCM, sampleRate)
	if err != nil {
		// Probe failures degrade to "not detected"; the endpointing stream
		// keeps flowing.
		log.Printf("session %s: wake-word probe failed: %v", sessionID, err)
		if m.metrics != nil {
			m.metrics.GatewayErrors.WithLabelValues("stt", "wake_probe").Inc()
		}
		return Result{}, nil
	}
	if len(strings.Fields(transcript)) >= 2 {
		// Wake word detected: the probe transcript doubles as the utterance,
		// bypassing the silence wait entirely. awake is raised and lowered
		// within this delivery.
		st.mu.Lock()
		st.awake = true
		st.resetBuffer()
		st.awake = false
		st.mu.Unlock()
		if m.metrics != nil {
			m.metrics.Utterances.WithLabelValues("wake_word").Inc()
		}
		return Result{Transcript: transcript, Final: true}, nil
	}
	return Result{}, nil
}

func (m *Manager) handleSilence(ctx context.Context, sessionID string, st *sessionState, sampleRate int, now time.Time) (Result, error) {
	st.mu.Lock()
	if len(st.chunks) == 0 {
		st.mu.Unlock()
		return Result{}, nil
	}
	silence := now.Sub(st.lastChunkTime)
	if st.totalBytes < m.cfg.MinUtteranceBytes || silence < m.cfg.SilenceThreshold {
		st.mu.Unlock()
		return Result{}, nil
	}

	// Utterance boundary. The buffer is cleared before transcription is
	// attempted so a gateway failure never leaves stale audio behind.
	pcm := concat(st.chunks, st.totalBytes)
	st.resetBuffer()

	tapActive := !st.tapExpiresAt.IsZero() && now.Before(st.tapExpiresAt)
	suppress := st.alwaysListen && !st.awake && !tapActive
	if !suppress {
		st.awake = false
	}
	st.mu.Unlock()

	if suppress {
		// Waiting for a wake word: drop the audio silently.
		if m.metrics != nil {
			m.metrics.Utterances.WithLabelValues("suppressed").Inc()
		}
		return Result{}, nil
	}

	transcript, err := m.stt.Transcribe(ctx, pcm, sampleRate)
	if err != nil {
		if m.metrics != nil {
			m.metrics.Utterances.WithLabelValues("failed").Inc()
			m.metrics.GatewayErrors.WithLabelValues("stt", "finalize").Inc()
		}
		return Result{}, fault.Upstream(err, "transcription failed for session %s", sessionID)
	}
	if m.metrics != nil {
		m.metrics.Utterances.WithLabelValues("final").Inc()
	}
	return Result{Transcript: transcript, Final: true}, nil
}

func (st *sessionState) resetBuffer() {
	st.chunks = nil
	st.totalBytes = 0
}

// SetAlwaysListening toggles hands-free mode. Disabling also clears the
// awake flag so a stale wake detection cannot leak into tap mode.
func (m *Manager) SetAlwaysListening(sessionID string, enabled bool) {
	st := m.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.alwaysListen = enabled
	if !enabled {
		st.awake = false
	}
}

// TapToListen opens a window during which the next utterance is treated as
// intentionally requested regardless of wake-word state. Expiry is advisory:
// it is only consulted at the suppression decision.
func (m *Manager) TapToListen(sessionID string, duration time.Duration) {
	if duration <= 0 {
		duration = m.cfg.TapWindow
	}
	st := m.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.tapExpiresAt = m.now().Add(duration)
}

// StopPlayback discards any accumulated audio for the session. Idempotent.
func (m *Manager) StopPlayback(sessionID string) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	st.resetBuffer()
	st.mu.Unlock()
}

// Cleanup discards the session's buffer and settings entirely. Idempotent.
func (m *Manager) Cleanup(sessionID string) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		st.mu.Lock()
		st.resetBuffer()
		st.mu.Unlock()
	}
}

// BufferedBytes reports the accumulated audio for a session. Zero for
// unknown sessions.
func (m *Manager) BufferedBytes(sessionID string) int {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.totalBytes
}

// StartJanitor periodically drops buffers for sessions idle longer than
// maxIdle. Conversation sessions expire via store TTL; this only reclaims
// local audio state.
func (m *Manager) StartJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxIdle <= 0 {
		maxIdle = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireIdle(maxIdle)
			}
		}
	}()
}

// expireIdle scans a snapshot of the session map, so the map lock is never
// held while waiting on a session lock and new sessions are never blocked
// behind the sweep.
func (m *Manager) expireIdle(maxIdle time.Duration) {
	now := m.now()
	m.mu.Lock()
	snapshot := make(map[string]*sessionState, len(m.sessions))
	for id, st := range m.sessions {
		snapshot[id] = st
	}
	m.mu.Unlock()

	var stale []string
	for id, st := range snapshot {
		st.mu.Lock()
		idle := st.lastSeenAt.IsZero() || now.Sub(st.lastSeenAt) >= maxIdle
		st.mu.Unlock()
		if idle {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return
	}

	expired := 0
	m.mu.Lock()
	for _, id := range stale {
		st, ok := m.sessions[id]
		if !ok {
			continue
		}
		// Re-check: a chunk may have arrived since the scan.
		st.mu.Lock()
		idle := st.lastSeenAt.IsZero() || now.Sub(st.lastSeenAt) >= maxIdle
		st.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			expired++
		}
	}
	m.mu.Unlock()

	if expired > 0 && m.metrics != nil {
		m.metrics.SessionEvents.WithLabelValues("buffer_expired").Add(float64(expired))
	}
}

func concat(chunks [][]byte, total int) []byte {
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
