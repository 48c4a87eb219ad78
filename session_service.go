package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionState is the position of a RecordingSession in its lifecycle.
type SessionState int

const (
	StateIdle SessionState = iota
	StateRecording
	StateStopped
	StateUploading
	StateCompleted
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	case StateUploading:
		return "uploading"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends a recording attempt.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Snapshot is an immutable view of a session handed to renderers.
type Snapshot struct {
	ID     string
	State  SessionState
	Target TargetPhrase
	// Samples is the number of normalized samples held while Stopped/Uploading.
	Samples int
	Result  EvaluationResult
	Words   []MappedWord
	Err     *SessionError
}

// PermissionChecker supplies the "microphone permission granted" signal.
type PermissionChecker interface {
	MicrophoneGranted() bool
}

// PermissionFunc adapts a plain function to PermissionChecker.
type PermissionFunc func() bool

func (f PermissionFunc) MicrophoneGranted() bool { return f() }

// recorder is the part of AudioCapture a session drives.
type recorder interface {
	Start(ctx context.Context) (<-chan []float32, error)
	Stop() ([]float32, bool)
	// Err reports a device error that cut the last recording short.
	Err() error
	SampleRate() int
}

// attemptStore persists completed attempts.
type attemptStore interface {
	SaveAttempt(ctx context.Context, a Attempt) error
}

// RecordingSession runs one learner attempt at a time through
// Idle → Recording → Stopped → Uploading → Completed | Failed.
type RecordingSession struct {
	mu         sync.Mutex
	target     TargetPhrase
	recorder   recorder
	client     EvaluationClient
	permission PermissionChecker
	history    attemptStore
	metrics    *Metrics
	log        *zap.SugaredLogger
	listeners  []func(Snapshot)

	id        string
	state     SessionState
	live      <-chan []float32
	audio     []float32
	result    EvaluationResult
	words     []MappedWord
	err       *SessionError
	startedAt time.Time
}

// SessionOption customises a RecordingSession.
type SessionOption func(*RecordingSession)

// WithPermissionChecker gates Start on the microphone permission.
func WithPermissionChecker(p PermissionChecker) SessionOption {
	return func(s *RecordingSession) { s.permission = p }
}

// WithHistory stores every completed attempt.
func WithHistory(h attemptStore) SessionOption {
	return func(s *RecordingSession) { s.history = h }
}

// WithSessionMetrics records session outcomes.
func WithSessionMetrics(m *Metrics) SessionOption {
	return func(s *RecordingSession) { s.metrics = m }
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(l *zap.SugaredLogger) SessionOption {
	return func(s *RecordingSession) { s.log = l }
}

// WithStateListener is called after every transition, outside the session lock.
func WithStateListener(fn func(Snapshot)) SessionOption {
	return func(s *RecordingSession) { s.listeners = append(s.listeners, fn) }
}

// NewRecordingSession creates an Idle session for target.
func NewRecordingSession(target TargetPhrase, rec recorder, client EvaluationClient, opts ...SessionOption) *RecordingSession {
	s := &RecordingSession{
		target:   target,
		recorder: rec,
		client:   client,
		log:      zap.NewNop().Sugar(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins recording. While Recording or Uploading it is a no-op that
// returns the current snapshot. From a terminal or Stopped state the previous
// attempt is discarded first. If the microphone is not available the session
// stays Idle and ErrPermissionDenied is returned.
func (s *RecordingSession) Start(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()

	if s.state == StateRecording || s.state == StateUploading {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.log.Debugf("start ignored while %s", snap.State)
		return snap, nil
	}

	reset := s.state != StateIdle
	s.resetLocked()

	if s.permission != nil && !s.permission.MicrophoneGranted() {
		return s.refuseLocked(reset, nil)
	}

	live, err := s.recorder.Start(ctx)
	if err != nil {
		if errors.Is(err, ErrMicPermissionDenied) {
			return s.refuseLocked(reset, err)
		}
		snap := s.snapshotLocked()
		s.mu.Unlock()
		if reset {
			s.emit(snap)
		}
		return snap, fmt.Errorf("session: start capture: %w", err)
	}

	s.id = uuid.NewString()
	s.state = StateRecording
	s.live = live
	s.startedAt = time.Now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.RecordRecordingStarted()
	s.log.Infof("session %s recording %q", snap.ID, s.target.Text())
	s.emit(snap)
	return snap, nil
}

// refuseLocked leaves the session Idle after a permission refusal.
// It releases s.mu.
func (s *RecordingSession) refuseLocked(reset bool, cause error) (Snapshot, error) {
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Warnf("start refused: microphone permission not granted")
	if reset {
		s.emit(snap)
	}
	return snap, newSessionError(ErrorPermissionDenied, cause, "%s", ErrorPermissionDenied.UserMessage())
}

// Stop ends capture. A recording cut short by a device error fails with
// CaptureFailure and an empty one with EmptyRecording; otherwise the session waits in Stopped for
// EncodeAndUpload. Outside Recording it does nothing.
func (s *RecordingSession) Stop() Snapshot {
	s.mu.Lock()
	if s.state != StateRecording {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}

	samples, ok := s.recorder.Stop()
	s.live = nil
	if err := s.recorder.Err(); err != nil {
		s.failLocked(newSessionError(ErrorCaptureFailure, err, "%s", ErrorCaptureFailure.UserMessage()))
	} else if !ok || len(samples) == 0 {
		s.failLocked(newSessionError(ErrorEmptyRecording, nil, "%s", ErrorEmptyRecording.UserMessage()))
	} else {
		s.audio = samples
		s.state = StateStopped
		s.log.Infof("session %s stopped after %s with %d samples",
			s.id, time.Since(s.startedAt).Round(time.Millisecond), len(samples))
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if snap.Err != nil {
		s.metrics.RecordFailure(snap.Err.Kind)
	}
	s.emit(snap)
	return snap
}

// EncodeAndUpload encodes the stopped recording as WAV and sends it for
// evaluation, blocking for the network round trip. It is the only blocking
// step of a session and cannot be cancelled midway by Start or Stop.
func (s *RecordingSession) EncodeAndUpload(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.state != StateStopped {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, fmt.Errorf("%w: cannot upload while %s", ErrInvalidState, snap.State)
	}
	s.state = StateUploading
	id, audio, target := s.id, s.audio, s.target
	rate := s.recorder.SampleRate()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)

	wav, err := EncodeWAV(audio, uint32(rate))
	if err != nil {
		return s.finishFailed(newSessionError(ErrorEncodingFailure, err, "%s", ErrorEncodingFailure.UserMessage()))
	}

	began := time.Now()
	result, err := s.client.Evaluate(ctx, wav, target.Text())
	s.metrics.RecordUpload(time.Since(began))
	if err != nil {
		return s.finishFailed(asSessionError(err, ErrorNetworkFailure))
	}

	words := MapResults(target, result)
	s.mu.Lock()
	s.result = result
	s.words = words
	s.state = StateCompleted
	snap = s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.RecordWordLabels(result)
	s.log.Infof("session %s completed: %d/%d words scored, average %.3f",
		id, len(result), target.Len(), AverageScore(result))
	s.saveAttempt(ctx, snap, len(audio), rate)
	s.emit(snap)
	return snap, nil
}

func (s *RecordingSession) finishFailed(se *SessionError) (Snapshot, error) {
	s.mu.Lock()
	s.failLocked(se)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.RecordFailure(se.Kind)
	s.emit(snap)
	return snap, se
}

func (s *RecordingSession) failLocked(se *SessionError) {
	s.state = StateFailed
	s.err = se
	s.audio = nil
	s.log.Warnf("session %s failed: %v", s.id, se)
}

func (s *RecordingSession) resetLocked() {
	s.state = StateIdle
	s.id = ""
	s.live = nil
	s.audio = nil
	s.result = nil
	s.words = nil
	s.err = nil
}

func (s *RecordingSession) saveAttempt(ctx context.Context, snap Snapshot, samples, rate int) {
	if s.history == nil {
		return
	}
	a, err := newAttempt(snap, samples, rate)
	if err == nil {
		err = s.history.SaveAttempt(ctx, a)
	}
	if err != nil {
		s.log.Warnf("history: could not save attempt %s: %v", snap.ID, err)
	}
}

func (s *RecordingSession) snapshotLocked() Snapshot {
	return Snapshot{
		ID:      s.id,
		State:   s.state,
		Target:  s.target,
		Samples: len(s.audio),
		Result:  s.result,
		Words:   s.words,
		Err:     s.err,
	}
}

func (s *RecordingSession) emit(snap Snapshot) {
	for _, fn := range s.listeners {
		fn(snap)
	}
}

// Snapshot returns the current state.
func (s *RecordingSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// State returns the current lifecycle state.
func (s *RecordingSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Live returns the live frame channel of the current recording, or nil.
func (s *RecordingSession) Live() <-chan []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Target returns the phrase this session evaluates.
func (s *RecordingSession) Target() TargetPhrase {
	return s.target
}
