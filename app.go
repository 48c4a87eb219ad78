package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// hotkeyStarter is the part of HotkeyService the App needs.
// Keeping it an interface keeps cgo goroutines out of unit tests.
type hotkeyStarter interface {
	Start(ctx context.Context, combo string, onTrigger func()) error
	Stop()
	IsRegistered() bool
}

// practiceSession is the part of RecordingSession the App drives.
type practiceSession interface {
	Start(ctx context.Context) (Snapshot, error)
	Stop() Snapshot
	EncodeAndUpload(ctx context.Context) (Snapshot, error)
	State() SessionState
	Live() <-chan []float32
	Target() TargetPhrase
}

// renderer is the part of OutputService the App writes to. Session
// transitions reach it through the session's state listener.
type renderer interface {
	RenderPrompt(target TargetPhrase, hotkeyCombo string)
	RenderLevel(frame []float32)
	RenderHistory(attempts []Attempt)
	Notice(msg string, err error)
}

type referencePlayer interface {
	Play(ctx context.Context, text string) error
}

type historyLister interface {
	Recent(ctx context.Context, limit int) ([]Attempt, error)
}

// App connects key presses to the practice session and its collaborators.
// Optional collaborators are injected by main with the Set* methods.
type App struct {
	mu      sync.Mutex // serializes Toggle between the keyboard and the hotkey
	ctx     context.Context
	session practiceSession
	out     renderer
	log     *zap.SugaredLogger

	hotkeys      hotkeyStarter
	hotkeyCombo  string
	reference    referencePlayer
	history      historyLister
	historyLimit int

	pumpStop chan struct{}
	pumpDone chan struct{}
	wg       sync.WaitGroup // uploads and reference playback
}

// NewApp creates an App around session. Hotkey, reference and history
// support are off until injected.
func NewApp(session practiceSession, out renderer, log *zap.SugaredLogger) *App {
	return &App{
		ctx:     context.Background(),
		session: session,
		out:     out,
		log:     log,
	}
}

// SetHotkeyService enables push-to-talk on combo.
func (a *App) SetHotkeyService(hs hotkeyStarter, combo string) {
	a.hotkeys = hs
	a.hotkeyCombo = combo
}

func (a *App) SetReferenceService(r referencePlayer) {
	a.reference = r
}

// SetHistoryService enables the history key, listing up to limit attempts.
func (a *App) SetHistoryService(h historyLister, limit int) {
	a.history = h
	a.historyLimit = limit
}

// Startup shows the prompt and registers the hotkey. A hotkey that cannot be
// registered leaves Enter as the only record key.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	combo := ""
	if a.hotkeys != nil {
		if err := a.hotkeys.Start(ctx, a.hotkeyCombo, a.Toggle); err != nil {
			if errors.Is(err, ErrHotkeyConflict) {
				a.log.Warnf("%s is already registered by another app — using Enter only", a.hotkeyCombo)
			} else {
				a.log.Warnf("hotkey: %v", err)
			}
			a.out.Notice("hotkey unavailable, use Enter to record", nil)
		} else {
			combo = a.hotkeyCombo
		}
	}
	a.out.RenderPrompt(a.session.Target(), combo)
}

// Toggle starts a recording, or stops the current one and evaluates it in
// the background.
func (a *App) Toggle() {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.session.State() {
	case StateRecording:
		a.stopPumpLocked()
		snap := a.session.Stop()
		if snap.State != StateStopped {
			return
		}
		ctx := a.ctx
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			// Failures are rendered through the session listener.
			if _, err := a.session.EncodeAndUpload(ctx); err != nil {
				a.log.Debugf("upload: %v", err)
			}
		}()
	case StateUploading:
		a.out.Notice("still evaluating the last recording", nil)
	default:
		snap, err := a.session.Start(a.ctx)
		if err != nil {
			var se *SessionError
			if errors.As(err, &se) {
				a.out.Notice(se.Kind.UserMessage(), nil)
			} else {
				a.out.Notice("could not start recording", err)
			}
			return
		}
		if snap.State == StateRecording {
			a.startPumpLocked(a.session.Live())
		}
	}
}

// startPumpLocked forwards live frames to the level meter until stopped.
func (a *App) startPumpLocked(live <-chan []float32) {
	if live == nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	a.pumpStop, a.pumpDone = stop, done
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case frame, ok := <-live:
				if !ok {
					return
				}
				a.out.RenderLevel(frame)
			}
		}
	}()
}

func (a *App) stopPumpLocked() {
	if a.pumpStop == nil {
		return
	}
	close(a.pumpStop)
	<-a.pumpDone
	a.pumpStop, a.pumpDone = nil, nil
}

// PlayReference plays the spoken target phrase in the background.
func (a *App) PlayReference() {
	if a.reference == nil {
		a.out.Notice("reference audio is not available", nil)
		return
	}
	if a.session.State() == StateRecording {
		a.out.Notice("stop recording before playing the reference", nil)
		return
	}
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()

	text := a.session.Target().Text()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.reference.Play(ctx, text); err != nil {
			if errors.Is(err, ErrReferenceInProgress) {
				a.out.Notice("reference is still downloading", nil)
				return
			}
			if !errors.Is(err, context.Canceled) {
				a.out.Notice("could not play the reference", err)
			}
		}
	}()
}

// ShowHistory prints the most recent attempts.
func (a *App) ShowHistory() {
	if a.history == nil {
		a.out.Notice("history is not available", nil)
		return
	}
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()

	attempts, err := a.history.Recent(ctx, a.historyLimit)
	if err != nil {
		a.out.Notice("could not load history", err)
		return
	}
	a.out.RenderHistory(attempts)
}

// HandleKey dispatches one line of keyboard input. It returns false when the
// user asked to quit.
func (a *App) HandleKey(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		a.Toggle()
	case "r":
		a.PlayReference()
	case "h":
		a.ShowHistory()
	case "s":
		a.ShowStatus()
	case "q":
		return false
	default:
		a.out.Notice(fmt.Sprintf("unknown key %q: Enter, r, h, s or q", strings.TrimSpace(line)), nil)
	}
	return true
}

// Shutdown releases the hotkey, ends an active recording and waits for
// background work.
func (a *App) Shutdown() {
	if a.hotkeys != nil {
		a.hotkeys.Stop()
	}
	a.mu.Lock()
	if a.session.State() == StateRecording {
		a.stopPumpLocked()
		a.session.Stop()
	}
	a.mu.Unlock()
	a.wg.Wait()
}

// ShowStatus prints the session state and whether push-to-talk is active.
func (a *App) ShowStatus() {
	a.out.Notice(fmt.Sprintf("session %s, hotkey %s", a.GetStatus(), a.GetHotkeyStatus()), nil)
}

// GetStatus returns the session state for display.
func (a *App) GetStatus() string {
	return a.session.State().String()
}

// GetHotkeyStatus reports whether push-to-talk is active.
func (a *App) GetHotkeyStatus() string {
	if a.hotkeys != nil && a.hotkeys.IsRegistered() {
		return "registered"
	}
	return "unregistered"
}
