package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.design/x/hotkey"
)

// ErrHotkeyConflict is returned when the combination is already taken by another application.
var ErrHotkeyConflict = errors.New("hotkey: key combination already registered by another application")

// ErrHotkeyInvalid is returned when the combination string cannot be parsed.
var ErrHotkeyInvalid = errors.New("hotkey: invalid key combination")

// hotkeyBackend abstracts the OS hotkey so tests can use a mock.
type hotkeyBackend interface {
	Register() error
	Unregister() error
	Keydown() <-chan struct{}
}

// realHotkeyBackend wraps golang.design/x/hotkey.
// hotkey.New is deferred to Register so constructing a backend starts no cgo work.
type realHotkeyBackend struct {
	hk        *hotkey.Hotkey
	mods      []hotkey.Modifier
	key       hotkey.Key
	keyCh     chan struct{}
	closeOnce sync.Once
}

func newRealBackend(combo string) (*realHotkeyBackend, error) {
	mods, key, err := parseHotkey(combo)
	if err != nil {
		return nil, err
	}
	return &realHotkeyBackend{mods: mods, key: key}, nil
}

func (r *realHotkeyBackend) Register() error {
	r.hk = hotkey.New(r.mods, r.key)
	if err := r.hk.Register(); err != nil {
		_ = r.hk.Unregister()
		r.hk = nil
		return ErrHotkeyConflict
	}
	// Relay keydowns through a small buffer; presses beyond it are dropped.
	r.keyCh = make(chan struct{}, 4)
	src := r.hk.Keydown()
	go func() {
		for range src {
			select {
			case r.keyCh <- struct{}{}:
			default:
			}
		}
		r.closeOnce.Do(func() { close(r.keyCh) })
	}()
	return nil
}

func (r *realHotkeyBackend) Unregister() error {
	if r.hk == nil {
		return nil
	}
	return r.hk.Unregister()
}

func (r *realHotkeyBackend) Keydown() <-chan struct{} {
	return r.keyCh
}

// HotkeyService registers the global push-to-talk combination and calls the
// toggle callback on every keydown.
type HotkeyService struct {
	mu             sync.Mutex
	backend        hotkeyBackend
	combo          string
	registered     atomic.Bool
	shuttingDown   atomic.Bool
	doneCh         chan struct{}
	cancel         context.CancelFunc
	backendFactory func(string) (hotkeyBackend, error)
	log            *zap.SugaredLogger
}

// NewHotkeyService creates a HotkeyService backed by the OS hotkey API.
func NewHotkeyService(log *zap.SugaredLogger) *HotkeyService {
	return &HotkeyService{
		backendFactory: func(c string) (hotkeyBackend, error) {
			return newRealBackend(c)
		},
		log: log,
	}
}

// newHotkeyServiceWithBackend creates a HotkeyService around b (tests only).
// Combos are still parsed so invalid strings fail the same way.
func newHotkeyServiceWithBackend(b hotkeyBackend) *HotkeyService {
	return &HotkeyService{
		backendFactory: func(c string) (hotkeyBackend, error) {
			if _, _, err := parseHotkey(c); err != nil {
				return nil, err
			}
			return b, nil
		},
		log: zap.NewNop().Sugar(),
	}
}

// Start registers combo and launches a listener that calls onTrigger each time
// it is pressed. The listener exits when ctx is cancelled or Stop is called.
// Returns ErrHotkeyConflict if the combination is taken and ErrHotkeyInvalid
// if it cannot be parsed; in both cases nothing stays registered.
func (s *HotkeyService) Start(ctx context.Context, combo string, onTrigger func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered.Load() {
		return fmt.Errorf("hotkey: %s already active", s.combo)
	}
	b, err := s.backendFactory(combo)
	if err != nil {
		return err
	}
	if err := b.Register(); err != nil {
		return err
	}
	s.backend = b
	s.combo = combo
	s.registered.Store(true)
	s.log.Infof("%s registered", combo)

	listenCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	keydown := b.Keydown()
	doneCh := make(chan struct{})
	s.doneCh = doneCh
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Warnf("recovered panic in %s listener: %v", combo, r)
			}
			// After Stop the backend has already been released.
			if !s.shuttingDown.Load() {
				_ = b.Unregister()
			}
			s.registered.Store(false)
			s.log.Debugf("%s unregistered", combo)
			close(doneCh)
		}()
		for {
			select {
			case <-listenCtx.Done():
				return
			case _, ok := <-keydown:
				if !ok {
					return
				}
				s.log.Debugf("%s pressed", combo)
				onTrigger()
			}
		}
	}()
	return nil
}

// Stop unregisters the combination before cancelling the listener, then waits
// briefly for the listener to exit.
func (s *HotkeyService) Stop() {
	s.shuttingDown.Store(true)

	s.mu.Lock()
	backend := s.backend
	doneCh := s.doneCh
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if backend != nil {
		if err := backend.Unregister(); err != nil {
			s.log.Warnf("unregister: %v", err)
		}
	}
	if doneCh != nil {
		select {
		case <-doneCh:
		case <-time.After(200 * time.Millisecond):
			s.log.Warn("timed out waiting for listener to exit")
		}
	}
}

// IsRegistered reports whether the combination is currently registered.
func (s *HotkeyService) IsRegistered() bool {
	return s.registered.Load()
}

// Combo returns the registered combination string.
func (s *HotkeyService) Combo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.combo
}

// keyMap is shared by every platform; modMap lives in hotkey_keys_<os>.go.
var keyMap = map[string]hotkey.Key{
	"space":  hotkey.KeySpace,
	"tab":    hotkey.KeyTab,
	"return": hotkey.KeyReturn,
	"enter":  hotkey.KeyReturn,
	"a":      hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,
	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
}

// parseHotkey turns "ctrl+shift+space" into modifiers and a key. At least one
// modifier is required; repeated modifiers are ignored.
func parseHotkey(combo string) ([]hotkey.Modifier, hotkey.Key, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(combo)), "+")
	if len(parts) < 2 {
		return nil, 0, fmt.Errorf("%w: %q (need at least one modifier)", ErrHotkeyInvalid, combo)
	}
	keyPart := parts[len(parts)-1]

	key, ok := keyMap[keyPart]
	if !ok {
		return nil, 0, fmt.Errorf("%w: unknown key %q", ErrHotkeyInvalid, keyPart)
	}

	var mods []hotkey.Modifier
	seen := map[string]bool{}
	for _, m := range parts[:len(parts)-1] {
		if seen[m] {
			continue
		}
		seen[m] = true
		mod, ok := modMap[m]
		if !ok {
			return nil, 0, fmt.Errorf("%w: unknown modifier %q", ErrHotkeyInvalid, m)
		}
		mods = append(mods, mod)
	}
	return mods, key, nil
}

// FormatHotkey renders a combo for the prompt, e.g. "ctrl+shift+space" → "Ctrl+Shift+Space".
func FormatHotkey(combo string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(combo)), "+")
	for i, p := range parts {
		if label, ok := modLabels[p]; ok {
			parts[i] = label
			continue
		}
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "+")
}
