package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

const testCombo = "ctrl+shift+space"

// mockHotkeyBackend simulates hotkey registration without touching OS APIs.
type mockHotkeyBackend struct {
	registered   atomic.Bool
	unregisters  atomic.Int32
	conflictMode bool          // if true, Register() returns an error
	keydownCh    chan struct{} // caller can send to simulate a keypress
}

func newMockBackend() *mockHotkeyBackend {
	return &mockHotkeyBackend{keydownCh: make(chan struct{}, 1)}
}

func (m *mockHotkeyBackend) Register() error {
	if m.conflictMode {
		return ErrHotkeyConflict
	}
	m.registered.Store(true)
	return nil
}

func (m *mockHotkeyBackend) Unregister() error {
	m.unregisters.Add(1)
	m.registered.Store(false)
	return nil
}

func (m *mockHotkeyBackend) Keydown() <-chan struct{} {
	return m.keydownCh
}

func (m *mockHotkeyBackend) simulatePress() {
	m.keydownCh <- struct{}{}
}

func TestHotkeyServiceStart(t *testing.T) {
	mock := newMockBackend()
	svc := newHotkeyServiceWithBackend(mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx, testCombo, func() {}); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	if !svc.IsRegistered() {
		t.Error("IsRegistered() = false after Start(); want true")
	}
	if got := svc.Combo(); got != testCombo {
		t.Errorf("Combo() = %q; want %q", got, testCombo)
	}
	if err := svc.Start(ctx, testCombo, func() {}); err == nil {
		t.Error("second Start() should fail while registered")
	}
}

func TestHotkeyServiceContextCancel(t *testing.T) {
	mock := newMockBackend()
	svc := newHotkeyServiceWithBackend(mock)

	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.Start(ctx, testCombo, func() {}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	cancel()
	deadline := time.Now().Add(500 * time.Millisecond)
	for svc.IsRegistered() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if svc.IsRegistered() {
		t.Error("IsRegistered() = true after cancel; want false")
	}
	if mock.registered.Load() {
		t.Error("backend still registered after cancel")
	}
}

func TestHotkeyServiceStop(t *testing.T) {
	mock := newMockBackend()
	svc := newHotkeyServiceWithBackend(mock)

	if err := svc.Start(context.Background(), testCombo, func() {}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	svc.Stop()

	if svc.IsRegistered() {
		t.Error("IsRegistered() = true after Stop(); want false")
	}
	if n := mock.unregisters.Load(); n != 1 {
		t.Errorf("Unregister called %d times; want 1", n)
	}
}

func TestHotkeyServiceConflict(t *testing.T) {
	mock := newMockBackend()
	mock.conflictMode = true
	svc := newHotkeyServiceWithBackend(mock)

	err := svc.Start(context.Background(), testCombo, func() {})
	if !errors.Is(err, ErrHotkeyConflict) {
		t.Errorf("Start() error = %v; want ErrHotkeyConflict", err)
	}
	if svc.IsRegistered() {
		t.Error("IsRegistered() = true after conflict; want false")
	}
}

func TestHotkeyServiceInvalidCombo(t *testing.T) {
	svc := newHotkeyServiceWithBackend(newMockBackend())

	for _, combo := range []string{"", "space", "ctrl+nope", "hyper+a"} {
		err := svc.Start(context.Background(), combo, func() {})
		if !errors.Is(err, ErrHotkeyInvalid) {
			t.Errorf("Start(%q) error = %v; want ErrHotkeyInvalid", combo, err)
		}
	}
}

func TestHotkeyServiceCallback(t *testing.T) {
	mock := newMockBackend()
	svc := newHotkeyServiceWithBackend(mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	triggered := make(chan struct{}, 1)
	if err := svc.Start(ctx, testCombo, func() { triggered <- struct{}{} }); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	mock.simulatePress()

	select {
	case <-triggered:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("callback not invoked after simulated keypress")
	}
}

func TestParseHotkey(t *testing.T) {
	mods, _, err := parseHotkey("Ctrl+Shift+Ctrl+F5")
	if err != nil {
		t.Fatalf("parseHotkey error: %v", err)
	}
	if len(mods) != 2 {
		t.Errorf("len(mods) = %d; want 2 (duplicates ignored)", len(mods))
	}
}

func TestFormatHotkey(t *testing.T) {
	want := modLabels["ctrl"] + "+" + modLabels["shift"] + "+Space"
	if got := FormatHotkey(testCombo); got != want {
		t.Errorf("FormatHotkey(%q) = %q; want %q", testCombo, got, want)
	}
}
