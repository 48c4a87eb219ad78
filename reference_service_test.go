package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSynthesizer struct {
	calls atomic.Int32
	data  []byte
	err   error
	block chan struct{} // when set, Synthesize waits for it

	mu                sync.Mutex
	gotLang, gotVoice string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, lang, voice string) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.gotLang, f.gotVoice = lang, voice
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.data, f.err
}

type fakePlayback struct {
	pcm  []int16
	rate int
	err  error
}

func (f *fakePlayback) Play(ctx context.Context, pcm []int16, sampleRate int) error {
	f.pcm = pcm
	f.rate = sampleRate
	return f.err
}

func referenceWAV(t *testing.T) []byte {
	t.Helper()
	wav, err := EncodeWAV([]float32{0, 0.5, -0.5, 1}, 24000)
	require.NoError(t, err)
	return wav
}

func newTestReference(t *testing.T, synth *fakeSynthesizer, player playbackBackend) (*ReferenceService, *Metrics) {
	t.Helper()
	m := NewMetrics()
	cfg := ReferenceConfig{Lang: "en-US", Voice: "af_heart", CacheDir: filepath.Join(t.TempDir(), "ref")}
	return newReferenceServiceWithPlayer(cfg, synth, player, m, zaptest.NewLogger(t).Sugar()), m
}

func TestReferenceFetchCaches(t *testing.T) {
	synth := &fakeSynthesizer{data: referenceWAV(t)}
	ref, m := newTestReference(t, synth, &fakePlayback{})
	ctx := context.Background()

	path, err := ref.Fetch(ctx, "I will study")
	require.NoError(t, err)
	assert.Equal(t, ref.CachePath("I will study"), path)
	assert.Equal(t, "en-US", synth.gotLang)
	assert.Equal(t, "af_heart", synth.gotVoice)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, synth.data, data)

	again, err := ref.Fetch(ctx, "  I will study ")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(1), synth.calls.Load(), "second fetch is served from cache")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReferenceFetches.WithLabelValues(referenceDownloaded)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReferenceFetches.WithLabelValues(referenceCacheHit)))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.download"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestReferenceCacheKeyIncludesVoice(t *testing.T) {
	synth := &fakeSynthesizer{data: referenceWAV(t)}
	a, _ := newTestReference(t, synth, &fakePlayback{})
	b := newReferenceServiceWithPlayer(ReferenceConfig{Lang: "en-US", Voice: "bf_emma"}, synth, &fakePlayback{}, nil, zaptest.NewLogger(t).Sugar())

	assert.NotEqual(t, filepath.Base(a.CachePath("hello")), filepath.Base(b.CachePath("hello")))
	assert.NotEqual(t, a.CachePath("hello"), a.CachePath("hello there"))
}

func TestReferenceFetchRejectsInvalidAudio(t *testing.T) {
	synth := &fakeSynthesizer{data: []byte("<html>oops</html>")}
	ref, m := newTestReference(t, synth, &fakePlayback{})

	_, err := ref.Fetch(context.Background(), "hello")
	assert.True(t, errors.Is(err, ErrInvalidWAV))

	_, statErr := os.Stat(ref.CachePath("hello"))
	assert.True(t, os.IsNotExist(statErr), "invalid payload must not be cached")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReferenceFetches.WithLabelValues(referenceError)))
}

func TestReferenceFetchServerError(t *testing.T) {
	synth := &fakeSynthesizer{err: newSessionError(ErrorServerError, nil, "boom")}
	ref, _ := newTestReference(t, synth, &fakePlayback{})

	_, err := ref.Fetch(context.Background(), "hello")
	assert.True(t, errors.Is(err, ErrServerError))
}

func TestReferenceFetchEmptyText(t *testing.T) {
	synth := &fakeSynthesizer{data: referenceWAV(t)}
	ref, _ := newTestReference(t, synth, &fakePlayback{})

	_, err := ref.Fetch(context.Background(), "   ")
	assert.Error(t, err)
	assert.Equal(t, int32(0), synth.calls.Load())
}

func TestReferenceFetchInProgress(t *testing.T) {
	synth := &fakeSynthesizer{data: referenceWAV(t), block: make(chan struct{})}
	ref, _ := newTestReference(t, synth, &fakePlayback{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := ref.Fetch(ctx, "hello")
		done <- err
	}()
	require.Eventually(t, func() bool { return synth.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := ref.Fetch(ctx, "hello")
	assert.True(t, errors.Is(err, ErrReferenceInProgress))

	close(synth.block)
	require.NoError(t, <-done)

	_, err = ref.Fetch(ctx, "hello")
	assert.NoError(t, err)
}

func TestReferencePlay(t *testing.T) {
	synth := &fakeSynthesizer{data: referenceWAV(t)}
	player := &fakePlayback{}
	ref, _ := newTestReference(t, synth, player)

	require.NoError(t, ref.Play(context.Background(), "hello"))
	assert.Equal(t, 24000, player.rate)
	assert.Equal(t, []int16{0, 16383, -16383, 32767}, player.pcm)
}

func TestReferencePlayCorruptCache(t *testing.T) {
	synth := &fakeSynthesizer{data: referenceWAV(t)}
	ref, _ := newTestReference(t, synth, &fakePlayback{})

	path := ref.CachePath("hello")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))

	err := ref.Play(context.Background(), "hello")
	assert.True(t, errors.Is(err, ErrInvalidWAV))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "corrupt cache entry is removed")

	require.NoError(t, ref.Play(context.Background(), "hello"))
	assert.Equal(t, int32(1), synth.calls.Load())
}

func TestReferencePlaybackError(t *testing.T) {
	synth := &fakeSynthesizer{data: referenceWAV(t)}
	ref, _ := newTestReference(t, synth, &fakePlayback{err: errors.New("no output device")})

	err := ref.Play(context.Background(), "hello")
	assert.ErrorContains(t, err, "no output device")
}
