package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

// ErrReferenceInProgress is returned when the same phrase is already being fetched.
var ErrReferenceInProgress = errors.New("reference: fetch already in progress")

const playbackFrames = 1024

// Reference fetch outcomes reported to Metrics.
const (
	referenceCacheHit   = "cache_hit"
	referenceDownloaded = "downloaded"
	referenceError      = "error"
)

// playbackBackend plays PCM16 mono. Play returns early when ctx is cancelled.
type playbackBackend interface {
	Play(ctx context.Context, pcm []int16, sampleRate int) error
}

// ReferenceService fetches a spoken reading of the target phrase from the
// server, caches it on disk and plays it back.
type ReferenceService struct {
	mu         sync.Mutex
	cacheDir   string
	lang       string
	voice      string
	synth      ReferenceSynthesizer
	player     playbackBackend
	inProgress map[string]bool // cache key → currently fetching
	metrics    *Metrics
	log        *zap.SugaredLogger
}

// NewReferenceService plays through the default PortAudio output device.
func NewReferenceService(cfg ReferenceConfig, synth ReferenceSynthesizer, metrics *Metrics, log *zap.SugaredLogger) *ReferenceService {
	return newReferenceServiceWithPlayer(cfg, synth, portaudioPlayback{}, metrics, log)
}

func newReferenceServiceWithPlayer(cfg ReferenceConfig, synth ReferenceSynthesizer, player playbackBackend, metrics *Metrics, log *zap.SugaredLogger) *ReferenceService {
	dir := cfg.CacheDir
	if dir == "" {
		dir = filepath.Join(appDir(), "reference")
	}
	return &ReferenceService{
		cacheDir:   dir,
		lang:       cfg.Lang,
		voice:      cfg.Voice,
		synth:      synth,
		player:     player,
		inProgress: make(map[string]bool),
		metrics:    metrics,
		log:        log,
	}
}

func (r *ReferenceService) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text + "|" + r.lang + "|" + r.voice))
	return hex.EncodeToString(sum[:])
}

// CachePath is where the reading of text is stored once fetched.
func (r *ReferenceService) CachePath(text string) string {
	return filepath.Join(r.cacheDir, r.cacheKey(text)+".wav")
}

// Fetch returns the path of a cached WAV reading of text, synthesizing it
// first when missing. The payload must decode as PCM16 mono WAV before it is
// committed to the cache.
func (r *ReferenceService) Fetch(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("reference: empty text")
	}
	key := r.cacheKey(text)
	finalPath := r.CachePath(text)

	if _, err := os.Stat(finalPath); err == nil {
		r.metrics.RecordReferenceFetch(referenceCacheHit)
		r.log.Debugf("cache hit %s", filepath.Base(finalPath))
		return finalPath, nil
	}

	r.mu.Lock()
	if r.inProgress[key] {
		r.mu.Unlock()
		return "", ErrReferenceInProgress
	}
	r.inProgress[key] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inProgress, key)
		r.mu.Unlock()
	}()

	path, err := r.download(ctx, text, key, finalPath)
	if err != nil {
		r.metrics.RecordReferenceFetch(referenceError)
		r.log.Warnf("fetch %q: %v", text, err)
		return "", err
	}
	r.metrics.RecordReferenceFetch(referenceDownloaded)
	return path, nil
}

func (r *ReferenceService) download(ctx context.Context, text, key, finalPath string) (string, error) {
	r.log.Infof("synthesizing %q (%s, %s)", text, r.lang, r.voice)
	data, err := r.synth.Synthesize(ctx, text, r.lang, r.voice)
	if err != nil {
		return "", err
	}
	info, _, err := DecodeWAV(data)
	if err != nil {
		return "", fmt.Errorf("reference: %w", err)
	}

	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("reference: %w", err)
	}
	f, err := os.CreateTemp(r.cacheDir, key+"-*.download")
	if err != nil {
		return "", fmt.Errorf("reference: create temp file: %w", err)
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("reference: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("reference: write: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("reference: rename: %w", err)
	}

	r.log.Infof("cached %s (%s at %d Hz)", filepath.Base(finalPath), info.Duration, info.SampleRate)
	return finalPath, nil
}

// Play fetches the reading of text and plays it. A cached file that no longer
// decodes is removed so the next call fetches it again.
func (r *ReferenceService) Play(ctx context.Context, text string) error {
	path, err := r.Fetch(ctx, text)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reference: %w", err)
	}
	info, pcm, err := DecodeWAV(data)
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("reference: cached %s: %w", filepath.Base(path), err)
	}
	if err := r.player.Play(ctx, pcm, int(info.SampleRate)); err != nil {
		return fmt.Errorf("reference: playback: %w", err)
	}
	return nil
}

// portaudioPlayback writes to the default output device through a blocking stream.
type portaudioPlayback struct{}

func (portaudioPlayback) Play(ctx context.Context, pcm []int16, sampleRate int) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate() //nolint:errcheck

	buf := make([]int16, playbackFrames)
	stream, err := portaudio.OpenDefaultStream(0, audioChannels, float64(sampleRate), len(buf), buf)
	if err != nil {
		return fmt.Errorf("portaudio open output: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio start output: %w", err)
	}
	defer stream.Stop() //nolint:errcheck

	for off := 0; off < len(pcm); off += len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(buf, pcm[off:])
		// The final buffer is padded with silence.
		clear(buf[n:])
		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("portaudio write: %w", err)
		}
	}
	return nil
}
