package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

// ErrMicPermissionDenied is returned when the OS refuses access to the input device.
var ErrMicPermissionDenied = errors.New("microphone access denied — allow microphone access for this terminal in the OS privacy settings")

// errCaptureOverflow reports that the device dropped input before it was read.
// The read itself still carries valid samples.
var errCaptureOverflow = errors.New("capture: input overflowed")

const (
	audioSampleRate     = 16000 // Hz, what the evaluation server expects
	audioChannels       = 1     // Mono
	audioBitsPerSample  = 16
	audioFallbackFrames = 512 // used when the device reports no latency hint
	defaultLiveBuffer   = 32  // live frames queued before the meter starts dropping
)

// captureSource abstracts the microphone. Reads are blocking and fill buf with
// at most len(buf) samples.
type captureSource interface {
	MinBufferSize(sampleRate, channels, bitsPerSample int) (int, error)
	Open(sampleRate, channels, framesPerBuffer int) error
	Start() error
	Read(buf []int16) (int, error)
	Stop() error
	Close() error
}

// portaudioSource reads PCM16 from the default input device through a
// PortAudio blocking stream.
type portaudioSource struct {
	stream *portaudio.Stream
	buf    []int16
}

func newPortaudioSource() *portaudioSource {
	return &portaudioSource{}
}

// MinBufferSize sizes one read from the default device's low input latency,
// the closest PortAudio has to a platform minimum buffer.
func (p *portaudioSource) MinBufferSize(sampleRate, channels, bitsPerSample int) (int, error) {
	if bitsPerSample != 16 {
		return 0, fmt.Errorf("portaudio: unsupported sample width %d", bitsPerSample)
	}
	if err := portaudio.Initialize(); err != nil {
		return 0, fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate() //nolint:errcheck

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return 0, mapPortaudioError(err)
	}
	if dev.MaxInputChannels < channels {
		return 0, fmt.Errorf("portaudio: %s has %d input channels, need %d", dev.Name, dev.MaxInputChannels, channels)
	}
	frames := int(math.Ceil(dev.DefaultLowInputLatency.Seconds() * float64(sampleRate)))
	if frames <= 0 {
		frames = audioFallbackFrames
	}
	return frames * channels, nil
}

func (p *portaudioSource) Open(sampleRate, channels, framesPerBuffer int) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	p.buf = make([]int16, framesPerBuffer*channels)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), framesPerBuffer, p.buf)
	if err != nil {
		portaudio.Terminate() //nolint:errcheck
		return mapPortaudioError(err)
	}
	p.stream = stream
	return nil
}

func (p *portaudioSource) Start() error {
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("portaudio start stream: %w", err)
	}
	return nil
}

// Read blocks until one buffer of input is available.
func (p *portaudioSource) Read(buf []int16) (int, error) {
	err := p.stream.Read()
	n := copy(buf, p.buf)
	if errors.Is(err, portaudio.InputOverflowed) {
		return n, errCaptureOverflow
	}
	if err != nil {
		return 0, fmt.Errorf("portaudio read: %w", err)
	}
	return n, nil
}

func (p *portaudioSource) Stop() error {
	if err := p.stream.Stop(); err != nil {
		return fmt.Errorf("portaudio stop stream: %w", err)
	}
	return nil
}

func (p *portaudioSource) Close() error {
	err := p.stream.Close()
	portaudio.Terminate() //nolint:errcheck
	p.stream = nil
	return err
}

// mapPortaudioError turns the device-refused family of errors into
// ErrMicPermissionDenied.
func mapPortaudioError(err error) error {
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "denied") ||
		strings.Contains(errStr, "device unavailable") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "no default input device") {
		return ErrMicPermissionDenied
	}
	return fmt.Errorf("portaudio open stream: %w", err)
}

// portaudioPermission reports the microphone as granted when a default input
// device can be resolved. Desktop platforms have no separate permission API
// reachable from PortAudio; a refused device shows up as a missing input.
type portaudioPermission struct{}

func (portaudioPermission) MicrophoneGranted() bool {
	if err := portaudio.Initialize(); err != nil {
		return false
	}
	defer portaudio.Terminate() //nolint:errcheck
	dev, err := portaudio.DefaultInputDevice()
	return err == nil && dev.MaxInputChannels > 0
}

// AudioCapture records PCM16 mono from a captureSource into a SampleBuffer
// and mirrors every read, normalized, onto a bounded live channel.
type AudioCapture struct {
	mu         sync.Mutex
	source     captureSource
	buffer     *SampleBuffer
	sampleRate int
	liveSize   int
	log        *zap.SugaredLogger
	metrics    *Metrics

	recording atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	live      chan []float32

	// loopErr is written only by captureLoop and read by Stop after doneCh closes.
	loopErr error
	lastErr error
}

// CaptureOption customises an AudioCapture.
type CaptureOption func(*AudioCapture)

// WithCaptureLogger sets the logger used by the capture loop.
func WithCaptureLogger(l *zap.SugaredLogger) CaptureOption {
	return func(c *AudioCapture) { c.log = l }
}

// WithCaptureMetrics records captured samples and dropped live frames.
func WithCaptureMetrics(m *Metrics) CaptureOption {
	return func(c *AudioCapture) { c.metrics = m }
}

// WithSampleRate overrides the 16 kHz default.
func WithSampleRate(rate int) CaptureOption {
	return func(c *AudioCapture) { c.sampleRate = rate }
}

// WithLiveBuffer sets how many live frames may queue before new ones are dropped.
func WithLiveBuffer(n int) CaptureOption {
	return func(c *AudioCapture) { c.liveSize = n }
}

// NewAudioCapture creates an AudioCapture on the default PortAudio input.
func NewAudioCapture(opts ...CaptureOption) *AudioCapture {
	return newAudioCaptureWithSource(newPortaudioSource(), opts...)
}

// newAudioCaptureWithSource creates an AudioCapture with an injectable source (for tests).
func newAudioCaptureWithSource(src captureSource, opts ...CaptureOption) *AudioCapture {
	c := &AudioCapture{
		source:     src,
		buffer:     NewSampleBuffer(),
		sampleRate: audioSampleRate,
		liveSize:   defaultLiveBuffer,
		log:        zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.liveSize < 1 {
		c.liveSize = 1
	}
	return c
}

// Start opens the source and launches the capture loop. The returned channel
// carries one normalized frame per read and is closed by Stop. If capture is
// already running Start does nothing and returns the existing channel.
func (c *AudioCapture) Start(ctx context.Context) (<-chan []float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recording.Load() {
		return c.live, nil
	}

	size, err := c.source.MinBufferSize(c.sampleRate, audioChannels, audioBitsPerSample)
	if err != nil {
		if errors.Is(err, ErrMicPermissionDenied) {
			return nil, ErrMicPermissionDenied
		}
		return nil, fmt.Errorf("audio: buffer size: %w", err)
	}
	if err := c.source.Open(c.sampleRate, audioChannels, size); err != nil {
		if errors.Is(err, ErrMicPermissionDenied) {
			return nil, ErrMicPermissionDenied // return sentinel unwrapped for errors.Is()
		}
		return nil, fmt.Errorf("audio: open: %w", err)
	}
	if err := c.source.Start(); err != nil {
		c.source.Close() //nolint:errcheck
		return nil, fmt.Errorf("audio: start: %w", err)
	}

	c.buffer.Reset()
	c.loopErr, c.lastErr = nil, nil
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.live = make(chan []float32, c.liveSize)
	c.recording.Store(true)
	c.log.Infof("recording started @ %dHz, %d samples per read", c.sampleRate, size)

	go c.captureLoop(ctx, size, c.stopCh, c.doneCh, c.live)
	return c.live, nil
}

// captureLoop is the only writer into the SampleBuffer. It exits on Stop,
// on ctx cancellation, or on a hard read error.
func (c *AudioCapture) captureLoop(ctx context.Context, size int, stop <-chan struct{}, done chan<- struct{}, live chan<- []float32) {
	// Pin to one OS thread and raise its scheduling priority when the platform
	// and the process's privileges allow it. The thread is never
	// unlocked, so the runtime retires it when the loop exits instead of
	// handing the reniced thread to other goroutines.
	runtime.LockOSThread()
	defer close(done)
	if err := raiseThreadPriority(); err != nil {
		c.log.Debugf("capture thread keeps default priority: %v", err)
	}

	buf := make([]int16, size)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			c.log.Infof("capture cancelled: %v", ctx.Err())
			return
		default:
		}

		n, err := c.source.Read(buf)
		if errors.Is(err, errCaptureOverflow) {
			c.log.Warnf("input overflow, some audio was lost")
		} else if err != nil {
			c.log.Errorf("read failed, ending capture: %v", err)
			c.loopErr = fmt.Errorf("audio: read: %w", err)
			return
		}
		if n <= 0 {
			continue
		}

		chunk := buf[:n]
		c.buffer.Append(chunk)
		c.metrics.RecordSamplesCaptured(n)

		select {
		case live <- NormalizeChunk(chunk):
		default:
			c.metrics.RecordLiveFrameDropped()
		}
	}
}

// Stop ends capture, waits for the loop to exit, releases the source and
// returns the whole recording normalized. ok is false when nothing was recording.
// If a read error ended capture early, Err reports it until the next Start.
func (c *AudioCapture) Stop() (samples []float32, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording.Load() {
		return nil, false
	}

	close(c.stopCh)
	<-c.doneCh

	if err := c.source.Stop(); err != nil {
		c.log.Warnf("stop warning: %v", err)
	}
	if err := c.source.Close(); err != nil {
		c.log.Warnf("close warning: %v", err)
	}
	c.recording.Store(false)
	close(c.live)
	c.lastErr = c.loopErr

	pcm := c.buffer.Concat()
	c.log.Infof("recording stopped — captured %d samples in %d chunks (%.2fs)",
		len(pcm), c.buffer.Chunks(), float64(len(pcm))/float64(c.sampleRate))
	return NormalizeChunk(pcm), true
}

// Err is the read error that ended the last recording early, or nil. The
// samples Stop returned for such a recording are incomplete.
func (c *AudioCapture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SampleRate is the rate the source is opened at.
func (c *AudioCapture) SampleRate() int {
	return c.sampleRate
}

// BufferedSamples is the number of samples captured so far in this recording.
func (c *AudioCapture) BufferedSamples() int {
	return c.buffer.Len()
}
