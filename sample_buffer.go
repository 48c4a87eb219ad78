package main

import (
	"sync"
)

// PcmChunk is one capture read: signed 16-bit mono samples, exactly as long as
// the read that produced it.
type PcmChunk []int16

// SampleBuffer is an append-only FIFO of PcmChunks for a single recording.
// The capture goroutine is the only writer; the encoder reads it after the
// capture loop has exited. The mutex keeps Len/Chunks safe for status queries.
type SampleBuffer struct {
	mu      sync.Mutex
	chunks  []PcmChunk
	samples int
}

// NewSampleBuffer creates an empty SampleBuffer.
func NewSampleBuffer() *SampleBuffer {
	return &SampleBuffer{}
}

// Append copies pcm into a new chunk at the tail of the buffer.
// Zero-length reads are ignored.
func (b *SampleBuffer) Append(pcm []int16) {
	if len(pcm) == 0 {
		return
	}
	chunk := make(PcmChunk, len(pcm))
	copy(chunk, pcm) // capture sources reuse their read buffer

	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, chunk)
	b.samples += len(chunk)
}

// Concat returns every buffered sample in insertion order as one slice.
// The buffer is left untouched.
func (b *SampleBuffer) Concat() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.samples == 0 {
		return nil
	}
	out := make([]int16, 0, b.samples)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Reset drops all chunks. Called at the start of every recording.
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.samples = 0
}

// Len returns the number of samples held across all chunks.
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.samples
}

// ByteLen returns the PCM16 payload size of the buffered samples.
func (b *SampleBuffer) ByteLen() int {
	return b.Len() * 2
}

// Chunks returns the number of chunks appended since the last Reset.
func (b *SampleBuffer) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}
