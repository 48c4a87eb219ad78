package main

import (
	"sync"
	"testing"
)

func TestSampleBufferAppend(t *testing.T) {
	b := NewSampleBuffer()

	chunk := make([]int16, 128)
	for i := range chunk {
		chunk[i] = int16(i)
	}

	b.Append(chunk)

	if b.Len() != 128 {
		t.Errorf("Len() = %d after Append(128), want 128", b.Len())
	}
	if b.ByteLen() != 256 {
		t.Errorf("ByteLen() = %d after Append(128), want 256", b.ByteLen())
	}
	if b.Chunks() != 1 {
		t.Errorf("Chunks() = %d, want 1", b.Chunks())
	}
}

func TestSampleBufferZeroLengthAppendIsNoop(t *testing.T) {
	b := NewSampleBuffer()
	b.Append(nil)
	b.Append([]int16{})

	if b.Chunks() != 0 || b.Len() != 0 {
		t.Errorf("empty appends produced %d chunks / %d samples, want 0/0", b.Chunks(), b.Len())
	}
	if got := b.Concat(); got != nil {
		t.Errorf("Concat() on empty buffer = %v, want nil", got)
	}
}

func TestSampleBufferConcatOrder(t *testing.T) {
	b := NewSampleBuffer()

	c1 := []int16{1, 2, 3}
	c2 := []int16{4, 5}
	c3 := []int16{6, 7, 8, 9}
	b.Append(c1)
	b.Append(c2)
	b.Append(c3)

	got := b.Concat()
	want := []int16{1, 2, 3, 4, 5, 6, 7, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("Concat() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Concat()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if b.ByteLen() != len(want)*2 {
		t.Errorf("ByteLen() = %d, want %d", b.ByteLen(), len(want)*2)
	}
}

func TestSampleBufferCopiesInput(t *testing.T) {
	b := NewSampleBuffer()

	// Capture sources reuse one read buffer; a later read must not
	// rewrite an earlier chunk.
	read := []int16{10, 20, 30}
	b.Append(read)
	read[0] = 99
	b.Append(read[:1])

	got := b.Concat()
	want := []int16{10, 20, 30, 99}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Concat()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSampleBufferReset(t *testing.T) {
	b := NewSampleBuffer()
	b.Append([]int16{1, 2, 3, 4})

	b.Reset()

	if b.Len() != 0 || b.Chunks() != 0 {
		t.Errorf("after Reset: Len() = %d, Chunks() = %d; want 0, 0", b.Len(), b.Chunks())
	}
}

func TestSampleBufferConcurrent(t *testing.T) {
	b := NewSampleBuffer()
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Append([]int16{int16(j)})
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = b.Concat()
			_ = b.Len()
		}
	}()

	wg.Wait()

	if b.Len() != 400 {
		t.Errorf("Len() = %d after 400 concurrent appends, want 400", b.Len())
	}
}
