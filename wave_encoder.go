package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	wavHeaderSize   = 44
	wavFmtChunkSize = 16
	wavFormatPCM    = 1
	pcmMaxAmplitude = 32767
)

// ErrInvalidWAV is returned when a byte stream is not a mono PCM16 RIFF/WAVE file.
var ErrInvalidWAV = errors.New("wav: invalid or unsupported container")

// ErrWAVTooLarge is returned when the payload cannot be described by the
// 32-bit RIFF length fields.
var ErrWAVTooLarge = errors.New("wav: recording exceeds RIFF size limit")

// wavHeader is the canonical 44-byte single fmt/data chunk header.
// Field order matches the on-disk layout so binary.Write emits it verbatim.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data length
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 = PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * BlockAlign
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // sample count * 2
}

// WAVInfo summarises a decoded container.
type WAVInfo struct {
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
	DataLength    uint32
	Duration      time.Duration
}

// Normalize maps a PCM16 sample onto [-1, 1] by dividing by 32767.
// -32768 lands marginally below -1; Quantize16 clamps it back.
func Normalize(s int16) float32 {
	return float32(s) / pcmMaxAmplitude
}

// NormalizeChunk converts a PCM16 chunk into a fresh float slice.
func NormalizeChunk(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = Normalize(s)
	}
	return out
}

// Quantize16 clamps f to [-1, 1], scales by 32767 and truncates toward zero.
func Quantize16(f float32) int16 {
	switch {
	case f > 1:
		f = 1
	case f < -1:
		f = -1
	case math.IsNaN(float64(f)):
		f = 0
	}
	return int16(f * pcmMaxAmplitude)
}

// EncodeWAV serialises normalized mono samples into a 16-bit PCM WAV.
// An empty input produces a bare 44-byte header with a zero data length.
func EncodeWAV(samples []float32, sampleRate uint32) ([]byte, error) {
	dataLen := uint64(len(samples)) * 2
	if dataLen+36 > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d samples", ErrWAVTooLarge, len(samples))
	}

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataLen),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: wavFmtChunkSize,
		AudioFormat:   wavFormatPCM,
		NumChannels:   1,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataLen),
	}

	pcm := make([]int16, len(samples))
	for i, f := range samples {
		pcm[i] = Quantize16(f)
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataLen)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("wav: write header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, pcm); err != nil {
		return nil, fmt.Errorf("wav: write samples: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV parses a RIFF/WAVE container holding mono 16-bit PCM and returns
// its format together with the samples. Unknown chunks (LIST, fact, ...) are
// skipped, so files written by other encoders decode as well.
func DecodeWAV(data []byte) (WAVInfo, []int16, error) {
	var info WAVInfo
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return info, nil, fmt.Errorf("%w: missing RIFF/WAVE preamble", ErrInvalidWAV)
	}

	var (
		haveFmt bool
		payload []byte
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) {
			// Streaming encoders sometimes leave a placeholder data length.
			if id == "data" {
				end = len(data)
			} else {
				return info, nil, fmt.Errorf("%w: chunk %q overruns file", ErrInvalidWAV, id)
			}
		}

		switch id {
		case "fmt ":
			if size < wavFmtChunkSize {
				return info, nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			if f := binary.LittleEndian.Uint16(data[body:]); f != wavFormatPCM {
				return info, nil, fmt.Errorf("%w: audio format %d is not PCM", ErrInvalidWAV, f)
			}
			info.Channels = binary.LittleEndian.Uint16(data[body+2:])
			info.SampleRate = binary.LittleEndian.Uint32(data[body+4:])
			info.BitsPerSample = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			payload = data[body:end]
		}
		if payload != nil {
			break
		}
		pos = end + size%2 // chunks are word aligned
	}

	switch {
	case !haveFmt:
		return info, nil, fmt.Errorf("%w: no fmt chunk before data", ErrInvalidWAV)
	case payload == nil:
		return info, nil, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
	case info.Channels != 1:
		return info, nil, fmt.Errorf("%w: %d channels, want mono", ErrInvalidWAV, info.Channels)
	case info.BitsPerSample != 16:
		return info, nil, fmt.Errorf("%w: %d bits per sample, want 16", ErrInvalidWAV, info.BitsPerSample)
	case info.SampleRate == 0:
		return info, nil, fmt.Errorf("%w: zero sample rate", ErrInvalidWAV)
	}

	pcm := DecodePCM16(payload)
	info.DataLength = uint32(len(pcm) * 2)
	info.Duration = time.Duration(len(pcm)) * time.Second / time.Duration(info.SampleRate)
	return info, pcm, nil
}

// DecodePCM16 reads little-endian 16-bit samples. A trailing odd byte is ignored.
func DecodePCM16(payload []byte) []int16 {
	pcm := make([]int16, len(payload)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	return pcm
}
