// Package audio converts model output tensors into cached WAV files.
package audio

import (
	"bytes"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// SampleRate is the rate cached audio is written at.
	SampleRate = 24000

	// BitDepth of cached audio.
	BitDepth = 16

	// ContentType of cached audio.
	ContentType = "audio/wav"

	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// EncodeWAV writes w as 16-bit PCM. Samples outside [-1, 1] are clamped.
func EncodeWAV(ws io.WriteSeeker, w *Waveform, sampleRate int) error {
	if w == nil || w.Samples == 0 || w.Channels == 0 {
		return ErrEmptyTensor
	}
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}

	interleaved := make([]int, w.Channels*w.Samples)
	for i := 0; i < w.Samples; i++ {
		for c := 0; c < w.Channels; c++ {
			interleaved[i*w.Channels+c] = toPCM16(w.At(c, i))
		}
	}

	enc := wav.NewEncoder(ws, sampleRate, BitDepth, w.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: w.Channels, SampleRate: sampleRate},
		Data:           interleaved,
		SourceBitDepth: BitDepth,
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalize wav: %w", err)
	}

	return nil
}

// DecodeWAV reads a PCM or 32-bit float WAV into a [channels, samples] tensor
// with values in [-1, 1].
func DecodeWAV(data []byte) (*Tensor, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrUnsupportedWAV)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: read pcm: %w", err)
	}

	channels := int(dec.NumChans)
	if channels == 0 || len(buf.Data) == 0 {
		return nil, ErrEmptyTensor
	}

	var scale func(int) float32
	switch {
	case dec.WavAudioFormat == wavFormatFloat && dec.BitDepth == 32:
		scale = func(v int) float32 { return math.Float32frombits(uint32(v)) }
	case dec.WavAudioFormat == wavFormatPCM && dec.BitDepth == 8:
		scale = func(v int) float32 { return float32(v-128) / 128 }
	case dec.WavAudioFormat == wavFormatPCM && dec.BitDepth <= 32:
		full := float32(int64(1) << (dec.BitDepth - 1))
		scale = func(v int) float32 { return float32(v) / full }
	default:
		return nil, fmt.Errorf("%w: format %d, %d bits", ErrUnsupportedWAV, dec.WavAudioFormat, dec.BitDepth)
	}

	samples := len(buf.Data) / channels
	out := make([]float32, channels*samples)
	for i := 0; i < samples; i++ {
		for c := 0; c < channels; c++ {
			out[c*samples+i] = scale(buf.Data[i*channels+c])
		}
	}

	return &Tensor{
		Shape:      []int{channels, samples},
		Data:       out,
		SampleRate: int(dec.SampleRate),
	}, nil
}

func toPCM16(s float32) int {
	switch {
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	return int(s * math.MaxInt16)
}
