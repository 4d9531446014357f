package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Error definitions for the audio package.
var (
	ErrShapeMismatch   = errors.New("tensor shape does not match data length")
	ErrNotSqueezable   = errors.New("leading tensor dimension is not 1")
	ErrEmptyTensor     = errors.New("tensor has no samples")
	ErrUnsupportedWAV  = errors.New("unsupported WAV encoding")
	ErrInvalidRawInput = errors.New("raw float32 payload length is not a multiple of 4")
)

// Tensor is the model's raw output: a row-major float32 array with a shape.
type Tensor struct {
	Shape []int
	Data  []float32

	// SampleRate is set when the producer knows it (for example a decoded WAV).
	SampleRate int
}

// Dim returns the tensor rank.
func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Waveform is a [channels, samples] view over a normalized tensor.
type Waveform struct {
	Channels int
	Samples  int
	// Data holds channel 0 first, then channel 1, and so on.
	Data []float32
}

// At returns sample i of channel c.
func (w *Waveform) At(c, i int) float32 {
	return w.Data[c*w.Samples+i]
}

// Duration returns the playback length in seconds at sampleRate.
func (w *Waveform) Duration(sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(w.Samples) / float64(sampleRate)
}

// Normalize flattens a model tensor to [channels, samples]. Leading size-1
// dimensions are squeezed until the rank is 2 and a rank-1 tensor becomes a
// single channel.
func Normalize(t *Tensor) (*Waveform, error) {
	if t == nil || len(t.Shape) == 0 {
		return nil, ErrEmptyTensor
	}

	total := 1
	for _, d := range t.Shape {
		total *= d
	}
	if total != len(t.Data) {
		return nil, fmt.Errorf("%w: shape %v, %d values", ErrShapeMismatch, t.Shape, len(t.Data))
	}
	if total == 0 {
		return nil, ErrEmptyTensor
	}

	shape := t.Shape
	for len(shape) > 2 {
		if shape[0] != 1 {
			return nil, fmt.Errorf("%w: shape %v", ErrNotSqueezable, t.Shape)
		}
		shape = shape[1:]
	}

	if len(shape) == 1 {
		return &Waveform{Channels: 1, Samples: shape[0], Data: t.Data}, nil
	}

	return &Waveform{Channels: shape[0], Samples: shape[1], Data: t.Data}, nil
}

// DecodeRawFloat32 reads little-endian float32 values into a tensor of the
// given shape.
func DecodeRawFloat32(payload []byte, shape []int) (*Tensor, error) {
	if len(payload)%4 != 0 {
		return nil, ErrInvalidRawInput
	}

	data := make([]float32, len(payload)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}

	if len(shape) == 0 {
		shape = []int{len(data)}
	}

	return &Tensor{Shape: shape, Data: data}, nil
}
