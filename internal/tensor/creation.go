package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Zeros creates a zero-filled tensor on the CPU.
// Panics on an invalid shape; callers validate shapes before allocating.
//
// Example:
//
//	vid := tensor.Zeros(tensor.Shape{3, 3, 64, 64}, tensor.Float32)
func Zeros(shape Shape, dtype DataType) *RawTensor {
	raw, err := NewRaw(shape, dtype, CPU)
	if err != nil {
		panic(err) // Shape validation should prevent this
	}
	return raw
}

// ZerosLike creates a zero-filled tensor with the shape and dtype of t.
func ZerosLike(t *RawTensor) *RawTensor {
	return Zeros(t.Shape(), t.DType())
}

// Full creates a float32 tensor filled with a specific value.
func Full(shape Shape, value float32) *RawTensor {
	t := Zeros(shape, Float32)
	data := t.AsFloat32()
	for i := range data {
		data[i] = value
	}
	return t
}

// FromFloat32 creates a float32 tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	raw, err := NewRaw(shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	copy(raw.AsFloat32(), data)
	return raw, nil
}

// FromInt32 creates an int32 tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromInt32(data []int32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	raw, err := NewRaw(shape, Int32, CPU)
	if err != nil {
		return nil, err
	}
	copy(raw.AsInt32(), data)
	return raw, nil
}

// Rand creates a float32 tensor with values uniformly distributed in [0, 1).
// A nil rng uses the package-level source.
func Rand(shape Shape, rng *rand.Rand) *RawTensor {
	t := Zeros(shape, Float32)
	data := t.AsFloat32()
	for i := range data {
		if rng != nil {
			data[i] = rng.Float32()
		} else {
			data[i] = rand.Float32() //nolint:gosec // G404: test data, not crypto
		}
	}
	return t
}

// Randn creates a float32 tensor with values from a normal distribution (mean=0, std=1).
// Uses Box-Muller transform for generating normal distribution.
func Randn(shape Shape, rng *rand.Rand) *RawTensor {
	t := Zeros(shape, Float32)
	data := t.AsFloat32()
	uniform := rand.Float64 //nolint:gosec // G404: test data, not crypto
	if rng != nil {
		uniform = rng.Float64
	}
	for i := 0; i < len(data); i += 2 {
		u1 := 1 - uniform() // (0, 1] keeps the log finite
		u2 := uniform()
		z0 := math.Sqrt(-2.0*math.Log(u1)) * math.Cos(2.0*math.Pi*u2)
		z1 := math.Sqrt(-2.0*math.Log(u1)) * math.Sin(2.0*math.Pi*u2)
		data[i] = float32(z0)
		if i+1 < len(data) {
			data[i+1] = float32(z1)
		}
	}
	return t
}
