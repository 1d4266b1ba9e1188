// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"math/rand"

	"github.com/born-ml/dnls/internal/tensor"
)

// RawTensor is the tensor representation shared by every operator.
//
// RawTensor provides:
//   - Shape and type information via Shape(), DType(), Device()
//   - Typed views via AsFloat32(), AsInt32(), AsFloat64()
//   - Shared clones via Clone() and deep copies via Copy()
//
// Example:
//
//	raw, _ := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
//	data := raw.AsFloat32()
type RawTensor = tensor.RawTensor

// Shape represents tensor dimensions.
type Shape = tensor.Shape

// DataType is the runtime element type of a RawTensor.
type DataType = tensor.DataType

// Device is the compute device holding a tensor.
type Device = tensor.Device

// Supported data types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
	Int32   = tensor.Int32
)

// CPU is the only supported device.
const CPU = tensor.CPU

// NewRaw allocates a zeroed tensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// Zeros creates a zero-filled CPU tensor. It panics on an invalid shape.
func Zeros(shape Shape, dtype DataType) *RawTensor {
	return tensor.Zeros(shape, dtype)
}

// Full creates a float32 tensor filled with value.
func Full(shape Shape, value float32) *RawTensor {
	return tensor.Full(shape, value)
}

// FromFloat32 copies data into a new float32 tensor.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	return tensor.FromFloat32(data, shape)
}

// FromInt32 copies data into a new int32 tensor.
func FromInt32(data []int32, shape Shape) (*RawTensor, error) {
	return tensor.FromInt32(data, shape)
}

// Rand creates a float32 tensor with values uniform in [0, 1).
func Rand(shape Shape, rng *rand.Rand) *RawTensor {
	return tensor.Rand(shape, rng)
}

// Randn creates a float32 tensor with standard normal values.
func Randn(shape Shape, rng *rand.Rand) *RawTensor {
	return tensor.Randn(shape, rng)
}
