package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawTensorViewsAreZeroCopy(t *testing.T) {
	raw, err := NewRaw(Shape{3, 2}, Float32, CPU)
	require.NoError(t, err)
	data := raw.AsFloat32()
	require.Len(t, data, 6)

	data[0] = 42
	if raw.AsFloat32()[0] != 42 {
		t.Error("AsFloat32 should return zero-copy slice")
	}

	ints, _ := NewRaw(Shape{2, 3}, Int32, CPU)
	ints.AsInt32()[5] = -1
	assert.Equal(t, int32(-1), ints.AsInt32()[5])
	assert.Equal(t, 24, ints.ByteSize())
}

func TestNewRawInvalidShape(t *testing.T) {
	for _, shape := range []Shape{{0, 3}, {2, -1}} {
		_, err := NewRaw(shape, Float32, CPU)
		assert.Error(t, err, "shape %v", shape)
	}
}

func TestRawTensorWrongTypePanics(t *testing.T) {
	raw, _ := NewRaw(Shape{2}, Int32, CPU)
	assert.Panics(t, func() { raw.AsFloat32() })

	f, _ := NewRaw(Shape{2}, Float32, CPU)
	assert.Panics(t, func() { f.AsInt32() })
	assert.Panics(t, func() { f.AsFloat64() })
}

func TestRawTensorCloneIsShared(t *testing.T) {
	raw, _ := NewRaw(Shape{4}, Float32, CPU)
	require.True(t, raw.IsUnique())

	clone := raw.Clone()
	assert.False(t, raw.IsUnique())
	assert.False(t, clone.IsUnique())

	clone.AsFloat32()[1] = 7
	assert.Equal(t, float32(7), raw.AsFloat32()[1], "clones share their buffer")

	clone.Release()
	assert.True(t, raw.IsUnique())
}

func TestRawTensorCopyIsDeep(t *testing.T) {
	raw, _ := FromFloat32([]float32{1, 2, 3}, Shape{3})
	cp := raw.Copy()
	cp.AsFloat32()[0] = 10

	assert.Equal(t, float32(1), raw.AsFloat32()[0])
	assert.True(t, cp.IsUnique())
	assert.True(t, raw.IsUnique())
	assert.Equal(t, raw.Shape(), cp.Shape())
}

func TestRawTensorForceNonUnique(t *testing.T) {
	raw, _ := NewRaw(Shape{2}, Float32, CPU)
	restore := raw.ForceNonUnique()
	assert.False(t, raw.IsUnique())
	restore()
	assert.True(t, raw.IsUnique())
}

func TestShapeVolumeDims(t *testing.T) {
	frames, channels, height, width, err := Shape{3, 2, 8, 9}.VolumeDims()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 8, 9}, []int{frames, channels, height, width})

	_, _, _, _, err = Shape{2, 8, 9}.VolumeDims()
	assert.Error(t, err)
}

func TestShapeStrides(t *testing.T) {
	assert.Equal(t, []int{72, 36, 9, 1}, Shape{3, 2, 4, 9}.ComputeStrides())
	assert.Equal(t, 216, Shape{3, 2, 4, 9}.NumElements())
}
