package safetensors

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatValues[T dtypes.Supported](t *testing.T, tensor *tensors.Tensor) []T {
	values, err := tensors.CopyFlatData[T](tensor)
	require.NoError(t, err)
	return values
}

func TestWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	weight := tensors.FromFlatDataAndDimensions([]float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, 3, 2)
	ids := tensors.FromFlatDataAndDimensions([]int32{7, 8, 9}, 3)
	metadata := map[string]string{"format": "pt"}
	require.NoError(t, Write(path, []TensorAndName{{Name: "weight", Tensor: weight}, {Name: "ids", Tensor: ids}}, metadata))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	headerSize := binary.LittleEndian.Uint64(content[:8])
	assert.Zero(t, headerSize%8, "header must be 8 bytes aligned")
	assert.Equal(t, int(8+headerSize+6*4+3*4), len(content))

	reader, err := Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, reader.Close()) }()
	assert.Equal(t, metadata, reader.Header.Metadata)
	assert.Equal(t, []string{"weight", "ids"}, reader.ListTensorNames())

	meta := reader.Header.Tensors["weight"]
	assert.Equal(t, "F32", meta.Dtype)
	assert.Equal(t, []int{3, 2}, meta.Shape)
	assert.Equal(t, [2]int64{0, 24}, meta.DataOffsets)
	assert.Equal(t, "weight", meta.Name)

	got, err := reader.ReadTensor("weight")
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, got.Shape().DType)
	assert.Equal(t, []int{3, 2}, got.Shape().Dimensions)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, flatValues[float32](t, got))

	got, err = reader.ReadTensor("ids")
	require.NoError(t, err)
	assert.Equal(t, dtypes.Int32, got.Shape().DType)
	assert.Equal(t, []int32{7, 8, 9}, flatValues[int32](t, got))

	_, err = reader.ReadTensor("bias")
	require.ErrorContains(t, err, "not found")
}

func TestWriteWithoutMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.safetensors")
	require.NoError(t, Write(path, []TensorAndName{{Name: "w", Tensor: tensors.FromFlatDataAndDimensions([]float64{1, 2}, 2)}}, nil))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), MetadataKey)

	reader, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()
	assert.Empty(t, reader.Header.Metadata)
	got, err := reader.ReadTensor("w")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, flatValues[float64](t, got))
}

func TestWriteRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	w := tensors.FromFlatDataAndDimensions([]float32{1}, 1)
	for _, named := range [][]TensorAndName{
		{{Name: "", Tensor: w}},
		{{Name: MetadataKey, Tensor: w}},
		{{Name: "w", Tensor: w}, {Name: "w", Tensor: w}},
	} {
		path := filepath.Join(dir, "bad.safetensors")
		require.Error(t, Write(path, named, nil))
		assert.NoFileExists(t, path)
	}
}

func writeRaw(t *testing.T, header string, data []byte) string {
	path := filepath.Join(t.TempDir(), "raw.safetensors")
	content := binary.LittleEndian.AppendUint64(nil, uint64(len(header)))
	content = append(content, header...)
	content = append(content, data...)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestOpenCorrupted(t *testing.T) {
	_, err := Open(writeRaw(t, `{"w": {"dtype": "F32", "shape": [2], "data_offsets": [0, 8]}}`, make([]byte, 4)))
	require.ErrorContains(t, err, "invalid data offsets")

	_, err = Open(writeRaw(t, `{"w": `, nil))
	require.ErrorContains(t, err, "header JSON")

	path := filepath.Join(t.TempDir(), "huge.safetensors")
	require.NoError(t, os.WriteFile(path, binary.LittleEndian.AppendUint64(nil, 1000), 0644))
	_, err = Open(path)
	require.ErrorContains(t, err, "exceeds file size")

	_, err = Open(filepath.Join(t.TempDir(), "missing.safetensors"))
	require.Error(t, err)
}

func TestReadTensorMismatch(t *testing.T) {
	// Shape needs 8 bytes but offsets only cover 4.
	reader, err := Open(writeRaw(t, `{"w": {"dtype": "F32", "shape": [2], "data_offsets": [0, 4]}}`, make([]byte, 8)))
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()
	_, err = reader.ReadTensor("w")
	require.ErrorContains(t, err, "needs 8 bytes")

	quantized, err := Open(writeRaw(t, `{"w": {"dtype": "Q4", "shape": [2], "data_offsets": [0, 8]}}`, make([]byte, 8)))
	require.NoError(t, err)
	defer func() { _ = quantized.Close() }()
	_, err = quantized.ReadTensor("w")
	require.ErrorContains(t, err, "unsupported safetensor dtype")
}

func TestWriteFinalizedTensor(t *testing.T) {
	w := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)
	require.NoError(t, w.FinalizeAll())
	path := filepath.Join(t.TempDir(), "finalized.safetensors")
	require.Error(t, Write(path, []TensorAndName{{Name: "w", Tensor: w}}, nil))
	assert.NoFileExists(t, path)
}
