package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/gomlx/go-fasttext/internal/files"
	"github.com/pkg/errors"
)

// Write stores the tensors, in the given order, and the optional metadata into a .safetensors file at path.
//
// The file is replaced atomically.
func Write(path string, namedTensors []TensorAndName, metadata map[string]string) error {
	headerBytes, err := encodeHeader(namedTensors, metadata)
	if err != nil {
		return errors.WithMessagef(err, "failed to write %s", path)
	}
	return files.WriteAtomic(path, func(w io.Writer) error {
		var sizeBytes [8]byte
		binary.LittleEndian.PutUint64(sizeBytes[:], uint64(len(headerBytes)))
		if _, err := w.Write(sizeBytes[:]); err != nil {
			return errors.Wrap(err, "failed to write header size")
		}
		if _, err := w.Write(headerBytes); err != nil {
			return errors.Wrap(err, "failed to write header")
		}
		for _, tn := range namedTensors {
			var writeErr error
			err := tn.Tensor.ConstBytes(func(data []byte) {
				_, writeErr = w.Write(data)
			})
			if err != nil {
				return errors.WithMessagef(err, "failed to access tensor %s", tn.Name)
			}
			if writeErr != nil {
				return errors.Wrapf(writeErr, "failed to write tensor %s", tn.Name)
			}
		}
		return nil
	})
}

// encodeHeader returns the JSON header, padded with spaces to a multiple of 8 bytes.
func encodeHeader(namedTensors []TensorAndName, metadata map[string]string) ([]byte, error) {
	rawHeader := make(map[string]any, len(namedTensors)+1)
	if len(metadata) > 0 {
		rawHeader[MetadataKey] = metadata
	}
	var offset int64
	for _, tn := range namedTensors {
		if tn.Name == "" || tn.Name == MetadataKey {
			return nil, errors.Errorf("invalid tensor name %q", tn.Name)
		}
		if _, found := rawHeader[tn.Name]; found {
			return nil, errors.Errorf("tensor %s given more than once", tn.Name)
		}
		shape := tn.Tensor.Shape()
		dtype, err := dtypeFromGoMLX(shape.DType)
		if err != nil {
			return nil, errors.WithMessagef(err, "tensor %s", tn.Name)
		}
		var size int64
		err = tn.Tensor.ConstBytes(func(data []byte) {
			size = int64(len(data))
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to access tensor %s", tn.Name)
		}
		dims := shape.Dimensions
		if dims == nil {
			dims = []int{}
		}
		rawHeader[tn.Name] = &TensorMetadata{
			Dtype:       dtype,
			Shape:       dims,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}
	headerBytes, err := json.Marshal(rawHeader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode header")
	}
	for len(headerBytes)%8 != 0 {
		headerBytes = append(headerBytes, ' ')
	}
	return headerBytes, nil
}
