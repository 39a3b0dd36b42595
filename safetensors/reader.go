package safetensors

import (
	"cmp"
	"encoding/binary"
	"encoding/json"
	"io"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// MMapReader provides access to the tensors of a .safetensors file through a memory-mapped io.ReaderAt.
type MMapReader struct {
	reader     *mmap.ReaderAt
	dataOffset int64
	Header     *Header
}

// Open memory-maps the .safetensors file at path and parses its header.
func Open(path string) (*MMapReader, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap %s", path)
	}
	header, dataOffset, err := parseHeader(reader, int64(reader.Len()))
	if err != nil {
		_ = reader.Close()
		return nil, errors.WithMessagef(err, "failed to parse header for %s", path)
	}
	return &MMapReader{
		reader:     reader,
		dataOffset: dataOffset,
		Header:     header,
	}, nil
}

// parseHeader reads and validates the header, and returns it with the offset of the data section.
func parseHeader(r io.ReaderAt, fileSize int64) (*Header, int64, error) {
	var sizeBytes [8]byte
	if _, err := r.ReadAt(sizeBytes[:], 0); err != nil {
		return nil, 0, errors.Wrap(err, "failed to read header size")
	}
	headerSize := binary.LittleEndian.Uint64(sizeBytes[:])
	if headerSize > MaxHeaderSize {
		return nil, 0, errors.Errorf("header size too large: %d bytes", headerSize)
	}
	if int64(headerSize) > fileSize-8 {
		return nil, 0, errors.Errorf("header size %d exceeds file size %d", headerSize, fileSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := r.ReadAt(headerBytes, 8); err != nil {
		return nil, 0, errors.Wrap(err, "failed to read header JSON")
	}
	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawHeader); err != nil {
		return nil, 0, errors.Wrap(err, "failed to parse header JSON")
	}

	header := &Header{
		Tensors:  make(map[string]*TensorMetadata),
		Metadata: make(map[string]string),
	}
	dataOffset := int64(8 + headerSize)
	dataSize := fileSize - dataOffset
	for key, value := range rawHeader {
		if key == MetadataKey {
			if err := json.Unmarshal(value, &header.Metadata); err != nil {
				return nil, 0, errors.Wrap(err, "failed to parse __metadata__")
			}
			continue
		}
		var tm TensorMetadata
		if err := json.Unmarshal(value, &tm); err != nil {
			return nil, 0, errors.Wrapf(err, "failed to parse tensor metadata for %s", key)
		}
		start, end := tm.DataOffsets[0], tm.DataOffsets[1]
		if start < 0 || end < start || end > dataSize {
			return nil, 0, errors.Errorf("tensor %s has invalid data offsets [%d, %d) for a data section of %d bytes",
				key, start, end, dataSize)
		}
		tm.Name = key
		header.Tensors[key] = &tm
	}
	return header, dataOffset, nil
}

// Close closes the underlying memory-mapped file.
func (mr *MMapReader) Close() error {
	return mr.reader.Close()
}

// ListTensorNames returns the names of the tensors in the file, in data order.
func (mr *MMapReader) ListTensorNames() []string {
	names := make([]string, 0, len(mr.Header.Tensors))
	for name := range mr.Header.Tensors {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		return cmp.Compare(mr.Header.Tensors[a].DataOffsets[0], mr.Header.Tensors[b].DataOffsets[0])
	})
	return names
}

// ReadTensor reads a tensor by name from the memory-mapped file.
func (mr *MMapReader) ReadTensor(tensorName string) (*tensors.Tensor, error) {
	meta, ok := mr.Header.Tensors[tensorName]
	if !ok {
		return nil, errors.Errorf("tensor %s not found", tensorName)
	}
	dtype, err := dtypeToGoMLX(meta.Dtype)
	if err != nil {
		return nil, errors.WithMessagef(err, "tensor %s", tensorName)
	}

	t := tensors.FromShape(shapes.Make(dtype, meta.Shape...))
	tensorOffset := mr.dataOffset + meta.DataOffsets[0]
	var readErr error
	err = t.MutableBytes(func(data []byte) {
		storedBytes := meta.DataOffsets[1] - meta.DataOffsets[0]
		if int64(len(data)) != storedBytes {
			readErr = errors.Errorf("tensor %s of shape %s needs %d bytes, but the file holds %d bytes",
				tensorName, t.Shape(), len(data), storedBytes)
			return
		}
		_, readErr = mr.reader.ReadAt(data, tensorOffset)
		if readErr != nil && readErr != io.EOF {
			readErr = errors.Wrapf(readErr, "failed to read tensor %s", tensorName)
		} else {
			readErr = nil
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to access the storage of tensor %s", tensorName)
	}
	if readErr != nil {
		return nil, readErr
	}
	return t, nil
}
