// Package safetensors reads and writes tensors in the safetensors format, used to exchange
// embedding tables with other frameworks.
//
// Format:
//
//	[8 bytes: header size as little-endian u64]
//	[header_size bytes: JSON header, padded with spaces to a multiple of 8]
//	[remaining bytes: tensor data, row-major little-endian]
//
// Example:
//
//	err := safetensors.Write(path, []safetensors.TensorAndName{{Name: "weight", Tensor: table}}, nil)
//	...
//	reader, err := safetensors.Open(path)
//	if err != nil {
//		panic(err)
//	}
//	defer reader.Close()
//	table, err := reader.ReadTensor("weight")
package safetensors

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// MetadataKey is the reserved header key holding the free-form string metadata.
const MetadataKey = "__metadata__"

// MaxHeaderSize is the largest JSON header accepted when reading.
const MaxHeaderSize = 100 * 1024 * 1024

// Header represents the JSON header of a safetensors file.
type Header struct {
	Tensors  map[string]*TensorMetadata // Tensor name -> metadata
	Metadata map[string]string          // Optional __metadata__ field
}

// TensorMetadata represents metadata for a single tensor in a safetensors file.
type TensorMetadata struct {
	Name        string   `json:"-"`            // Tensor name (from map key)
	Dtype       string   `json:"dtype"`        // Data type: F32, F64, I32, I64, etc.
	Shape       []int    `json:"shape"`        // Tensor dimensions
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) byte offsets relative to the data section
}

// TensorAndName holds a tensor name and its GoMLX tensor data.
type TensorAndName struct {
	Name   string
	Tensor *tensors.Tensor
}

// safetensorToGoMLXDtype maps safetensor dtype names to GoMLX dtype names.
var safetensorToGoMLXDtype = map[string]string{
	"I8":   "Int8",
	"I16":  "Int16",
	"I32":  "Int32",
	"I64":  "Int64",
	"U8":   "Uint8",
	"U16":  "Uint16",
	"U32":  "Uint32",
	"U64":  "Uint64",
	"F16":  "Float16",
	"F32":  "Float32",
	"F64":  "Float64",
	"BF16": "BFloat16",
	"BOOL": "Bool",
}

func dtypeToGoMLX(stDtype string) (dtypes.DType, error) {
	if gomlxName, found := safetensorToGoMLXDtype[stDtype]; found {
		if dtype, found := dtypes.MapOfNames[gomlxName]; found {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unsupported safetensor dtype %q", stDtype)
}

func dtypeFromGoMLX(dtype dtypes.DType) (string, error) {
	for stDtype, gomlxName := range safetensorToGoMLXDtype {
		if candidate, found := dtypes.MapOfNames[gomlxName]; found && candidate == dtype {
			return stDtype, nil
		}
	}
	return "", errors.Errorf("dtype %s cannot be stored in a safetensors file", dtype)
}
