package fasttext

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Lookup replaces each id of the Int32 or Int64 tensor ids (of any shape, including scalars) by its vector.
// The result is a Float32 tensor shaped ids.Shape().Dimensions + [Dim()].
//
// While the configuration TrainState is true and Dropout > 0, dropout is applied to the result: each value is zeroed
// with probability Dropout, and the others are scaled by 1/(1-Dropout). The table itself is never modified.
//
// It returns an error wrapping ErrIndexOutOfRange if any id is outside [0, VocabSize()).
func (e *Embedding) Lookup(ids *tensors.Tensor) (*tensors.Tensor, error) {
	if ids == nil {
		return nil, errors.New("ids tensor is nil")
	}
	shape := ids.Shape()
	var flatIDs []int64
	var err error
	switch shape.DType {
	case dtypes.Int32:
		err = tensors.ConstFlatData(ids, func(flat []int32) {
			flatIDs = make([]int64, len(flat))
			for i, id := range flat {
				flatIDs[i] = int64(id)
			}
		})
	case dtypes.Int64:
		err = tensors.ConstFlatData(ids, func(flat []int64) {
			flatIDs = slices.Clone(flat)
		})
	default:
		return nil, errors.Errorf("ids must be Int32 or Int64, got %s", shape.DType)
	}
	if err != nil {
		return nil, errors.WithMessage(err, "failed to access the ids tensor")
	}

	flat := make([]float32, len(flatIDs)*e.dim)
	if err := e.gather(flatIDs, flat); err != nil {
		return nil, err
	}
	outDims := append(slices.Clone(shape.Dimensions), e.dim)
	return tensors.FromFlatDataAndDimensions(flat, outDims...), nil
}

// LookupIDs returns the vectors of the given ids, see Lookup.
func (e *Embedding) LookupIDs(ids []int) ([][]float32, error) {
	flatIDs := make([]int64, len(ids))
	for i, id := range ids {
		flatIDs[i] = int64(id)
	}
	flat := make([]float32, len(ids)*e.dim)
	if err := e.gather(flatIDs, flat); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(ids))
	for i := range vectors {
		vectors[i] = flat[i*e.dim : (i+1)*e.dim : (i+1)*e.dim]
	}
	return vectors, nil
}

// LookupTokens returns the vectors of the given tokens, see Lookup. Tokens not in the vocabulary use the unknown
// token's vector if the vocabulary has one, and are an error otherwise.
func (e *Embedding) LookupTokens(tokens []string) ([][]float32, error) {
	ids, err := e.vocab.IDs(tokens)
	if err != nil {
		return nil, err
	}
	return e.LookupIDs(ids)
}

// gather copies the rows of ids into dst (len(ids)*dim values) and applies dropout if active.
func (e *Embedding) gather(ids []int64, dst []float32) error {
	vocabSize := int64(e.VocabSize())
	for i, id := range ids {
		if id < 0 || id >= vocabSize {
			return errors.Wrapf(ErrIndexOutOfRange, "id %d at flat position %d not in [0, %d)", id, i, vocabSize)
		}
	}
	err := e.withRows(func(rows []float32) {
		dim := int64(e.dim)
		for i, id := range ids {
			copy(dst[int64(i)*dim:int64(i+1)*dim], rows[id*dim:(id+1)*dim])
		}
	})
	if err != nil {
		return err
	}
	if e.config.TrainState && e.config.Dropout > 0 {
		e.dropout(dst)
	}
	return nil
}

// dropout zeroes each value with probability config.Dropout and scales the kept ones to preserve the expectation.
func (e *Embedding) dropout(values []float32) {
	p := e.config.Dropout
	scale := float32(1 / (1 - p))
	e.muRand.Lock()
	defer e.muRand.Unlock()
	for i := range values {
		if e.rng.Float64() < p {
			values[i] = 0
		} else {
			values[i] *= scale
		}
	}
}
