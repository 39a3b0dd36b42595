package fasttext

import (
	"maps"
	"math/rand/v2"
	"sync"

	"github.com/gomlx/go-fasttext/vecfile"
	"github.com/gomlx/go-fasttext/vocab"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Embedding is a table of word vectors indexed by vocabulary id.
//
// The table is immutable after construction. Lookup is safe for concurrent use.
type Embedding struct {
	vocab  *vocab.Vocab
	table  *tensors.Tensor
	dim    int
	config Config

	muRand sync.Mutex
	rng    *rand.Rand
}

// New creates an Embedding from a vocabulary and a table with shape [vocabulary.Len(), embed_dim] and dtype Float32.
func New(vocabulary *vocab.Vocab, table *tensors.Tensor, config Config) (*Embedding, error) {
	if vocabulary == nil || table == nil {
		return nil, errors.New("vocabulary and table must be given")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	shape := table.Shape()
	if shape.DType != dtypes.Float32 {
		return nil, errors.Errorf("embedding table must be Float32, got %s", shape.DType)
	}
	if len(shape.Dimensions) != 2 {
		return nil, errors.Errorf("embedding table must have rank 2 ([vocab_size, embed_dim]), got shape %s", shape)
	}
	if shape.Dimensions[0] != vocabulary.Len() {
		return nil, errors.Errorf("embedding table has %d rows but the vocabulary has %d tokens",
			shape.Dimensions[0], vocabulary.Len())
	}
	return &Embedding{
		vocab:  vocabulary,
		table:  table,
		dim:    shape.Dimensions[1],
		config: config,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}, nil
}

// newFromTable creates an Embedding from vectors in vocabulary order.
func newFromTable(vocabulary *vocab.Vocab, table *vecfile.Table, config Config) (*Embedding, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return New(vocabulary, tensors.FromFlatDataAndDimensions(table.Data, table.Len(), table.Dim), config)
}

// NewFromVectors assembles an Embedding from parsed vectors, adding the special tokens to the vocabulary and their
// rows to the table: a random row (uniform in [0, 1), drawn from rng) for the unknown token and a zero row for the
// padding token. Both are inserted at the front if specialFirst, or at the back otherwise.
//
// If rng is nil a randomly seeded one is used.
func NewFromVectors(vectors *vecfile.Table, specials vocab.Specials, specialFirst bool, rng *rand.Rand, config Config) (*Embedding, *vocab.Vocab, error) {
	if err := vectors.Validate(); err != nil {
		return nil, nil, err
	}
	vocabulary, err := vocab.FromList(vectors.Tokens, specials, specialFirst)
	if err != nil {
		return nil, nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	dim := vectors.Dim
	specialRows := make([]float32, 2*dim) // Unknown row (random) followed by padding row (zeros).
	for i := range dim {
		specialRows[i] = rng.Float32()
	}

	data := make([]float32, 0, len(vectors.Data)+len(specialRows))
	if specialFirst {
		data = append(data, specialRows...)
		data = append(data, vectors.Data...)
	} else {
		data = append(data, vectors.Data...)
		data = append(data, specialRows...)
	}
	emb, err := newFromTable(vocabulary, &vecfile.Table{Tokens: vocabulary.Tokens(), Dim: dim, Data: data}, config)
	if err != nil {
		return nil, nil, err
	}
	return emb, vocabulary, nil
}

// Vocab returns the vocabulary of the embedding.
func (e *Embedding) Vocab() *vocab.Vocab {
	return e.vocab
}

// Table returns the [VocabSize(), Dim()] Float32 tensor with the vectors. It must not be modified.
func (e *Embedding) Table() *tensors.Tensor {
	return e.table
}

// VocabSize returns the number of rows in the table.
func (e *Embedding) VocabSize() int {
	return e.vocab.Len()
}

// Dim returns the embedding dimension.
func (e *Embedding) Dim() int {
	return e.dim
}

// Config returns a copy of the embedding configuration.
func (e *Embedding) Config() Config {
	c := e.config
	c.Extra = maps.Clone(e.config.Extra)
	return c
}

// SetTrainState switches between training (dropout active) and inference. It must not be called concurrently
// with Lookup.
func (e *Embedding) SetTrainState(train bool) {
	e.config.TrainState = train
}

// SetRand sets the random number generator used for dropout, e.g. to make it deterministic.
func (e *Embedding) SetRand(rng *rand.Rand) {
	e.muRand.Lock()
	defer e.muRand.Unlock()
	e.rng = rng
}

// Row returns a copy of the vector for the given id, without dropout.
func (e *Embedding) Row(id int) ([]float32, error) {
	if id < 0 || id >= e.VocabSize() {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "id %d not in [0, %d)", id, e.VocabSize())
	}
	row := make([]float32, e.dim)
	err := e.withRows(func(rows []float32) {
		copy(row, rows[id*e.dim:(id+1)*e.dim])
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// vectors returns a copy of the table as a vecfile.Table in vocabulary order.
func (e *Embedding) vectors() (*vecfile.Table, error) {
	data := make([]float32, e.VocabSize()*e.dim)
	err := e.withRows(func(rows []float32) {
		copy(data, rows)
	})
	if err != nil {
		return nil, err
	}
	return &vecfile.Table{Tokens: e.vocab.Tokens(), Dim: e.dim, Data: data}, nil
}

// withRows calls fn with the flat table values, without invalidating on-device copies of the table.
// fn must not modify or keep them.
func (e *Embedding) withRows(fn func(rows []float32)) error {
	err := tensors.ConstFlatData(e.table, fn)
	if err != nil {
		return errors.WithMessage(err, "failed to access the embedding table")
	}
	return nil
}
