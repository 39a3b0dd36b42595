package fasttext

import (
	"context"
	"encoding/json"

	"github.com/gomlx/go-fasttext/safetensors"
	"github.com/gomlx/go-fasttext/vocab"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// SafetensorsWeightName is the name of the table tensor in exported .safetensors files.
	SafetensorsWeightName = "weight"

	// Metadata keys of exported .safetensors files, both holding JSON.
	safetensorsTokensKey = "tokens"
	safetensorsConfigKey = "config"
)

// ExportSafetensors writes the table as the tensor SafetensorsWeightName to a .safetensors file, with the
// vocabulary tokens and the configuration stored as JSON in the file metadata.
func (e *Embedding) ExportSafetensors(path string) error {
	tokensJSON, err := json.Marshal(e.vocab.Tokens())
	if err != nil {
		return errors.Wrap(err, "failed to encode vocabulary")
	}
	configJSON, err := json.Marshal(e.config)
	if err != nil {
		return errors.Wrap(err, "failed to encode embedding configuration")
	}
	return safetensors.Write(path,
		[]safetensors.TensorAndName{{Name: SafetensorsWeightName, Tensor: e.table}},
		map[string]string{
			safetensorsTokensKey: string(tokensJSON),
			safetensorsConfigKey: string(configJSON),
		})
}

// ImportSafetensors reads an embedding exported with ExportSafetensors.
//
// As with LoadFrom, the vocabulary is rebuilt from the stored tokens without adding special tokens, and a missing
// configuration takes the values of DefaultConfig().
func ImportSafetensors(ctx context.Context, path string) (*Embedding, error) {
	reader, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	tokensJSON, found := reader.Header.Metadata[safetensorsTokensKey]
	if !found {
		return nil, errors.Errorf("%s has no %q metadata", path, safetensorsTokensKey)
	}
	var tokens []string
	if err := json.Unmarshal([]byte(tokensJSON), &tokens); err != nil {
		return nil, errors.Wrapf(err, "failed to parse the tokens of %s", path)
	}
	config := DefaultConfig()
	if configJSON, found := reader.Header.Metadata[safetensorsConfigKey]; found {
		if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
			return nil, errors.WithMessagef(err, "while reading the configuration of %s", path)
		}
	}

	vocabulary, err := vocab.FromTokens(tokens)
	if err != nil {
		return nil, errors.WithMessagef(err, "while importing embedding from %s", path)
	}
	table, err := reader.ReadTensor(SafetensorsWeightName)
	if err != nil {
		return nil, errors.WithMessagef(err, "while importing embedding from %s", path)
	}
	emb, err := New(vocabulary, table, config)
	if err != nil {
		return nil, errors.WithMessagef(err, "while importing embedding from %s", path)
	}
	klog.FromContext(ctx).V(1).Info("imported embedding", "path", path, "vocab_size", emb.VocabSize(), "dims", emb.Dim())
	return emb, nil
}
