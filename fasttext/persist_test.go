package fasttext

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/go-fasttext/vecfile"
	"github.com/gomlx/go-fasttext/vocab"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	config := DefaultConfig()
	config.Dropout = 0.25
	config.Extra = map[string]any{"note": "wiki", "max_len": 64.0}
	emb, _, err := NewFromVectors(catDogVectors(), vocab.DefaultSpecials, false, nil, config)
	require.NoError(t, err)

	require.NoError(t, emb.Save(ctx, root, "cats"))
	dir := SaveDir(root, "cats")
	assert.Equal(t, filepath.Join(root, "embeddings", "Fasttext", "save", "cats"), dir)
	assert.FileExists(t, filepath.Join(dir, ConfigFilename))
	assert.FileExists(t, filepath.Join(dir, VectorsFilename))

	loaded, err := Load(ctx, root, "cats")
	require.NoError(t, err)
	assert.Equal(t, emb.VocabSize(), loaded.VocabSize())
	assert.Equal(t, emb.Dim(), loaded.Dim())
	assert.Equal(t, tensorValues(emb.Table()), tensorValues(loaded.Table()))
	assert.Equal(t, emb.Vocab().Tokens(), loaded.Vocab().Tokens())
	assert.Equal(t, config, loaded.Config())

	// Special tokens are ordinary tokens after reloading.
	assert.Nil(t, loaded.Vocab().Specials())
	id, found := loaded.Vocab().ID("<unk>")
	require.True(t, found)
	assert.Equal(t, 2, id)
}

func TestSavedFileFormat(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	emb, _, err := NewFromVectors(catDogVectors(), vocab.DefaultSpecials, true, nil, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, emb.Save(ctx, root, "f"))
	dir := SaveDir(root, "f")

	content, err := os.ReadFile(filepath.Join(dir, VectorsFilename))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "4 2", lines[0], "header must have no padding")
	assert.True(t, strings.HasPrefix(lines[1], "<unk> "))
	assert.Equal(t, "<pad> 0 0", lines[2])
	assert.Equal(t, "cat 0.1 0.2", lines[3])
	assert.Equal(t, "dog 0.3 0.4", lines[4])

	configJSON, err := os.ReadFile(filepath.Join(dir, ConfigFilename))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"dropout\": 0.5,\n  \"requires_grad\": true,\n  \"train_state\": true\n}", string(configJSON))
}

func TestLoadLegacyPaddedHeader(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	emb, _, err := NewFromVectors(catDogVectors(), vocab.DefaultSpecials, false, nil, inferenceConfig())
	require.NoError(t, err)
	require.NoError(t, emb.SaveTo(ctx, dir, vecfile.WriteOptions{PaddedHeader: true}))

	content, err := os.ReadFile(filepath.Join(dir, VectorsFilename))
	require.NoError(t, err)
	header, _, _ := strings.Cut(string(content), "\n")
	assert.Equal(t, "4 2", strings.TrimRight(header, " "))
	// Legacy files keep the placeholder spaces after the header.
	assert.Len(t, header, vecfile.LegacyHeaderWidth)

	loaded, err := LoadFrom(ctx, dir, vecfile.ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, tensorValues(emb.Table()), tensorValues(loaded.Table()))
}

func TestLoadMissingFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	_, err := Load(ctx, root, "nothing")
	require.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), ConfigFilename)

	dir := SaveDir(root, "half")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFilename), []byte("{}"), 0644))
	_, err = Load(ctx, root, "half")
	require.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), VectorsFilename)
	assert.Contains(t, err.Error(), dir)
}

func TestLoadMalformedVectors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFilename), []byte(`{"train_state": false}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, VectorsFilename), []byte("2 2\ncat 0.1 0.2\ndog 0.3 x\n"), 0644))
	_, err := LoadFrom(context.Background(), dir, vecfile.ParseOptions{})
	require.True(t, errors.Is(err, vecfile.ErrParse))
}

func TestLoadDefaultsMissingConfigKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFilename), []byte(`{"train_state": false, "lang": "en"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, VectorsFilename), []byte("2 2\ncat 0.1 0.2\ndog 0.3 0.4\n"), 0644))
	emb, err := LoadFrom(context.Background(), dir, vecfile.ParseOptions{})
	require.NoError(t, err)
	config := emb.Config()
	assert.Equal(t, 0.5, config.Dropout)
	assert.True(t, config.RequiresGrad)
	assert.False(t, config.TrainState)
	assert.Equal(t, map[string]any{"lang": "en"}, config.Extra)
}

func TestConfigJSON(t *testing.T) {
	config := Config{Dropout: 0.1, TrainState: true, Extra: map[string]any{"dropout": 0.9, "layers": []any{1.0, 2.0}}}
	data, err := json.Marshal(config)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dropout": 0.1, "requires_grad": false, "train_state": true, "layers": [1, 2]}`, string(data))

	var got Config
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 0.1, got.Dropout)
	assert.False(t, got.RequiresGrad)
	assert.True(t, got.TrainState)
	assert.Equal(t, map[string]any{"layers": []any{1.0, 2.0}}, got.Extra)

	require.Error(t, json.Unmarshal([]byte(`{"dropout": "high"}`), &got))
}

func TestExportParquet(t *testing.T) {
	emb, _, err := NewFromVectors(catDogVectors(), vocab.DefaultSpecials, false, nil, inferenceConfig())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "cats.parquet")
	require.NoError(t, emb.ExportParquet(path))
	table, err := vecfile.ReadParquet(path)
	require.NoError(t, err)
	assert.Equal(t, emb.Vocab().Tokens(), table.Tokens)
	assert.Equal(t, tensorValues(emb.Table()), table.Data)
}

func TestExportImportSafetensors(t *testing.T) {
	ctx := context.Background()
	config := inferenceConfig()
	config.Extra = map[string]any{"lang": "en"}
	emb, _, err := NewFromVectors(catDogVectors(), vocab.DefaultSpecials, true, nil, config)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "cats.safetensors")
	require.NoError(t, emb.ExportSafetensors(path))

	imported, err := ImportSafetensors(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"<unk>", "<pad>", "cat", "dog"}, imported.Vocab().Tokens())
	assert.Equal(t, []int{4, 2}, imported.Table().Shape().Dimensions)
	assert.Equal(t, tensorValues(emb.Table()), tensorValues(imported.Table()))
	assert.Equal(t, config, imported.Config())

	_, err = ImportSafetensors(ctx, filepath.Join(t.TempDir(), "missing.safetensors"))
	require.Error(t, err)
}

func TestSaveFailureKeepsPreviousSave(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	emb, _, err := NewFromVectors(catDogVectors(), vocab.DefaultSpecials, false, nil, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, emb.SaveTo(ctx, dir, vecfile.WriteOptions{}))
	prevConfig, err := os.ReadFile(filepath.Join(dir, ConfigFilename))
	require.NoError(t, err)
	prevVectors, err := os.ReadFile(filepath.Join(dir, VectorsFilename))
	require.NoError(t, err)

	// Tokens with whitespace can't be written to the vectors file.
	v, err := vocab.FromTokens([]string{"hot dog"})
	require.NoError(t, err)
	bad, err := New(v, tensors.FromFlatDataAndDimensions([]float32{1, 2}, 1, 2), inferenceConfig())
	require.NoError(t, err)
	require.Error(t, bad.SaveTo(ctx, dir, vecfile.WriteOptions{}))

	gotConfig, err := os.ReadFile(filepath.Join(dir, ConfigFilename))
	require.NoError(t, err)
	assert.Equal(t, string(prevConfig), string(gotConfig))
	gotVectors, err := os.ReadFile(filepath.Join(dir, VectorsFilename))
	require.NoError(t, err)
	assert.Equal(t, string(prevVectors), string(gotVectors))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
