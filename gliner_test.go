package gliner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/knights-analytics/gliner/backends"
	"github.com/knights-analytics/gliner/options"
	"github.com/knights-analytics/gliner/pipelines"
)

func TestGoSessionOptions(t *testing.T) {
	_, err := NewGoSession(options.WithIntraOpNumThreads(2))
	assert.ErrorContains(t, err, "only supported for ORT backend")

	_, err = NewGoSession(options.WithLogger(nil))
	assert.Error(t, err)

	session, err := NewGoSession(options.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	assert.Empty(t, session.GetStats())
	assert.NoError(t, session.Destroy())
}

func TestNewPipelineErrors(t *testing.T) {
	session, err := NewGoSession(options.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, session.Destroy())
	}()

	_, err = NewPipeline(session, GLiNERConfig{ModelPath: t.TempDir()})
	assert.ErrorContains(t, err, "a name for the pipeline is required")

	empty := t.TempDir()
	_, err = NewPipeline(session, GLiNERConfig{Name: "ner", ModelPath: empty})
	assert.ErrorContains(t, err, "no .onnx file detected")

	noTokenizer := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(noTokenizer, "model.onnx"), []byte("not a model"), 0o600))
	_, err = NewPipeline(session, GLiNERConfig{Name: "ner", ModelPath: noTokenizer})
	assert.ErrorContains(t, err, "tokenizer.json")

	_, err = GetPipeline[*pipelines.GLiNERPipeline](session, "ner")
	var notFound *pipelineNotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.ErrorAs(t, ClosePipeline[*pipelines.GLiNERPipeline](session, "ner"), &notFound)
}

type stubScorer struct{}

func (stubScorer) Inputs() []backends.InputOutputInfo {
	return stubInfos(pipelines.ExpectedInputs(false))
}

func (stubScorer) Outputs() []backends.InputOutputInfo {
	return stubInfos(pipelines.ExpectedOutputs())
}

func (stubScorer) Run(context.Context, backends.Tensors) (backends.Tensors, error) {
	return backends.Tensors{}, nil
}

func (stubScorer) Destroy() error { return nil }

func stubInfos(names []string) []backends.InputOutputInfo {
	infos := make([]backends.InputOutputInfo, len(names))
	for i, name := range names {
		infos[i] = backends.InputOutputInfo{Name: name, Dimensions: backends.NewShape(-1, -1)}
	}
	return infos
}

type stubTokenizer struct{}

func (stubTokenizer) Encode(text string, addSpecialTokens bool) ([]uint32, error) {
	ids := []uint32{uint32(len(text))}
	if addSpecialTokens {
		ids = append([]uint32{1}, append(ids, 2)...)
	}
	return ids, nil
}

func (stubTokenizer) Destroy() error { return nil }

type otherPipeline struct{}

func (otherPipeline) GetStatistics() backends.PipelineStatistics { return backends.PipelineStatistics{} }
func (otherPipeline) GetStats() []string                         { return nil }
func (otherPipeline) Validate() error                            { return nil }
func (otherPipeline) GetModel() *backends.Model                  { return nil }

func TestSessionPipelineLifecycle(t *testing.T) {
	session, err := NewGoSession(options.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	destroyed := 0
	model := &backends.Model{
		ID:        "memory:",
		Path:      "memory",
		Config:    backends.DefaultModelConfig(),
		Scorer:    stubScorer{},
		Tokenizer: stubTokenizer{},
		Pipelines: map[string]backends.Pipeline{},
		Destroy: func() error {
			destroyed++
			return nil
		},
	}
	session.models["memory:"] = model

	first, err := NewPipeline(session, GLiNERConfig{Name: "first", ModelPath: "memory"})
	require.NoError(t, err)
	second, err := NewPipeline(session, GLiNERConfig{
		Name:      "second",
		ModelPath: "memory",
		Options:   []GLiNEROption{pipelines.WithGLiNERThreshold(0.3)},
	})
	require.NoError(t, err)
	assert.Same(t, model, first.GetModel())
	assert.Same(t, model, second.GetModel())
	assert.Len(t, model.Pipelines, 2)
	assert.Len(t, session.models, 1)
	assert.InDelta(t, 0.3, second.Threshold, 1e-6)

	_, err = NewPipeline(session, GLiNERConfig{Name: "first", ModelPath: "memory"})
	assert.ErrorContains(t, err, "already been initialised")

	got, err := GetPipeline[*pipelines.GLiNERPipeline](session, "second")
	require.NoError(t, err)
	assert.Same(t, second, got)
	_, err = GetPipeline[*otherPipeline](session, "second")
	assert.ErrorContains(t, err, "pipeline second is a *pipelines.GLiNERPipeline")

	stats := session.GetStats()
	assert.Contains(t, stats, "Statistics for pipeline: first")
	assert.Contains(t, stats, "Statistics for pipeline: second")

	require.NoError(t, ClosePipeline[*pipelines.GLiNERPipeline](session, "first"))
	assert.Equal(t, 0, destroyed)
	assert.Len(t, session.models, 1)
	_, err = GetPipeline[*pipelines.GLiNERPipeline](session, "first")
	var notFound *pipelineNotFoundError
	assert.ErrorAs(t, err, &notFound)

	require.NoError(t, ClosePipeline[*pipelines.GLiNERPipeline](session, "second"))
	assert.Equal(t, 1, destroyed)
	assert.Empty(t, session.models)
	assert.Empty(t, model.Pipelines)

	require.NoError(t, session.Destroy())
	assert.Equal(t, 1, destroyed)
}

func TestSelectDownloadFiles(t *testing.T) {
	files, err := selectDownloadFiles([]string{
		"README.md",
		"gliner_config.json",
		"onnx/model.onnx",
		"tokenizer.json",
		"tokenizer_config.json",
		"pytorch_model.bin",
	}, NewDownloadOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"gliner_config.json", "tokenizer_config.json", "onnx/model.onnx", "tokenizer.json"}, files)

	_, err = selectDownloadFiles([]string{"onnx/model.onnx", "onnx/model_quantized.onnx", "tokenizer.json"}, NewDownloadOptions())
	assert.ErrorContains(t, err, "multiple .onnx files")

	opts := NewDownloadOptions()
	opts.OnnxFilePath = "onnx/model_quantized.onnx"
	files, err = selectDownloadFiles([]string{"onnx/model.onnx", "onnx/model_quantized.onnx", "tokenizer.json"}, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"onnx/model_quantized.onnx", "tokenizer.json"}, files)

	_, err = selectDownloadFiles([]string{"model.onnx"}, NewDownloadOptions())
	assert.ErrorContains(t, err, "tokenizer.json")
	_, err = selectDownloadFiles([]string{"tokenizer.json"}, NewDownloadOptions())
	assert.ErrorContains(t, err, "does not have a .onnx file")
}
