package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/embedkit/internal/codec"
	"github.com/fyrsmithlabs/embedkit/internal/config"
	"github.com/fyrsmithlabs/embedkit/internal/embeddings"
	"github.com/fyrsmithlabs/embedkit/internal/runner"
	"github.com/fyrsmithlabs/embedkit/internal/runner/runnertest"
	"github.com/fyrsmithlabs/embedkit/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDim = 8

type result struct {
	stdout string
	stderr string
	code   int
}

// testEnv isolates HOME so no user config is picked up.
func testEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func newTestApp(p *runnertest.Provider) *app {
	a := newApp()
	a.newProvider = func(*config.Config, *zap.Logger) (runner.Provider, error) {
		return p, nil
	}
	return a
}

func execute(a *app, args ...string) result {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), a, args, &stdout, &stderr)
	return result{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

func writeInput(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// embedFile embeds lines into a collection file and returns its path.
func embedFile(t *testing.T, p *runnertest.Provider, lines ...string) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "out.pb")
	res := execute(newTestApp(p), "embed", "--file", writeInput(t, lines...), "--output", out)
	require.Equal(t, 0, res.code, res.stderr)
	return out
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd(newApp())
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"embed", "similarity", "search", "inspect", "init"} {
		assert.Contains(t, names, want)
	}
	for _, flag := range []string{"config", "log-level", "log-format"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestEmbed_Text(t *testing.T) {
	testEnv(t)
	out := filepath.Join(t.TempDir(), "cat.pb")

	res := execute(newTestApp(runnertest.New(testDim)), "embed", "--text", "The cat sat.", "--output", out)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "wrote 1 embeddings")

	coll, err := codec.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, testDim, coll.Dimension)
	assert.Equal(t, runner.DefaultModelName, coll.ModelName)
	require.Equal(t, 1, coll.Len())
	assert.Equal(t, "The cat sat.", coll.Records[0].Text)
	assert.InDelta(t, 1.0, vector.Norm(coll.Records[0].Values), 1e-5)
}

func TestEmbed_FileCatDog(t *testing.T) {
	testEnv(t)
	p := runnertest.New(testDim)
	out := embedFile(t, p, "The cat sat.", "The cat sat.", "A dog ran.")

	coll, err := codec.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, 3, coll.Len())
	assert.Equal(t, coll.Records[0].Values, coll.Records[1].Values)
	assert.Equal(t, []string{"The cat sat.", "The cat sat.", "A dog ran."}, coll.Texts())
	assert.Equal(t, 2, p.ForwardCalls())
}

func TestEmbed_Usage(t *testing.T) {
	testEnv(t)
	input := writeInput(t, "hello")

	tests := []struct {
		name string
		args []string
	}{
		{"no input", []string{"embed"}},
		{"both inputs", []string{"embed", "--text", "hi", "--file", input}},
		{"unknown flag", []string{"embed", "--text", "hi", "--bogus"}},
		{"unknown command", []string{"vectorize"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execute(newTestApp(runnertest.New(testDim)), tt.args...)
			assert.Equal(t, 1, res.code)
			assert.Contains(t, res.stderr, "error (usage):")
		})
	}
}

func TestEmbed_RejectsBinaryFile(t *testing.T) {
	testEnv(t)
	path := filepath.Join(t.TempDir(), "image.png")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	require.NoError(t, os.WriteFile(path, png, 0o644))

	res := execute(newTestApp(runnertest.New(testDim)), "embed", "--file", path)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error (usage):")
	assert.Contains(t, res.stderr, "not a text file")
}

func TestEmbed_MissingFile(t *testing.T) {
	testEnv(t)
	res := execute(newTestApp(runnertest.New(testDim)), "embed", "--file", filepath.Join(t.TempDir(), "nope.txt"))
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error (io):")
}

func TestEmbed_EmptyText(t *testing.T) {
	testEnv(t)
	res := execute(newTestApp(runnertest.New(testDim)), "embed", "--text", "  ", "--output", filepath.Join(t.TempDir(), "x.pb"))
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error (embed):")
	assert.Contains(t, res.stderr, "empty input")
}

func TestEmbed_EmptyLineAbortsWithoutOutput(t *testing.T) {
	testEnv(t)
	out := filepath.Join(t.TempDir(), "out.pb")
	res := execute(newTestApp(runnertest.New(testDim)), "embed", "--file", writeInput(t, "a", "", "c"), "--output", out)

	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error (embed): input 1:")
	_, err := os.Stat(out)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestEmbed_SkipFailed(t *testing.T) {
	testEnv(t)
	out := filepath.Join(t.TempDir(), "out.pb")
	res := execute(newTestApp(runnertest.New(testDim)),
		"embed", "--file", writeInput(t, "a", "", "c"), "--output", out, "--skip-failed")

	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stderr, "skipped input 1:")
	assert.Contains(t, res.stdout, "wrote 2 embeddings")

	coll, err := codec.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, coll.Texts())
}

func TestEmbed_StreamingKeepsFlushedPrefix(t *testing.T) {
	testEnv(t)
	t.Setenv("EMBEDKIT_PIPELINE_STREAM_THRESHOLD_BYTES", "1")
	t.Setenv("EMBEDKIT_PIPELINE_CHUNK_SIZE", "2")
	t.Setenv("EMBEDKIT_PIPELINE_CONCURRENCY", "1")
	out := filepath.Join(t.TempDir(), "out.pb")

	res := execute(newTestApp(runnertest.New(testDim)), "embed", "--file", writeInput(t, "a", "b", "c", "", "e"), "--output", out)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error (embed):")

	coll, err := codec.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, coll.Texts())
}

func TestEmbed_MetricsFile(t *testing.T) {
	testEnv(t)
	metrics := filepath.Join(t.TempDir(), "embedkit.prom")
	res := execute(newTestApp(runnertest.New(testDim)),
		"embed", "--file", writeInput(t, "a", "b"), "--output", filepath.Join(t.TempDir(), "o.pb"), "--metrics-file", metrics)
	require.Equal(t, 0, res.code, res.stderr)

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), `embedkit_pipeline_records_total{status="written"} 2`)
}

func TestEmbed_InitFailure(t *testing.T) {
	testEnv(t)
	t.Setenv("EMBEDKIT_EMBEDDER_DOWNLOAD_MAX_RETRIES", "0")
	p := runnertest.New(testDim)
	p.AcquireFailures = 10

	res := execute(newTestApp(p), "embed", "--text", "hi", "--output", filepath.Join(t.TempDir(), "o.pb"))
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error (init):")
}

func TestEmbed_ProviderError(t *testing.T) {
	testEnv(t)
	a := newApp()
	a.newProvider = func(*config.Config, *zap.Logger) (runner.Provider, error) {
		return nil, errors.New("no cgo")
	}
	res := execute(a, "embed", "--text", "hi")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error (init):")
}

func parseScores(t *testing.T, out string) map[int]float64 {
	t.Helper()
	scores := make(map[int]float64)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, "\t")
		require.Len(t, fields, 3, line)
		idx, err := strconv.Atoi(fields[0])
		require.NoError(t, err)
		score, err := strconv.ParseFloat(fields[1], 64)
		require.NoError(t, err)
		scores[idx] = score
	}
	return scores
}

func TestSimilarity(t *testing.T) {
	testEnv(t)
	p := runnertest.New(testDim)
	file := embedFile(t, p, "The cat sat.", "A dog ran.", "Stocks fell.")

	res := execute(newTestApp(p), "similarity", "--embedding-file", file, "--text", "The cat sat.")
	require.Equal(t, 0, res.code, res.stderr)

	scores := parseScores(t, res.stdout)
	require.Len(t, scores, 3)
	assert.InDelta(t, 1.0, scores[0], 1e-5)
	assert.Less(t, scores[1], scores[0])
	assert.Contains(t, res.stdout, "\tThe cat sat.\n")
}

func TestSimilarity_Index(t *testing.T) {
	testEnv(t)
	p := runnertest.New(testDim)
	file := embedFile(t, p, "The cat sat.", "A dog ran.")

	res := execute(newTestApp(p), "similarity", "--embedding-file", file, "--text", "A dog ran.", "--index", "1")
	require.Equal(t, 0, res.code, res.stderr)
	scores := parseScores(t, res.stdout)
	require.Len(t, scores, 1)
	assert.InDelta(t, 1.0, scores[1], 1e-5)

	res = execute(newTestApp(p), "similarity", "--embedding-file", file, "--text", "x", "--index", "7")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error (usage):")
}

func TestSimilarity_DimensionMismatch(t *testing.T) {
	testEnv(t)
	file := filepath.Join(t.TempDir(), "small.pb")
	coll := vector.NewCollection(vector.Header{ModelName: runner.DefaultModelName, ModelVersion: "v1.0", Dimension: 4})
	require.NoError(t, coll.Append(vector.Record{Values: vector.Vector{1, 0, 0, 0}, Text: "x"}))
	require.NoError(t, codec.WriteFile(file, coll))

	res := execute(newTestApp(runnertest.New(testDim)), "similarity", "--embedding-file", file, "--text", "x")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error (embed):")
	assert.Contains(t, res.stderr, "dimension mismatch")
}

func TestSimilarity_MalformedFile(t *testing.T) {
	testEnv(t)
	file := filepath.Join(t.TempDir(), "bad.pb")
	require.NoError(t, os.WriteFile(file, []byte{0xff, 0xff, 0xff}, 0o644))

	res := execute(newTestApp(runnertest.New(testDim)), "similarity", "--embedding-file", file, "--text", "x")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error (codec):")
}

func TestSearch(t *testing.T) {
	testEnv(t)
	p := runnertest.New(testDim)
	file := embedFile(t, p, "The cat sat.", "A dog ran.", "Stocks fell.", "Rain is coming.")

	res := execute(newTestApp(p), "search", "--embedding-file", file, "--text", "Stocks fell.", "-k", "2")
	require.Equal(t, 0, res.code, res.stderr)

	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "1\t2\t"), lines[0])
	assert.True(t, strings.HasSuffix(lines[0], "\tStocks fell."), lines[0])

	res = execute(newTestApp(p), "search", "--embedding-file", file, "--text", "x", "-k", "0")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error (usage):")
}

func TestInspect(t *testing.T) {
	testEnv(t)
	p := runnertest.New(testDim)
	file := embedFile(t, p, "first line", "second line", "third line")

	res := execute(newTestApp(p), "inspect", "--embedding-file", file, "--show", "2")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "model:     "+runner.DefaultModelName)
	assert.Contains(t, res.stdout, "dimension: 8")
	assert.Contains(t, res.stdout, "records:   3")
	assert.Contains(t, res.stdout, "created:   ")
	assert.Contains(t, res.stdout, "0\tfirst line\n1\tsecond line\n")
	assert.NotContains(t, res.stdout, "third line")
}

func TestInspect_MissingFile(t *testing.T) {
	testEnv(t)
	res := execute(newTestApp(runnertest.New(testDim)), "inspect", "--embedding-file", filepath.Join(t.TempDir(), "none.pb"))
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error (io):")
}

func TestInit_RuntimeAlreadyInstalled(t *testing.T) {
	home := testEnv(t)
	lib := filepath.Join(t.TempDir(), "libonnxruntime.so")
	require.NoError(t, os.WriteFile(lib, []byte("fake"), 0o644))
	t.Setenv(runner.ONNXPathEnv, lib)

	p := runnertest.New(testDim)
	res := execute(newTestApp(p), "init")
	require.Equal(t, 0, res.code, res.stderr)

	assert.Contains(t, res.stdout, "ONNX runtime already installed at: "+lib)
	assert.Contains(t, res.stdout, fmt.Sprintf("dimension %d", testDim))
	assert.Equal(t, 1, p.ForwardCalls())
	assert.DirExists(t, filepath.Join(home, ".config", "embedkit"))
}

func TestInit_TEISkipsRuntime(t *testing.T) {
	testEnv(t)
	t.Setenv("EMBEDKIT_MODEL_PROVIDER", "tei")

	res := execute(newTestApp(runnertest.New(testDim)), "init")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "does not need the ONNX runtime")
}

func TestConfigErrors(t *testing.T) {
	testEnv(t)

	res := execute(newTestApp(runnertest.New(testDim)), "--config", filepath.Join(t.TempDir(), "missing.yaml"), "embed", "--text", "x")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "error (usage):")

	res = execute(newTestApp(runnertest.New(testDim)), "--log-format", "xml", "embed", "--text", "x")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "logging.format")
}

func TestLogging_RunIDOnStderr(t *testing.T) {
	testEnv(t)
	res := execute(newTestApp(runnertest.New(testDim)),
		"--log-level", "debug", "--log-format", "json",
		"embed", "--text", "x", "--output", filepath.Join(t.TempDir(), "o.pb"))
	require.Equal(t, 0, res.code, res.stderr)

	assert.Contains(t, res.stderr, `"msg":"configuration loaded"`)
	assert.Contains(t, res.stderr, `"run.id":"`)
	assert.NotContains(t, res.stdout, "configuration loaded")
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{embeddings.ErrModelUnavailable, kindInit},
		{fmt.Errorf("input 3: %w", embeddings.ErrEmptyInput), kindEmbed},
		{embeddings.ErrDimensionMismatch, kindEmbed},
		{fmt.Errorf("decoding x: %w", codec.ErrMalformedInput), kindCodec},
		{&fs.PathError{Op: "open", Path: "x", Err: fs.ErrNotExist}, kindIO},
		{ioErr(errors.New("disk full")), kindIO},
		{usageErr(errors.New("bad flag")), kindUsage},
		{context.Canceled, kindEmbed},
		{errors.New(`unknown command "x"`), kindUsage},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, errorKind(tt.err))
		})
	}
}
