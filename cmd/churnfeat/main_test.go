package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/churnfeat/internal/app"
	ferrors "github.com/arkilian/churnfeat/internal/errors"
)

const trainingLog = `{"userId":"1","sessionId":1,"page":"Home","ts":1633082400000,"status":200,"level":"paid","gender":"M","userAgent":"Mozilla/5.0 (Windows NT 10.0)"}
{"userId":"1","sessionId":2,"page":"Error","ts":1633082520000,"status":404,"level":"paid","gender":"M","userAgent":"Mozilla/5.0 (iPhone)"}
{"userId":"2","sessionId":5,"page":"Home","ts":1629194400000,"status":200,"level":"free","gender":"F","userAgent":"Mozilla/5.0 (Macintosh)"}
`

const servingLog = `{"userId":"3","sessionId":9,"page":"Home","ts":1633082400000,"status":200,"level":"free","gender":"F","userAgent":"Mozilla/5.0 (X11; Linux x86_64)"}
{"userId":"3","sessionId":9,"page":"NextSong","ts":1633082460000,"status":200,"level":"free","gender":"F","userAgent":"Mozilla/5.0 (X11; Linux x86_64)"}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRun_BuildThenFeaturize(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	training := writeFile(t, dir, "events.json", trainingLog)
	serving := writeFile(t, dir, "serving.json", servingLog)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-mode", "build", "-data-dir", dataDir, "-input", training}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	runID := strings.TrimSpace(stdout.String())
	require.NotEmpty(t, runID)

	stdout.Reset()
	code = run([]string{"-mode", "featurize", "-data-dir", dataDir, "-run", runID, "-input", serving}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var out app.FeaturizeResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, runID, out.RunID)
	require.Len(t, out.Entities, 1)
	assert.Equal(t, "3", out.Entities[0].EntityID)
	assert.Len(t, out.Entities[0].Features, len(out.FeatureNames))
}

func TestRun_FailureReturnsExitCode(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-mode", "example", "-data-dir", dataDir}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "error:")
}

func TestRun_UnknownMode(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-mode", "train", "-data-dir", filepath.Join(t.TempDir(), "data")}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), `Unknown mode "train"`)
}

func TestFail_PrintsDetails(t *testing.T) {
	var stderr bytes.Buffer
	err := ferrors.NewSchemaError("required columns absent").
		WithDetails(map[string]interface{}{"missing": []string{"timestamp"}})
	assert.Equal(t, 1, fail(&stderr, err))
	assert.Contains(t, stderr.String(), "error: ")
	assert.Contains(t, stderr.String(), `"missing"`)
}
