package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const testModels = `
models:
  - name: items
    fields:
      - name: key
        primary_key: true
      - name: n
        type: int
        allow_comparison_signs: true
`

type harness struct {
	t    *testing.T
	args []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	models := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(models, []byte(testModels), 0o600))
	return &harness{t: t, args: []string{
		"--backend", "sqlite",
		"--sqlite-path", filepath.Join(dir, "items.db"),
		"--models", models,
		"--log-level", "error",
	}}
}

func (h *harness) run(stdin string, args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = Run(context.Background(), append(append([]string{}, args...), h.args...), strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRun_CRUD(t *testing.T) {
	h := newHarness(t)

	code, out, stderr := h.run("", "post", "items", "key=a", "n=3")
	require.Equal(t, 0, code, stderr)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, map[string]any{"key": "a", "n": float64(3)}, rec)

	code, _, stderr = h.run("{\"key\": \"b\", \"n\": 1}\n{\"key\": \"c\", \"n\": 7}\n", "post", "items", "--json")
	require.Equal(t, 0, code, stderr)

	code, out, stderr = h.run("", "get", "items", "n=>=3", "order_by=n desc")
	require.Equal(t, 0, code, stderr)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0]["key"])
	assert.Equal(t, "a", recs[1]["key"])

	code, out, stderr = h.run("", "put", "items", "key=b", "n=2")
	require.Equal(t, 0, code, stderr)
	var put struct {
		Previous []map[string]any `json:"previous"`
		Updated  []map[string]any `json:"updated"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &put))
	require.Len(t, put.Updated, 1)
	assert.Equal(t, float64(1), put.Previous[0]["n"])
	assert.Equal(t, float64(2), put.Updated[0]["n"])

	code, out, stderr = h.run("", "delete", "items", "key=a", "key=b")
	require.Equal(t, 0, code, stderr)
	assert.JSONEq(t, `{"deleted": 2}`, out)

	code, out, stderr = h.run("", "get-one", "items")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, `"key": "c"`)
}

func TestRun_Discovery(t *testing.T) {
	h := newHarness(t)

	code, out, stderr := h.run("", "fields", "items")
	require.Equal(t, 0, code, stderr)
	assert.JSONEq(t, `["key", "n"]`, out)

	code, out, stderr = h.run("", "describe", "items")
	require.Equal(t, 0, code, stderr)
	assert.JSONEq(t, `{"collection": "items", "primary_keys": ["key"], "fields": {"key": "key", "n": "n"}}`, out)

	code, out, stderr = h.run("", "health")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, `"status": "pass"`)
}

func TestRun_Errors(t *testing.T) {
	h := newHarness(t)

	code, _, stderr := h.run("", "delete", "items")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "refusing to delete every record")

	code, _, stderr = h.run("", "get", "orders")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "orders")

	code, _, stderr = h.run("", "post", "items", "key=a", "n=three")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "error:")

	code, _, _ = h.run("", "post", "items", "key")
	assert.Equal(t, 1, code)

	var errOut bytes.Buffer
	code = Run(context.Background(), []string{"get", "items", "--backend", "redis"}, strings.NewReader(""), &bytes.Buffer{}, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), `unknown backend "redis"`)
}

func TestRun_DumpRestore(t *testing.T) {
	h := newHarness(t)
	dir := filepath.Join(t.TempDir(), "dump")

	code, _, stderr := h.run("", "post", "items", "key=a", "n=1")
	require.Equal(t, 0, code, stderr)
	code, _, stderr = h.run("", "dump", dir)
	require.Equal(t, 0, code, stderr)
	assert.FileExists(t, filepath.Join(dir, "items.json"))

	code, _, stderr = h.run("", "delete", "items", "key=a")
	require.Equal(t, 0, code, stderr)
	code, _, stderr = h.run("", "restore", dir)
	require.Equal(t, 0, code, stderr)

	code, out, stderr := h.run("", "get", "items")
	require.Equal(t, 0, code, stderr)
	assert.JSONEq(t, `[{"key": "a", "n": 1}]`, out)

	code, _, _ = h.run("", "restore")
	assert.Equal(t, 1, code)
}
