package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/snippet-vault/internal/model"
	sqliteRepo "github.com/sakif/snippet-vault/internal/repository/sqlite"
)

// seed creates a sqlite database with two snippets for alice and one for bob.
func seed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snippets.db")
	db, err := sqliteRepo.New(path)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	for _, d := range []struct {
		owner string
		draft model.Draft
	}{
		{"alice", model.Draft{Title: "Hello", Code: "print('hi')", Language: model.LanguagePython, Tags: []string{}}},
		{"alice", model.Draft{Title: "React Hook", Code: "useEffect()", Language: model.LanguageJavaScript, Tags: []string{"react"}}},
		{"bob", model.Draft{Title: "Secret", Code: "x", Language: model.LanguageGo, Tags: []string{}}},
	} {
		_, err := db.Insert(ctx, d.owner, d.draft)
		require.NoError(t, err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), &stdout, &stderr, args)
	return code, stdout.String(), stderr.String()
}

func TestList(t *testing.T) {
	db := seed(t)

	code, out, errOut := runCLI(t, "list", "--owner", "alice", "--store", "sqlite", "--db", db)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Hello")
	assert.Contains(t, out, "React Hook")
	assert.NotContains(t, out, "Secret")
	assert.Contains(t, out, "2 of 2 snippets")

	code, out, _ = runCLI(t, "list", "--owner", "alice", "--store", "sqlite", "--db", db, "-q", "hook")
	require.Equal(t, 0, code)
	assert.NotContains(t, out, "Hello")
	assert.Contains(t, out, "1 of 2 snippets")
}

func TestFacets(t *testing.T) {
	db := seed(t)

	code, out, errOut := runCLI(t, "facets", "--owner", "alice", "--store", "sqlite", "--db", db)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Total")
	assert.Contains(t, out, "JavaScript")
	assert.Contains(t, out, "Python")
	assert.NotContains(t, out, "Go ")
}

func TestExport(t *testing.T) {
	db := seed(t)
	dest := filepath.Join(t.TempDir(), "out.json")

	code, _, errOut := runCLI(t, "export", "--owner", "alice", "--store", "sqlite", "--db", db, "--out", dest)
	require.Equal(t, 0, code, errOut)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  {\n    \"id\"")
	assert.Contains(t, string(data), `"title": "React Hook"`)
}

func TestUsageErrors(t *testing.T) {
	code, _, _ := runCLI(t)
	assert.Equal(t, 1, code)

	code, _, errOut := runCLI(t, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown command")

	code, _, errOut = runCLI(t, "list", "--store", "memory")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--owner is required")

	code, out, _ := runCLI(t, "export", "--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "--out")
}
