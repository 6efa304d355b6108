package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, contents string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func collect(t *testing.T, s *Scanner, opts *ScanOptions) []ScanResult {
	t.Helper()
	ch, err := s.Scan(context.Background(), opts)
	require.NoError(t, err)
	var results []ScanResult
	for r := range ch {
		results = append(results, r)
	}
	return results
}

func TestScan_FindsMarkdownFilesOnly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "note.md", "# Note")
	writeFile(t, root, "notes.mdx", "# Note")
	writeFile(t, root, "image.png", "binary")
	writeFile(t, root, "readme.txt", "text")

	s, err := New()
	require.NoError(t, err)

	results := collect(t, s, &ScanOptions{RootDir: root})
	require.Len(t, results, 2)

	var uris []string
	for _, r := range results {
		require.NoError(t, r.Error)
		uris = append(uris, r.File.DocURI)
	}
	assert.ElementsMatch(t, []string{"note.md", "notes.mdx"}, uris)
}

func TestScan_ExcludesDefaultDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "note.md", "# Note")
	writeFile(t, root, ".obsidian/workspace.md", "# ignored")
	writeFile(t, root, "node_modules/pkg/readme.md", "# ignored")

	s, err := New()
	require.NoError(t, err)

	results := collect(t, s, &ScanOptions{RootDir: root})
	require.Len(t, results, 1)
	assert.Equal(t, "note.md", results[0].File.DocURI)
}

func TestScan_RespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "note.md", "# Note")
	writeFile(t, root, "draft.md", "# Draft")
	writeFile(t, root, ".gitignore", "draft.md\n")

	s, err := New()
	require.NoError(t, err)

	results := collect(t, s, &ScanOptions{RootDir: root, RespectGitignore: true})
	require.Len(t, results, 1)
	assert.Equal(t, "note.md", results[0].File.DocURI)
}

func TestScan_CustomExcludePatternsApply(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "note.md", "# Note")
	writeFile(t, root, "archive/old.md", "# Old")

	s, err := New()
	require.NoError(t, err)

	results := collect(t, s, &ScanOptions{RootDir: root, ExcludePatterns: []string{"archive/**"}})
	require.Len(t, results, 1)
	assert.Equal(t, "note.md", results[0].File.DocURI)
}

func TestScan_ReportsSizeAndModTime(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "note.md", "# Note")

	s, err := New()
	require.NoError(t, err)

	results := collect(t, s, &ScanOptions{RootDir: root})
	require.Len(t, results, 1)
	assert.Greater(t, results[0].File.Size, int64(0))
	assert.NotZero(t, results[0].File.MtimeMs())
}

func TestInvalidateGitignoreCache_ClearsCache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "note.md", "# Note")
	writeFile(t, root, ".gitignore", "note.md\n")

	s, err := New()
	require.NoError(t, err)

	results := collect(t, s, &ScanOptions{RootDir: root, RespectGitignore: true})
	assert.Empty(t, results)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte(""), 0o644))
	s.InvalidateGitignoreCache()

	results = collect(t, s, &ScanOptions{RootDir: root, RespectGitignore: true})
	require.Len(t, results, 1)
}
