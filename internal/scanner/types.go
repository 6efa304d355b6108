// Package scanner discovers indexable Markdown files under a vault root,
// respecting .gitignore rules and exclusion patterns.
package scanner

import "time"

// FileInfo is metadata about a discovered Markdown file.
type FileInfo struct {
	DocURI  string    // path relative to the vault root, forward-slash separated
	AbsPath string    // absolute path on disk
	Size    int64     // file size in bytes
	ModTime time.Time // last modification time
}

// MtimeMs returns the file's modification time in epoch milliseconds, the
// unit the metadata store and change-detection logic use.
func (f *FileInfo) MtimeMs() int64 {
	return f.ModTime.UnixMilli()
}

// ScanOptions configures scanner behavior.
type ScanOptions struct {
	// RootDir is the vault root directory to scan.
	RootDir string

	// ExcludePatterns are additional gitignore-style exclusions beyond the
	// built-in defaults.
	ExcludePatterns []string

	// RespectGitignore enables .gitignore parsing.
	RespectGitignore bool

	// Workers is not read by the scanner; the walk is single-pass.
	Workers int

	// FollowSymlinks enables following symbolic links (default: false).
	FollowSymlinks bool
}

// ScanResult is one item streamed from the scanner's result channel.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// mdExtensions lists the file extensions scanned as Markdown documents.
var mdExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".mdx":      true,
}

// defaultExcludeDirs are directories never scanned.
var defaultExcludeDirs = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/.obsidian/**",
	"**/.trash/**",
}
