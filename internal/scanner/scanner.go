package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/msrl/internal/gitignore"
)

// gitignoreCacheSize is the maximum number of gitignore matchers to cache.
const gitignoreCacheSize = 1000

// Scanner discovers indexable Markdown files in a vault directory.
type Scanner struct {
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
	cacheMu        sync.RWMutex
}

// New creates a new Scanner instance.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create gitignore cache: %w", err)
	}
	return &Scanner{gitignoreCache: cache}, nil
}

// Scan discovers all Markdown files in the vault directory. It returns a
// channel of ScanResult that streams files as they are discovered; the
// channel is closed when scanning completes.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}

	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	results := make(chan ScanResult, 64)

	go func() {
		defer close(results)
		s.scan(ctx, absRoot, opts, results)
	}()

	return results, nil
}

func (s *Scanner) scan(ctx context.Context, absRoot string, opts *ScanOptions, results chan<- ScanResult) {
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		if relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if s.shouldExcludeDir(relPath, opts) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}

		if !mdExtensions[strings.ToLower(filepath.Ext(relPath))] {
			return nil
		}

		if s.shouldExcludeFile(relPath, absRoot, opts) {
			return nil
		}

		fileInfo, err := d.Info()
		if err != nil {
			return nil
		}

		select {
		case results <- ScanResult{File: &FileInfo{
			DocURI:  relPath,
			AbsPath: path,
			Size:    fileInfo.Size(),
			ModTime: fileInfo.ModTime(),
		}}:
		case <-ctx.Done():
			return ctx.Err()
		}

		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Error: err}:
		case <-ctx.Done():
		}
	}
}

func (s *Scanner) shouldExcludeDir(relPath string, opts *ScanOptions) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	return false
}

func (s *Scanner) shouldExcludeFile(relPath, absRoot string, opts *ScanOptions) bool {
	baseName := filepath.Base(relPath)

	for _, pattern := range opts.ExcludePatterns {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}

	if opts.RespectGitignore && s.isGitignored(relPath, absRoot) {
		return true
	}

	return false
}

// matchDirPattern checks if a directory path matches a gitignore-style
// directory exclusion pattern (**/name/** or name/**).
func matchDirPattern(relPath, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		suffix = strings.TrimSuffix(suffix, "/**")
		parts := strings.Split(relPath, "/")
		for _, part := range parts {
			if part == suffix {
				return true
			}
		}
		return false
	}

	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")
	}

	return relPath == pattern || strings.HasPrefix(relPath, pattern+"/")
}

// matchFilePattern checks if a file matches a simple glob-style pattern:
// *suffix, prefix*, or an exact name.
func matchFilePattern(baseName, relPath, pattern string) bool {
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1 {
		middle := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
		return strings.Contains(strings.ToLower(baseName), strings.ToLower(middle))
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(baseName, strings.TrimPrefix(pattern, "*"))
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	}
	return baseName == pattern || relPath == pattern
}

// isGitignored checks relPath against the root .gitignore and every
// nested .gitignore between the root and the file's directory.
func (s *Scanner) isGitignored(relPath, absRoot string) bool {
	rootMatcher := s.getGitignoreMatcher(absRoot, "")
	if rootMatcher != nil && rootMatcher.Match(relPath, false) {
		return true
	}

	parts := strings.Split(filepath.Dir(relPath), "/")
	currentDir := absRoot
	currentBase := ""

	for _, part := range parts {
		if part == "." {
			continue
		}
		currentDir = filepath.Join(currentDir, part)
		if currentBase == "" {
			currentBase = part
		} else {
			currentBase = currentBase + "/" + part
		}

		matcher := s.getGitignoreMatcher(currentDir, currentBase)
		if matcher != nil && matcher.Match(relPath, false) {
			return true
		}
	}

	return false
}

func (s *Scanner) getGitignoreMatcher(dir, base string) *gitignore.Matcher {
	s.cacheMu.RLock()
	matcher, ok := s.gitignoreCache.Get(dir)
	s.cacheMu.RUnlock()
	if ok {
		return matcher
	}

	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		return nil
	}

	matcher = gitignore.New()
	if err := matcher.AddFromFile(gitignorePath, base); err != nil {
		return nil
	}

	s.cacheMu.Lock()
	s.gitignoreCache.Add(dir, matcher)
	s.cacheMu.Unlock()

	return matcher
}

// InvalidateGitignoreCache clears the gitignore matcher cache. Call this
// when .gitignore files change so fresh patterns are picked up.
func (s *Scanner) InvalidateGitignoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gitignoreCache.Purge()
}
