// Package scan enumerates candidate session files under the CLI log roots.
package scan

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

type FileInfo struct {
	Path   string
	Source model.Source
	Mtime  int64 // unix nanoseconds
	Size   int64
}

func (f FileInfo) ModTime() time.Time { return time.Unix(0, f.Mtime) }

type Roots struct {
	Codex  string
	Claude string
	Gemini string
}

// ScanRoots walks every configured root and returns the files that may hold
// sessions in scope, sorted by path. Missing roots are not an error.
func ScanRoots(roots Roots, scope Scope) ([]FileInfo, error) {
	var files []FileInfo
	for _, r := range []struct {
		root string
		scan func(string, Scope) ([]FileInfo, error)
	}{
		{roots.Codex, scanCodex},
		{roots.Claude, scanClaude},
		{roots.Gemini, scanGemini},
	} {
		if r.root == "" {
			continue
		}
		found, err := r.scan(r.root, scope)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		files = append(files, found...)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// SourceOf returns which root a path lives under.
func (r Roots) SourceOf(path string) (model.Source, bool) {
	for _, c := range []struct {
		root string
		src  model.Source
	}{{r.Codex, model.SourceCodex}, {r.Claude, model.SourceClaude}, {r.Gemini, model.SourceGemini}} {
		if c.root == "" {
			continue
		}
		if rel, err := filepath.Rel(c.root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return c.src, true
		}
	}
	return "", false
}

func newFileInfo(path string, src model.Source, info os.FileInfo) FileInfo {
	return FileInfo{Path: path, Source: src, Mtime: info.ModTime().UnixNano(), Size: info.Size()}
}

func scanClaude(root string, scope Scope) ([]FileInfo, error) {
	var files []FileInfo
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable dirs
		}
		if info.IsDir() {
			if filepath.Base(path) == "subagents" {
				return filepath.SkipDir
			}
			return nil
		}
		base := filepath.Base(path)
		if filepath.Ext(path) != ".jsonl" || strings.HasPrefix(base, "agent-") || strings.Contains(base, "sessions-index") {
			return nil
		}
		if !scope.mayContain(info.ModTime()) {
			return nil
		}
		files = append(files, newFileInfo(path, model.SourceClaude, info))
		return nil
	})
	return files, err
}

// scanCodex relies on the YYYY/MM/DD layout to skip whole days that cannot
// be in scope.
func scanCodex(root string, scope Scope) ([]FileInfo, error) {
	var files []FileInfo
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if path != root && !codexDirInScope(root, path, scope) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".jsonl" || !scope.mayContain(info.ModTime()) {
			return nil
		}
		files = append(files, newFileInfo(path, model.SourceCodex, info))
		return nil
	})
	return files, err
}

func codexDirInScope(root, dir string, scope Scope) bool {
	if scope.IsAll() {
		return true
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return true
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) > 3 {
		return true
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return true // not a date directory
		}
		nums[i] = n
	}

	var dirStart, dirEnd time.Time
	switch len(nums) {
	case 1:
		dirStart = time.Date(nums[0], 1, 1, 0, 0, 0, 0, time.Local)
		dirEnd = dirStart.AddDate(1, 0, 0)
	case 2:
		dirStart = time.Date(nums[0], time.Month(nums[1]), 1, 0, 0, 0, 0, time.Local)
		dirEnd = dirStart.AddDate(0, 1, 0)
	default:
		dirStart = time.Date(nums[0], time.Month(nums[1]), nums[2], 0, 0, 0, 0, time.Local)
		dirEnd = dirStart.AddDate(0, 0, 1)
	}

	start, end := scope.Range()
	if scope.Kind != ScopeCalendarDay && scope.Dimension == DimensionCreated {
		return dirStart.Before(end) && dirEnd.After(start)
	}
	// sessions created earlier may still be updated inside the range
	return dirStart.Before(end)
}

// scanGemini collects chat files laid out as <root>/<hash>/chats/<file>.
func scanGemini(root string, scope Scope) ([]FileInfo, error) {
	var files []FileInfo
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Base(filepath.Dir(path)) != "chats" {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".json" && ext != ".jsonl" {
			return nil
		}
		if !scope.mayContain(info.ModTime()) {
			return nil
		}
		files = append(files, newFileInfo(path, model.SourceGemini, info))
		return nil
	})
	return files, err
}
