package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MegaGrindStone/go-mcp-servers/pathutil"
	"github.com/gobwas/glob"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const diffContextLines = 3

var errNoAllowedDirectories = errors.New("no allowed directories configured; provide directories on the command line or roots from the client")

type treeEntry struct {
	Name     string       `json:"name"`
	Type     string       `json:"type"` // "file" or "directory"
	Children *[]treeEntry `json:"children,omitempty"`
}

// validatePath resolves requestedPath against the allowed directories and returns the path tools
// should operate on. Existing paths are returned with symlinks resolved.
func validatePath(requestedPath string, allowedDirectories []string) (string, error) {
	if len(allowedDirectories) == 0 {
		return "", errNoAllowedDirectories
	}

	expanded := pathutil.ExpandHome(requestedPath)
	switch pathutil.Classify(expanded) {
	case pathutil.SyntaxRelative:
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Join(allowedDirectories[0], expanded)
		}
	case pathutil.SyntaxPOSIX:
		// Resolve ".." lexically before the containment check.
		expanded = filepath.Clean(expanded)
	}
	absolute := pathutil.Normalize(expanded)

	if !isAllowed(absolute, allowedDirectories) {
		return "", fmt.Errorf("access denied - path outside allowed directories: %s not in %s",
			absolute, strings.Join(allowedDirectories, ", "))
	}

	realPath, err := filepath.EvalSymlinks(absolute)
	if err == nil {
		realPath = pathutil.Normalize(realPath)
		if !isAllowed(realPath, allowedDirectories) {
			return "", fmt.Errorf("access denied - symlink target outside allowed directories: %s not in %s",
				realPath, strings.Join(allowedDirectories, ", "))
		}
		return realPath, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to resolve path %s: %w", absolute, err)
	}

	// The path does not exist yet: its closest existing ancestor decides.
	ancestor, err := nearestExistingAncestor(filepath.Dir(absolute))
	if err != nil {
		return "", err
	}
	if !isAllowed(pathutil.Normalize(ancestor), allowedDirectories) {
		return "", fmt.Errorf("access denied - parent directory outside allowed directories: %s not in %s",
			ancestor, strings.Join(allowedDirectories, ", "))
	}

	return absolute, nil
}

func nearestExistingAncestor(dir string) (string, error) {
	for {
		realDir, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return realDir, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to resolve parent directory %s: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("access denied - parent directory %s does not exist", dir)
		}
		dir = parent
	}
}

// isAllowed accepts p if it lies in an allowed directory, either as spelled or as it resolves
// once the directory's own symlinks are followed.
func isAllowed(p string, allowedDirectories []string) bool {
	for _, dir := range allowedDirectories {
		if pathutil.Within(p, dir) {
			return true
		}
		if realDir, err := filepath.EvalSymlinks(dir); err == nil && pathutil.Within(p, pathutil.Normalize(realDir)) {
			return true
		}
	}
	return false
}

func normalizeLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// splitLines splits text into lines without their terminators. A trailing newline does not
// produce an extra empty line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func headLines(text string, n int) string {
	lines := strings.SplitAfter(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if n < len(lines) {
		lines = lines[:n]
	}
	return strings.Join(lines, "")
}

func tailLines(text string, n int) string {
	lines := strings.SplitAfter(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "")
}

func applyFileEdits(filePath string, edits []EditOperation, dryRun bool) (string, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	original := normalizeLineEndings(string(content))
	modified, err := applyEdits(original, edits)
	if err != nil {
		return "", err
	}

	diff := formatDiffOutput(unifiedDiff(original, modified, filePath))

	if !dryRun {
		info, err := os.Stat(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to stat file: %w", err)
		}
		if err := os.WriteFile(filePath, []byte(modified), info.Mode().Perm()); err != nil {
			return "", fmt.Errorf("failed to write file: %w", err)
		}
	}

	return diff, nil
}

// applyEdits applies every edit in order. An edit first tries an exact substring match; failing
// that, it looks for a block of lines equal to oldText modulo surrounding whitespace and replaces
// it, re-indenting the new text relative to the matched block.
func applyEdits(content string, edits []EditOperation) (string, error) {
	for _, edit := range edits {
		oldText := normalizeLineEndings(edit.OldText)
		newText := normalizeLineEndings(edit.NewText)

		if oldText != "" && strings.Contains(content, oldText) {
			content = strings.Replace(content, oldText, newText, 1)
			continue
		}

		replaced, ok := replaceLooseBlock(content, oldText, newText)
		if !ok {
			return "", fmt.Errorf("could not find exact match for edit:\n%s", edit.OldText)
		}
		content = replaced
	}
	return content, nil
}

func replaceLooseBlock(content, oldText, newText string) (string, bool) {
	oldLines := strings.Split(oldText, "\n")
	lines := strings.Split(content, "\n")

	if strings.TrimSpace(oldText) == "" {
		return content, false
	}

	for start := 0; start+len(oldLines) <= len(lines); start++ {
		if !sameTrimmed(lines[start:start+len(oldLines)], oldLines) {
			continue
		}

		indent := leadingWhitespace(lines[start])
		replacement := reindent(indent, oldLines, strings.Split(newText, "\n"))

		out := make([]string, 0, len(lines)-len(oldLines)+len(replacement))
		out = append(out, lines[:start]...)
		out = append(out, replacement...)
		out = append(out, lines[start+len(oldLines):]...)
		return strings.Join(out, "\n"), true
	}
	return content, false
}

func sameTrimmed(block, want []string) bool {
	for i := range want {
		if strings.TrimSpace(block[i]) != strings.TrimSpace(want[i]) {
			return false
		}
	}
	return true
}

// reindent places newLines under indent. The first line takes indent as is; later lines keep
// whatever extra indentation they had relative to the corresponding old line.
func reindent(indent string, oldLines, newLines []string) []string {
	out := make([]string, 0, len(newLines))
	for i, line := range newLines {
		trimmed := strings.TrimLeft(line, " \t")
		switch {
		case i == 0:
			out = append(out, indent+trimmed)
		case trimmed == "":
			out = append(out, "")
		default:
			oldIndent := ""
			if i < len(oldLines) {
				oldIndent = leadingWhitespace(oldLines[i])
			}
			extra := max(0, len(leadingWhitespace(line))-len(oldIndent))
			out = append(out, indent+strings.Repeat(" ", extra)+trimmed)
		}
	}
	return out
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

type diffLine struct {
	op   diffmatchpatch.Operation
	text string
}

// unifiedDiff renders a line-level unified diff between original and modified.
func unifiedDiff(original, modified, name string) string {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(original, modified)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var lines []diffLine
	for _, d := range diffs {
		for _, text := range splitLines(d.Text) {
			lines = append(lines, diffLine{op: d.Type, text: text})
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\toriginal\n", name)
	fmt.Fprintf(&sb, "+++ %s\tmodified\n", name)

	for _, h := range diffHunks(lines) {
		oldStart, newStart := 1, 1
		for _, l := range lines[:h.start] {
			if l.op != diffmatchpatch.DiffInsert {
				oldStart++
			}
			if l.op != diffmatchpatch.DiffDelete {
				newStart++
			}
		}

		var oldCount, newCount int
		var body strings.Builder
		for _, l := range lines[h.start:h.end] {
			switch l.op {
			case diffmatchpatch.DiffDelete:
				oldCount++
				body.WriteString("-" + l.text + "\n")
			case diffmatchpatch.DiffInsert:
				newCount++
				body.WriteString("+" + l.text + "\n")
			default:
				oldCount++
				newCount++
				body.WriteString(" " + l.text + "\n")
			}
		}
		if oldCount == 0 {
			oldStart--
		}
		if newCount == 0 {
			newStart--
		}

		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
		sb.WriteString(body.String())
	}

	return sb.String()
}

type hunk struct {
	start, end int
}

// diffHunks groups changed lines into hunks with diffContextLines of context on each side,
// merging hunks whose context would overlap.
func diffHunks(lines []diffLine) []hunk {
	var hunks []hunk
	for i, l := range lines {
		if l.op == diffmatchpatch.DiffEqual {
			continue
		}
		start := max(0, i-diffContextLines)
		end := min(len(lines), i+diffContextLines+1)
		if n := len(hunks); n > 0 && start <= hunks[n-1].end {
			hunks[n-1].end = end
			continue
		}
		hunks = append(hunks, hunk{start: start, end: end})
	}
	return hunks
}

func formatDiffOutput(diff string) string {
	numBackticks := 3
	for strings.Contains(diff, strings.Repeat("`", numBackticks)) {
		numBackticks++
	}
	fence := strings.Repeat("`", numBackticks)
	return fmt.Sprintf("%sdiff\n%s%s\n\n", fence, diff, fence)
}

// patternSet matches slash-separated relative paths against a list of globs. A pattern matches a
// path if it matches the path as is or anchored with a leading slash, so "**/x" also covers
// top-level entries.
type patternSet []glob.Glob

func compilePatterns(patterns []string) (patternSet, error) {
	set := make(patternSet, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSuffix(filepath.ToSlash(pattern), "/")
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		set = append(set, g)
	}
	return set, nil
}

func (ps patternSet) matchPath(relPath string) bool {
	for _, g := range ps {
		if g.Match(relPath) || g.Match("/"+relPath) {
			return true
		}
	}
	return false
}

// excludes is matchPath that also accepts a match on the entry's base name, so "node_modules"
// excludes that directory at any depth.
func (ps patternSet) excludes(relPath string) bool {
	name := relPath[strings.LastIndex(relPath, "/")+1:]
	for _, g := range ps {
		if g.Match(name) {
			return true
		}
	}
	return ps.matchPath(relPath)
}

func hasGlobMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

func buildTree(ctx context.Context, root, current string, exclude patternSet) ([]treeEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(current)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", current, err)
	}

	result := make([]treeEntry, 0, len(entries))
	for _, entry := range entries {
		full := filepath.Join(current, entry.Name())
		rel, err := filepath.Rel(root, full)
		if err != nil {
			continue
		}
		if exclude.excludes(filepath.ToSlash(rel)) {
			continue
		}

		te := treeEntry{Name: entry.Name(), Type: "file"}
		if entry.IsDir() {
			children, err := buildTree(ctx, root, full, exclude)
			if err != nil {
				return nil, err
			}
			te.Type = "directory"
			te.Children = &children
		}
		result = append(result, te)
	}

	return result, nil
}

// findMatches walks root and returns every entry whose relative path or name matches pattern.
// Glob patterns are matched with patternSet semantics; plain patterns are case-insensitive
// substrings of the entry name. Excluded directories are not descended into.
func findMatches(ctx context.Context, root, pattern string, excludePatterns []string) ([]string, error) {
	exclude, err := compilePatterns(excludePatterns)
	if err != nil {
		return nil, err
	}

	var include patternSet
	if hasGlobMeta(pattern) {
		if include, err = compilePatterns([]string{pattern}); err != nil {
			return nil, err
		}
	}
	needle := strings.ToLower(pattern)

	var results []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped rather than failing the search.
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if exclude.excludes(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		var matched bool
		if include != nil {
			matched = include.matchPath(rel)
		} else {
			matched = strings.Contains(strings.ToLower(d.Name()), needle)
		}
		if matched {
			results = append(results, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(results)
	return results, nil
}

func formatSize(size int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	if size < 1024 {
		return fmt.Sprintf("%d B", size)
	}
	value := float64(size)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", value, units[i])
}
