package filesystem

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePath(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()

	inside := filepath.Join(allowed, "inside.txt")
	writeTestFile(t, inside, "ok")
	secret := filepath.Join(outside, "secret.txt")
	writeTestFile(t, secret, "secret")

	link := filepath.Join(allowed, "escape")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{name: "existing file", path: inside},
		{name: "relative to first allowed directory", path: "inside.txt"},
		{name: "allowed directory itself", path: allowed},
		{name: "new file", path: filepath.Join(allowed, "new.txt")},
		{name: "new nested file", path: filepath.Join(allowed, "a", "b", "new.txt")},
		{name: "redundant separators", path: allowed + "//inside.txt"},
		{name: "outside", path: secret, wantErr: "access denied - path outside"},
		{name: "dot-dot escape", path: filepath.Join(allowed, "..", filepath.Base(outside), "secret.txt"), wantErr: "access denied"},
		{name: "symlink escape", path: link, wantErr: "symlink target outside"},
		{name: "prefix sibling", path: allowed + "-sibling/x", wantErr: "access denied"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := validatePath(tc.path, []string{allowed})
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Errorf("Expected error containing %q, got %v (path %s)", tc.wantErr, err, got)
				}
				return
			}
			if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestValidatePathDotSegments(t *testing.T) {
	base := t.TempDir()
	allowed := filepath.Join(base, "allowed")
	outsideSub := filepath.Join(base, "outside", "sub")
	for _, dir := range []string{allowed, outsideSub} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
	}
	writeTestFile(t, filepath.Join(allowed, "inside.txt"), "ok")
	inside, err := filepath.EvalSymlinks(filepath.Join(allowed, "inside.txt"))
	if err != nil {
		t.Fatalf("Failed to resolve test file: %v", err)
	}
	if err := os.Symlink(filepath.Join("..", "outside", "sub"), filepath.Join(allowed, "link")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "dot-dot through symlinked directory", path: allowed + "/link/../escaped.txt", want: filepath.Join(allowed, "escaped.txt")},
		{name: "dot-dot staying inside", path: allowed + "/a/../inside.txt", want: inside},
		{name: "dot segments", path: allowed + "/./././inside.txt", want: inside},
		{name: "dot-dot leaving allowed directory", path: allowed + "/../outside/sub/x.txt", wantErr: true},
		{name: "relative dot-dot leaving allowed directory", path: "../outside/sub/x.txt", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := validatePath(tc.path, []string{allowed})
			if tc.wantErr {
				if err == nil || !strings.Contains(err.Error(), "access denied") {
					t.Errorf("Expected access denied, got %v (path %s)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got != tc.want {
				t.Errorf("Expected %s, got %s", tc.want, got)
			}
		})
	}

	// Writing to the validated path must land inside the allowed directory.
	got, err := validatePath(allowed+"/link/../escaped.txt", []string{allowed})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	writeTestFile(t, got, "data")
	if _, err := os.Stat(filepath.Join(base, "outside", "escaped.txt")); err == nil {
		t.Error("Expected no file outside the allowed directory")
	}
	if _, err := os.Stat(filepath.Join(allowed, "escaped.txt")); err != nil {
		t.Errorf("Expected file inside the allowed directory, got %v", err)
	}
}

func TestValidatePathMultipleDirectories(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	target := filepath.Join(second, "file.txt")
	writeTestFile(t, target, "x")

	if _, err := validatePath(target, []string{first, second}); err != nil {
		t.Errorf("Expected path in second directory to be allowed, got %v", err)
	}
}

func TestApplyEdits(t *testing.T) {
	tests := []struct {
		name    string
		content string
		edits   []EditOperation
		want    string
		wantErr bool
	}{
		{
			name:    "exact match replaces first occurrence",
			content: "a\nb\na\n",
			edits:   []EditOperation{{OldText: "a", NewText: "x"}},
			want:    "x\nb\na\n",
		},
		{
			name:    "edits apply in order",
			content: "one two",
			edits:   []EditOperation{{OldText: "one", NewText: "two"}, {OldText: "two two", NewText: "done"}},
			want:    "done",
		},
		{
			name:    "loose match keeps indentation",
			content: "func a() {\n    x := 1\n    y := 2\n}\n",
			edits:   []EditOperation{{OldText: "x := 1\ny := 2", NewText: "x := 10\ny := 20"}},
			want:    "func a() {\n    x := 10\n    y := 20\n}\n",
		},
		{
			name:    "loose match keeps relative indentation",
			content: "if ok {\n\tcall()\n}\n",
			edits:   []EditOperation{{OldText: "  call()", NewText: "if more {\n    call()\n}"}},
			want:    "if ok {\n\tif more {\n\t    call()\n\t}\n}\n",
		},
		{
			name:    "windows line endings in edit",
			content: "a\nb\n",
			edits:   []EditOperation{{OldText: "a\r\nb", NewText: "c"}},
			want:    "c\n",
		},
		{
			name:    "no match",
			content: "a\n",
			edits:   []EditOperation{{OldText: "zzz", NewText: "y"}},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := applyEdits(tc.content, tc.edits)
			if tc.wantErr {
				if err == nil {
					t.Error("Expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestUnifiedDiff(t *testing.T) {
	diff := unifiedDiff("a\nb\nc\n", "a\nB\nc\n", "file.txt")

	for _, want := range []string{
		"--- file.txt\toriginal\n",
		"+++ file.txt\tmodified\n",
		"@@ -1,3 +1,3 @@\n",
		" a\n",
		"-b\n",
		"+B\n",
		" c\n",
	} {
		if !strings.Contains(diff, want) {
			t.Errorf("Expected diff to contain %q, got:\n%s", want, diff)
		}
	}

	if strings.Contains(unifiedDiff("same\n", "same\n", "f"), "@@") {
		t.Error("Expected no hunks for identical content")
	}
}

func TestDiffHunksSplitDistantChanges(t *testing.T) {
	var original, modified strings.Builder
	for i := range 20 {
		line := "line" + string(rune('a'+i)) + "\n"
		original.WriteString(line)
		if i == 1 || i == 18 {
			line = "changed\n"
		}
		modified.WriteString(line)
	}

	diff := unifiedDiff(original.String(), modified.String(), "f")
	if n := strings.Count(diff, "@@ -"); n != 2 {
		t.Errorf("Expected 2 hunks, got %d:\n%s", n, diff)
	}
}

func TestFormatDiffOutputFence(t *testing.T) {
	out := formatDiffOutput("contains ``` fence\n")
	if !strings.HasPrefix(out, "````diff\n") {
		t.Errorf("Expected a four-backtick fence, got:\n%s", out)
	}
}

func TestPatternSet(t *testing.T) {
	ps, err := compilePatterns([]string{"node_modules", "**/*.log", "build/"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	tests := []struct {
		rel  string
		want bool
	}{
		{"node_modules", true},
		{"src/node_modules", true},
		{"app.log", true},
		{"logs/app.log", true},
		{"build", true},
		{"src/main.go", false},
		{"logfile", false},
	}
	for _, tc := range tests {
		if got := ps.excludes(tc.rel); got != tc.want {
			t.Errorf("excludes(%q): expected %v, got %v", tc.rel, tc.want, got)
		}
	}
}

func TestHeadTailLines(t *testing.T) {
	text := "1\n2\n3\n"
	if got := headLines(text, 2); got != "1\n2\n" {
		t.Errorf("headLines: expected %q, got %q", "1\n2\n", got)
	}
	if got := headLines(text, 10); got != text {
		t.Errorf("headLines: expected full text, got %q", got)
	}
	if got := tailLines(text, 2); got != "2\n3\n" {
		t.Errorf("tailLines: expected %q, got %q", "2\n3\n", got)
	}
	if got := tailLines("1\n2", 1); got != "2" {
		t.Errorf("tailLines: expected %q, got %q", "2", got)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1 << 20, "1.00 MB"},
		{5 << 30, "5.00 GB"},
	}
	for _, tc := range tests {
		if got := formatSize(tc.size); got != tc.want {
			t.Errorf("formatSize(%d): expected %q, got %q", tc.size, tc.want, got)
		}
	}
}
