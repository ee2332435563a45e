package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolFunc is the shape of every tool implementation: it receives the directories the calling
// session may access and the decoded arguments.
type toolFunc[In any] func(ctx context.Context, allowedDirectories []string, args In) (*mcp.CallToolResult, error)

func (s *Server) registerTools(srv *mcp.Server) {
	readOnly := &mcp.ToolAnnotations{ReadOnlyHint: true}
	idempotent := &mcp.ToolAnnotations{IdempotentHint: true}

	addTool(s, srv, &mcp.Tool{
		Name: "read_file",
		Description: `Read the complete contents of a file as text. Use 'head' to read only the first N
lines or 'tail' for the last N lines; they cannot be combined. Only works within allowed directories.`,
		Annotations: readOnly,
	}, readFile)

	addTool(s, srv, &mcp.Tool{
		Name: "read_media_file",
		Description: `Read an image or audio file and return it as base64 data with its detected MIME type.
Other binary files are returned as an embedded blob resource. Only works within allowed directories.`,
		Annotations: readOnly,
	}, readMediaFile)

	addTool(s, srv, &mcp.Tool{
		Name: "read_multiple_files",
		Description: `Read the contents of multiple files simultaneously. Each file's content is returned
with its path as a reference. Failed reads for individual files won't stop the entire operation.
Only works within allowed directories.`,
		Annotations: readOnly,
	}, readMultipleFiles)

	addTool(s, srv, &mcp.Tool{
		Name: "write_file",
		Description: `Create a new file or completely overwrite an existing file with new content.
Use with caution as it will overwrite existing files without warning. Only works within allowed directories.`,
		Annotations: idempotent,
	}, writeFile)

	addTool(s, srv, &mcp.Tool{
		Name: "edit_file",
		Description: `Make line-based edits to a text file. Each edit replaces an exact text sequence, or a
block of lines matching it up to indentation, with new content. Returns a git-style diff of the
changes. Set dryRun to preview without writing. Only works within allowed directories.`,
	}, editFile)

	addTool(s, srv, &mcp.Tool{
		Name: "create_directory",
		Description: `Create a new directory or ensure a directory exists, including any missing parents.
Succeeds silently if the directory already exists. Only works within allowed directories.`,
		Annotations: idempotent,
	}, createDirectory)

	addTool(s, srv, &mcp.Tool{
		Name: "list_directory",
		Description: `List all files and directories in a path. Entries are prefixed with [FILE] or [DIR].
Only works within allowed directories.`,
		Annotations: readOnly,
	}, listDirectory)

	addTool(s, srv, &mcp.Tool{
		Name: "list_directory_with_sizes",
		Description: `List all files and directories in a path together with file sizes, sorted by name
or size, followed by totals. Only works within allowed directories.`,
		Annotations: readOnly,
	}, listDirectoryWithSizes)

	addTool(s, srv, &mcp.Tool{
		Name: "directory_tree",
		Description: `Get a recursive tree view of files and directories as a JSON structure. Each entry has
'name', 'type' (file/directory) and, for directories, 'children'. Entries matching excludePatterns
are left out. Only works within allowed directories.`,
		Annotations: readOnly,
	}, directoryTree)

	addTool(s, srv, &mcp.Tool{
		Name: "move_file",
		Description: `Move or rename files and directories. If the destination exists, the operation fails.
Both source and destination must be within allowed directories.`,
	}, moveFile)

	addTool(s, srv, &mcp.Tool{
		Name: "search_files",
		Description: `Recursively search for files and directories under a path. A glob pattern such as
'**/*.go' is matched against paths relative to the starting directory; any other pattern is a
case-insensitive substring of the entry name. Only searches within allowed directories.`,
		Annotations: readOnly,
	}, searchFiles)

	addTool(s, srv, &mcp.Tool{
		Name: "get_file_info",
		Description: `Retrieve metadata about a file or directory: size, modification time, type,
permissions and, for files, the detected MIME type. Only works within allowed directories.`,
		Annotations: readOnly,
	}, getFileInfo)

	addTool(s, srv, &mcp.Tool{
		Name: "list_allowed_directories",
		Description: `Returns the list of directories this server is allowed to access. Client roots,
when provided, replace the directories given on the command line.`,
		Annotations: readOnly,
	}, listAllowedDirectories)
}

func addTool[In any](s *Server, srv *mcp.Server, tool *mcp.Tool, fn toolFunc[In]) {
	mcp.AddTool(srv, tool, func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, any, error) {
		start := time.Now()
		logger := s.logger.With(slog.String("tool", tool.Name), slog.String("callID", uuid.NewString()))

		res, err := fn(ctx, s.allowedDirectories(ctx, req.Session), args)
		s.metrics.observeToolCall(tool.Name, err, time.Since(start))
		if err != nil {
			logger.Debug("tool call failed", slog.String("err", err.Error()))
			return nil, nil, err
		}

		logger.Debug("tool call completed", slog.Duration("elapsed", time.Since(start)))
		return res, nil, nil
	})
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func readFile(_ context.Context, allowedDirectories []string, args ReadFileArgs) (*mcp.CallToolResult, error) {
	if args.Head > 0 && args.Tail > 0 {
		return nil, errors.New("cannot specify both head and tail parameters simultaneously")
	}

	validPath, err := validatePath(args.Path, allowedDirectories)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(validPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file with path %s: %w", validPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path %s is a directory, not a file", validPath)
	}

	bs, err := os.ReadFile(validPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file with path %s: %w", validPath, err)
	}

	text := string(bs)
	switch {
	case args.Head > 0:
		text = headLines(text, args.Head)
	case args.Tail > 0:
		text = tailLines(text, args.Tail)
	}

	return textResult(text), nil
}

func readMediaFile(_ context.Context, allowedDirectories []string, args ReadMediaFileArgs) (*mcp.CallToolResult, error) {
	validPath, err := validatePath(args.Path, allowedDirectories)
	if err != nil {
		return nil, err
	}

	bs, err := os.ReadFile(validPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file with path %s: %w", validPath, err)
	}

	mimeType, _, _ := strings.Cut(mimetype.Detect(bs).String(), ";")

	var content mcp.Content
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		content = &mcp.ImageContent{Data: bs, MIMEType: mimeType}
	case strings.HasPrefix(mimeType, "audio/"):
		content = &mcp.AudioContent{Data: bs, MIMEType: mimeType}
	default:
		content = &mcp.EmbeddedResource{Resource: &mcp.ResourceContents{
			URI:      fileURI(validPath),
			MIMEType: mimeType,
			Blob:     bs,
		}}
	}

	return &mcp.CallToolResult{Content: []mcp.Content{content}}, nil
}

func readMultipleFiles(
	_ context.Context,
	allowedDirectories []string,
	args ReadMultipleFilesArgs,
) (*mcp.CallToolResult, error) {
	result := make([]mcp.Content, 0, len(args.Paths))

	for _, path := range args.Paths {
		text, err := readTextFile(path, allowedDirectories)
		if err != nil {
			result = append(result, &mcp.TextContent{Text: fmt.Sprintf("%s: Error - %s", path, err)})
			continue
		}
		result = append(result, &mcp.TextContent{Text: fmt.Sprintf("File content of %s:\n%s\n", path, text)})
	}

	return &mcp.CallToolResult{Content: result}, nil
}

func readTextFile(path string, allowedDirectories []string) (string, error) {
	validPath, err := validatePath(path, allowedDirectories)
	if err != nil {
		return "", err
	}
	bs, err := os.ReadFile(validPath)
	if err != nil {
		return "", err
	}
	return string(bs), nil
}

func writeFile(_ context.Context, allowedDirectories []string, args WriteFileArgs) (*mcp.CallToolResult, error) {
	validPath, err := validatePath(args.Path, allowedDirectories)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(validPath, []byte(args.Content), 0600); err != nil {
		return nil, fmt.Errorf("failed to write file with path %s: %w", validPath, err)
	}

	return textResult(fmt.Sprintf("Successfully wrote to %s", args.Path)), nil
}

func editFile(_ context.Context, allowedDirectories []string, args EditFileArgs) (*mcp.CallToolResult, error) {
	validPath, err := validatePath(args.Path, allowedDirectories)
	if err != nil {
		return nil, err
	}

	diff, err := applyFileEdits(validPath, args.Edits, args.DryRun)
	if err != nil {
		return nil, err
	}

	return textResult(diff), nil
}

func createDirectory(
	_ context.Context,
	allowedDirectories []string,
	args CreateDirectoryArgs,
) (*mcp.CallToolResult, error) {
	validPath, err := validatePath(args.Path, allowedDirectories)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(validPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory with path %s: %w", validPath, err)
	}

	return textResult(fmt.Sprintf("Successfully created directory %s", args.Path)), nil
}

func listDirectory(_ context.Context, allowedDirectories []string, args ListDirectoryArgs) (*mcp.CallToolResult, error) {
	validPath, err := validatePath(args.Path, allowedDirectories)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(validPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory with path %s: %w", validPath, err)
	}
	if len(entries) == 0 {
		return textResult("Directory is empty"), nil
	}

	result := make([]mcp.Content, 0, len(entries))
	for _, entry := range entries {
		prefix := "[FILE] "
		if entry.IsDir() {
			prefix = "[DIR] "
		}
		result = append(result, &mcp.TextContent{Text: prefix + entry.Name()})
	}

	return &mcp.CallToolResult{Content: result}, nil
}

func listDirectoryWithSizes(
	_ context.Context,
	allowedDirectories []string,
	args ListDirectoryWithSizesArgs,
) (*mcp.CallToolResult, error) {
	if args.SortBy != "" && args.SortBy != "name" && args.SortBy != "size" {
		return nil, fmt.Errorf("invalid sortBy %q: must be name or size", args.SortBy)
	}

	validPath, err := validatePath(args.Path, allowedDirectories)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(validPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory with path %s: %w", validPath, err)
	}

	type sizedEntry struct {
		name  string
		isDir bool
		size  int64
	}
	sized := make([]sizedEntry, 0, len(entries))
	for _, entry := range entries {
		se := sizedEntry{name: entry.Name(), isDir: entry.IsDir()}
		if info, err := entry.Info(); err == nil && !se.isDir {
			se.size = info.Size()
		}
		sized = append(sized, se)
	}

	if args.SortBy == "size" {
		sort.SliceStable(sized, func(i, j int) bool { return sized[i].size > sized[j].size })
	} else {
		sort.SliceStable(sized, func(i, j int) bool { return sized[i].name < sized[j].name })
	}

	var sb strings.Builder
	var files, dirs int
	var total int64
	for _, se := range sized {
		if se.isDir {
			dirs++
			fmt.Fprintf(&sb, "[DIR]  %s\n", se.name)
			continue
		}
		files++
		total += se.size
		fmt.Fprintf(&sb, "[FILE] %-30s %10s\n", se.name, formatSize(se.size))
	}
	fmt.Fprintf(&sb, "\nTotal: %d files, %d directories\n", files, dirs)
	fmt.Fprintf(&sb, "Combined size: %s", formatSize(total))

	return textResult(sb.String()), nil
}

func directoryTree(ctx context.Context, allowedDirectories []string, args DirectoryTreeArgs) (*mcp.CallToolResult, error) {
	validPath, err := validatePath(args.Path, allowedDirectories)
	if err != nil {
		return nil, err
	}

	exclude, err := compilePatterns(args.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	tree, err := buildTree(ctx, validPath, validPath, exclude)
	if err != nil {
		return nil, err
	}

	bs, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal directory tree: %w", err)
	}

	return textResult(string(bs)), nil
}

func moveFile(_ context.Context, allowedDirectories []string, args MoveFileArgs) (*mcp.CallToolResult, error) {
	source, err := validatePath(args.Source, allowedDirectories)
	if err != nil {
		return nil, err
	}
	destination, err := validatePath(args.Destination, allowedDirectories)
	if err != nil {
		return nil, err
	}

	if _, err := os.Lstat(destination); err == nil {
		return nil, fmt.Errorf("destination already exists: %s", args.Destination)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to check destination %s: %w", args.Destination, err)
	}

	if err := os.Rename(source, destination); err != nil {
		return nil, fmt.Errorf("failed to move file with path %s: %w", args.Source, err)
	}

	return textResult(fmt.Sprintf("Successfully moved %s to %s", args.Source, args.Destination)), nil
}

func searchFiles(ctx context.Context, allowedDirectories []string, args SearchFilesArgs) (*mcp.CallToolResult, error) {
	validPath, err := validatePath(args.Path, allowedDirectories)
	if err != nil {
		return nil, err
	}

	matches, err := findMatches(ctx, validPath, args.Pattern, args.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to search files: %w", err)
	}
	if len(matches) == 0 {
		return textResult("No matches found"), nil
	}

	result := make([]mcp.Content, 0, len(matches))
	for _, match := range matches {
		result = append(result, &mcp.TextContent{Text: match})
	}

	return &mcp.CallToolResult{Content: result}, nil
}

func getFileInfo(_ context.Context, allowedDirectories []string, args GetFileInfoArgs) (*mcp.CallToolResult, error) {
	validPath, err := validatePath(args.Path, allowedDirectories)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(validPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file with path %s: %w", validPath, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "size: %d\n", info.Size())
	fmt.Fprintf(&sb, "modified: %s\n", info.ModTime().Format(time.RFC3339))
	fmt.Fprintf(&sb, "isDirectory: %t\n", info.IsDir())
	fmt.Fprintf(&sb, "isFile: %t\n", info.Mode().IsRegular())
	fmt.Fprintf(&sb, "permissions: %o", info.Mode().Perm())
	if info.Mode().IsRegular() {
		if mt, err := mimetype.DetectFile(validPath); err == nil {
			fmt.Fprintf(&sb, "\nmimeType: %s", mt.String())
		}
	}

	return textResult(sb.String()), nil
}

func listAllowedDirectories(
	_ context.Context,
	allowedDirectories []string,
	_ ListAllowedDirectoriesArgs,
) (*mcp.CallToolResult, error) {
	if len(allowedDirectories) == 0 {
		return textResult("No allowed directories"), nil
	}

	result := make([]mcp.Content, 0, len(allowedDirectories))
	for _, dir := range allowedDirectories {
		result = append(result, &mcp.TextContent{Text: dir})
	}

	return &mcp.CallToolResult{Content: result}, nil
}

func fileURI(p string) string {
	return "file://" + filepath.ToSlash(p)
}
