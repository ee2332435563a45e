package filesystem

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/MegaGrindStone/go-mcp-servers/pathutil"
	"github.com/MegaGrindStone/go-mcp-servers/roots"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `This server exposes the local filesystem through a set of tools.
All paths must lie within the allowed directories; call list_allowed_directories to see them.
Paths may be given in POSIX, Windows drive-letter or WSL (/mnt/<drive>/...) form.`

// Server implements the Model Context Protocol (MCP) for filesystem operations. It provides
// access to the local filesystem through a set of allowed directories, exposing standard
// filesystem operations as MCP tools.
//
// The allowed directories start as the ones given to NewServer. When a client exposes roots,
// each session replaces them with the client's roots that exist on this host and are directories.
// Server asks the client for its roots again after every roots list change notification.
type Server struct {
	dirs []string

	validator    *roots.Validator
	logger       *slog.Logger
	metrics      *Metrics
	newSessionID func() string

	sessions sync.Map // map[*mcp.ServerSession]*sessionRoots

	mcpServer *mcp.Server
}

// Option configures a Server.
type Option func(*Server)

type sessionRoots struct {
	stale atomic.Bool

	mu   sync.Mutex
	dirs []string
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "filesystem"),
			slog.String("component", "server"),
		)
	}
}

// WithMetrics records tool calls and root validations into m.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithRootValidator replaces the validator used for client roots.
func WithRootValidator(v roots.Validator) Option {
	return func(s *Server) {
		s.validator = &v
	}
}

// WithSessionIDGenerator sets the function producing session ids for HTTP transports.
func WithSessionIDGenerator(fn func() string) Option {
	return func(s *Server) {
		s.newSessionID = fn
	}
}

// NewServer creates a filesystem MCP server whose tools operate within dirs.
//
// Each directory is home-expanded, made absolute and canonicalized, and must exist and be a
// directory. dirs may be empty, in which case every tool fails until a client supplies roots.
//
// It returns an error if any directory does not exist, is not a directory, or cannot be accessed.
func NewServer(dirs []string, opts ...Option) (*Server, error) {
	s := &Server{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		v := roots.New(roots.WithLogger(s.logger))
		s.validator = &v
	}

	for _, dir := range dirs {
		p, err := canonicalDirectory(dir)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat root directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("root directory is not a directory: %s", dir)
		}
		s.dirs = append(s.dirs, p)
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "filesystem",
		Version: "1.0",
	}, &mcp.ServerOptions{
		Instructions:            serverInstructions,
		InitializedHandler:      s.onInitialized,
		RootsListChangedHandler: s.onRootsListChanged,
		GetSessionID:            s.newSessionID,
	})
	s.registerTools(s.mcpServer)

	return s, nil
}

// MCP returns the protocol server, ready to be connected to a transport.
func (s *Server) MCP() *mcp.Server {
	return s.mcpServer
}

// Directories returns the directories given to NewServer in canonical form.
func (s *Server) Directories() []string {
	return slices.Clone(s.dirs)
}

func canonicalDirectory(dir string) (string, error) {
	expanded := pathutil.ExpandHome(dir)
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to resolve directory %s: %w", dir, err)
	}
	return pathutil.Normalize(abs), nil
}

func (s *Server) session(ss *mcp.ServerSession) *sessionRoots {
	if v, ok := s.sessions.Load(ss); ok {
		return v.(*sessionRoots)
	}
	st := &sessionRoots{dirs: s.dirs}
	st.stale.Store(true)
	v, _ := s.sessions.LoadOrStore(ss, st)
	return v.(*sessionRoots)
}

func (s *Server) onInitialized(_ context.Context, req *mcp.InitializedRequest) {
	ss := req.Session
	s.session(ss)

	go func() {
		_ = ss.Wait()
		s.sessions.Delete(ss)
	}()
}

func (s *Server) onRootsListChanged(_ context.Context, req *mcp.RootsListChangedRequest) {
	s.session(req.Session).stale.Store(true)

	s.logger.Info("client roots changed; refreshing on next request")
}

// allowedDirectories returns the directories a tool call in ss may touch, asking the client for
// its roots first if they are stale.
func (s *Server) allowedDirectories(ctx context.Context, ss *mcp.ServerSession) []string {
	if ss == nil {
		return s.Directories()
	}

	st := s.session(ss)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.stale.CompareAndSwap(true, false) {
		if dirs, ok := s.clientRoots(ctx, ss); ok {
			st.dirs = dirs
		}
	}

	return slices.Clone(st.dirs)
}

func (s *Server) clientRoots(ctx context.Context, ss *mcp.ServerSession) ([]string, bool) {
	res, err := ss.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil {
		s.logger.Warn("failed to request roots from client", slog.String("err", err.Error()))
		return nil, false
	}

	specs := make([]roots.Spec, 0, len(res.Roots))
	for _, root := range res.Roots {
		specs = append(specs, roots.Spec{URI: root.URI, Name: root.Name})
	}
	if len(specs) == 0 {
		s.logger.Debug("client has no roots; keeping allowed directories")
		return nil, false
	}

	result := s.validator.Validate(ctx, specs)
	result.Log(s.logger)
	s.metrics.observeRoots(result)

	if len(result.Directories) == 0 {
		s.logger.Warn("no valid root directories provided by client")
		return nil, false
	}

	s.logger.Info("updated allowed directories from client roots",
		slog.Any("directories", result.Directories))
	return result.Directories, true
}
