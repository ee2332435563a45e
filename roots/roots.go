// Package roots turns client-declared root specifications into the list of canonical directory
// paths that actually exist on this host.
//
// Validation is best-effort by construction: a root that does not exist, cannot be inspected or
// is not a directory is dropped and reported, and the remaining roots are still processed.
package roots

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MegaGrindStone/go-mcp-servers/pathutil"
	"golang.org/x/sync/errgroup"
)

const fileScheme = "file://"

// Spec is one root as declared by a client: a file:// URI or a bare path, plus an optional
// human-readable name. Validation never modifies it.
type Spec struct {
	URI  string
	Name string
}

// StatFunc reports information about the named file, like os.Stat.
type StatFunc func(name string) (fs.FileInfo, error)

// Reason classifies why a root was rejected.
type Reason int

const (
	// ReasonInvalid means the path could not be stat'ed: it does not exist, access was denied,
	// or validation was cancelled before reaching it.
	ReasonInvalid Reason = iota
	// ReasonNotDirectory means the path exists but is not a directory.
	ReasonNotDirectory
)

func (r Reason) String() string {
	if r == ReasonNotDirectory {
		return "not_directory"
	}
	return "invalid"
}

// Rejection records one root that did not make it into Result.Directories.
type Rejection struct {
	Spec   Spec
	Path   string // canonical path that was checked
	Reason Reason
	Err    error // set for ReasonInvalid
}

// String renders the rejection the way it is logged.
func (r Rejection) String() string {
	if r.Reason == ReasonNotDirectory {
		return fmt.Sprintf("skipping non-directory root: %s", r.Path)
	}
	return fmt.Sprintf("skipping invalid directory: %s due to error: %v", r.Path, r.Err)
}

// Result is the outcome of validating a list of root specifications. Both slices follow the input
// order. Directories is never nil.
type Result struct {
	Directories []string
	Rejected    []Rejection
}

// Log writes one warning per rejection, in input order.
func (r Result) Log(logger *slog.Logger) {
	for _, rej := range r.Rejected {
		attrs := []any{slog.String("path", rej.Path), slog.String("reason", rej.Reason.String())}
		if rej.Err != nil {
			attrs = append(attrs, slog.String("err", rej.Err.Error()))
		}
		logger.Warn(rej.String(), attrs...)
	}
}

// Validator checks root specifications against the filesystem.
type Validator struct {
	stat        StatFunc
	canonical   func(string) string
	logger      *slog.Logger
	concurrency int
}

// Option configures a Validator.
type Option func(*Validator)

// WithStat replaces os.Stat as the filesystem query.
func WithStat(stat StatFunc) Option {
	return func(v *Validator) {
		v.stat = stat
	}
}

// WithCanonicalizer replaces pathutil.Normalize as the canonicalization step.
func WithCanonicalizer(fn func(string) string) Option {
	return func(v *Validator) {
		v.canonical = fn
	}
}

// WithLogger sets the logger used by ValidRootDirectories.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger.With(slog.String("package", "roots"))
	}
}

// WithConcurrency allows up to n stat calls in flight. Values below 2 keep validation sequential.
// Output order is the input order either way.
func WithConcurrency(n int) Option {
	return func(v *Validator) {
		v.concurrency = n
	}
}

// New creates a Validator. Without options it uses os.Stat, pathutil.Normalize, slog.Default and
// checks one root at a time.
func New(opts ...Option) Validator {
	v := Validator{
		stat:        os.Stat,
		canonical:   pathutil.Normalize,
		logger:      slog.Default(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(&v)
	}
	return v
}

// Validate resolves, canonicalizes and checks every spec. It never fails: problems end up in
// Result.Rejected. An empty input performs no filesystem queries.
func (v Validator) Validate(ctx context.Context, specs []Spec) Result {
	outcomes := make([]outcome, len(specs))

	if v.concurrency < 2 || len(specs) < 2 {
		for i, spec := range specs {
			outcomes[i] = v.check(ctx, spec)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(v.concurrency)
		for i, spec := range specs {
			g.Go(func() error {
				outcomes[i] = v.check(ctx, spec)
				return nil
			})
		}
		// Every goroutine returns nil; outcomes carry the results.
		_ = g.Wait()
	}

	res := Result{Directories: make([]string, 0, len(specs))}
	for _, o := range outcomes {
		if o.rejected != nil {
			res.Rejected = append(res.Rejected, *o.rejected)
			continue
		}
		res.Directories = append(res.Directories, o.dir)
	}
	return res
}

// ValidRootDirectories validates specs, logs every rejection and returns the accepted directories.
func (v Validator) ValidRootDirectories(ctx context.Context, specs []Spec) []string {
	res := v.Validate(ctx, specs)
	res.Log(v.logger)
	return res.Directories
}

type outcome struct {
	dir      string
	rejected *Rejection
}

func (v Validator) check(ctx context.Context, spec Spec) outcome {
	p := v.Canonical(spec.URI)

	if err := ctx.Err(); err != nil {
		return outcome{rejected: &Rejection{Spec: spec, Path: p, Reason: ReasonInvalid, Err: err}}
	}

	info, err := v.stat(p)
	if err != nil {
		return outcome{rejected: &Rejection{Spec: spec, Path: p, Reason: ReasonInvalid, Err: err}}
	}
	if !info.IsDir() {
		return outcome{rejected: &Rejection{Spec: spec, Path: p, Reason: ReasonNotDirectory}}
	}
	return outcome{dir: p}
}

// Canonical converts a root URI or raw path to the canonical path that Validate checks. Relative
// and POSIX paths are first made absolute and cleaned with the host's rules; drive and mount
// spellings go straight to the canonicalizer.
func (v Validator) Canonical(uri string) string {
	raw := PathFromURI(uri)
	switch pathutil.Classify(raw) {
	case pathutil.SyntaxRelative, pathutil.SyntaxPOSIX:
		if abs, err := filepath.Abs(raw); err == nil {
			raw = abs
		}
	}
	return v.canonical(raw)
}

// PathFromURI strips the file:// scheme from uri and percent-decodes the remainder. The
// file:///C:/dir spelling loses its leading slash. Strings without the scheme are returned as is.
func PathFromURI(uri string) string {
	if !strings.HasPrefix(uri, fileScheme) {
		return uri
	}
	p := strings.TrimPrefix(uri, fileScheme)
	if decoded, err := url.PathUnescape(p); err == nil {
		p = decoded
	}
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' && pathutil.Classify(p[1:]) == pathutil.SyntaxDrive {
		p = p[1:]
	}
	return p
}
