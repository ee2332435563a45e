// Package pathutil canonicalizes filesystem paths that may be spelled in POSIX, Windows drive-letter
// or WSL-mount form, so paths coming from clients on different operating systems can be compared
// with each other and with the server's allowed directories.
//
// Every function except ExpandHome is a pure string transformation and performs no I/O.
package pathutil

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Syntax identifies the surface syntax a path is written in.
type Syntax int

const (
	// SyntaxRelative is any path without a leading slash or drive colon.
	SyntaxRelative Syntax = iota
	// SyntaxPOSIX is a genuine Unix absolute path, such as /usr/local/bin.
	SyntaxPOSIX
	// SyntaxWSLMount is a Windows drive exposed under WSL, such as /mnt/c/Users.
	SyntaxWSLMount
	// SyntaxUnixDrive is the single-letter drive spelling used by MSYS and Git Bash, such as /c/Users.
	SyntaxUnixDrive
	// SyntaxDrive is a native Windows drive-letter path, such as C:\Users or c:/Users.
	SyntaxDrive
)

func (s Syntax) String() string {
	switch s {
	case SyntaxPOSIX:
		return "posix"
	case SyntaxWSLMount:
		return "wsl-mount"
	case SyntaxUnixDrive:
		return "unix-drive"
	case SyntaxDrive:
		return "drive"
	default:
		return "relative"
	}
}

// Classify reports the syntax of p after surrounding whitespace and quotes are removed.
//
// The checks are ordered and the first match wins: a /mnt/<letter>/ prefix is always a WSL mount,
// even though it also has the shape of a generic single-letter path.
func Classify(p string) Syntax {
	return classify(stripWrapping(p))
}

func classify(p string) Syntax {
	switch {
	case isWSLMount(p):
		return SyntaxWSLMount
	case isUnixDrive(p):
		return SyntaxUnixDrive
	case strings.HasPrefix(p, "/"):
		return SyntaxPOSIX
	case hasDrivePrefix(p):
		return SyntaxDrive
	default:
		return SyntaxRelative
	}
}

// Normalize returns the canonical form of p.
//
// POSIX paths only get their slash runs collapsed and their trailing slash removed. WSL-mount,
// single-letter and drive-letter paths all become <DRIVE>:\... with backslash separators, resolved
// "." and ".." segments and an uppercase drive letter. Relative paths are cleaned with whichever
// separator they use. Normalize never fails; unrecognized input is normalized best-effort.
func Normalize(p string) string {
	p = stripWrapping(p)

	switch classify(p) {
	case SyntaxPOSIX:
		return normalizePOSIX(p)
	case SyntaxWSLMount:
		// "/mnt/c/rest" -> drive "c", remainder "/rest".
		return normalizeDrive(p[5:6], p[6:])
	case SyntaxUnixDrive:
		// "/c/rest" -> drive "c", remainder "/rest".
		return normalizeDrive(p[1:2], p[2:])
	case SyntaxDrive:
		return normalizeDrive(p[:1], p[2:])
	default:
		return normalizeRelative(p)
	}
}

// ExpandHome replaces a leading "~" or "~/" with the current user's home directory.
// Any other input, or a home directory that cannot be determined, is returned unchanged.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}

// Within reports whether the canonical path p equals dir or lies beneath it. Both arguments are
// expected to be outputs of Normalize. Drive-letter paths compare case-insensitively, POSIX paths
// case-sensitively, and paths of different syntaxes never contain each other.
func Within(p, dir string) bool {
	if p == "" || dir == "" {
		return false
	}

	pDrive, dirDrive := hasDrivePrefix(p), hasDrivePrefix(dir)
	if pDrive != dirDrive {
		return false
	}

	if pDrive {
		if strings.EqualFold(p, dir) {
			return true
		}
		prefix := dir
		if !strings.HasSuffix(prefix, `\`) {
			prefix += `\`
		}
		return len(p) > len(prefix) && strings.EqualFold(p[:len(prefix)], prefix)
	}

	if p == dir {
		return true
	}
	if dir == "/" {
		return strings.HasPrefix(p, "/")
	}
	return strings.HasPrefix(p, dir+"/")
}

func stripWrapping(p string) string {
	p = strings.TrimSpace(p)
	if len(p) >= 2 {
		first, last := p[0], p[len(p)-1]
		if (first == '"' || first == '\'') && first == last {
			p = p[1 : len(p)-1]
		}
	}
	return p
}

func isLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isWSLMount(p string) bool {
	return len(p) >= 7 && strings.HasPrefix(p, "/mnt/") && isLetter(p[5]) && p[6] == '/'
}

func isUnixDrive(p string) bool {
	return len(p) >= 3 && p[0] == '/' && isLetter(p[1]) && p[2] == '/'
}

func hasDrivePrefix(p string) bool {
	return len(p) >= 2 && isLetter(p[0]) && p[1] == ':'
}

func normalizePOSIX(p string) string {
	p = collapse(p, '/')
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// normalizeDrive builds the canonical drive path from a drive letter and whatever follows the
// drive designator. rest may use either separator.
func normalizeDrive(letter, rest string) string {
	drive := strings.ToUpper(letter) + ":"
	rest = strings.ReplaceAll(rest, "/", `\`)

	absolute := strings.HasPrefix(rest, `\`)
	segments := resolveSegments(strings.Split(rest, `\`), absolute)
	joined := strings.Join(segments, `\`)

	if absolute {
		return drive + `\` + joined
	}
	return drive + joined
}

func normalizeRelative(p string) string {
	if strings.Contains(p, `\`) {
		p = strings.ReplaceAll(p, "/", `\`)
		joined := strings.Join(resolveSegments(strings.Split(p, `\`), false), `\`)
		if joined == "" {
			return "."
		}
		return joined
	}
	return path.Clean(p)
}

// resolveSegments drops empty and "." segments and applies ".." to the preceding segment.
// For absolute paths ".." never climbs above the root; relative paths keep leading "..".
func resolveSegments(parts []string, absolute bool) []string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
		case "..":
			switch {
			case len(out) > 0 && out[len(out)-1] != "..":
				out = out[:len(out)-1]
			case !absolute:
				out = append(out, "..")
			}
		default:
			out = append(out, part)
		}
	}
	return out
}

func collapse(p string, sep byte) string {
	double := string([]byte{sep, sep})
	for strings.Contains(p, double) {
		p = strings.ReplaceAll(p, double, string(sep))
	}
	return p
}
