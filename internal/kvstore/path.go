package kvstore

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is returned for empty paths or segments with reserved characters.
var ErrInvalidPath = errors.New("invalid path")

const reservedChars = ".#$[]"

// Clean trims surrounding slashes and validates every segment of p.
func Clean(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if err := checkSegment(seg); err != nil {
			return "", fmt.Errorf("%w: %q", err, p)
		}
	}
	return p, nil
}

// Join builds a path from segments. It does not validate; pass the result through Clean.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func checkSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("%w: empty segment", ErrInvalidPath)
	}
	if strings.ContainsAny(seg, reservedChars) {
		return fmt.Errorf("%w: segment %q contains one of %q", ErrInvalidPath, seg, reservedChars)
	}
	return nil
}

// ancestors returns every proper prefix of p, nearest last.
func ancestors(p string) []string {
	var out []string
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[:i])
		}
	}
	return out
}

// within reports whether p equals root or lies below it.
func within(root, p string) bool {
	return p == root || strings.HasPrefix(p, root+"/")
}

// overlaps reports whether a change at one path can alter the value observed at the other.
func overlaps(a, b string) bool {
	return within(a, b) || within(b, a)
}

func lastSegment(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
