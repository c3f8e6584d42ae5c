package archive

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrUnsafePath is returned for names that would resolve outside the
// directory they are placed in.
var ErrUnsafePath = errors.New("unsafe path")

// ErrMemberConflict is returned when one extracted path would have to be both
// a file and a directory.
var ErrMemberConflict = errors.New("conflicting member paths")

// RelativePath cleans a slash separated name from an archive or an object key
// and returns it in a form that stays under any root it is joined to.
// Absolute names, names that climb out with "..", and names that clean to the
// root itself are rejected.
func RelativePath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnsafePath)
	}
	if strings.ContainsRune(name, '\\') {
		return "", fmt.Errorf("%w: %q contains a backslash", ErrUnsafePath, name)
	}
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrUnsafePath, name)
	}

	cleaned := path.Clean(name)
	switch {
	case cleaned == ".":
		return "", fmt.Errorf("%w: %q names the root", ErrUnsafePath, name)
	case cleaned == "..", strings.HasPrefix(cleaned, "../"):
		return "", fmt.Errorf("%w: %q leaves the root", ErrUnsafePath, name)
	}

	return cleaned, nil
}
