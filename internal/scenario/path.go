package scenario

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrUnknownPlaceholder is returned when a path template names a field with no value
var ErrUnknownPlaceholder = errors.New("unknown placeholder")

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// RenderPath substitutes {{ name }} placeholders with values[name].
// "/example/path/{{ myfield }}" with myfield=test renders "/example/path/test".
func RenderPath(tmpl string, values map[string]string) (string, error) {
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		value, ok := values[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w in %q: %s", ErrUnknownPlaceholder, tmpl, strings.Join(missing, ", "))
	}
	return out, nil
}

// FilePath joins the base directory and a rendered entry path the way the
// server stores it, without collapsing the separator.
func FilePath(baseDir, renderedPath string) string {
	return baseDir + "/" + renderedPath
}

// InsideBase reports whether a rendered entry path stays under the base
// directory once its ".." elements are applied.
func InsideBase(renderedPath string) bool {
	return filepath.IsLocal(filepath.FromSlash(strings.TrimLeft(renderedPath, "/")))
}
