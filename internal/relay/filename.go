package relay

import (
	"strings"
	"unicode"
)

// sanitizeFilename keeps the last path element and drops characters that
// would break a quoted Content-Disposition filename.
func sanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	name = strings.Map(func(r rune) rune {
		if r == '"' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}
