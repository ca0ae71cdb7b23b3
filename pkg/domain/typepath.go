package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// TypePath is the four-part identifier of a template:
// super_type/btype/b_sub_type/version. It is the unique key for live
// templates and is denormalized onto every instance created from one.
type TypePath struct {
	SuperType string `json:"super_type"`
	BType     string `json:"btype"`
	BSubType  string `json:"b_sub_type"`
	Version   string `json:"version"`
}

var (
	versionPattern = regexp.MustCompile(`^\d+\.\d+(\.\d+)?$`)
	segmentPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	prefixPattern  = regexp.MustCompile(`^[A-Z]{1,5}$`)
)

// ParseTypePath parses a slash- or dot-separated four-segment type path.
// Dotted form is accepted because template definitions historically used both.
func ParseTypePath(raw string) (TypePath, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TypePath{}, ErrInvalidDefinition{Ref: raw, Reason: "type path is empty"}
	}
	var parts []string
	if strings.Contains(trimmed, "/") {
		parts = strings.Split(trimmed, "/")
	} else {
		// Dotted form: the version itself contains dots, so only the first
		// three separators split segments.
		parts = strings.SplitN(trimmed, ".", 4)
	}
	if len(parts) != 4 {
		return TypePath{}, ErrInvalidDefinition{Ref: raw, Reason: fmt.Sprintf("type path needs 4 segments, got %d", len(parts))}
	}
	path := TypePath{
		SuperType: strings.TrimSpace(parts[0]),
		BType:     strings.TrimSpace(parts[1]),
		BSubType:  strings.TrimSpace(parts[2]),
		Version:   strings.TrimSpace(parts[3]),
	}
	for _, segment := range []string{path.SuperType, path.BType, path.BSubType} {
		if !segmentPattern.MatchString(segment) {
			return TypePath{}, ErrInvalidDefinition{Ref: raw, Reason: fmt.Sprintf("invalid segment %q", segment)}
		}
	}
	if !versionPattern.MatchString(path.Version) {
		return TypePath{}, ErrInvalidDefinition{Ref: raw, Reason: fmt.Sprintf("version %q does not match X.Y or X.Y.Z", path.Version)}
	}
	return path, nil
}

// String renders the canonical slash-joined form.
func (p TypePath) String() string {
	return strings.Join([]string{p.SuperType, p.BType, p.BSubType, p.Version}, "/")
}

// IsZero reports whether the path is unset.
func (p TypePath) IsZero() bool {
	return p == TypePath{}
}

// ValidPrefix reports whether s is an acceptable EUID prefix: one to five
// uppercase ASCII letters.
func ValidPrefix(s string) bool {
	return prefixPattern.MatchString(s)
}

// DefaultPrefix is the generic EUID prefix used when a template's own prefix
// cannot be resolved. Creation degrades to it rather than failing.
const DefaultPrefix = "GEN"
