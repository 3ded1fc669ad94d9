// Package archivesec validates paths and content before the executor
// writes a rendered post to disk. Grounded on
// original_source/python/io_ops/archive_security.py's SecurityValidator.
package archivesec

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/cheolwanpark/meows-archive/collector/internal/errs"
)

// AllowedExtensions mirrors the source's ALLOWED_EXTENSIONS set, narrowed
// to the formats this engine actually renders.
var AllowedExtensions = map[string]bool{
	".md":   true,
	".html": true,
}

// ValidatePathSafety rejects a target path that resolves outside base
// once cleaned, or that still carries a ".." component after cleaning.
func ValidatePathSafety(target, base string) error {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return errs.NewInvalidInput("path", "cannot resolve: "+err.Error())
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return errs.NewInvalidInput("path", "cannot resolve base: "+err.Error())
	}

	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errs.NewInvalidInput("path", "path escapes save directory")
	}
	return nil
}

// ValidateExtension rejects any extension outside AllowedExtensions.
func ValidateExtension(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !AllowedExtensions[ext] {
		return errs.NewInvalidInput("path", "extension not allowed: "+ext)
	}
	return nil
}

// ValidateContent rejects content carrying a null byte. The source
// treats this as a strict rule for text files; it is not configurable
// here, matching the spec'd inherited behavior (see the design notes on
// pluggable policy).
func ValidateContent(content []byte) error {
	if bytes.IndexByte(content, 0) != -1 {
		return errs.NewInvalidInput("content", "null byte in text content")
	}
	return nil
}
