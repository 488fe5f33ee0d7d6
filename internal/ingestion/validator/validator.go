// Package validator checks uploaded decree files before they are written to
// the documents folder and returns per-field error details.
package validator

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

const maxNameLength = 255

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	var parts []string
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// Upload describes a file offered for ingestion.
type Upload struct {
	Name string
	Size int64
}

// Rules are the folder's constraints on deposited files.
type Rules struct {
	Extension string
	MaxBytes  int64
}

// ValidateUpload checks that the file name is a bare name with the expected
// extension, usable as a ledger ID, and that the size is within limits.
func ValidateUpload(u Upload, rules Rules) error {
	errs := make(map[string]string)

	name := u.Name
	id := strings.TrimSuffix(name, filepath.Ext(name))
	switch {
	case strings.TrimSpace(name) == "":
		errs["file"] = "file name is required"
	case len(name) > maxNameLength:
		errs["file"] = fmt.Sprintf("file name must be at most %d characters", maxNameLength)
	case name != filepath.Base(name) || strings.ContainsAny(name, `/\`):
		errs["file"] = "file name must not contain a path"
	case strings.ContainsAny(name, "\r\n"):
		errs["file"] = "file name must not contain line breaks"
	case strings.TrimSpace(id) == "" || strings.HasPrefix(name, "."):
		errs["file"] = "file name must not be empty before the extension"
	case !strings.EqualFold(filepath.Ext(name), normalizeExt(rules.Extension)):
		errs["file"] = fmt.Sprintf("file must have extension %s", normalizeExt(rules.Extension))
	}

	if u.Size <= 0 {
		errs["size"] = "file is empty"
	} else if rules.MaxBytes > 0 && u.Size > rules.MaxBytes {
		errs["size"] = fmt.Sprintf("file must be at most %d bytes", rules.MaxBytes)
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func normalizeExt(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		return "." + ext
	}
	return ext
}
