package watcher

import (
	"path/filepath"
	"strings"
)

// Class categorizes a changed path for downstream routing.
type Class int

const (
	ClassNone Class = iota
	ClassViewAsset
	ClassAPIAsset
	ClassConfig
	ClassRouteStructural
)

// String returns the string representation of the class.
func (c Class) String() string {
	switch c {
	case ClassViewAsset:
		return "view-asset"
	case ClassAPIAsset:
		return "api-asset"
	case ClassConfig:
		return "config"
	case ClassRouteStructural:
		return "route-structural"
	default:
		return "none"
	}
}

// Classifier maps changed paths to classes based on the project layout.
type Classifier struct {
	appDir      string
	apiDir      string
	configFiles []string
}

// NewClassifier creates a classifier for the given project directories.
func NewClassifier(appDir, apiDir string, configFiles ...string) *Classifier {
	if len(configFiles) == 0 {
		configFiles = []string{".tavo.yml", "tavo.config.json"}
	}
	return &Classifier{
		appDir:      filepath.Clean(appDir),
		apiDir:      filepath.Clean(apiDir),
		configFiles: configFiles,
	}
}

// Classify determines how a change routes downstream. Adding or removing a
// route-defining file changes URL space, so those are route-structural;
// edits to existing files are plain view or API assets. Paths outside the
// watched trees and non-source noise classify to none.
func (c *Classifier) Classify(path string, op Op) Class {
	base := filepath.Base(path)
	for _, cf := range c.configFiles {
		if base == cf {
			return ClassConfig
		}
	}

	structural := op == OpCreated || op == OpDeleted

	if within(path, c.apiDir) {
		if !isAPISource(base) {
			return ClassNone
		}
		if structural {
			return ClassRouteStructural
		}
		return ClassAPIAsset
	}

	// Anything under the api root but outside the routes dir still belongs
	// to the backend (models, middleware, shared modules).
	if apiRoot := filepath.Dir(c.apiDir); apiRoot != "." && within(path, apiRoot) {
		if !isAPISource(base) {
			return ClassNone
		}
		return ClassAPIAsset
	}

	if within(path, c.appDir) {
		if !isViewSource(base) {
			return ClassNone
		}
		if structural && isRouteFile(base) {
			return ClassRouteStructural
		}
		return ClassViewAsset
	}

	return ClassNone
}

func isRouteFile(base string) bool {
	return base == "page.tsx"
}

func isViewSource(base string) bool {
	switch filepath.Ext(base) {
	case ".tsx", ".jsx", ".ts", ".js", ".css":
		return true
	}
	return false
}

func isAPISource(base string) bool {
	if base == "__init__.py" {
		return true // still backend code, restarts apply
	}
	switch filepath.Ext(base) {
	case ".py", ".ts":
		return true
	}
	return false
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
