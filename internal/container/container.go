// Package container resolves paths inside the cloud-synchronized container.
//
// The container filesystem is rooted at the container root; every path
// handed to it is container-relative. User-facing relative paths resolve
// under the Documents directory.
package container

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"

	"cloudstash/internal/models"
)

const DocumentsDir = "Documents"

type Container struct {
	root string
	fs   billy.Filesystem
}

func New(root string, fs billy.Filesystem) *Container {
	return &Container{
		root: filepath.Clean(root),
		fs:   fs,
	}
}

// Root returns the absolute container root.
func (c *Container) Root() string {
	return c.root
}

func (c *Container) FS() billy.Filesystem {
	return c.fs
}

// DocumentsPath maps a user path onto Documents/. The path is cleaned as if
// rooted so it can never climb out of Documents.
func (c *Container) DocumentsPath(rel string) string {
	cleaned := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(rel)), "/")
	if cleaned == "" {
		return DocumentsDir
	}
	return path.Join(DocumentsDir, cleaned)
}

// Abs returns the absolute path of a container-relative path.
func (c *Container) Abs(rel string) string {
	return filepath.Join(c.root, filepath.FromSlash(rel))
}

// Rel returns the container-relative path of abs, rejecting anything that is
// not strictly inside the root.
func (c *Container) Rel(abs string) (string, error) {
	abs = strings.TrimPrefix(abs, "file://")
	if !filepath.IsAbs(abs) {
		return "", models.ErrOutsideContainer(abs)
	}
	rel, err := filepath.Rel(c.root, filepath.Clean(abs))
	if err != nil {
		return "", models.ErrOutsideContainer(abs)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", models.ErrOutsideContainer(abs)
	}
	return filepath.ToSlash(rel), nil
}

// Resolve accepts either an absolute path inside the container or a path
// relative to Documents/.
func (c *Container) Resolve(p string) (string, error) {
	p = strings.TrimPrefix(p, "file://")
	if filepath.IsAbs(p) {
		return c.Rel(p)
	}
	return c.DocumentsPath(p), nil
}

// ScopeOf classifies a container-relative path into its search scope.
func (c *Container) ScopeOf(rel string) models.SearchScope {
	if rel == DocumentsDir || strings.HasPrefix(rel, DocumentsDir+"/") {
		return models.ScopeDocuments
	}
	return models.ScopeData
}

// Exists reports whether rel exists and is of the requested kind.
func (c *Container) Exists(rel string, isDirectory bool) (bool, error) {
	info, err := c.fs.Stat(rel)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", rel, err)
	}
	if isDirectory {
		return info.IsDir(), nil
	}
	return true, nil
}

// DisplayName is the name the platform indexes an item under.
func DisplayName(p string) string {
	return path.Base(filepath.ToSlash(strings.TrimPrefix(p, "file://")))
}

// LocalPath strips a file:// scheme from a local path.
func LocalPath(p string) string {
	return strings.TrimPrefix(p, "file://")
}
