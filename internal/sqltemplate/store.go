package sqltemplate

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

// TemplatePath returns the resource path of a template: <format>/v<version>/<query>.sql.
func TemplatePath(formatLabel, formatVersion, queryName string) string {
	return path.Join(strings.ToLower(formatLabel), "v"+formatVersion, queryName+".sql")
}

// FSStore reads templates from a file system laid out by TemplatePath.
type FSStore struct {
	fsys fs.FS
}

// NewFSStore creates a template store over fsys.
func NewFSStore(fsys fs.FS) *FSStore {
	return &FSStore{fsys: fsys}
}

// Load implements domain.TemplateStore.
func (s *FSStore) Load(formatLabel, formatVersion, queryName string) (string, error) {
	p := TemplatePath(formatLabel, formatVersion, queryName)
	b, err := fs.ReadFile(s.fsys, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", domain.ErrNotFound("template %s not found", p)
		}
		return "", fmt.Errorf("read template %s: %w", p, err)
	}
	return string(b), nil
}

// Chain tries each store in turn. A store returning NotFound passes the
// lookup on; any other error stops it.
type Chain []domain.TemplateStore

// Load implements domain.TemplateStore.
func (c Chain) Load(formatLabel, formatVersion, queryName string) (string, error) {
	for _, s := range c {
		text, err := s.Load(formatLabel, formatVersion, queryName)
		if err == nil {
			return text, nil
		}
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) {
			return "", err
		}
	}
	return "", domain.ErrNotFound("template %s not found", TemplatePath(formatLabel, formatVersion, queryName))
}
