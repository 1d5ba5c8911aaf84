// Package filestore manages the two file namespaces behind the staging
// subsystem: staged/ holds uploads until execution promotes them into
// documents/, the permanent tree. The database stores bare filenames; the
// base path is a runtime collaborator, never persisted.
package filestore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	stagedDirName    = "staged"
	documentsDirName = "documents"
)

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	for _, dir := range []string{stagedDirName, documentsDirName} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, err
		}
	}
	return &Store{root: root}, nil
}

// SaveStaged writes an upload under a randomized name. Timestamp plus random
// hex keeps concurrent requests collision-free without any locking.
func (s *Store) SaveStaged(field, originalName string, src io.Reader) (string, error) {
	name := fmt.Sprintf("%d_%s_%s%s", time.Now().UnixMilli(), randomHex(4), field, safeExt(originalName))
	dst, err := os.Create(filepath.Join(s.root, stagedDirName, name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return name, nil
}

// Promote renames a staged file into the permanent tree. Rename, not copy:
// both namespaces live on the same volume.
func (s *Store) Promote(name string) error {
	return os.Rename(
		filepath.Join(s.root, stagedDirName, name),
		filepath.Join(s.root, documentsDirName, name),
	)
}

func (s *Store) RemoveStaged(name string) error {
	return os.Remove(filepath.Join(s.root, stagedDirName, name))
}

// StagedURL and DocumentURL own the relative URL namespaces; everything that
// derives a file URL goes through them.
func StagedURL(name string) string   { return stagedDirName + "/" + name }
func DocumentURL(name string) string { return documentsDirName + "/" + name }

func (s *Store) StagedURL(name string) string   { return StagedURL(name) }
func (s *Store) DocumentURL(name string) string { return DocumentURL(name) }

// StagedDir and DocumentsDir expose the trees for the static file server.
func (s *Store) StagedDir() string    { return filepath.Join(s.root, stagedDirName) }
func (s *Store) DocumentsDir() string { return filepath.Join(s.root, documentsDirName) }

func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if ext == "" || len(ext) > 10 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b)
}
