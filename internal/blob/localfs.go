// Package blob 上传文件的本地磁盘存储与过期清理。
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidPath = errors.New("blob: path escapes root")

type LocalFS struct {
	Root string
}

// Path 返回 relPath 在 Root 下的绝对路径，拒绝 .. 越界。
func (l LocalFS) Path(relPath string) (string, error) {
	clean := filepath.Clean("/" + relPath)
	abs, err := filepath.Abs(filepath.Join(l.Root, clean))
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(l.Root)
	if err != nil {
		return "", err
	}
	if abs == root || !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	}
	return abs, nil
}

// Put 写入文件并返回其绝对路径。写入失败时不留半截文件。
func (l LocalFS) Put(relPath string, r io.Reader) (string, error) {
	abs, err := l.Path(relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(abs)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(abs)
		return "", err
	}
	return abs, nil
}

func (l LocalFS) Open(relPath string) (*os.File, error) {
	abs, err := l.Path(relPath)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

func (l LocalFS) Exists(relPath string) bool {
	abs, err := l.Path(relPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}
