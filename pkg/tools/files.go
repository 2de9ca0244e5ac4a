package tools

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

func ResolvePath(path string) string {
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	return realPath
}

// CopyFileAtomic copies src to dest by writing a temporary sibling first
// and renaming it into place, so readers never observe a partial file.
func CopyFileAtomic(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".chef-copy-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, err = io.Copy(tmp, in)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpName, info.Mode().Perm())
	}
	if err == nil {
		err = os.Rename(tmpName, dest)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("atomic copy %s -> %s: %w", src, dest, err)
	}
	return nil
}

// JoinInside joins rel below root and rejects escapes through "..", so a
// container path can never address the host filesystem.
func JoinInside(root, rel string) (string, error) {
	joined := filepath.Join(root, rel)
	if joined != root && !strings.HasPrefix(joined, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %s escapes %s", rel, root)
	}
	return joined, nil
}
