package pack

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"
)

// tarReader implements Reader over a plain tar archive. The index is
// built once at open; file contents are re-scanned on demand so the
// archive is never held in memory.
type tarReader struct {
	path    string
	entries []Entry
	byPath  map[string]Entry
}

// OpenTar opens a tar archive as a pack Reader.
func OpenTar(archivePath string) (Reader, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := &tarReader{path: archivePath, byPath: make(map[string]Entry)}
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading pack index %s: %w", archivePath, err)
		}

		name := normalize(hdr.Name)
		if name == "" {
			continue
		}
		entry := Entry{
			Path:    name,
			Size:    hdr.Size,
			Mode:    uint32(hdr.Mode),
			IsDir:   hdr.Typeflag == tar.TypeDir,
			ModTime: hdr.ModTime,
		}
		r.entries = append(r.entries, entry)
		r.byPath[name] = entry
	}

	return r, nil
}

func normalize(name string) string {
	name = path.Clean(strings.TrimPrefix(name, "./"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.TrimPrefix(name, "/")
}

func (r *tarReader) List() ([]Entry, error) {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out, nil
}

func (r *tarReader) Stat(p string) (Entry, error) {
	entry, ok := r.byPath[normalize(p)]
	if !ok {
		return Entry{}, fmt.Errorf("entry %s not found in %s", p, r.path)
	}
	return entry, nil
}

func (r *tarReader) Open(p string) (io.ReadCloser, error) {
	want := normalize(p)
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			f.Close()
			return nil, err
		}
		if normalize(hdr.Name) == want {
			return &tarEntryReader{f: f, r: tr}, nil
		}
	}

	f.Close()
	return nil, fmt.Errorf("entry %s not found in %s", p, r.path)
}

func (r *tarReader) Close() error {
	return nil
}

// tarEntryReader closes the underlying archive file when the entry
// stream is closed.
type tarEntryReader struct {
	f *os.File
	r io.Reader
}

func (t *tarEntryReader) Read(p []byte) (int, error) {
	return t.r.Read(p)
}

func (t *tarEntryReader) Close() error {
	return t.f.Close()
}

// tarWriter implements Writer over a plain tar archive.
type tarWriter struct {
	f  *os.File
	tw *tar.Writer
}

// CreateTar creates a tar archive as a pack Writer.
func CreateTar(archivePath string) (Writer, error) {
	f, err := os.Create(archivePath)
	if err != nil {
		return nil, err
	}
	return &tarWriter{f: f, tw: tar.NewWriter(f)}, nil
}

func (w *tarWriter) Add(p string, mode uint32, size int64, r io.Reader) error {
	hdr := &tar.Header{
		Name:     normalize(p),
		Mode:     int64(mode),
		Size:     size,
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(w.tw, r)
	return err
}

func (w *tarWriter) AddDir(p string, mode uint32) error {
	return w.tw.WriteHeader(&tar.Header{
		Name:     normalize(p) + "/",
		Mode:     int64(mode),
		ModTime:  time.Now(),
		Typeflag: tar.TypeDir,
	})
}

func (w *tarWriter) Close() error {
	if err := w.tw.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// PackDir archives the contents of a directory into a pack at dstPath.
// Used by builders when collecting the package artifact.
func PackDir(srcDir, dstPath string) error {
	w, err := CreateTar(dstPath)
	if err != nil {
		return err
	}

	err = walkDir(srcDir, "", w)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	return err
}

func walkDir(root, rel string, w Writer) error {
	full := path.Join(root, rel)
	entries, err := os.ReadDir(full)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		childRel := path.Join(rel, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return err
		}

		if entry.IsDir() {
			if err := w.AddDir(childRel, uint32(info.Mode().Perm())); err != nil {
				return err
			}
			if err := walkDir(root, childRel, w); err != nil {
				return err
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		f, err := os.Open(path.Join(root, childRel))
		if err != nil {
			return err
		}
		err = w.Add(childRel, uint32(info.Mode().Perm()), info.Size(), f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
