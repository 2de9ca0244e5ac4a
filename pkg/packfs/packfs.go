/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

// Package packfs mounts a pack archive read-only at a mount point through
// an in-process FUSE server. The layer composer uses it to expose content
// packs as lower layers without unpacking them to disk.
package packfs

import (
	"context"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/mirkobrombin/chef/pkg/pack"
)

// Server is one mounted pack.
type Server struct {
	srv        *fuse.Server
	reader     pack.Reader
	Mountpoint string
}

// Mount serves the archive at the given mount point and returns once the
// mount is live.
func Mount(reader pack.Reader, mountpoint string) (*Server, error) {
	entries, err := reader.List()
	if err != nil {
		return nil, fmt.Errorf("listing pack entries: %w", err)
	}

	root := &packRoot{reader: reader, entries: entries}
	timeout := time.Second
	srv, err := fs.Mount(mountpoint, root, &fs.Options{
		EntryTimeout: &timeout,
		AttrTimeout:  &timeout,
		MountOptions: fuse.MountOptions{
			Name:   "chefpack",
			FsName: "chefpack",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting pack at %s: %w", mountpoint, err)
	}

	if err := srv.WaitMount(); err != nil {
		_ = srv.Unmount()
		return nil, err
	}

	return &Server{srv: srv, reader: reader, Mountpoint: mountpoint}, nil
}

// Unmount detaches the pack and stops the server goroutines.
func (s *Server) Unmount() error {
	if err := s.srv.Unmount(); err != nil {
		return err
	}
	s.srv.Wait()
	return s.reader.Close()
}

// packRoot populates the inode tree from the archive index on mount.
type packRoot struct {
	fs.Inode
	reader  pack.Reader
	entries []pack.Entry
}

var _ fs.NodeOnAdder = (*packRoot)(nil)

func (r *packRoot) OnAdd(ctx context.Context) {
	for _, entry := range r.entries {
		parent := &r.Inode
		parts := strings.Split(entry.Path, "/")

		for i, part := range parts {
			last := i == len(parts)-1
			if last && !entry.IsDir {
				child := parent.NewPersistentInode(ctx, &packFile{
					reader: r.reader,
					path:   entry.Path,
					entry:  entry,
				}, fs.StableAttr{Mode: fuse.S_IFREG})
				parent.AddChild(part, child, true)
				break
			}

			existing := parent.GetChild(part)
			if existing == nil {
				existing = parent.NewPersistentInode(ctx, &fs.Inode{},
					fs.StableAttr{Mode: fuse.S_IFDIR})
				parent.AddChild(part, existing, true)
			}
			parent = existing
		}
	}
}

// packFile serves one archive entry; contents are loaded per open handle.
type packFile struct {
	fs.Inode
	reader pack.Reader
	path   string
	entry  pack.Entry
}

var (
	_ fs.NodeGetattrer = (*packFile)(nil)
	_ fs.NodeOpener    = (*packFile)(nil)
)

func (f *packFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = f.entry.Mode & 0o777
	out.Size = uint64(f.entry.Size)
	out.SetTimes(nil, &f.entry.ModTime, nil)
	return 0
}

func (f *packFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}

	rc, err := f.reader.Open(f.path)
	if err != nil {
		return nil, 0, syscall.EIO
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, 0, syscall.EIO
	}

	return &packHandle{data: data}, fuse.FOPEN_KEEP_CACHE, 0
}

type packHandle struct {
	data []byte
}

var _ fs.FileReader = (*packHandle)(nil)

func (h *packHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	return fuse.ReadResultData(h.data[off:end]), 0
}
