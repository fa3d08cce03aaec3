package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

// MountMode defines the permission level for a mount point.
type MountMode int

const (
	// MountReadOnly allows only read operations.
	MountReadOnly MountMode = iota
	// MountReadWrite allows writes to existing files and removal.
	MountReadWrite
	// MountReadWriteCreate additionally allows creating files and directories.
	MountReadWriteCreate
)

// ParseMountMode accepts "ro", "rw" and "rwc".
func ParseMountMode(s string) (MountMode, error) {
	switch s {
	case "ro", "":
		return MountReadOnly, nil
	case "rw":
		return MountReadWrite, nil
	case "rwc":
		return MountReadWriteCreate, nil
	}
	return MountReadOnly, fmt.Errorf("invalid mount mode %q (expected ro, rw, or rwc)", s)
}

// Mount maps a virtual path seen by scripts onto a host directory.
type Mount struct {
	VirtualPath string
	HostPath    string
	Mode        MountMode
}

const (
	DefaultMaxFileSize   = 10 << 20
	DefaultMaxWriteSize  = 10 << 20
	DefaultMaxPathLength = 4096
)

type fsConfig struct {
	maxFileSize   int64
	maxWriteSize  int64
	maxPathLength int
}

type FSOption func(*fsConfig)

func WithMaxFileSize(n int64) FSOption {
	return func(c *fsConfig) { c.maxFileSize = n }
}

func WithMaxWriteSize(n int64) FSOption {
	return func(c *fsConfig) { c.maxWriteSize = n }
}

func WithMaxPathLength(n int) FSOption {
	return func(c *fsConfig) { c.maxPathLength = n }
}

type mountRoot struct {
	virtual string
	mode    MountMode
	root    *os.Root
}

// FS exposes mounted host directories. Each mount is opened as an os.Root,
// so lookups cannot escape the mounted directory through ".." or symlinks.
type FS struct {
	cfg    fsConfig
	mounts []mountRoot
}

// NewFS opens every mount. The returned FS holds open directory handles
// until Close.
func NewFS(mounts []Mount, opts ...FSOption) (*FS, error) {
	cfg := fsConfig{
		maxFileSize:   DefaultMaxFileSize,
		maxWriteSize:  DefaultMaxWriteSize,
		maxPathLength: DefaultMaxPathLength,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &FS{cfg: cfg}
	for _, m := range mounts {
		root, err := os.OpenRoot(m.HostPath)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open mount %s: %w", m.VirtualPath, err)
		}
		f.mounts = append(f.mounts, mountRoot{
			virtual: path.Clean("/" + strings.Trim(m.VirtualPath, "/")),
			mode:    m.Mode,
			root:    root,
		})
	}
	// longest prefix first so nested mounts win
	sort.Slice(f.mounts, func(i, j int) bool {
		return len(f.mounts[i].virtual) > len(f.mounts[j].virtual)
	})
	return f, nil
}

func (f *FS) Close() error {
	var first error
	for _, m := range f.mounts {
		if err := m.root.Close(); err != nil && first == nil {
			first = err
		}
	}
	f.mounts = nil
	return first
}

func (f *FS) locate(args map[string]any, need MountMode) (mountRoot, string, error) {
	p, _ := args["path"].(string)
	if p == "" {
		return mountRoot{}, "", errors.New("path required")
	}
	if len(p) > f.cfg.maxPathLength {
		return mountRoot{}, "", errors.New("path exceeds max length")
	}

	vp := path.Clean("/" + p)
	for _, m := range f.mounts {
		if m.virtual != "/" && vp != m.virtual && !strings.HasPrefix(vp, m.virtual+"/") {
			continue
		}
		if m.mode < need {
			return mountRoot{}, "", fmt.Errorf("permission denied: %s", p)
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(vp, m.virtual), "/")
		if rel == "" {
			rel = "."
		}
		return m, rel, nil
	}
	return mountRoot{}, "", fmt.Errorf("permission denied: path not in any mount: %s", p)
}

func (f *FS) Read(ctx context.Context, args map[string]any) (any, error) {
	m, rel, err := f.locate(args, MountReadOnly)
	if err != nil {
		return nil, err
	}
	file, err := m.root.Open(rel)
	if err != nil {
		return nil, notFound(err, args)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, f.cfg.maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	if int64(len(data)) > f.cfg.maxFileSize {
		return nil, fmt.Errorf("file exceeds max size of %d bytes", f.cfg.maxFileSize)
	}
	return string(data), nil
}

func (f *FS) Write(ctx context.Context, args map[string]any) (any, error) {
	m, rel, err := f.locate(args, MountReadWrite)
	if err != nil {
		return nil, err
	}
	content, _ := args["content"].(string)
	if int64(len(content)) > f.cfg.maxWriteSize {
		return nil, fmt.Errorf("content exceeds max size of %d bytes", f.cfg.maxWriteSize)
	}

	flags := os.O_WRONLY | os.O_TRUNC
	if m.mode == MountReadWriteCreate {
		flags |= os.O_CREATE
	}
	file, err := m.root.OpenFile(rel, flags, 0o644)
	if err != nil {
		return nil, notFound(err, args)
	}
	if _, err := io.WriteString(file, content); err != nil {
		file.Close()
		return nil, fmt.Errorf("write error: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("write error: %w", err)
	}
	return len(content), nil
}

func (f *FS) List(ctx context.Context, args map[string]any) (any, error) {
	m, rel, err := f.locate(args, MountReadOnly)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(m.root.FS(), rel)
	if err != nil {
		return nil, notFound(err, args)
	}
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		out = append(out, map[string]any{
			"name":   e.Name(),
			"is_dir": e.IsDir(),
			"size":   size,
		})
	}
	return out, nil
}

func (f *FS) Exists(ctx context.Context, args map[string]any) (any, error) {
	m, rel, err := f.locate(args, MountReadOnly)
	if err != nil {
		return nil, err
	}
	_, err = m.root.Stat(rel)
	return err == nil, nil
}

func (f *FS) Stat(ctx context.Context, args map[string]any) (any, error) {
	m, rel, err := f.locate(args, MountReadOnly)
	if err != nil {
		return nil, err
	}
	info, err := m.root.Stat(rel)
	if err != nil {
		return nil, notFound(err, args)
	}
	return map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"is_dir":   info.IsDir(),
		"mod_time": info.ModTime().Unix(),
	}, nil
}

func (f *FS) Mkdir(ctx context.Context, args map[string]any) (any, error) {
	m, rel, err := f.locate(args, MountReadWriteCreate)
	if err != nil {
		return nil, err
	}
	if err := m.root.Mkdir(rel, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("mkdir error: %w", err)
	}
	return true, nil
}

func (f *FS) Remove(ctx context.Context, args map[string]any) (any, error) {
	m, rel, err := f.locate(args, MountReadWrite)
	if err != nil {
		return nil, err
	}
	if rel == "." {
		return nil, errors.New("cannot remove mount root")
	}
	if err := m.root.Remove(rel); err != nil {
		return nil, notFound(err, args)
	}
	return true, nil
}

func notFound(err error, args map[string]any) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file not found: %v", args["path"])
	}
	return err
}

func (f *FS) Specs() []Spec {
	return []Spec{
		{Name: "fs_read", Params: []string{"path"}, Fn: f.Read},
		{Name: "fs_write", Params: []string{"path", "content"}, Fn: f.Write},
		{Name: "fs_list", Params: []string{"path"}, Fn: f.List},
		{Name: "fs_exists", Params: []string{"path"}, Fn: f.Exists},
		{Name: "fs_stat", Params: []string{"path"}, Fn: f.Stat},
		{Name: "fs_mkdir", Params: []string{"path"}, Fn: f.Mkdir},
		{Name: "fs_remove", Params: []string{"path"}, Fn: f.Remove},
	}
}
