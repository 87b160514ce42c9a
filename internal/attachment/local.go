package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// LocalDisk stores files under a directory on the local filesystem.
type LocalDisk struct {
	root string
}

func NewLocalDisk(root string) (*LocalDisk, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve disk root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create disk root: %w", err)
	}
	return &LocalDisk{root: abs}, nil
}

// Root is the absolute directory backing the disk.
func (d *LocalDisk) Root() string { return d.root }

// resolve maps a disk path to a filesystem path and refuses anything that
// would land outside the root.
func (d *LocalDisk) resolve(p string) (string, error) {
	if err := CheckPath(p); err != nil {
		return "", err
	}
	clean := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	full := filepath.Join(d.root, filepath.FromSlash(clean))
	if full != d.root && !strings.HasPrefix(full, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", p, ErrPathTraversal)
	}
	return full, nil
}

func (d *LocalDisk) Put(_ context.Context, p string, r io.Reader, _ string) error {
	full, err := d.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp := full + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func (d *LocalDisk) Get(_ context.Context, p string) (io.ReadCloser, error) {
	full, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (d *LocalDisk) Exists(_ context.Context, p string) (bool, error) {
	full, err := d.resolve(p)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat: %w", err)
	}
	return true, nil
}

func (d *LocalDisk) Delete(_ context.Context, p string) error {
	full, err := d.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (d *LocalDisk) List(_ context.Context, dir string) ([]Entry, error) {
	full, err := d.resolve(dir)
	if err != nil {
		return nil, err
	}
	items, err := os.ReadDir(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}

	prefix := strings.Trim(dir, "/")
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		e := Entry{Name: path.Join(prefix, item.Name()), Type: EntryFile}
		if item.IsDir() {
			e.Type = EntryDirectory
		} else if info, err := item.Info(); err == nil {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == EntryFile
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func (d *LocalDisk) MakeDirectory(_ context.Context, dir string) error {
	full, err := d.resolve(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return nil
}

func (d *LocalDisk) DirectoryExists(_ context.Context, dir string) (bool, error) {
	full, err := d.resolve(dir)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat: %w", err)
	}
	return info.IsDir(), nil
}

func (d *LocalDisk) DeleteDirectory(_ context.Context, dir string) error {
	full, err := d.resolve(dir)
	if err != nil {
		return err
	}
	if full == d.root {
		return fmt.Errorf("refusing to delete disk root")
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("delete directory: %w", err)
	}
	return nil
}
