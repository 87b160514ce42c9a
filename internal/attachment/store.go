// Package attachment stores files received with inbound messages and the
// files tools work on. Storage is split into named disks; only disks on the
// allow-list can be reached and no path may climb out of its disk.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"

	"clawgate/internal/domain"
)

var (
	ErrDiskNotAllowed = errors.New("disk not allowed")
	ErrPathTraversal  = errors.New("path traversal is not allowed")
	ErrNotFound       = errors.New("file not found")
	ErrTooLarge       = errors.New("attachment exceeds size limit")
)

// DefaultMaxBytes caps a single saved attachment.
const DefaultMaxBytes = 25 << 20

// Entry types reported by Disk.List.
const (
	EntryFile      = "file"
	EntryDirectory = "directory"
)

// Entry is one item returned by Disk.List.
type Entry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// Disk is one named storage location. Paths are slash-separated and
// relative to the disk root.
type Disk interface {
	Put(ctx context.Context, p string, r io.Reader, mimeType string) error
	Get(ctx context.Context, p string) (io.ReadCloser, error)
	Exists(ctx context.Context, p string) (bool, error)
	Delete(ctx context.Context, p string) error
	List(ctx context.Context, dir string) ([]Entry, error)
	MakeDirectory(ctx context.Context, dir string) error
	DirectoryExists(ctx context.Context, dir string) (bool, error)
	DeleteDirectory(ctx context.Context, dir string) error
}

type StoreConfig struct {
	Disks map[string]Disk
	// Allowed lists the disk names callers may touch.
	Allowed []string
	// DefaultDisk receives inbound attachments.
	DefaultDisk string
	// BasePath is the directory on DefaultDisk that holds attachments.
	BasePath string
	MaxBytes int64
	Logger   *slog.Logger
}

type Store struct {
	disks       map[string]Disk
	allowed     map[string]bool
	defaultDisk string
	basePath    string
	maxBytes    int64
	logger      *slog.Logger
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "attachments"
	}
	s := &Store{
		disks:       cfg.Disks,
		allowed:     make(map[string]bool, len(cfg.Allowed)),
		defaultDisk: cfg.DefaultDisk,
		basePath:    strings.Trim(cfg.BasePath, "/"),
		maxBytes:    cfg.MaxBytes,
		logger:      cfg.Logger,
	}
	for _, name := range cfg.Allowed {
		if _, ok := cfg.Disks[name]; !ok {
			return nil, fmt.Errorf("allowed disk %q is not configured", name)
		}
		s.allowed[name] = true
	}
	if !s.allowed[s.defaultDisk] {
		return nil, fmt.Errorf("attachment disk %q: %w", s.defaultDisk, ErrDiskNotAllowed)
	}
	if err := CheckPath(s.basePath); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultDisk is the disk inbound attachments are saved to.
func (s *Store) DefaultDisk() string { return s.defaultDisk }

// AllowedDisks returns the allow-list in sorted order.
func (s *Store) AllowedDisks() []string {
	names := make([]string, 0, len(s.allowed))
	for name := range s.allowed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Disk returns an allowed disk by name.
func (s *Store) Disk(name string) (Disk, error) {
	if !s.allowed[name] {
		return nil, fmt.Errorf("%q: %w", name, ErrDiskNotAllowed)
	}
	return s.disks[name], nil
}

// CheckPath rejects paths with a parent-directory segment.
func CheckPath(p string) error {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return fmt.Errorf("%q: %w", p, ErrPathTraversal)
		}
	}
	return nil
}

func (s *Store) resolve(disk, p string) (Disk, error) {
	d, err := s.Disk(disk)
	if err != nil {
		return nil, err
	}
	if err := CheckPath(p); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) Put(ctx context.Context, disk, p string, r io.Reader, mimeType string) error {
	d, err := s.resolve(disk, p)
	if err != nil {
		return err
	}
	return d.Put(ctx, p, r, mimeType)
}

func (s *Store) Get(ctx context.Context, disk, p string) (io.ReadCloser, error) {
	d, err := s.resolve(disk, p)
	if err != nil {
		return nil, err
	}
	return d.Get(ctx, p)
}

// ReadAll loads a whole file, refusing files larger than limit when limit > 0.
func (s *Store) ReadAll(ctx context.Context, disk, p string, limit int64) ([]byte, error) {
	rc, err := s.Get(ctx, disk, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if limit <= 0 {
		return io.ReadAll(rc)
	}
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s:%s: %w", disk, p, ErrTooLarge)
	}
	return data, nil
}

func (s *Store) Exists(ctx context.Context, disk, p string) (bool, error) {
	d, err := s.resolve(disk, p)
	if err != nil {
		return false, err
	}
	return d.Exists(ctx, p)
}

func (s *Store) DeleteDirectory(ctx context.Context, disk, dir string) error {
	d, err := s.resolve(disk, dir)
	if err != nil {
		return err
	}
	return d.DeleteDirectory(ctx, dir)
}

// Copy streams a file between two allowed disks.
func (s *Store) Copy(ctx context.Context, srcDisk, src, dstDisk, dst string) error {
	dd, err := s.resolve(dstDisk, dst)
	if err != nil {
		return err
	}
	rc, err := s.Get(ctx, srcDisk, src)
	if err != nil {
		return err
	}
	defer rc.Close()
	return dd.Put(ctx, dst, rc, "")
}

// Save writes an inbound file under <base>/<protocol>/<uuid>/<filename> on
// the default disk and returns its descriptor.
func (s *Store) Save(ctx context.Context, protocol, filename, mimeType string, r io.Reader) (domain.Attachment, error) {
	name := sanitizeFilename(filename, mimeType)
	dir := path.Join(s.basePath, protocol, uuid.NewString())
	p := path.Join(dir, name)
	if err := CheckPath(p); err != nil {
		return domain.Attachment{}, err
	}

	d, err := s.Disk(s.defaultDisk)
	if err != nil {
		return domain.Attachment{}, err
	}
	lr := &limitedReader{r: r, remaining: s.maxBytes}
	if err := d.Put(ctx, p, lr, mimeType); err != nil {
		if derr := d.DeleteDirectory(ctx, dir); derr != nil {
			s.logger.Warn("remove partial attachment failed", "path", dir, "error", derr)
		}
		return domain.Attachment{}, fmt.Errorf("save attachment %s: %w", name, err)
	}

	return domain.Attachment{
		Kind:     domain.KindFromMIME(mimeType),
		Disk:     s.defaultDisk,
		Path:     p,
		MimeType: mimeType,
		Filename: name,
	}, nil
}

// Cleanup removes the directory behind every attachment. It keeps going
// after a failure and returns all errors joined.
func (s *Store) Cleanup(ctx context.Context, attachments []domain.Attachment) error {
	var errs []error
	for _, a := range attachments {
		if err := s.DeleteDirectory(ctx, a.Disk, a.Dir()); err != nil {
			errs = append(errs, fmt.Errorf("%s:%s: %w", a.Disk, a.Dir(), err))
		}
	}
	return errors.Join(errs...)
}

func sanitizeFilename(name, mimeType string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "attachment" + extensionForMIME(mimeType)
	}
	return name
}

func extensionForMIME(mimeType string) string {
	mimeType, _, _ = strings.Cut(mimeType, ";")
	switch strings.TrimSpace(strings.ToLower(mimeType)) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	case "text/csv":
		return ".csv"
	case "application/json":
		return ".json"
	default:
		return ".bin"
	}
}

type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
