package attachment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clawgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T, maxBytes int64) (*Store, *LocalDisk) {
	t.Helper()
	disk, err := NewLocalDisk(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalDisk: %v", err)
	}
	other, err := NewLocalDisk(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalDisk: %v", err)
	}
	store, err := NewStore(StoreConfig{
		Disks:       map[string]Disk{"local": disk, "shared": other, "secret": other},
		Allowed:     []string{"local", "shared"},
		DefaultDisk: "local",
		MaxBytes:    maxBytes,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, disk
}

func TestStore_SaveAndCleanup(t *testing.T) {
	ctx := context.Background()
	store, disk := newTestStore(t, 0)

	a, err := store.Save(ctx, "slack", "report.pdf", "application/pdf", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if a.Kind != domain.KindDocument {
		t.Errorf("kind = %q, want document", a.Kind)
	}
	if !strings.HasPrefix(a.Path, "attachments/slack/") || !strings.HasSuffix(a.Path, "/report.pdf") {
		t.Errorf("unexpected path %q", a.Path)
	}

	img, err := store.Save(ctx, "slack", "pic.png", "image/png", strings.NewReader("png"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if img.Kind != domain.KindImage {
		t.Errorf("kind = %q, want image", img.Kind)
	}
	if img.Dir() == a.Dir() {
		t.Error("each attachment should get its own directory")
	}

	data, err := store.ReadAll(ctx, a.Disk, a.Path, 0)
	if err != nil || string(data) != "%PDF" {
		t.Fatalf("ReadAll = %q, %v", data, err)
	}

	if err := store.Cleanup(ctx, []domain.Attachment{a, img}); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	for _, att := range []domain.Attachment{a, img} {
		if ok, _ := store.Exists(ctx, att.Disk, att.Path); ok {
			t.Errorf("%s still exists after cleanup", att.Path)
		}
		if _, err := os.Stat(filepath.Join(disk.Root(), filepath.FromSlash(att.Dir()))); !os.IsNotExist(err) {
			t.Errorf("directory %s still on disk", att.Dir())
		}
	}
}

func TestStore_SaveSanitizesFilename(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 0)

	tests := []struct {
		name, mime, want string
	}{
		{"../../etc/passwd", "text/plain", "passwd"},
		{"dir\\evil.txt", "text/plain", "evil.txt"},
		{"", "image/jpeg", "attachment.jpg"},
		{"", "", "attachment.bin"},
	}
	for _, tt := range tests {
		a, err := store.Save(ctx, "email", tt.name, tt.mime, strings.NewReader("x"))
		if err != nil {
			t.Fatalf("Save(%q): %v", tt.name, err)
		}
		if a.Filename != tt.want {
			t.Errorf("Save(%q) filename = %q, want %q", tt.name, a.Filename, tt.want)
		}
	}
}

func TestStore_SaveTooLarge(t *testing.T) {
	ctx := context.Background()
	store, disk := newTestStore(t, 4)

	_, err := store.Save(ctx, "telegram", "big.bin", "", strings.NewReader("12345"))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	entries, _ := os.ReadDir(filepath.Join(disk.Root(), "attachments", "telegram"))
	if len(entries) != 0 {
		t.Errorf("partial attachment left behind: %v", entries)
	}

	if _, err := store.Save(ctx, "telegram", "ok.bin", "", strings.NewReader("1234")); err != nil {
		t.Errorf("Save at limit: %v", err)
	}
}

func TestStore_DiskAllowList(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 0)

	if _, err := store.Disk("secret"); !errors.Is(err, ErrDiskNotAllowed) {
		t.Errorf("Disk(secret) err = %v, want ErrDiskNotAllowed", err)
	}
	if err := store.Put(ctx, "nowhere", "a.txt", strings.NewReader("x"), ""); !errors.Is(err, ErrDiskNotAllowed) {
		t.Errorf("Put on unknown disk err = %v", err)
	}
	if got := store.AllowedDisks(); strings.Join(got, ",") != "local,shared" {
		t.Errorf("AllowedDisks = %v", got)
	}
}

func TestStore_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 0)

	for _, p := range []string{"../x", "a/../../x", "a\\..\\x", ".."} {
		if err := store.Put(ctx, "local", p, strings.NewReader("x"), ""); !errors.Is(err, ErrPathTraversal) {
			t.Errorf("Put(%q) err = %v, want ErrPathTraversal", p, err)
		}
	}
	if err := store.Put(ctx, "local", "a..b/file.txt", strings.NewReader("x"), ""); err != nil {
		t.Errorf("dots inside a name are fine: %v", err)
	}
}

func TestNewStore_DefaultDiskMustBeAllowed(t *testing.T) {
	disk, _ := NewLocalDisk(t.TempDir())
	_, err := NewStore(StoreConfig{
		Disks:       map[string]Disk{"local": disk},
		Allowed:     nil,
		DefaultDisk: "local",
	})
	if !errors.Is(err, ErrDiskNotAllowed) {
		t.Fatalf("err = %v, want ErrDiskNotAllowed", err)
	}
}

func TestStore_Copy(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 0)

	if err := store.Put(ctx, "local", "in/a.txt", strings.NewReader("hello"), "text/plain"); err != nil {
		t.Fatal(err)
	}
	if err := store.Copy(ctx, "local", "in/a.txt", "shared", "out/b.txt"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	data, err := store.ReadAll(ctx, "shared", "out/b.txt", 0)
	if err != nil || string(data) != "hello" {
		t.Fatalf("copied = %q, %v", data, err)
	}
	if _, err := store.ReadAll(ctx, "shared", "out/b.txt", 2); !errors.Is(err, ErrTooLarge) {
		t.Errorf("ReadAll limit err = %v", err)
	}
}

func TestLocalDisk_ListAndDirectories(t *testing.T) {
	ctx := context.Background()
	disk, _ := NewLocalDisk(t.TempDir())

	disk.Put(ctx, "docs/b.txt", strings.NewReader("bb"), "")
	disk.Put(ctx, "docs/a.txt", strings.NewReader("a"), "")
	if err := disk.MakeDirectory(ctx, "docs/sub"); err != nil {
		t.Fatal(err)
	}

	entries, err := disk.List(ctx, "docs")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Name != "docs/a.txt" || entries[0].Size != 1 || entries[0].Type != EntryFile {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[2].Name != "docs/sub" || entries[2].Type != EntryDirectory {
		t.Errorf("last entry = %+v", entries[2])
	}

	ok, _ := disk.DirectoryExists(ctx, "docs/sub")
	if !ok {
		t.Error("docs/sub should exist")
	}
	ok, _ = disk.DirectoryExists(ctx, "docs/a.txt")
	if ok {
		t.Error("a file is not a directory")
	}

	if err := disk.Delete(ctx, "docs/missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete missing err = %v", err)
	}
	if _, err := disk.Get(ctx, "docs/missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing err = %v", err)
	}
	if err := disk.DeleteDirectory(ctx, "/"); err == nil {
		t.Error("deleting the root must fail")
	}
}

func TestFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "image/png; charset=binary")
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	store, _ := newTestStore(t, 0)
	f := NewFetcher(store, srv.Client())
	ctx := context.Background()

	a, err := f.Fetch(ctx, "slack", Remote{
		URL:    srv.URL + "/files/photo.png?x=1",
		Header: http.Header{"Authorization": {"Bearer tok"}},
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if a.Kind != domain.KindImage || a.MimeType != "image/png" || a.Filename != "photo.png" {
		t.Errorf("attachment = %+v", a)
	}

	if _, err := f.Fetch(ctx, "slack", Remote{URL: srv.URL + "/files/x"}); err == nil {
		t.Error("expected error on 401")
	}
}
