package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"unicode/utf8"

	"clawgate/internal/attachment"
	"clawgate/internal/domain"
)

// MaxReadBytes caps what the read operation returns to the model.
const MaxReadBytes = 100 * 1024

type filesArgs struct {
	Operation   string   `json:"operation" validate:"required"`
	Disk        string   `json:"disk" validate:"required"`
	Path        string   `json:"path" validate:"required_without=Paths"`
	Paths       []string `json:"paths"`
	Destination *string  `json:"destination"`
	Content     *string  `json:"content"`
	Source      *string  `json:"source"`
}

// Files manages files on the allowed disks of the attachment store.
type Files struct {
	store     *attachment.Store
	protected []string
	ops       *OperationTable[filesArgs]
}

// NewFiles builds the files tool for one task. protected lists directories
// that may never be deleted or moved.
func NewFiles(store *attachment.Store, protected []string, confirmer Confirmer) *Files {
	f := &Files{store: store, protected: protected}
	f.ops = NewOperationTable(confirmer,
		Operation[filesArgs]{Name: "list", Run: f.list},
		Operation[filesArgs]{Name: "read", Run: f.read},
		Operation[filesArgs]{Name: "write", Run: f.write},
		Operation[filesArgs]{Name: "append", Run: f.append},
		Operation[filesArgs]{Name: "delete", Run: f.delete},
		Operation[filesArgs]{Name: "move", Run: f.move, Confirm: `Move "{path}" to "{destination}"?`},
		Operation[filesArgs]{Name: "copy", Run: f.copy},
		Operation[filesArgs]{Name: "exists", Run: f.exists},
		Operation[filesArgs]{Name: "mkdir", Run: f.mkdir},
		Operation[filesArgs]{Name: "save_attachment", Run: f.saveAttachment},
	)
	return f
}

func (f *Files) Name() string { return "files" }

func (f *Files) Description() string {
	return fmt.Sprintf("Manage files on disk. Allowed disks: %s. Operations: %s.",
		strings.Join(f.store.AllowedDisks(), ", "), strings.Join(f.ops.Names(), ", "))
}

func (f *Files) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"operation":   {Type: "string", Description: "The operation to perform: " + strings.Join(f.ops.Names(), ", "), Enum: f.ops.Names()},
		"disk":        {Type: "string", Description: "The storage disk to use"},
		"path":        {Type: "string", Description: "The file or directory path"},
		"paths":       {Type: "array", Items: "string", Description: "Multiple file paths for batch delete"},
		"destination": {Type: "string", Description: "Destination path for move/copy operations"},
		"content":     {Type: "string", Description: "Content for write/append operations"},
		"source":      {Type: "string", Description: "Source path of an inbound attachment (for save_attachment)"},
	}, []string{"operation", "disk", "path"})
}

func (f *Files) Execute(ctx context.Context, raw map[string]any) (string, error) {
	var args filesArgs
	if msg, err := DecodeArgs(raw, &args); msg != "" || err != nil {
		return msg, err
	}

	if _, err := f.store.Disk(args.Disk); err != nil {
		return fmt.Sprintf("Disk '%s' is not allowed. Allowed disks: %s", args.Disk, strings.Join(f.store.AllowedDisks(), ", ")), nil
	}
	checked := []string{args.Path}
	if args.Destination != nil {
		checked = append(checked, *args.Destination)
	}
	for _, p := range append(checked, args.Paths...) {
		if attachment.CheckPath(p) != nil {
			return "Path traversal is not allowed.", nil
		}
	}

	return f.ops.Dispatch(ctx, args.Operation, raw, &args)
}

func (f *Files) disk(args *filesArgs) attachment.Disk {
	d, _ := f.store.Disk(args.Disk)
	return d
}

func (f *Files) isProtected(p string) bool {
	normalized := strings.Trim(p, "/")
	for _, dir := range f.protected {
		dir = strings.Trim(dir, "/")
		if dir == "" {
			continue
		}
		if normalized == dir || strings.HasPrefix(normalized, dir+"/") {
			return true
		}
	}
	return false
}

func (f *Files) list(ctx context.Context, args *filesArgs) (string, error) {
	entries, err := f.disk(args).List(ctx, args.Path)
	if errors.Is(err, attachment.ErrNotFound) {
		return "Directory not found: " + args.Path, nil
	}
	if err != nil {
		return "", err
	}
	if entries == nil {
		entries = []attachment.Entry{}
	}
	out, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (f *Files) read(ctx context.Context, args *filesArgs) (string, error) {
	d := f.disk(args)
	ok, err := d.Exists(ctx, args.Path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "File not found: " + args.Path, nil
	}
	rc, err := d.Get(ctx, args.Path)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, MaxReadBytes+1))
	if err != nil {
		return "", err
	}

	truncated := len(data) > MaxReadBytes
	if truncated {
		data = data[:MaxReadBytes]
		// Drop a rune split by the cut.
		for i := 0; i < utf8.UTFMax && len(data) > 0 && !utf8.Valid(data); i++ {
			data = data[:len(data)-1]
		}
	}
	if !utf8.Valid(data) {
		return fmt.Sprintf("Cannot read %s: binary file.", args.Path), nil
	}
	if truncated {
		return string(data) + "\n\n[Truncated: file exceeds 100KB]", nil
	}
	return string(data), nil
}

func (f *Files) write(ctx context.Context, args *filesArgs) (string, error) {
	if args.Content == nil {
		return `The "content" parameter is required for the write operation.`, nil
	}
	d := f.disk(args)
	actual, err := uniqueFilePath(ctx, d, args.Path)
	if err != nil {
		return "", err
	}
	if err := d.Put(ctx, actual, strings.NewReader(*args.Content), mimeByExtension(actual)); err != nil {
		return "", err
	}
	if actual != args.Path {
		return fmt.Sprintf("'%s' was taken, created '%s'.", args.Path, actual), nil
	}
	return fmt.Sprintf("Written to %s.", actual), nil
}

func (f *Files) append(ctx context.Context, args *filesArgs) (string, error) {
	if args.Content == nil {
		return `The "content" parameter is required for the append operation.`, nil
	}
	d := f.disk(args)
	var buf bytes.Buffer
	ok, err := d.Exists(ctx, args.Path)
	if err != nil {
		return "", err
	}
	if ok {
		rc, err := d.Get(ctx, args.Path)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(&buf, rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
	}
	buf.WriteString(*args.Content)
	if err := d.Put(ctx, args.Path, &buf, mimeByExtension(args.Path)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Appended to %s.", args.Path), nil
}

func (f *Files) delete(ctx context.Context, args *filesArgs) (string, error) {
	paths := args.Paths
	if len(paths) == 0 {
		paths = []string{args.Path}
	}
	for _, p := range paths {
		if f.isProtected(p) {
			return fmt.Sprintf("Cannot delete system directory '%s'.", p), nil
		}
	}

	msg := fmt.Sprintf("Delete %q from disk %q?", paths[0], args.Disk)
	if len(paths) > 1 {
		msg = fmt.Sprintf("Delete %d files from disk %q: %s?", len(paths), args.Disk, strings.Join(paths, ", "))
	}
	ok, err := f.ops.confirm(ctx, msg)
	if err != nil || !ok {
		return CancelledByUser, err
	}

	d := f.disk(args)
	results := make([]string, 0, len(paths))
	for _, p := range paths {
		results = append(results, p+": "+deleteOne(ctx, d, p))
	}
	return strings.Join(results, "; ") + ".", nil
}

func deleteOne(ctx context.Context, d attachment.Disk, p string) string {
	if ok, _ := d.DirectoryExists(ctx, p); ok {
		if err := d.DeleteDirectory(ctx, p); err != nil {
			return "failed (" + err.Error() + ")"
		}
		return "deleted"
	}
	if ok, _ := d.Exists(ctx, p); !ok {
		return "not found"
	}
	if err := d.Delete(ctx, p); err != nil {
		return "failed (" + err.Error() + ")"
	}
	return "deleted"
}

func (f *Files) move(ctx context.Context, args *filesArgs) (string, error) {
	if args.Destination == nil {
		return `The "destination" parameter is required for the move operation.`, nil
	}
	if f.isProtected(args.Path) {
		return fmt.Sprintf("Cannot move system directory '%s'.", args.Path), nil
	}
	d := f.disk(args)
	ok, err := d.Exists(ctx, args.Path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "File not found: " + args.Path, nil
	}
	actual, err := uniqueFilePath(ctx, d, *args.Destination)
	if err != nil {
		return "", err
	}
	if err := f.store.Copy(ctx, args.Disk, args.Path, args.Disk, actual); err != nil {
		return "", err
	}
	if err := d.Delete(ctx, args.Path); err != nil {
		return "", fmt.Errorf("remove %s after copy: %w", args.Path, err)
	}
	if actual != *args.Destination {
		return fmt.Sprintf("'%s' was taken, moved %s to '%s'.", *args.Destination, args.Path, actual), nil
	}
	return fmt.Sprintf("Moved %s to %s.", args.Path, actual), nil
}

func (f *Files) copy(ctx context.Context, args *filesArgs) (string, error) {
	if args.Destination == nil {
		return `The "destination" parameter is required for the copy operation.`, nil
	}
	d := f.disk(args)
	ok, err := d.Exists(ctx, args.Path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "File not found: " + args.Path, nil
	}
	actual, err := uniqueFilePath(ctx, d, *args.Destination)
	if err != nil {
		return "", err
	}
	if err := f.store.Copy(ctx, args.Disk, args.Path, args.Disk, actual); err != nil {
		return "", err
	}
	if actual != *args.Destination {
		return fmt.Sprintf("'%s' was taken, copied %s to '%s'.", *args.Destination, args.Path, actual), nil
	}
	return fmt.Sprintf("Copied %s to %s.", args.Path, actual), nil
}

func (f *Files) exists(ctx context.Context, args *filesArgs) (string, error) {
	ok, err := f.disk(args).Exists(ctx, args.Path)
	if err != nil {
		return "", err
	}
	if ok {
		return "File exists: " + args.Path, nil
	}
	return "File does not exist: " + args.Path, nil
}

func (f *Files) mkdir(ctx context.Context, args *filesArgs) (string, error) {
	d := f.disk(args)
	actual, err := uniqueDirPath(ctx, d, args.Path)
	if err != nil {
		return "", err
	}
	if err := d.MakeDirectory(ctx, actual); err != nil {
		return "", err
	}
	if actual != args.Path {
		return fmt.Sprintf("'%s' was taken, created '%s'.", args.Path, actual), nil
	}
	return fmt.Sprintf("Directory created: %s.", actual), nil
}

func (f *Files) saveAttachment(ctx context.Context, args *filesArgs) (string, error) {
	if args.Source == nil {
		return `The "source" parameter is required for the save_attachment operation.`, nil
	}
	src := *args.Source
	ok, err := f.store.Exists(ctx, f.store.DefaultDisk(), src)
	if errors.Is(err, attachment.ErrPathTraversal) {
		return "Path traversal is not allowed.", nil
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "Attachment not found: " + src, nil
	}
	actual, err := uniqueFilePath(ctx, f.disk(args), args.Path)
	if err != nil {
		return "", err
	}
	if err := f.store.Copy(ctx, f.store.DefaultDisk(), src, args.Disk, actual); err != nil {
		return "", err
	}
	if actual != args.Path {
		return fmt.Sprintf("'%s' was taken, saved attachment to '%s'.", args.Path, actual), nil
	}
	return fmt.Sprintf("Saved attachment to %s.", actual), nil
}

// uniqueFilePath returns p, or the first free "<name><n><ext>" next to it.
func uniqueFilePath(ctx context.Context, d attachment.Disk, p string) (string, error) {
	taken, err := d.Exists(ctx, p)
	if err != nil || !taken {
		return p, err
	}
	dir, file := path.Split(p)
	ext := path.Ext(file)
	name := strings.TrimSuffix(file, ext)
	for i := 1; ; i++ {
		candidate := dir + fmt.Sprintf("%s%d%s", name, i, ext)
		taken, err := d.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}

func uniqueDirPath(ctx context.Context, d attachment.Disk, p string) (string, error) {
	normalized := strings.TrimRight(p, "/")
	taken, err := d.DirectoryExists(ctx, normalized)
	if err != nil || !taken {
		return p, err
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s%d", normalized, i)
		taken, err := d.DirectoryExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}

func mimeByExtension(p string) string {
	return mime.TypeByExtension(path.Ext(p))
}

var _ domain.Tool = (*Files)(nil)
