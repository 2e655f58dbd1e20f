package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/tonimelisma/paperfs/internal/graph"
	"github.com/tonimelisma/paperfs/pkg/quickxorhash"
)

// Drive is the subset of the Graph client the OneDrive backend uses.
// Paths are relative to the drive root.
type Drive interface {
	ItemByPath(ctx context.Context, remotePath string) (*graph.Item, error)
	ChildrenByPath(ctx context.Context, remotePath string) ([]graph.Item, error)
	Download(ctx context.Context, remotePath string, offset, length int64) (io.ReadCloser, error)
	Upload(ctx context.Context, remotePath string, data []byte) (*graph.Item, error)
	CreateFolder(ctx context.Context, parentPath, name string) (*graph.Item, error)
	MoveItem(ctx context.Context, fromPath, newParentPath, newName string) (*graph.Item, error)
	DeleteItem(ctx context.Context, remotePath string) error
}

// OneDrive is the durable backend. Every path is stored beneath root in the
// signed-in user's drive. Its writers accept exactly one Write, which
// uploads the whole object; wrap it in Buffered for chunked writers.
type OneDrive struct {
	drive  Drive
	root   string
	logger *slog.Logger
}

// NewOneDrive creates a OneDrive backend rooted at root ("" for the drive
// root).
func NewOneDrive(drive Drive, root string, logger *slog.Logger) *OneDrive {
	if logger == nil {
		logger = slog.Default()
	}

	return &OneDrive{drive: drive, root: strings.Trim(root, "/"), logger: logger}
}

// remote maps a backend path onto a drive path.
func (o *OneDrive) remote(p string) string {
	return strings.Trim(path.Join(o.root, relative(p)), "/")
}

// odErr translates Graph sentinels into storage sentinels, keeping the
// original error in the chain.
func odErr(op, p string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, graph.ErrNotFound):
		return fmt.Errorf("onedrive: %s %s: %w: %w", op, p, ErrNotFound, err)
	case errors.Is(err, graph.ErrConflict):
		return fmt.Errorf("onedrive: %s %s: %w: %w", op, p, ErrExists, err)
	default:
		return fmt.Errorf("onedrive: %s %s: %w", op, p, err)
	}
}

func itemMetadata(p string, it *graph.Item) Metadata {
	return Metadata{
		Path:    Clean(p),
		Name:    it.Name,
		Size:    it.Size,
		ModTime: it.ModifiedAt,
		IsDir:   it.IsFolder,
		ETag:    it.ETag,
	}
}

// Read streams the requested range of p.
func (o *OneDrive) Read(ctx context.Context, p string, r Range) (io.ReadCloser, error) {
	rc, err := o.drive.Download(ctx, o.remote(p), max(r.Offset, 0), r.Length)
	if err != nil {
		return nil, odErr("read", p, err)
	}

	return rc, nil
}

// Write returns a single-shot writer for p.
func (o *OneDrive) Write(_ context.Context, p string) (Writer, error) {
	return &oneDriveWriter{od: o, path: Clean(p)}, nil
}

// List returns the children of folder p.
func (o *OneDrive) List(ctx context.Context, p string) (Lister, error) {
	items, err := o.drive.ChildrenByPath(ctx, o.remote(p))
	if err != nil {
		return nil, odErr("list", p, err)
	}

	entries := make([]Metadata, 0, len(items))
	for i := range items {
		entries = append(entries, itemMetadata(path.Join(Clean(p), items[i].Name), &items[i]))
	}

	return newSliceLister(entries), nil
}

// Stat describes p.
func (o *OneDrive) Stat(ctx context.Context, p string) (Metadata, error) {
	it, err := o.drive.ItemByPath(ctx, o.remote(p))
	if err != nil {
		return Metadata{}, odErr("stat", p, err)
	}

	md := itemMetadata(p, it)
	if Clean(p) == "/" {
		md.Name = "/"
	}

	return md, nil
}

// Delete removes p; folders are removed with their contents.
func (o *OneDrive) Delete(ctx context.Context, p string) error {
	if Clean(p) == "/" && o.root == "" {
		return fmt.Errorf("onedrive: delete drive root: %w", ErrUnsupported)
	}

	return odErr("delete", p, o.drive.DeleteItem(ctx, o.remote(p)))
}

// CreateDir creates folder p. Its parent must exist.
func (o *OneDrive) CreateDir(ctx context.Context, p string) error {
	parent, name := path.Split(Clean(p))
	if name == "" {
		return fmt.Errorf("onedrive: mkdir %s: %w", p, ErrExists)
	}

	_, err := o.drive.CreateFolder(ctx, o.remote(parent), name)

	return odErr("mkdir", p, err)
}

// Rename moves from to to.
func (o *OneDrive) Rename(ctx context.Context, from, to string) error {
	parent, name := path.Split(Clean(to))

	_, err := o.drive.MoveItem(ctx, o.remote(from), o.remote(parent), name)

	return odErr("rename", from, err)
}

// oneDriveWriter uploads on its first Write. Close without a Write creates
// an empty file.
type oneDriveWriter struct {
	od      *OneDrive
	path    string
	written bool
	done    bool
	md      Metadata
}

func (w *oneDriveWriter) Write(ctx context.Context, p []byte) (int, error) {
	if w.done {
		return 0, ErrWriterClosed
	}

	if w.written {
		return 0, fmt.Errorf("onedrive: second write to %s: %w", w.path, ErrUnsupported)
	}

	w.written = true

	md, err := w.od.upload(ctx, w.path, p)
	if err != nil {
		return 0, err
	}

	w.md = md

	return len(p), nil
}

func (w *oneDriveWriter) Close(ctx context.Context) (Metadata, error) {
	if w.done {
		return Metadata{}, ErrWriterClosed
	}

	if !w.written {
		if _, err := w.Write(ctx, nil); err != nil {
			w.done = true
			return Metadata{}, err
		}
	}

	w.done = true

	return w.md, nil
}

// Abort marks the writer finished. An upload that already happened stays.
func (w *oneDriveWriter) Abort(_ context.Context) error {
	w.done = true
	return nil
}

// upload sends data and checks the hash the service computed against ours.
func (o *OneDrive) upload(ctx context.Context, p string, data []byte) (Metadata, error) {
	it, err := o.drive.Upload(ctx, o.remote(p), data)
	if err != nil {
		return Metadata{}, odErr("write", p, err)
	}

	if it.QuickXorHash != "" {
		if local := quickxorhash.Sum(data); local != it.QuickXorHash {
			o.logger.Error("upload hash mismatch",
				slog.String("path", p),
				slog.String("local", local),
				slog.String("remote", it.QuickXorHash),
			)

			return Metadata{}, fmt.Errorf("onedrive: write %s: %w", p, ErrHashMismatch)
		}
	}

	o.logger.Info("uploaded object",
		slog.String("path", p),
		slog.Int("size", len(data)),
	)

	return itemMetadata(p, it), nil
}
