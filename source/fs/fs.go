// Package fs is a document source backed by [io/fs.FS]. Documents are walked lazily, hidden files
// and directories are skipped. Reading a document yields its plain text.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/opengs/ragchunk/source"
)

type FS struct {
	fs   fs.FS
	path string
	uuid string
}

func New(fs fs.FS, path string, uuid string) *FS {
	return &FS{
		fs:   fs,
		path: path,
		uuid: uuid,
	}
}

func (f *FS) UUID() string {
	return f.uuid
}

func (f *FS) Open() (source.Iterator, error) {
	if _, err := fs.Stat(f.fs, f.path); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to open %s", f.path), err)
	}

	return &fsIterator{
		fs:     f.fs,
		walker: newWalker(f.fs, f.path, skipHidden),
	}, nil
}

func (f *FS) NotifyDocumentProcessingStarted(ctx context.Context, event source.DocumentProcessingStartedEvent) error {
	return nil
}
func (f *FS) NotifyDocumentProcessingRunning(ctx context.Context, event source.DocumentProcessingRunningEvent) error {
	return nil
}
func (f *FS) NotifyDocumentProcessingDone(ctx context.Context, event source.DocumentProcessingDoneEvent) error {
	return nil
}

type fsIterator struct {
	fs     fs.FS
	walker *walker
	locker sync.Mutex
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

func skipHidden(entry fs.DirEntry) bool {
	return isHidden(entry.Name())
}

func (i *fsIterator) Next(ctx context.Context) (source.DocumentHandler, error) {
	i.locker.Lock()
	defer i.locker.Unlock()

	for i.walker.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i.walker.Err() != nil {
			return nil, i.walker.Err()
		}

		entry := i.walker.Entry()
		if entry.IsDir() {
			continue
		}

		fileInfo, err := entry.Info()
		if err != nil {
			return nil, errors.Join(errors.New("error while reading file info"), err)
		}
		if !fileInfo.Mode().IsRegular() {
			continue
		}

		etag := fmt.Sprintf("%s_%d", fileInfo.ModTime().String(), fileInfo.Size())
		handler := &fsDocumentHandler{
			fs:   i.fs,
			etag: etag,
			path: i.walker.Path(),
		}
		return handler, nil
	}

	if i.walker.Err() != nil {
		return nil, i.walker.Err()
	}

	return nil, io.EOF
}

func (i *fsIterator) Close() error {
	return nil
}

type fsDocumentHandler struct {
	fs   fs.FS
	fp   fs.File
	text io.Reader
	path string
	etag string
}

func (h *fsDocumentHandler) ETag() string {
	return h.etag
}

func (h *fsDocumentHandler) Path() string {
	return h.path
}

func (h *fsDocumentHandler) Close() error {
	if h.fp != nil {
		return h.fp.Close()
	}
	return nil
}

func (h *fsDocumentHandler) Read(p []byte) (n int, err error) {
	if h.text == nil {
		if h.fp == nil {
			fp, err := h.fs.Open(h.path)
			if err != nil {
				return 0, errors.Join(errors.New("failed to open file for reading"), err)
			}
			h.fp = fp
		}

		text, err := extractText(h.fp, h.path)
		if err != nil {
			return 0, err
		}
		h.text = text
	}

	return h.text.Read(p)
}

func (h *fsDocumentHandler) UserMetadata() any {
	return nil
}
