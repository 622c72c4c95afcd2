package fs

import (
	"io/fs"
	"path"
)

// Depth first iterator over fs.FS. Unlike fs.WalkDir it can be paused between entries, directories are
// read only when the walk leaves them.
type walker struct {
	fsys    fs.FS
	pending []walkEntry
	current walkEntry
	// Children for which skip returns true are not visited. Skipped directories are not entered.
	skip func(entry fs.DirEntry) bool
}

type walkEntry struct {
	path  string
	entry fs.DirEntry
	err   error
}

func newWalker(fsys fs.FS, root string, skip func(entry fs.DirEntry) bool) *walker {
	first := walkEntry{path: root}
	info, err := fs.Stat(fsys, root)
	if err != nil {
		first.err = err
	} else {
		first.entry = fs.FileInfoToDirEntry(info)
	}

	return &walker{
		fsys:    fsys,
		pending: []walkEntry{first},
		skip:    skip,
	}
}

func (w *walker) expandCurrent() {
	if w.current.entry == nil || w.current.err != nil || !w.current.entry.IsDir() {
		return
	}

	children, err := fs.ReadDir(w.fsys, w.current.path)
	for i := len(children) - 1; i >= 0; i-- {
		if w.skip != nil && w.skip(children[i]) {
			continue
		}
		w.pending = append(w.pending, walkEntry{
			path:  path.Join(w.current.path, children[i].Name()),
			entry: children[i],
		})
	}
	if err != nil {
		// directory is visited again to report the error before its children
		w.pending = append(w.pending, walkEntry{path: w.current.path, entry: w.current.entry, err: err})
	}
}

// Moves to the next entry. Returns false when walk is finished.
func (w *walker) Next() bool {
	w.expandCurrent()

	if len(w.pending) == 0 {
		w.current = walkEntry{}
		return false
	}

	last := len(w.pending) - 1
	w.current = w.pending[last]
	w.pending = w.pending[:last]
	return true
}

func (w *walker) Path() string {
	return w.current.path
}

func (w *walker) Entry() fs.DirEntry {
	return w.current.entry
}

func (w *walker) Err() error {
	return w.current.err
}
