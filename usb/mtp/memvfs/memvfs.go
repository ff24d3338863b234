// In-memory vfs.FileSystem fixture for tests and cmd/mtpsim.
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package memvfs implements usb/mtp/vfs entirely in memory, standing in for
// a real FAT/exFAT-backed usbarmory/tamago-fs volume in host-side tests and
// the cmd/mtpsim simulator.
package memvfs

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/usbarmory/tamago-mtp/usb/mtp/vfs"
)

type node struct {
	name     string
	dir      bool
	data     []byte
	created  time.Time
	modified time.Time
	hidden   bool
	system   bool
	readOnly bool
}

// Volume is an in-memory vfs.Volume. The zero value is not usable; use New.
type Volume struct {
	mu       sync.Mutex
	nodes    map[string]*node
	total    uint64
	writable bool
	flat     bool
}

// New returns an empty, writable Volume with the given total capacity in
// bytes.
func New(total uint64) *Volume {
	now := time.Now()

	v := &Volume{
		nodes:    make(map[string]*node),
		total:    total,
		writable: true,
	}
	v.nodes["/"] = &node{name: "/", dir: true, created: now, modified: now}

	return v
}

// ReadOnly marks the volume non-writable, for exercising StoreReadOnly/
// ObjectWriteProtected paths.
func (v *Volume) ReadOnly() *Volume {
	v.writable = false
	return v
}

// Flat marks the volume as having no directory concept, skipping the
// folder side-cache.
func (v *Volume) Flat() *Volume {
	v.flat = true
	return v
}

func clean(path string) string {
	if path == "" {
		return "/"
	}
	path = strings.ReplaceAll(path, "//", "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

func dirOf(path string) string {
	path = clean(path)
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

// Flags reports this volume's static capability bits.
func (v *Volume) Flags() vfs.Attr {
	var a vfs.Attr

	a |= vfs.ATTR_REMOVABLE_DISK

	if v.writable {
		a |= vfs.ATTR_IWRITE
	}
	if v.flat {
		a |= vfs.ATTR_FLAT_FILESYSTEM
	}

	return a
}

func (n *node) info(name string) vfs.Info {
	var attr vfs.Attr

	if n.dir {
		attr |= vfs.ATTR_DIR
	}
	if n.hidden {
		attr |= vfs.ATTR_HID
	}
	if n.system {
		attr |= vfs.ATTR_SYS
	}
	if !n.readOnly {
		attr |= vfs.ATTR_IWRITE
	}

	return vfs.Info{
		Name:     name,
		Size:     uint64(len(n.data)),
		Created:  n.created,
		Modified: n.modified,
		Attr:     attr,
	}
}

// Stat returns the entry at path.
func (v *Volume) Stat(path string) (vfs.Info, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	path = clean(path)

	n, ok := v.nodes[path]
	if !ok {
		return vfs.Info{}, vfs.ENOENT
	}

	name := n.name
	if path == "/" {
		name = "/"
	}

	return n.info(name), nil
}

// Mkdir creates an empty directory at path; its parent must already exist.
func (v *Volume) Mkdir(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	path = clean(path)

	if _, exists := v.nodes[path]; exists {
		return vfs.EINVAL
	}

	parent, ok := v.nodes[dirOf(path)]
	if !ok || !parent.dir {
		return vfs.ENOTDIR
	}

	if !v.writable {
		return vfs.EROFS
	}

	now := time.Now()
	v.nodes[path] = &node{name: baseName(path), dir: true, created: now, modified: now}

	return nil
}

// Remove deletes the entry at path. A non-empty directory fails with
// ENOTEMPTY, matching the one-level DeleteObject recursion in
// usb/mtp/handlers_object.go.
func (v *Volume) Remove(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	path = clean(path)
	if path == "/" {
		return vfs.EINVAL
	}

	n, ok := v.nodes[path]
	if !ok {
		return vfs.ENOENT
	}

	if !v.writable {
		return vfs.EROFS
	}

	if n.dir {
		prefix := path
		if prefix != "/" {
			prefix += "/"
		}
		for p := range v.nodes {
			if p != path && strings.HasPrefix(p, prefix) {
				return vfs.ENOTEMPTY
			}
		}
	}

	delete(v.nodes, path)

	return nil
}

// ReadDir lists the immediate children of path, sorted by name for a
// stable order across calls within a session.
func (v *Volume) ReadDir(path string) ([]vfs.Info, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	path = clean(path)

	dirNode, ok := v.nodes[path]
	if !ok || !dirNode.dir {
		return nil, vfs.ENOTDIR
	}

	prefix := path
	if prefix != "/" {
		prefix += "/"
	}

	var names []string
	for p := range v.nodes {
		if p == path || !strings.HasPrefix(p, prefix) {
			continue
		}
		if strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			continue // not an immediate child
		}
		names = append(names, p)
	}

	sortStrings(names)

	entries := make([]vfs.Info, 0, len(names))
	for _, p := range names {
		n := v.nodes[p]
		entries = append(entries, n.info(n.name))
	}

	return entries, nil
}

// Format removes every entry except the root.
func (v *Volume) Format() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.writable {
		return vfs.EROFS
	}

	now := time.Now()
	v.nodes = map[string]*node{
		"/": {name: "/", dir: true, created: now, modified: now},
	}

	return nil
}

// FreeSpace returns total capacity minus the sum of every file's size.
func (v *Volume) FreeSpace() (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var used uint64
	for _, n := range v.nodes {
		if !n.dir {
			used += uint64(len(n.data))
		}
	}

	if used >= v.total {
		return 0, nil
	}

	return v.total - used, nil
}

// TotalSpace returns the volume's configured capacity.
func (v *Volume) TotalSpace() (uint64, error) {
	return v.total, nil
}

// Touch updates an existing entry's timestamps.
func (v *Volume) Touch(path string, created, modified time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	n, ok := v.nodes[clean(path)]
	if !ok {
		return vfs.ENOENT
	}

	if !created.IsZero() {
		n.created = created
	}
	if !modified.IsZero() {
		n.modified = modified
	}

	return nil
}

// Open returns a File over the regular file at path, creating it first if
// O_CREATE is set.
func (v *Volume) Open(path string, flag int) (vfs.File, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	path = clean(path)

	n, ok := v.nodes[path]
	if !ok {
		if flag&vfs.O_CREATE == 0 {
			return nil, vfs.ENOENT
		}

		parent, pok := v.nodes[dirOf(path)]
		if !pok || !parent.dir {
			return nil, vfs.ENOTDIR
		}
		if !v.writable {
			return nil, vfs.EROFS
		}

		now := time.Now()
		n = &node{name: baseName(path), created: now, modified: now}
		v.nodes[path] = n
	}

	if n.dir {
		return nil, vfs.ENOTDIR
	}

	if flag&vfs.O_WRONLY != 0 && !v.writable {
		return nil, vfs.EROFS
	}

	if flag&vfs.O_TRUNC != 0 {
		n.data = nil
		n.modified = time.Now()
	}

	return &file{v: v, n: n, writable: flag&vfs.O_WRONLY != 0}, nil
}

// file implements vfs.File over one node's byte slice.
type file struct {
	v        *Volume
	n        *node
	pos      int64
	writable bool
}

func (f *file) Read(p []byte) (int, error) {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()

	if f.pos >= int64(len(f.n.data)) {
		return 0, io.EOF
	}

	n := copy(p, f.n.data[f.pos:])
	f.pos += int64(n)

	return n, nil
}

func (f *file) Write(p []byte) (int, error) {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()

	if !f.writable {
		return 0, vfs.EACCES
	}

	end := f.pos + int64(len(p))
	if end > int64(len(f.n.data)) {
		grown := make([]byte, end)
		copy(grown, f.n.data)
		f.n.data = grown
	}

	n := copy(f.n.data[f.pos:end], p)
	f.pos += int64(n)
	f.n.modified = time.Now()

	return n, nil
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()

	switch whence {
	case 0:
		f.pos = offset
	case 1:
		f.pos += offset
	case 2:
		f.pos = int64(len(f.n.data)) + offset
	default:
		return 0, vfs.EINVAL
	}

	return f.pos, nil
}

func (f *file) Close() error {
	return nil
}

func baseName(path string) string {
	i := strings.LastIndexByte(path, '/')
	return path[i+1:]
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// FileSystem is a fixed list of volumes implementing vfs.FileSystem.
type FileSystem struct {
	Volumes []*Volume
}

// Volume returns the i'th configured volume.
func (fs *FileSystem) Volume(i int) (vfs.Volume, bool) {
	if i < 0 || i >= len(fs.Volumes) {
		return nil, false
	}
	return fs.Volumes[i], true
}
