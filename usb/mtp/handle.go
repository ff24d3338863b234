// MTP core object-handle namespace.
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mtp

import (
	"encoding/binary"
	"log"
	"strings"

	"github.com/usbarmory/tamago-mtp/bits"
	"github.com/usbarmory/tamago-mtp/usb/mtp/vfs"
)

// Object handle bit-field widths: a typical 4/8/20 split, giving 16
// volumes, 255 non-root folders per volume and ~1M files per folder. The
// folder side-cache's ordinal width MUST match FolderBits.
const (
	StorageBits = 4
	FolderBits  = 8
	ItemBits    = 20
)

const (
	storageShift = FolderBits + ItemBits
	folderShift  = ItemBits

	storageMask = (uint32(1) << StorageBits) - 1
	folderMask  = (uint32(1) << FolderBits) - 1
	itemMask    = (uint32(1) << ItemBits) - 1
)

// Reserved field values.
const (
	folderRoot = folderMask // all-ones: "volume root"
	itemFolder = 0          // "the folder itself"
	itemFence  = itemMask   // all-ones: fence value
)

// Handle is the 32-bit opaque object identifier exchanged with the host.
type Handle uint32

// NewHandle packs a (storage, folder, item) triple into a wire handle using
// the same bitwise field primitives used elsewhere in this repository for
// hardware registers.
func NewHandle(storage, folder, item uint32) Handle {
	var h uint32
	bits.SetN(&h, storageShift, int(storageMask), storage)
	bits.SetN(&h, folderShift, int(folderMask), folder)
	bits.SetN(&h, 0, int(itemMask), item)
	return Handle(h)
}

func (h Handle) raw() uint32 { return uint32(h) }

// Storage returns the storage (volume) field.
func (h Handle) Storage() uint32 {
	v := h.raw()
	return bits.GetN(&v, storageShift, int(storageMask))
}

// Folder returns the folder field.
func (h Handle) Folder() uint32 {
	v := h.raw()
	return bits.GetN(&v, folderShift, int(folderMask))
}

// Item returns the item field.
func (h Handle) Item() uint32 {
	v := h.raw()
	return bits.GetN(&v, 0, int(itemMask))
}

// IsRoot reports whether h addresses a volume's root directory.
func (h Handle) IsRoot() bool {
	return h.Folder() == folderRoot && h.Item() == itemFolder
}

// IsDirectory reports whether h addresses a directory: a directory's
// handle carries the ordinal in the folder field and a zero item field,
// the same encoding Resolve treats as "the folder itself".
func (h Handle) IsDirectory() bool {
	return h.Item() == itemFolder
}

// withFolder returns a copy of h with the folder field replaced and the
// item field reset to "the folder itself".
func (h Handle) withFolder(folder uint32) Handle {
	return NewHandle(h.Storage(), folder, itemFolder)
}

// crcNibbleTable is the 16-entry nibble lookup table for the STM32 CRC
// peripheral's 0x04C11DB7 polynomial.
var crcNibbleTable = [16]uint32{
	0x00000000, 0x04C11DB7, 0x09823B6E, 0x0D4326D9,
	0x130476DC, 0x17C56B6B, 0x1A864DB2, 0x1E475005,
	0x2608EDB8, 0x22C9F00F, 0x2F8AD6D6, 0x2B4BCB61,
	0x350C9B64, 0x31CD86D3, 0x3C8EA00A, 0x384FBDBD,
}

// hashFilename computes the item field for a non-directory file:
// CRC32(filename) & itemMask using the STM32 CRC polynomial, processed 32
// bits at a time (little-endian, zero-padded tail), with the two reserved
// values collapsed.
func hashFilename(name string) uint32 {
	b := []byte(name)
	crc := uint32(0xFFFFFFFF)

	for i := 0; i < len(b); {
		var word uint32

		if len(b)-i < 4 {
			var tail [4]byte
			copy(tail[:], b[i:])
			word = binary.LittleEndian.Uint32(tail[:])
			i = len(b)
		} else {
			word = binary.LittleEndian.Uint32(b[i : i+4])
			i += 4
		}

		crc ^= word

		for round := 0; round < 8; round++ {
			crc = (crc << 4) ^ crcNibbleTable[crc>>28]
		}
	}

	crc &= itemMask

	switch crc {
	case itemFolder:
		// item 0 is reserved for "the folder itself"
		crc = 1
	case itemFence:
		// all-ones is reserved as the fence value
		crc = itemMask - 1
	}

	return crc
}

// Resolver translates object handles into concrete (volume, path, info)
// tuples. One Resolver is owned by a Session and reset on
// OpenSession/CloseSession; this state is modeled as fields owned by the
// session rather than as package globals.
type Resolver struct {
	fs vfs.FileSystem

	previousHandle Handle
	haveResolved   bool

	volIndex int
	vol      vfs.Volume
	workPath string
	info     vfs.Info

	// directories ordinal-assigned this session, per volume index.
	dirOrdinals map[int][]string
	// seen[volIndex][item] -> name, used to detect (and log) a CRC
	// collision rather than silently returning whichever entry the
	// directory scan happens to reach first every time. It is keyed per
	// volume, not per folder, so names in different folders of one volume
	// that share an item value are reported too.
	seen map[int]map[uint32]string
}

// NewResolver returns a Resolver bound to fs, with empty session state.
func NewResolver(fs vfs.FileSystem) *Resolver {
	return &Resolver{
		fs:          fs,
		dirOrdinals: make(map[int][]string),
		seen:        make(map[int]map[uint32]string),
	}
}

// Reset clears all session-scoped state, as done on CloseSession.
func (r *Resolver) Reset() {
	r.haveResolved = false
	r.previousHandle = 0
	r.vol = nil
	r.workPath = ""
	r.info = vfs.Info{}
	r.dirOrdinals = make(map[int][]string)
	r.seen = make(map[int]map[uint32]string)
}

// ordinalForPath returns the stable ordinal assigned to path within volume
// volIndex, assigning a fresh one (and appending to the folder cache) on
// first encounter.
func (r *Resolver) ordinalForPath(volIndex int, cache *FolderCache, path string) (uint32, error) {
	list := r.dirOrdinals[volIndex]

	for i, p := range list {
		if p == path {
			return uint32(i), nil
		}
	}

	ordinal, err := cache.Append(path)
	if err != nil {
		return 0, err
	}

	r.dirOrdinals[volIndex] = append(list, path)
	return ordinal, nil
}

// pathForOrdinal resolves an ordinal back to a relative directory path.
func (r *Resolver) pathForOrdinal(volIndex int, cache *FolderCache, ordinal uint32) (string, error) {
	if list := r.dirOrdinals[volIndex]; int(ordinal) < len(list) {
		return list[ordinal], nil
	}

	path, err := cache.Lookup(int(ordinal))
	if err != nil {
		return "", err
	}

	list := r.dirOrdinals[volIndex]
	for len(list) <= int(ordinal) {
		list = append(list, "")
	}
	list[ordinal] = path
	r.dirOrdinals[volIndex] = list

	return path, nil
}

// markSeen records name as the resolution of item within volIndex, logging
// (but not rejecting) a hash collision between two distinct names so it is
// at least visible server-side, without changing the wire handle encoding.
func (r *Resolver) markSeen(volIndex int, item uint32, name string) {
	m, ok := r.seen[volIndex]
	if !ok {
		m = make(map[uint32]string)
		r.seen[volIndex] = m
	}

	if prev, ok := m[item]; ok && prev != name {
		log.Printf("mtp: CRC collision in folder (volume %d): %q and %q both hash to %#x", volIndex, prev, name, item)
		return
	}

	m[item] = name
}

// Resolve turns a handle into a concrete (volume, path, info) tuple.
// currentParent receives the updated "current_parent" value when
// wantParent is true and the folder field changed.
func (r *Resolver) Resolve(handle Handle, wantParent bool) (info vfs.Info, path string, volIndex int, currentParent Handle, err error) {
	if handle == 0 {
		if !r.haveResolved {
			// Fresh session: canonicalize handle 0 to the root of
			// volume 0 rather than leaving "use previous handle"
			// ambiguous when there is no previous handle yet.
			handle = NewHandle(0, folderRoot, itemFolder)
		} else {
			handle = r.previousHandle
		}
	}

	storage := handle.Storage()

	if !r.haveResolved || storage != r.previousHandle.Storage() {
		vol, ok := r.fs.Volume(int(storage))
		if !ok {
			return vfs.Info{}, "", 0, 0, vfs.ENODEV
		}

		r.vol = vol
		r.volIndex = int(storage)
		r.workPath = "/"
		currentParent = NewHandle(storage, folderRoot, itemFolder)
	} else {
		currentParent = NewHandle(storage, r.previousHandle.Folder(), itemFolder)
	}

	cache := NewFolderCache(r.vol)

	if !r.haveResolved || handle.Folder() != r.previousHandle.Folder() {
		if handle.Folder() == folderRoot {
			r.workPath = "/"
		} else {
			rel, ferr := r.pathForOrdinal(r.volIndex, cache, handle.Folder())
			if ferr != nil {
				return vfs.Info{}, "", 0, 0, ferr
			}
			r.workPath = joinPath("/", rel)
		}

		if wantParent {
			currentParent = handle.withFolder(handle.Folder())
		}
	}

	if handle.Item() == itemFolder {
		st, serr := r.vol.Stat(r.workPath)
		if serr != nil {
			return vfs.Info{}, "", 0, 0, serr
		}

		r.info = st
		r.previousHandle = handle
		r.haveResolved = true

		return st, r.workPath, r.volIndex, currentParent, nil
	}

	entries, derr := r.vol.ReadDir(r.workPath)
	if derr != nil {
		return vfs.Info{}, "", 0, 0, derr
	}

	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}

		// Reached only for item != 0 (a file hash target): a
		// directory's own handle always has item == 0 and is
		// resolved above without entering this scan. Every entry's
		// name is hashed unconditionally; directories are never
		// special-cased here.
		item := hashFilename(e.Name)
		r.markSeen(r.volIndex, item, e.Name)

		if item|currentParent.raw() != handle.raw() {
			continue
		}

		childPath := joinPath(r.workPath, e.Name)

		r.info = e
		r.previousHandle = handle
		r.haveResolved = true

		return e, childPath, r.volIndex, currentParent, nil
	}

	return vfs.Info{}, "", 0, 0, vfs.ENOENT
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}
