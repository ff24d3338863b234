// MTP core session state.
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mtp

import (
	"time"

	"github.com/usbarmory/tamago-mtp/usb/mtp/vfs"
)

// sendObjectState is the open file or directory creation reserved by
// SendObjectInfo, waiting for the matching SendObject payload.
type sendObjectState struct {
	active bool

	volIndex  int
	vol       vfs.Volume
	storageID uint32
	parent    Handle
	parentPath string

	isDir bool
	path  string
	file  vfs.File

	infoBuf []byte // accumulates the ObjectInfo dataset across packets

	expectedSize uint64
	written      uint64

	created, modified time.Time

	cancelled bool
}

// Session holds the state for the single PTP session the device accepts at
// a time. The resolver's working state is modeled here as fields, owned by
// the session, rather than as package globals.
type Session struct {
	ID uint32

	currentParent    Handle
	folderCacheDirty uint32 // one bit per volume index

	send *sendObjectState

	// getFile is the file GetObject is streaming. A single session never
	// has a GetObject and a SendObject in flight at once, so this and
	// send's file handle never overlap.
	getFile          vfs.File
	getFileRemaining int

	Resolver *Resolver
}

// newSession constructs a fresh session bound to fs with the given host
// session id.
func newSession(fs vfs.FileSystem, id uint32) *Session {
	return &Session{
		ID:       id,
		Resolver: NewResolver(fs),
	}
}

func (s *Session) markDirty(volIndex int) {
	s.folderCacheDirty |= 1 << uint(volIndex)
}

func (s *Session) isDirty(volIndex int) bool {
	return s.folderCacheDirty&(1<<uint(volIndex)) != 0
}
