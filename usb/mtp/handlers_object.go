// MTP core object transfer operation handlers.
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
	"io"
	"strings"
	"time"

	"github.com/usbarmory/tamago-mtp/usb/mtp/vfs"
)

// resolveParentTarget turns a GetObjectHandles/SendObjectInfo parent
// parameter into a concrete Handle: 0 and 0xFFFFFFFF both mean "the
// volume's root directory".
func resolveParentTarget(volIndex uint32, parent uint32) Handle {
	if parent == 0 || parent == 0xFFFFFFFF {
		return NewHandle(volIndex, folderRoot, itemFolder)
	}
	return Handle(parent)
}

// rootSentinelParam converts a parent Handle to the wire convention used in
// every response that reports a parent: the root directory is reported as
// 0xFFFFFFFF, never as its internal folderRoot encoding.
func rootSentinelParam(h Handle) uint32 {
	if h.Folder() == folderRoot {
		return 0xFFFFFFFF
	}
	return h.raw()
}

func parentDir(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return "/"
}

// handleGetObjectHandles lists the immediate children of params[2] (or the
// volume root). Only format filter 0 ("all formats") is supported.
func handleGetObjectHandles(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	if len(params) < 3 {
		e.setResponse(RC_ParameterNotSupported)
		return false
	}

	volIndex := int(params[0]>>16) - 1
	if _, ok := e.FS.Volume(volIndex); !ok {
		e.setResponse(RC_InvalidStorageID)
		return false
	}

	if params[1] != 0 {
		e.setResponse(RC_SpecificationByFormatUnsupported)
		return false
	}

	target := resolveParentTarget(uint32(volIndex), params[2])

	info, path, resolvedVol, currentParent, err := e.session.Resolver.Resolve(target, true)
	if err != nil {
		e.setResponse(mapErrno(err))
		return false
	}
	if !info.Attr.IsDir() {
		e.setResponse(RC_InvalidParentObject)
		return false
	}

	vol, ok := e.FS.Volume(resolvedVol)
	if !ok {
		e.setResponse(RC_InvalidStorageID)
		return false
	}

	entries, derr := vol.ReadDir(path)
	if derr != nil {
		e.setResponse(mapErrno(derr))
		return false
	}

	cache := NewFolderCache(vol)

	var handles []uint32
	for _, child := range entries {
		if child.Name == "." || child.Name == ".." {
			continue
		}
		if child.Attr.IsHidden() || child.Attr.IsSystem() {
			continue
		}
		if child.Name == strings.TrimPrefix(FolderCacheFile, "/") {
			continue
		}

		if child.Attr.IsDir() {
			childPath := joinPath(path, child.Name)
			ordinal, oerr := e.session.Resolver.ordinalForPath(resolvedVol, cache, childPath)
			if oerr != nil {
				e.setResponse(mapErrno(oerr))
				return false
			}
			handles = append(handles, NewHandle(uint32(resolvedVol), ordinal, itemFolder).raw())
			continue
		}

		item := hashFilename(child.Name)
		e.session.Resolver.markSeen(resolvedVol, item, child.Name)
		handles = append(handles, item|currentParent.raw())
	}

	w.U32(uint32(len(handles)))
	for _, h := range handles {
		w.U32(h)
	}

	e.setResponse(RC_OK)

	return true
}

// handleGetObjectInfo emits the full ObjectInfo dataset for params[0], in
// the field order PIMA 15740 defines for the GetObjectInfo response.
func handleGetObjectInfo(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	if len(params) < 1 {
		e.setResponse(RC_InvalidObjectHandle)
		return false
	}

	target := Handle(params[0])

	info, path, volIndex, currentParent, err := e.session.Resolver.Resolve(target, true)
	if err != nil {
		e.setResponse(mapErrno(err))
		return false
	}

	format := ObjectFormat(info)

	var parentParam uint32
	if info.Attr.IsDir() {
		vol, ok := e.FS.Volume(volIndex)
		if !ok {
			e.setResponse(RC_InvalidStorageID)
			return false
		}
		dir := parentDir(path)
		if dir == "/" {
			parentParam = 0xFFFFFFFF
		} else {
			cache := NewFolderCache(vol)
			ordinal, oerr := e.session.Resolver.ordinalForPath(volIndex, cache, dir)
			if oerr != nil {
				parentParam = 0xFFFFFFFF
			} else {
				parentParam = NewHandle(uint32(volIndex), ordinal, itemFolder).raw()
			}
		}
	} else {
		parentParam = rootSentinelParam(currentParent)
	}

	associationType := uint16(0)
	if info.Attr.IsDir() {
		associationType = 1 // GenericFolder
	}

	w.U32(storageID(volIndex))
	w.U16(format)
	w.U16(0) // ProtectionStatus: none
	// ObjectCompressedSize is encoded as a plain 32-bit field: the
	// engine's own framing depends on a handler's logical length
	// matching the bytes it actually writes, so no 64-bit variant is
	// offered here.
	w.U32(uint32(info.Size))
	w.U16(0) // ThumbFormat
	w.U32(0) // ThumbCompressedSize
	w.U32(0) // ThumbPixWidth
	w.U32(0) // ThumbPixHeight
	w.U32(0) // ImagePixWidth
	w.U32(0) // ImagePixHeight
	w.U32(0) // ImagePixDepth
	w.U32(parentParam)
	w.U16(associationType)
	w.U32(0) // AssociationDesc
	w.U32(0) // SequenceNumber
	w.ASCIIString(info.Name)
	w.ASCIIString(EncodeDate(info.Created))
	w.ASCIIString(EncodeDate(info.Modified))
	w.ASCIIString("") // Keywords

	e.setResponse(RC_OK)

	return true
}

// handleGetObject streams a file's contents. Unlike every other handler it
// is not a deterministic re-walk: the file is opened once (on the
// measurement pass) and read sequentially on each subsequent emission
// call, relying on the engine's guarantee that PayloadOut windows for one
// transaction are always requested in order.
func handleGetObject(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	if e.session.getFile == nil {
		if len(params) < 1 {
			e.setResponse(RC_InvalidObjectHandle)
			return false
		}

		target := Handle(params[0])

		info, path, volIndex, _, err := e.session.Resolver.Resolve(target, false)
		if err != nil {
			e.setResponse(mapErrno(err))
			return false
		}
		if info.Attr.IsDir() {
			e.setResponse(RC_InvalidObjectHandle)
			return false
		}

		vol, ok := e.FS.Volume(volIndex)
		if !ok {
			e.setResponse(RC_InvalidStorageID)
			return false
		}

		f, oerr := vol.Open(path, vfs.O_RDONLY)
		if oerr != nil {
			e.setResponse(mapErrno(oerr))
			return false
		}

		e.session.getFile = f
		e.session.getFileRemaining = int(info.Size)

		w.CountOnly(int(info.Size))
		e.setResponse(RC_OK)

		return true
	}

	n, err := w.StreamRead(e.session.getFile)
	e.session.getFileRemaining -= n

	if (err != nil && err != io.EOF) || e.session.getFileRemaining <= 0 {
		e.session.getFile.Close()
		e.session.getFile = nil
		e.session.getFileRemaining = 0
	}

	return true
}

// handleDeleteObject removes params[0], recursing one level for a
// directory's direct children.
func handleDeleteObject(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	if len(params) < 1 {
		e.setResponse(RC_InvalidObjectHandle)
		return false
	}

	target := Handle(params[0])
	if target.IsRoot() {
		e.setResponse(RC_InvalidObjectHandle)
		return false
	}

	info, path, volIndex, _, err := e.session.Resolver.Resolve(target, false)
	if err != nil {
		e.setResponse(mapErrnoDeleteObject(err))
		return false
	}

	vol, ok := e.FS.Volume(volIndex)
	if !ok {
		e.setResponse(RC_InvalidStorageID)
		return false
	}

	if info.Attr.IsDir() {
		entries, derr := vol.ReadDir(path)
		if derr != nil {
			e.setResponse(mapErrnoDeleteObject(derr))
			return false
		}

		for _, child := range entries {
			if child.Name == "." || child.Name == ".." {
				continue
			}
			if rerr := vol.Remove(joinPath(path, child.Name)); rerr != nil {
				e.setResponse(mapErrnoDeleteObject(rerr))
				return false
			}
		}

		e.session.markDirty(volIndex)
	}

	if rerr := vol.Remove(path); rerr != nil {
		e.setResponse(mapErrnoDeleteObject(rerr))
		return false
	}

	e.setResponse(RC_OK)

	return false
}

// handleSendObjectInfo validates storage/parent and reserves send-object
// state; the inbound dataset is collected by handleSendObjectInfoData.
func handleSendObjectInfo(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	if len(params) < 2 {
		e.setResponse(RC_ParameterNotSupported)
		return false
	}

	volIndex := int(params[0]>>16) - 1
	vol, ok := e.FS.Volume(volIndex)
	if !ok {
		e.setResponse(RC_InvalidStorageID)
		return false
	}

	if !vol.Flags().Writable() {
		e.setResponse(RC_ObjectWriteProtected)
		return false
	}

	parentTarget := resolveParentTarget(uint32(volIndex), params[1])

	parentInfo, parentPath, _, _, err := e.session.Resolver.Resolve(parentTarget, false)
	if err != nil {
		e.setResponse(RC_InvalidParentObject)
		return false
	}
	if !parentInfo.Attr.IsDir() {
		e.setResponse(RC_InvalidParentObject)
		return false
	}

	e.session.send = &sendObjectState{
		active:     true,
		volIndex:   volIndex,
		vol:        vol,
		storageID:  storageID(volIndex),
		parent:     parentTarget,
		parentPath: parentPath,
	}

	return true
}

// ObjectInfo dataset field offsets, relative to the data container's
// payload (i.e. after its own 12-byte header).
const (
	objectInfoFormatOffset   = 4
	objectInfoSizeOffset     = 8
	objectInfoFilenameOffset = 52
)

// handleSendObjectInfoData accumulates the ObjectInfo dataset across one or
// more packets and, once complete, creates the directory or zero-length
// file it describes.
func handleSendObjectInfoData(e *Engine, pkt []byte, first bool) bool {
	s := e.session.send
	if s == nil {
		return true
	}

	if first && len(pkt) >= ContainerHeaderLength {
		pkt = pkt[ContainerHeaderLength:]
	}

	s.infoBuf = append(s.infoBuf, pkt...)

	if len(s.infoBuf) < objectInfoFilenameOffset+1 {
		return false
	}

	format := binary.LittleEndian.Uint16(s.infoBuf[objectInfoFormatOffset : objectInfoFormatOffset+2])
	size := binary.LittleEndian.Uint32(s.infoBuf[objectInfoSizeOffset : objectInfoSizeOffset+4])

	nameLen := int(s.infoBuf[objectInfoFilenameOffset])
	nameStart := objectInfoFilenameOffset + 1
	nameWire := 2 * nameLen

	if len(s.infoBuf) < nameStart+nameWire {
		return false
	}

	name := DecodeWCharString(s.infoBuf[nameStart : nameStart+nameWire])
	if name == "" {
		e.setResponse(RC_InvalidObjectHandle)
		s.active = false
		e.session.send = nil
		return true
	}

	off := nameStart + nameWire

	created, off, ok := readWireDate(s.infoBuf, off)
	if !ok {
		return false
	}

	modified, _, ok := readWireDate(s.infoBuf, off)
	if !ok {
		return false
	}

	s.isDir = format == FORMAT_ASSOCIATION
	s.expectedSize = uint64(size)
	s.created = created
	s.modified = modified

	finishSendObjectInfo(e, s, name)

	return true
}

// readWireDate reads one length-prefixed UTF-16LE date string starting at
// off, returning the offset just past it. ok is false if buf does not yet
// hold the whole field.
func readWireDate(buf []byte, off int) (time.Time, int, bool) {
	if len(buf) < off+1 {
		return time.Time{}, off, false
	}

	n := int(buf[off]) * 2
	start := off + 1

	if len(buf) < start+n {
		return time.Time{}, off, false
	}

	t, _ := ParseDate(DecodeWCharString(buf[start : start+n]))

	return t, start + n, true
}

// finishSendObjectInfo applies the rejection rules and creates the
// directory or placeholder file described by the now-complete dataset.
func finishSendObjectInfo(e *Engine, s *sendObjectState, name string) {
	fullPath := joinPath(s.parentPath, name)

	if existing, err := s.vol.Stat(fullPath); err == nil {
		if existing.Attr.IsHidden() || existing.Attr.IsSystem() {
			e.setResponse(RC_AccessDenied)
			s.active = false
			e.session.send = nil
			return
		}
		if !existing.Attr.Writable() {
			e.setResponse(RC_ObjectWriteProtected)
			s.active = false
			e.session.send = nil
			return
		}
		if existing.Size > s.expectedSize {
			e.setResponse(RC_ObjectTooLarge)
			s.active = false
			e.session.send = nil
			return
		}
	}

	if free, ferr := s.vol.FreeSpace(); ferr == nil && s.expectedSize > free {
		e.setResponse(RC_ObjectTooLarge)
		s.active = false
		e.session.send = nil
		return
	}

	var assigned Handle

	if s.isDir {
		if err := s.vol.Mkdir(fullPath); err != nil {
			e.setResponse(mapErrno(err))
			s.active = false
			e.session.send = nil
			return
		}

		cache := NewFolderCache(s.vol)
		ordinal, err := e.session.Resolver.ordinalForPath(s.volIndex, cache, fullPath)
		if err != nil {
			e.setResponse(mapErrno(err))
			s.active = false
			e.session.send = nil
			return
		}

		assigned = NewHandle(uint32(s.volIndex), ordinal, itemFolder)
		e.session.markDirty(s.volIndex)
		s.active = false
	} else {
		f, err := s.vol.Open(fullPath, vfs.O_WRONLY|vfs.O_CREATE|vfs.O_TRUNC)
		if err != nil {
			e.setResponse(mapErrno(err))
			s.active = false
			e.session.send = nil
			return
		}
		f.Close()

		item := hashFilename(name)
		assigned = Handle(item | s.parent.raw())
	}

	s.path = fullPath

	if s.isDir {
		e.session.send = nil
	}

	e.setResponseParams(RC_OK, s.storageID, rootSentinelParam(s.parent), assigned.raw())
}

// handleSendObject validates a preceding SendObjectInfo reserved a file
// transfer, then opens it for write.
func handleSendObject(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	s := e.session.send
	if s == nil || !s.active || s.isDir || s.path == "" {
		e.setResponse(RC_NoValidObjectInfo)
		return false
	}

	f, err := s.vol.Open(s.path, vfs.O_WRONLY|vfs.O_TRUNC)
	if err != nil {
		e.setResponse(mapErrno(err))
		s.active = false
		e.session.send = nil
		return false
	}

	s.file = f
	s.written = 0

	return true
}

// handleSendObjectData writes the inbound file payload, stripping the
// 12-byte data container header from the first packet, and finalizes the
// transfer once the container's announced length is reached.
func handleSendObjectData(e *Engine, pkt []byte, first bool) bool {
	s := e.session.send
	if s == nil || s.file == nil {
		return true
	}

	if first {
		if len(pkt) >= ContainerHeaderLength {
			total := binary.LittleEndian.Uint32(pkt[0:4])
			if total >= ContainerHeaderLength {
				s.expectedSize = uint64(total - ContainerHeaderLength)
			}
			pkt = pkt[ContainerHeaderLength:]
		}
	}

	if len(pkt) > 0 {
		if _, err := s.file.Write(pkt); err != nil {
			s.file.Close()
			s.file = nil
			e.session.send = nil
			e.setResponse(mapErrno(err))
			return true
		}
		s.written += uint64(len(pkt))
	}

	if s.written < s.expectedSize {
		return false
	}

	s.file.Close()
	s.file = nil

	if !s.created.IsZero() || !s.modified.IsZero() {
		s.vol.Touch(s.path, s.created, s.modified)
	}

	if e.Cfg.SendObjectHook != nil {
		e.Cfg.SendObjectHook(s.path)
	}

	e.session.send = nil
	e.setResponse(RC_OK)

	return true
}
