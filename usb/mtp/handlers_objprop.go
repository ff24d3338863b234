// MTP core object property operation handlers.
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mtp

// handleGetObjectPropsSupported reports the full ObjectProperties table,
// independent of the requested format code: this implementation keeps one
// property set for every object format.
func handleGetObjectPropsSupported(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	w.U32(uint32(len(ObjectProperties)))
	for _, p := range ObjectProperties {
		w.U16(p.Code)
	}

	e.setResponse(RC_OK)

	return true
}

// handleGetObjectPropDesc emits a property's descriptor with a zero-value
// default/current sample: the dataset's "current value" is only meaningful
// against a resolved object, which GetObjectPropValue provides; here it
// stands in for the type's factory default.
func handleGetObjectPropDesc(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	if len(params) < 1 {
		e.setResponse(RC_InvalidObjectPropCode)
		return false
	}

	prop, ok := FindObjectProperty(uint16(params[0]))
	if !ok {
		e.setResponse(RC_InvalidObjectPropCode)
		return false
	}

	w.U16(prop.Code)
	w.U16(prop.Type)
	w.U8(0) // GetSet: every object property in this table is read-only
	prop.Encode(w, ObjectPropContext{})
	w.U32(0) // GroupCode
	w.U8(FORM_NONE)

	e.setResponse(RC_OK)

	return true
}

// handleGetObjectPropValue resolves params[0] and emits the single property
// params[1] asks for.
func handleGetObjectPropValue(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	if len(params) < 2 {
		e.setResponse(RC_InvalidObjectPropCode)
		return false
	}

	target := Handle(params[0])

	info, _, volIndex, currentParent, err := e.session.Resolver.Resolve(target, true)
	if err != nil {
		e.setResponse(mapErrno(err))
		return false
	}

	prop, ok := FindObjectProperty(uint16(params[1]))
	if !ok {
		e.setResponse(RC_InvalidObjectPropCode)
		return false
	}

	prop.Encode(w, ObjectPropContext{
		Handle:    target,
		Parent:    Handle(rootSentinelParam(currentParent)),
		StorageID: storageID(volIndex),
		Info:      info,
		Format:    ObjectFormat(info),
	})

	e.setResponse(RC_OK)

	return true
}

// handleSetObjectPropValue has no settable object properties in this
// implementation's table; rejected uniformly until a property setter table
// is designed.
func handleSetObjectPropValue(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	e.setResponse(RC_AccessDenied)
	return false
}

// propListEntry is one element of a GetObjectPropList response: a resolved
// object's context paired with the property row being emitted for it.
type propListEntry struct {
	handle Handle
	ctx    ObjectPropContext
	prop   ObjectProperty
}

// handleGetObjectPropList answers a dataset request spanning either a
// single resolved object or every immediate child of the volume root when
// params[0] is 0 — host tools commonly use this as a one-shot directory
// listing-with-metadata instead of GetObjectHandles followed by one
// GetObjectPropValue per entry.
// Only format filter 0, group code 0 and depth 0 (or 0xFFFFFFFF, treated
// the same as 0 since this implementation never recurses) are supported.
func handleGetObjectPropList(e *Engine, params []uint32, w *Writer) bool {
	if !requireSession(e) {
		return false
	}

	if len(params) < 5 {
		e.setResponse(RC_ParameterNotSupported)
		return false
	}

	if params[1] != 0 {
		e.setResponse(RC_SpecificationByFormatUnsupported)
		return false
	}
	if params[3] != 0 {
		e.setResponse(RC_SpecificationByGroupUnsupported)
		return false
	}
	if params[4] != 0 && params[4] != 0xFFFFFFFF {
		e.setResponse(RC_SpecificationByDepthUnsupported)
		return false
	}

	propCode := params[2]

	var targets []ObjectPropContext

	if params[0] == 0 {
		root := NewHandle(0, folderRoot, itemFolder)

		_, path, volIndex, currentParent, err := e.session.Resolver.Resolve(root, true)
		if err != nil {
			e.setResponse(mapErrno(err))
			return false
		}

		vol, ok := e.FS.Volume(volIndex)
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

		for _, child := range entries {
			if child.Name == "." || child.Name == ".." {
				continue
			}
			if child.Attr.IsHidden() || child.Attr.IsSystem() {
				continue
			}

			var h Handle
			if child.Attr.IsDir() {
				ordinal, oerr := e.session.Resolver.ordinalForPath(volIndex, cache, joinPath(path, child.Name))
				if oerr != nil {
					continue
				}
				h = NewHandle(uint32(volIndex), ordinal, itemFolder)
			} else {
				item := hashFilename(child.Name)
				e.session.Resolver.markSeen(volIndex, item, child.Name)
				h = Handle(item | currentParent.raw())
			}

			targets = append(targets, ObjectPropContext{
				Handle:    h,
				Parent:    Handle(rootSentinelParam(currentParent)),
				StorageID: storageID(volIndex),
				Info:      child,
				Format:    ObjectFormat(child),
			})
		}
	} else {
		target := Handle(params[0])

		info, _, volIndex, currentParent, err := e.session.Resolver.Resolve(target, true)
		if err != nil {
			e.setResponse(mapErrno(err))
			return false
		}

		targets = append(targets, ObjectPropContext{
			Handle:    target,
			Parent:    Handle(rootSentinelParam(currentParent)),
			StorageID: storageID(volIndex),
			Info:      info,
			Format:    ObjectFormat(info),
		})
	}

	var entries []propListEntry

	for _, ctx := range targets {
		if propCode == 0xFFFFFFFF {
			for _, p := range ObjectProperties {
				entries = append(entries, propListEntry{ctx.Handle, ctx, p})
			}
			continue
		}

		if p, ok := FindObjectProperty(uint16(propCode)); ok {
			entries = append(entries, propListEntry{ctx.Handle, ctx, p})
		}
	}

	w.U32(uint32(len(entries)))
	for _, en := range entries {
		w.U32(uint32(en.handle))
		w.U16(en.prop.Code)
		w.U16(en.prop.Type)
		en.prop.Encode(w, en.ctx)
	}

	e.setResponse(RC_OK)

	return true
}
