// MTP core error handling.
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mtp

import (
	"fmt"

	"github.com/usbarmory/tamago-mtp/usb/mtp/vfs"
)

// ResponseCode is the 16-bit PTP response code carried in every response
// container. It satisfies error so a handler constructor can return one
// directly, though the common path just calls Engine.setResponse and
// returns the handler's bool result.
type ResponseCode uint16

func (r ResponseCode) Error() string {
	return fmt.Sprintf("mtp: response code %#04x", uint16(r))
}

// mapErrno maps a vfs.Errno to a response code at the call site: no
// propagation stack, a flat table.
func mapErrno(err error) ResponseCode {
	if err == nil {
		return RC_OK
	}

	errno, ok := err.(vfs.Errno)
	if !ok {
		return RC_GeneralError
	}

	switch errno {
	case vfs.EACCES:
		return RC_AccessDenied
	case vfs.ENOENT:
		return RC_InvalidObjectHandle
	case vfs.ENOTDIR:
		return RC_InvalidParentObject
	case vfs.ENODEV:
		return RC_StoreNotAvailable
	case vfs.ENOSPC:
		return RC_StoreFull
	case vfs.EROFS:
		return RC_StoreReadOnly
	case vfs.EINVAL:
		return RC_InvalidObjectHandle
	case vfs.ENOTEMPTY:
		return RC_PartialDeletion
	default:
		return RC_GeneralError
	}
}

// mapErrnoDeleteObject is DeleteObject's own errno mapping: a read-only
// store reports ObjectWriteProtected rather than StoreReadOnly, and a full
// or non-directory condition reports AccessDenied rather than StoreFull or
// InvalidParentObject, since DeleteObject's walk has already validated the
// target by the time either can occur.
func mapErrnoDeleteObject(err error) ResponseCode {
	if errno, ok := err.(vfs.Errno); ok {
		switch errno {
		case vfs.EROFS:
			return RC_ObjectWriteProtected
		case vfs.EINVAL:
			return RC_InvalidObjectHandle
		case vfs.ENOSPC, vfs.ENOTDIR:
			return RC_AccessDenied
		}
	}
	return mapErrno(err)
}
