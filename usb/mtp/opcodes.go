// MTP core opcode and container constants.
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mtp

// Container types.
const (
	CONTAINER_COMMAND  = 1
	CONTAINER_DATA     = 2
	CONTAINER_RESPONSE = 3
	CONTAINER_EVENT    = 4
)

// ContainerHeaderLength is the fixed 12-byte container header size.
const ContainerHeaderLength = 12

// PTP/MTP operation codes.
const (
	OP_GetDeviceInfo          = 0x1001
	OP_OpenSession            = 0x1002
	OP_CloseSession           = 0x1003
	OP_GetStorageIDs          = 0x1004
	OP_GetStorageInfo         = 0x1005
	OP_GetObjectHandles       = 0x1007
	OP_GetObjectInfo          = 0x1008
	OP_GetObject              = 0x1009
	OP_DeleteObject           = 0x100B
	OP_SendObjectInfo         = 0x100C
	OP_SendObject             = 0x100D
	OP_FormatStore            = 0x100F
	OP_GetDevicePropDesc      = 0x1014
	OP_GetDevicePropValue     = 0x1015
	OP_SetDevicePropValue     = 0x1016
	OP_GetObjectPropsSupported = 0x9801
	OP_GetObjectPropDesc      = 0x9802
	OP_GetObjectPropValue     = 0x9803
	OP_SetObjectPropValue     = 0x9804
	OP_GetObjectPropList      = 0x9805
)

// Class-specific control request consumed via the USB control endpoint
// rather than the bulk pair.
const CLASS_CancelRequest = 0x4001

// Response codes. The 0x2xxx range is PTP-defined, 0xA8xx is the MTP
// vendor extension range.
const (
	RC_OK                                = 0x2001
	RC_GeneralError                      = 0x2002
	RC_SessionNotOpen                    = 0x2003
	RC_InvalidTransactionId              = 0x2004
	RC_OperationNotSupported             = 0x2005
	RC_ParameterNotSupported             = 0x2006
	RC_IncompleteTransfer                = 0x2007
	RC_InvalidStorageID                  = 0x2008
	RC_InvalidObjectHandle               = 0x2009
	RC_StoreFull                         = 0x200C
	RC_ObjectWriteProtected              = 0x200D
	RC_StoreReadOnly                     = 0x200E
	RC_AccessDenied                      = 0x200F
	RC_NoThumbnailPresent                = 0x2010
	RC_StoreNotAvailable                 = 0x2013
	RC_SpecificationByFormatUnsupported  = 0x2014
	RC_StoreAlreadyOpen                  = 0x2017
	RC_ObjectTooLarge                    = 0x201A
	RC_InvalidParentObject               = 0x201B
	RC_DeviceBusy                        = 0x2019
	RC_SessionAlreadyOpen                = 0x201E
	RC_TransactionCancelled              = 0x201F
	RC_PartialDeletion                   = 0x201C
)

// MTP vendor-extension response codes (0xA8xx range).
const (
	RC_InvalidObjectPropCode           = 0xA801
	RC_SpecificationByDepthUnsupported = 0xA805
	RC_SpecificationByGroupUnsupported = 0xA806
	RC_NoValidObjectInfo               = 0xA80A
)
