// MTP USB gadget wiring.
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package gadget assembles a Still Image (PTP/MTP) class USB device and
// wires its bulk/interrupt endpoints to a usb/mtp.Engine through
// soc/imx6/usb endpoint functions and its Device.Setup class-request hook.
package gadget

import (
	"fmt"

	"github.com/usbarmory/tamago-mtp/soc/imx6/usb"
	"github.com/usbarmory/tamago-mtp/usb/mtp"
	"github.com/usbarmory/tamago-mtp/usb/mtp/vfs"
)

const (
	epBulkOut = 0x01
	epBulkIn  = 0x81
	epEventIn = 0x82

	bulkMaxPacketSize  = 512
	eventMaxPacketSize = 64

	attrBulk = 2
	attrInt  = 3
)

// Gadget owns the Engine and the USB device descriptor hierarchy it is
// wired to.
type Gadget struct {
	Engine *mtp.Engine
	Device *usb.Device
}

// New builds a Still Image class gadget over fs. cfg.Events adds an
// interrupt-IN endpoint for the asynchronous ObjectAdded/ObjectRemoved/
// DeviceReset events; it is otherwise unused by the engine itself, which
// never emits events on its own.
func New(fs vfs.FileSystem, cfg mtp.Config) *Gadget {
	engine := mtp.NewEngine(fs, cfg)

	dev := &usb.Device{}
	dev.SetLanguageCodes([]uint16{0x0409})

	dev.Descriptor = &usb.DeviceDescriptor{}
	dev.Descriptor.SetDefaults()
	dev.Descriptor.DeviceClass = 0x00 // class is declared at the interface
	dev.Descriptor.VendorId = 0x1209
	dev.Descriptor.ProductId = 0x2740
	dev.Descriptor.Device = 0x0001

	if cfg.Manufacturer != "" {
		i, _ := dev.AddString(cfg.Manufacturer)
		dev.Descriptor.Manufacturer = i
	}
	if cfg.FriendlyName != "" {
		i, _ := dev.AddString(cfg.FriendlyName)
		dev.Descriptor.Product = i
	}
	if cfg.Serial != "" {
		i, _ := dev.AddString(cfg.Serial)
		dev.Descriptor.SerialNumber = i
	}

	dev.Qualifier = &usb.DeviceQualifierDescriptor{}
	dev.Qualifier.SetDefaults()

	conf := &usb.ConfigurationDescriptor{}
	conf.SetDefaults()
	conf.NumInterfaces = 1

	iConfiguration, _ := dev.AddString("MTP")
	conf.Configuration = iConfiguration

	iface := &usb.InterfaceDescriptor{}
	iface.SetDefaults()
	iface.InterfaceClass = STILL_IMAGE_CLASS
	iface.InterfaceSubClass = STILL_IMAGE_SUBCLASS
	iface.InterfaceProtocol = STILL_IMAGE_PROTOCOL

	if cfg.Events {
		iface.NumEndpoints = 3
	} else {
		iface.NumEndpoints = 2
	}

	epOut := &usb.EndpointDescriptor{}
	epOut.SetDefaults()
	epOut.EndpointAddress = epBulkOut
	epOut.Attributes = attrBulk
	epOut.MaxPacketSize = bulkMaxPacketSize
	epOut.Function = func(buf []byte, lastErr error) ([]byte, error) {
		if lastErr != nil {
			return nil, lastErr
		}
		if len(buf) == 0 {
			return nil, nil
		}
		if !engine.PayloadIn(buf) {
			return nil, fmt.Errorf("mtp: payload rejected, stalling EP%d", epBulkOut&0xf)
		}
		return nil, nil
	}

	epIn := &usb.EndpointDescriptor{}
	epIn.SetDefaults()
	epIn.EndpointAddress = epBulkIn
	epIn.Attributes = attrBulk
	epIn.MaxPacketSize = bulkMaxPacketSize
	epIn.Function = func(_ []byte, lastErr error) ([]byte, error) {
		if lastErr != nil {
			return nil, lastErr
		}
		return engine.PayloadOut(bulkMaxPacketSize), nil
	}

	iface.Endpoints = append(iface.Endpoints, epIn, epOut)

	if cfg.Events {
		epEvent := &usb.EndpointDescriptor{}
		epEvent.SetDefaults()
		epEvent.EndpointAddress = epEventIn
		epEvent.Attributes = attrInt
		epEvent.MaxPacketSize = eventMaxPacketSize
		epEvent.Interval = 6 // 4ms polling at high speed, 2^(6-1) microframes
		epEvent.Function = func(_ []byte, lastErr error) ([]byte, error) {
			// No event source is wired up: the endpoint exists so
			// host drivers that require it at enumeration time do
			// not refuse the interface.
			return nil, nil
		}

		iface.Endpoints = append(iface.Endpoints, epEvent)
	}

	conf.Interfaces = append(conf.Interfaces, iface)
	dev.AddConfiguration(conf)

	dev.Setup = func(setup *usb.SetupData) (in []byte, ack bool, done bool, err error) {
		switch setup.Request {
		case REQUEST_CANCEL:
			err = engine.CancelRequest(nil)
			return nil, true, true, err
		case REQUEST_GET_DEVICE_STATUS:
			return engine.GetDeviceStatus(), false, true, nil
		case REQUEST_DEVICE_RESET:
			engine.Reset()
			return nil, true, true, nil
		default:
			return nil, false, false, fmt.Errorf("mtp: unsupported class request %#02x", setup.Request)
		}
	}

	return &Gadget{Engine: engine, Device: dev}
}

// Start hands the assembled device to the controller; it never returns.
func (g *Gadget) Start() {
	usb.USB1.Init()
	usb.USB1.DeviceMode()
	usb.USB1.Reset()
	usb.USB1.Start(g.Device)
}
