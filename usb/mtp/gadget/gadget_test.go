package gadget

import (
	"testing"

	"github.com/usbarmory/tamago-mtp/soc/imx6/usb"
	"github.com/usbarmory/tamago-mtp/usb/mtp"
	"github.com/usbarmory/tamago-mtp/usb/mtp/memvfs"
)

func testFS() *memvfs.FileSystem {
	return &memvfs.FileSystem{Volumes: []*memvfs.Volume{memvfs.New(1 << 20)}}
}

func TestNewAssemblesASingleInterfaceWithBulkEndpoints(t *testing.T) {
	g := New(testFS(), mtp.Config{FriendlyName: "test"})

	if len(g.Device.Configurations) != 1 {
		t.Fatalf("Configurations = %d, want 1", len(g.Device.Configurations))
	}

	conf := g.Device.Configurations[0]
	if conf.NumInterfaces != 1 {
		t.Fatalf("NumInterfaces = %d, want 1 (ConfigurationDescriptor.AddInterface was bypassed, so this must be set by hand)", conf.NumInterfaces)
	}
	if len(conf.Interfaces) != 1 {
		t.Fatalf("Interfaces = %d, want 1", len(conf.Interfaces))
	}

	iface := conf.Interfaces[0]
	if iface.InterfaceClass != STILL_IMAGE_CLASS || iface.InterfaceSubClass != STILL_IMAGE_SUBCLASS || iface.InterfaceProtocol != STILL_IMAGE_PROTOCOL {
		t.Fatalf("interface class/subclass/protocol = %#x/%#x/%#x, want Still Image class", iface.InterfaceClass, iface.InterfaceSubClass, iface.InterfaceProtocol)
	}

	if len(iface.Endpoints) != 2 {
		t.Fatalf("Endpoints = %d, want 2 (bulk in/out, no events configured)", len(iface.Endpoints))
	}
	if iface.NumEndpoints != 2 {
		t.Fatalf("NumEndpoints = %d, want 2", iface.NumEndpoints)
	}

	for _, ep := range iface.Endpoints {
		if ep.Function == nil {
			t.Fatalf("endpoint %#x has no Function wired", ep.EndpointAddress)
		}
	}
}

func TestNewWithEventsAddsInterruptEndpoint(t *testing.T) {
	g := New(testFS(), mtp.Config{FriendlyName: "test", Events: true})

	iface := g.Device.Configurations[0].Interfaces[0]
	if len(iface.Endpoints) != 3 {
		t.Fatalf("Endpoints = %d, want 3 (bulk in/out + interrupt in)", len(iface.Endpoints))
	}
	if iface.NumEndpoints != 3 {
		t.Fatalf("NumEndpoints = %d, want 3", iface.NumEndpoints)
	}

	found := false
	for _, ep := range iface.Endpoints {
		if ep.EndpointAddress == epEventIn {
			found = true
		}
	}
	if !found {
		t.Fatal("no endpoint with address epEventIn found")
	}
}

func TestSetupDispatchesClassRequests(t *testing.T) {
	g := New(testFS(), mtp.Config{FriendlyName: "test"})

	if g.Device.Setup == nil {
		t.Fatal("Device.Setup was not wired")
	}

	if _, _, _, err := g.Device.Setup(&usb.SetupData{Request: REQUEST_GET_DEVICE_STATUS}); err != nil {
		t.Fatalf("REQUEST_GET_DEVICE_STATUS: %v", err)
	}

	if _, _, _, err := g.Device.Setup(&usb.SetupData{Request: REQUEST_DEVICE_RESET}); err != nil {
		t.Fatalf("REQUEST_DEVICE_RESET: %v", err)
	}

	if _, _, _, err := g.Device.Setup(&usb.SetupData{Request: 0xEE}); err == nil {
		t.Fatal("an unsupported class request should return an error (stall)")
	}
}

func TestBulkOutEndpointRejectsEmptyPacketSilently(t *testing.T) {
	g := New(testFS(), mtp.Config{FriendlyName: "test"})

	var out *usb.EndpointDescriptor
	for _, ep := range g.Device.Configurations[0].Interfaces[0].Endpoints {
		if ep.EndpointAddress == epBulkOut {
			out = ep
		}
	}
	if out == nil {
		t.Fatal("bulk OUT endpoint not found")
	}

	if _, err := out.Function(nil, nil); err != nil {
		t.Fatalf("empty OUT packet should be a no-op, got %v", err)
	}
}
