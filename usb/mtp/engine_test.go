package mtp

import (
	"encoding/binary"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/usbarmory/tamago-mtp/usb/mtp/memvfs"
)

// testTransport pumps containers through an Engine's PayloadIn/PayloadOut
// the way the real USB bulk pipe pair would, without any hardware.
type testTransport struct {
	e   *Engine
	tid uint32
}

func newTestTransport(e *Engine) *testTransport { return &testTransport{e: e} }

func testContainer(ctype, code uint16, txid uint32, payload []byte) []byte {
	buf := make([]byte, ContainerHeaderLength, ContainerHeaderLength+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ContainerHeaderLength+len(payload)))
	binary.LittleEndian.PutUint16(buf[4:6], ctype)
	binary.LittleEndian.PutUint16(buf[6:8], code)
	binary.LittleEndian.PutUint32(buf[8:12], txid)
	return append(buf, payload...)
}

func testParams(params []uint32) []byte {
	buf := make([]byte, 4*len(params))
	for i, p := range params {
		binary.LittleEndian.PutUint32(buf[4*i:4*i+4], p)
	}
	return buf
}

func (tt *testTransport) do(t *testing.T, code uint16, params []uint32, outData []byte) (ResponseCode, []uint32, []byte) {
	t.Helper()

	tt.tid++
	txid := tt.tid

	if !tt.e.PayloadIn(testContainer(CONTAINER_COMMAND, code, txid, testParams(params))) {
		t.Fatalf("command %#04x stalled", code)
	}

	if outData != nil {
		data := testContainer(CONTAINER_DATA, code, txid, outData)
		const window = 512
		for off := 0; off < len(data); {
			end := off + window
			if end > len(data) {
				end = len(data)
			}
			if !tt.e.PayloadIn(data[off:end]) {
				t.Fatalf("data phase for %#04x stalled", code)
			}
			off = end
		}
	}

	var in []byte
	for {
		pkt := tt.e.PayloadOut(512)
		if pkt == nil {
			break
		}
		in = append(in, pkt...)
	}

	if len(in) < ContainerHeaderLength {
		t.Fatalf("short reply to %#04x: %x", code, in)
	}

	var respData, resp []byte
	if binary.LittleEndian.Uint16(in[4:6]) == CONTAINER_DATA {
		n := binary.LittleEndian.Uint32(in[0:4])
		respData = in[ContainerHeaderLength:n]
		resp = in[n:]
	} else {
		resp = in
	}

	rcode := ResponseCode(binary.LittleEndian.Uint16(resp[6:8]))

	var rparams []uint32
	for off := ContainerHeaderLength; off+4 <= len(resp); off += 4 {
		rparams = append(rparams, binary.LittleEndian.Uint32(resp[off:off+4]))
	}

	return rcode, rparams, respData
}

func testWChar(s string) []byte {
	if s == "" {
		return []byte{0}
	}
	units := utf16.Encode([]rune(s))
	buf := make([]byte, 1, 1+2*(len(units)+1))
	buf[0] = byte(len(units) + 1)
	for _, u := range units {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, u)
		buf = append(buf, b...)
	}
	return append(buf, 0, 0)
}

func testObjectInfo(format uint16, size uint32, name string) []byte {
	buf := make([]byte, 52)
	binary.LittleEndian.PutUint16(buf[4:6], format)
	binary.LittleEndian.PutUint32(buf[8:12], size)
	buf = append(buf, testWChar(name)...)
	now := EncodeDate(time.Now())
	buf = append(buf, testWChar(now)...)
	buf = append(buf, testWChar(now)...)
	return buf
}

// decodeU32Array parses a "u32 count" + "u32 elements" dataset, the shape
// GetObjectHandles/GetStorageIDs emit in their data phase.
func decodeU32Array(t *testing.T, data []byte) []uint32 {
	t.Helper()

	if len(data) < 4 {
		t.Fatalf("u32 array dataset too short: %x", data)
	}

	count := binary.LittleEndian.Uint32(data[0:4])
	out := make([]uint32, 0, count)

	for off := 4; off+4 <= len(data) && uint32(len(out)) < count; off += 4 {
		out = append(out, binary.LittleEndian.Uint32(data[off:off+4]))
	}

	if uint32(len(out)) != count {
		t.Fatalf("u32 array declared %d elements, only decoded %d", count, len(out))
	}

	return out
}

func newTestEngine() (*Engine, *memvfs.Volume) {
	vol := memvfs.New(1 << 20)
	fs := &memvfs.FileSystem{Volumes: []*memvfs.Volume{vol}}
	e := NewEngine(fs, Config{Manufacturer: "Test", FriendlyName: "testdev", Serial: "0"})
	return e, vol
}

func TestEndToEndSendListGetDelete(t *testing.T) {
	e, _ := newTestEngine()
	tt := newTestTransport(e)

	storageID := uint32(1)<<16 | 1

	if code, _, _ := tt.do(t, OP_OpenSession, []uint32{1}, nil); code != RC_OK {
		t.Fatalf("OpenSession = %v", code)
	}

	content := []byte("hello from a test\n")
	info := testObjectInfo(FORMAT_TEXT, uint32(len(content)), "hello.txt")

	code, params, _ := tt.do(t, OP_SendObjectInfo, []uint32{storageID, 0xFFFFFFFF}, info)
	if code != RC_OK {
		t.Fatalf("SendObjectInfo = %v", code)
	}
	if len(params) != 3 {
		t.Fatalf("SendObjectInfo params = %v, want 3 values", params)
	}
	handle := params[2]

	if code, _, _ := tt.do(t, OP_SendObject, nil, content); code != RC_OK {
		t.Fatalf("SendObject = %v", code)
	}

	code, _, data := tt.do(t, OP_GetObjectHandles, []uint32{storageID, 0, 0xFFFFFFFF}, nil)
	if code != RC_OK {
		t.Fatalf("GetObjectHandles = %v", code)
	}
	handles := decodeU32Array(t, data)
	found := false
	for _, h := range handles {
		if h == handle {
			found = true
		}
	}
	if !found {
		t.Fatalf("GetObjectHandles %v does not contain the sent handle %#x", handles, handle)
	}

	if code, _, _ := tt.do(t, OP_GetObjectInfo, []uint32{handle}, nil); code != RC_OK {
		t.Fatalf("GetObjectInfo = %v", code)
	}

	code, _, data = tt.do(t, OP_GetObject, []uint32{handle}, nil)
	if code != RC_OK {
		t.Fatalf("GetObject = %v", code)
	}
	if string(data) != string(content) {
		t.Fatalf("GetObject returned %q, want %q", data, content)
	}

	if code, _, _ := tt.do(t, OP_DeleteObject, []uint32{handle}, nil); code != RC_OK {
		t.Fatalf("DeleteObject = %v", code)
	}

	code, _, data = tt.do(t, OP_GetObjectHandles, []uint32{storageID, 0, 0xFFFFFFFF}, nil)
	if code != RC_OK {
		t.Fatalf("GetObjectHandles (after delete) = %v", code)
	}
	if remaining := decodeU32Array(t, data); len(remaining) != 0 {
		t.Fatalf("GetObjectHandles after delete = %v, want empty", remaining)
	}

	if code, _, _ := tt.do(t, OP_CloseSession, nil, nil); code != RC_OK {
		t.Fatalf("CloseSession = %v", code)
	}
}

func TestOpenSessionRejectsConcurrentSession(t *testing.T) {
	e, _ := newTestEngine()
	tt := newTestTransport(e)

	if code, _, _ := tt.do(t, OP_OpenSession, []uint32{1}, nil); code != RC_OK {
		t.Fatalf("first OpenSession = %v", code)
	}

	if code, _, _ := tt.do(t, OP_OpenSession, []uint32{1}, nil); code != RC_SessionAlreadyOpen {
		t.Fatalf("OpenSession(same id) = %v, want RC_SessionAlreadyOpen", code)
	}

	if code, _, _ := tt.do(t, OP_OpenSession, []uint32{2}, nil); code != RC_DeviceBusy {
		t.Fatalf("OpenSession(other id) = %v, want RC_DeviceBusy", code)
	}
}

func TestDeleteNonEmptyDirectoryWithSubdirReturnsPartialDeletion(t *testing.T) {
	e, vol := newTestEngine()
	tt := newTestTransport(e)

	if err := vol.Mkdir("/dir"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := vol.Mkdir("/dir/sub"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := vol.Mkdir("/dir/sub/inner"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	storageID := uint32(1)<<16 | 1

	if code, _, _ := tt.do(t, OP_OpenSession, []uint32{1}, nil); code != RC_OK {
		t.Fatalf("OpenSession = %v", code)
	}

	code, _, data := tt.do(t, OP_GetObjectHandles, []uint32{storageID, 0, 0xFFFFFFFF}, nil)
	handles := decodeU32Array(t, data)
	if code != RC_OK || len(handles) != 1 {
		t.Fatalf("GetObjectHandles = %v, %v", code, handles)
	}

	if code, _, _ := tt.do(t, OP_DeleteObject, []uint32{handles[0]}, nil); code != RC_PartialDeletion {
		t.Fatalf("DeleteObject(dir with non-empty subdir) = %v, want RC_PartialDeletion", code)
	}
}

func TestCancelRequestAbortsInProgressSendObject(t *testing.T) {
	e, vol := newTestEngine()
	tt := newTestTransport(e)

	storageID := uint32(1)<<16 | 1

	if code, _, _ := tt.do(t, OP_OpenSession, []uint32{1}, nil); code != RC_OK {
		t.Fatalf("OpenSession = %v", code)
	}

	info := testObjectInfo(FORMAT_TEXT, 4, "partial.txt")
	if code, _, _ := tt.do(t, OP_SendObjectInfo, []uint32{storageID, 0xFFFFFFFF}, info); code != RC_OK {
		t.Fatalf("SendObjectInfo = %v", code)
	}

	if !e.PayloadIn(testContainer(CONTAINER_COMMAND, OP_SendObject, 999, nil)) {
		t.Fatal("SendObject command rejected unexpectedly")
	}

	if err := e.CancelRequest(nil); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}

	if _, err := vol.Stat("/partial.txt"); err == nil {
		t.Fatal("CancelRequest should have removed the partially-created object")
	}
}
