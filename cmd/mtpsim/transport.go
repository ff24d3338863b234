package main

import (
	"encoding/binary"
	"fmt"

	"github.com/usbarmory/tamago-mtp/usb/mtp"
)

// maxPacket stands in for the bulk endpoint's wMaxPacketSize; PayloadOut is
// always asked for this many bytes at a time, matching the real transport's
// windowed delivery.
const maxPacket = 512

// transport is an in-process stand-in for the USB bulk pipe pair: it frames
// containers and pumps them through an Engine's PayloadIn/PayloadOut the
// same way soc/imx6/usb/device.go's endpointHandler does for real hardware.
type transport struct {
	e   *mtp.Engine
	tid uint32
}

func newTransport(e *mtp.Engine) *transport {
	return &transport{e: e}
}

func buildContainer(ctype, code uint16, txid uint32, payload []byte) []byte {
	buf := make([]byte, mtp.ContainerHeaderLength, mtp.ContainerHeaderLength+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(mtp.ContainerHeaderLength+len(payload)))
	binary.LittleEndian.PutUint16(buf[4:6], ctype)
	binary.LittleEndian.PutUint16(buf[6:8], code)
	binary.LittleEndian.PutUint32(buf[8:12], txid)
	return append(buf, payload...)
}

func encodeParams(params []uint32) []byte {
	buf := make([]byte, 4*len(params))
	for i, p := range params {
		binary.LittleEndian.PutUint32(buf[4*i:4*i+4], p)
	}
	return buf
}

// command sends one command container, optionally followed by one data
// container carrying outData, then drains the engine's reply. It returns
// the response code, the response parameters, and any data the engine sent
// back.
func (t *transport) command(code uint16, params []uint32, outData []byte) (mtp.ResponseCode, []uint32, []byte, error) {
	t.tid++
	txid := t.tid

	if !t.e.PayloadIn(buildContainer(mtp.CONTAINER_COMMAND, code, txid, encodeParams(params))) {
		return 0, nil, nil, fmt.Errorf("command %#04x stalled", code)
	}

	if outData != nil {
		data := buildContainer(mtp.CONTAINER_DATA, code, txid, outData)
		for off := 0; off < len(data); {
			end := off + maxPacket
			if end > len(data) {
				end = len(data)
			}
			if !t.e.PayloadIn(data[off:end]) {
				return 0, nil, nil, fmt.Errorf("data phase for %#04x stalled", code)
			}
			off = end
		}
	}

	var in []byte
	for {
		pkt := t.e.PayloadOut(maxPacket)
		if pkt == nil {
			break
		}
		in = append(in, pkt...)
	}

	if len(in) < mtp.ContainerHeaderLength {
		return 0, nil, nil, fmt.Errorf("short reply to %#04x", code)
	}

	var respData, resp []byte

	if binary.LittleEndian.Uint16(in[4:6]) == mtp.CONTAINER_DATA {
		n := binary.LittleEndian.Uint32(in[0:4])
		respData = in[mtp.ContainerHeaderLength:n]
		resp = in[n:]
	} else {
		resp = in
	}

	if len(resp) < mtp.ContainerHeaderLength {
		return 0, nil, nil, fmt.Errorf("missing response container for %#04x", code)
	}

	rcode := mtp.ResponseCode(binary.LittleEndian.Uint16(resp[6:8]))

	var rparams []uint32
	for off := mtp.ContainerHeaderLength; off+4 <= len(resp); off += 4 {
		rparams = append(rparams, binary.LittleEndian.Uint32(resp[off:off+4]))
	}

	return rcode, rparams, respData, nil
}
