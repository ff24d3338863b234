// MTP core transaction engine.
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
	"sort"

	"github.com/usbarmory/tamago-mtp/usb/mtp/vfs"
)

// phase tracks where the current transaction is in its outbound delivery,
// independent of the IDLE/CMD_RECEIVED/DATA_OUT/RESPONSE state machine the
// transaction as a whole moves through (that state machine is implicit
// here in awaitingData/phase/session.send combined).
type phase int

const (
	phaseIdle phase = iota
	phaseData
	phaseResponse
	phaseDone
)

// Engine implements the PTP/MTP transaction engine: PayloadIn/PayloadOut
// frame containers, route them to the opcode dispatch table, and maintain
// the per-transaction cursor into a lazily-generated response stream.
type Engine struct {
	FS  vfs.FileSystem
	Cfg Config

	table      map[uint16]opEntry
	opcodeList []uint16 // table's keys, sorted once so measure/emit passes agree

	session *Session

	opcode        uint16
	transactionID uint32
	params        []uint32
	active        opEntry

	awaitingData bool // true between a SendObjectInfo/SendObject command and its data phase completing
	dataFirst    bool // true for the next inbound packet carrying the data container header

	pending          []byte
	payloadRemaining int
	responseIndex    int
	phase            phase
	responseSent     bool
	pendingClose     bool // session torn down once the response container is fully sent

	respCode       ResponseCode
	respParams     [5]uint32
	respParamCount int

	statusCancelled bool
}

// setResponse stores the response to be reported for the transaction
// currently in progress, with no parameters.
func (e *Engine) setResponse(code ResponseCode) {
	e.respCode = code
	e.respParamCount = 0
}

// setResponseParams stores a response along with its parameters (at most
// five, the maximum a PTP response container carries).
func (e *Engine) setResponseParams(code ResponseCode, params ...uint32) {
	e.respCode = code

	n := len(params)
	if n > 5 {
		n = 5
	}
	for i := 0; i < n; i++ {
		e.respParams[i] = params[i]
	}
	e.respParamCount = n
}

// NewEngine returns an Engine bound to fs with the given configuration. No
// session is open until the host sends OpenSession.
func NewEngine(fs vfs.FileSystem, cfg Config) *Engine {
	e := &Engine{FS: fs, Cfg: cfg}
	e.table = dispatchTable(&e.Cfg)

	for op := range e.table {
		e.opcodeList = append(e.opcodeList, op)
	}
	sort.Slice(e.opcodeList, func(i, j int) bool { return e.opcodeList[i] < e.opcodeList[j] })

	return e
}

// Session returns the currently open session, or nil.
func (e *Engine) Session() *Session {
	return e.session
}

func parseParams(pkt []byte) []uint32 {
	n := (len(pkt) - ContainerHeaderLength) / 4
	if n > 5 {
		n = 5
	}
	if n < 0 {
		n = 0
	}

	params := make([]uint32, n)
	for i := 0; i < n; i++ {
		off := ContainerHeaderLength + i*4
		params[i] = binary.LittleEndian.Uint32(pkt[off : off+4])
	}

	return params
}

func containerHeader(length uint32, ctype, code uint16, txid uint32) []byte {
	buf := make([]byte, ContainerHeaderLength)
	binary.LittleEndian.PutUint32(buf[0:4], length)
	binary.LittleEndian.PutUint16(buf[4:6], ctype)
	binary.LittleEndian.PutUint16(buf[6:8], code)
	binary.LittleEndian.PutUint32(buf[8:12], txid)
	return buf
}

// buildResponseContainer emits the response container carrying the
// session's stored code and 0-5 parameters.
func (e *Engine) buildResponseContainer() []byte {
	code := uint16(e.respCode)
	n := e.respParamCount
	params := e.respParams

	length := uint32(ContainerHeaderLength + 4*n)
	buf := containerHeader(length, CONTAINER_RESPONSE, code, e.transactionID)

	for i := 0; i < n; i++ {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, params[i])
		buf = append(buf, b...)
	}

	return buf
}

// startCommand resets the per-transaction cursor state and runs the
// measurement pass for opcode.
func (e *Engine) startCommand(entry opEntry, opcode uint16, txid uint32, params []uint32) {
	e.active = entry
	e.opcode = opcode
	e.transactionID = txid
	e.params = params
	e.pending = nil
	e.payloadRemaining = 0
	e.responseIndex = 0
	e.responseSent = false
	e.awaitingData = false
	e.phase = phaseIdle

	w := NewMeasure()
	hasData := entry.Command(e, params, w)

	switch {
	case entry.Data != nil && hasData:
		// The command phase validated storage/parent and reserved
		// send-object state; proceed to the inbound data phase.
		e.awaitingData = true
		e.dataFirst = true
	case entry.Data != nil:
		// Command phase rejected the transfer outright (e.g. invalid
		// parent): go straight to the response, no data phase.
		e.phase = phaseResponse
	case hasData:
		e.pending = containerHeader(uint32(ContainerHeaderLength+w.Len()), CONTAINER_DATA, opcode, txid)
		e.payloadRemaining = w.Len()
		e.phase = phaseData
	default:
		e.phase = phaseResponse
	}
}

// finishDataPhase is called once an inbound data handler reports it has
// consumed the full announced transfer.
func (e *Engine) finishDataPhase() {
	e.awaitingData = false
	e.phase = phaseResponse
}

// PayloadIn is invoked by the transport for every inbound packet. It
// returns false to request a stall.
func (e *Engine) PayloadIn(pkt []byte) bool {
	if e.awaitingData {
		first := e.dataFirst
		e.dataFirst = false

		done := e.active.Data(e, pkt, first)

		if done {
			e.finishDataPhase()
		}

		return true
	}

	if len(pkt) < ContainerHeaderLength {
		return false
	}

	ctype := binary.LittleEndian.Uint16(pkt[4:6])
	code := binary.LittleEndian.Uint16(pkt[6:8])
	txid := binary.LittleEndian.Uint32(pkt[8:12])

	switch ctype {
	case CONTAINER_COMMAND:
		entry, ok := e.table[code]
		if !ok {
			log.Printf("mtp: unsupported opcode %#04x", code)
			return false
		}

		e.startCommand(entry, code, txid, parseParams(pkt))
		return true
	case CONTAINER_DATA, CONTAINER_RESPONSE:
		// Reached only when no data-phase collector is active: the
		// transport delivered a data/response container out of
		// sequence with the transaction state machine.
		return txid == e.transactionID
	default:
		return false
	}
}

// PayloadOut is invoked by the transport whenever it has room for another
// outbound packet. It returns nil to request a stall/no-op.
func (e *Engine) PayloadOut(windowSize int) []byte {
	if windowSize <= 0 {
		return nil
	}

	if len(e.pending) == 0 {
		e.refill(windowSize)
	}

	if len(e.pending) == 0 {
		return nil
	}

	n := len(e.pending)
	if n > windowSize {
		n = windowSize
	}

	out := e.pending[:n]
	e.pending = e.pending[n:]

	return out
}

func (e *Engine) refill(windowSize int) {
	if e.awaitingData {
		return
	}

	switch e.phase {
	case phaseData:
		if e.payloadRemaining > 0 {
			chunk := windowSize
			if chunk > e.payloadRemaining {
				chunk = e.payloadRemaining
			}

			w := NewEmit(make([]byte, chunk), e.responseIndex, chunk)
			e.active.Command(e, e.params, w)

			e.responseIndex += chunk
			e.payloadRemaining -= chunk
			e.pending = w.Written()

			return
		}

		e.phase = phaseResponse
		fallthrough
	case phaseResponse:
		if !e.responseSent {
			e.pending = e.buildResponseContainer()
			e.responseSent = true
			return
		}

		if e.pendingClose {
			closeSession(e)
			e.pendingClose = false
		}

		e.phase = phaseDone
	}
}

// CancelRequest implements the class CancelRequest request (0x4001): if a
// send-object is in progress, it is closed, the partial file removed, and
// the outstanding transaction is forced to IDLE.
func (e *Engine) CancelRequest(buf []byte) error {
	if e.session != nil && e.session.send != nil && e.session.send.active {
		s := e.session.send

		if s.file != nil {
			s.file.Close()
		}

		if s.vol != nil && s.path != "" {
			s.vol.Remove(s.path)
		}

		s.cancelled = true
		s.active = false
		e.session.send = nil
	}

	if e.session != nil && e.session.getFile != nil {
		e.session.getFile.Close()
		e.session.getFile = nil
		e.session.getFileRemaining = 0
	}

	e.awaitingData = false
	e.pending = nil
	e.phase = phaseDone
	e.statusCancelled = true

	log.Printf("mtp: transaction %d cancelled", e.transactionID)

	return nil
}

// GetDeviceStatus returns TransactionCancelled on the first query after a
// cancel, then reverts to OK.
func (e *Engine) GetDeviceStatus() []byte {
	code := uint16(RC_OK)

	if e.statusCancelled {
		code = uint16(RC_TransactionCancelled)
		e.statusCancelled = false
	}

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], 4)
	binary.LittleEndian.PutUint16(buf[2:4], code)

	return buf
}

// Reset closes any open session. The gadget invokes it on the class
// DeviceReset request; USB bus resets do not reach it.
func (e *Engine) Reset() {
	if e.session != nil {
		closeSession(e)
	}

	e.awaitingData = false
	e.pending = nil
	e.phase = phaseIdle
	e.statusCancelled = false
}
