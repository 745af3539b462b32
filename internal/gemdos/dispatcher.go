//
// Copyright © 2014 Peter De Wachter, 2017 Charles Perkins
//
// Permission to use, copy, modify, and/or distribute this software for any purpose with
// or without fee is hereby granted, provided that the above copyright notice and this
// permission notice appear in all copies.
//
// THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO
// THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT
// SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR
// ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF
// CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE
// OR PERFORMANCE OF THIS SOFTWARE.
//

package gemdos

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/zestcore/zesthost/internal/acsi"
	"github.com/zestcore/zesthost/internal/config"
	"github.com/zestcore/zesthost/internal/errs"
)

// rendezvousTimeout is the dispatcher's condition-variable budget at every
// hand-off with the stub (gemdos_cond_wait's 500ms), per SPEC_FULL §4.5.
const rendezvousTimeout = 500 * time.Millisecond

// rendezvous is the single event the stub can hand the dispatcher: either
// the 16-byte stack snapshot that follows a new OP_GEMDOS call, an
// OP_ACTION probe (no payload), or an OP_RESULT payload.
type rendezvous struct {
	data []byte
}

// Dispatcher is the GEMDOS drive dispatcher (T-GEMDOS): it implements
// acsi.GEMDOSBridge, decodes the opcode carried by a new call, and
// services it by alternating SendReply (post an action) and a rendezvous
// wait (the stub's next OP_ACTION/OP_RESULT probe), exactly mirroring
// gemdos_thread's dispatch switch and the gemdos_read_memory/
// gemdos_write_memory/gemdos_fallback/gemdos_return helpers in
// _examples/original_source/linux/gemdos.c.
type Dispatcher struct {
	log *slog.Logger

	root string // host directory backing the GEMDOS drive
	tz   int    // configured timezone offset, hours

	// The fields below, except boot and sense (used only by HandleCommand's
	// own answers on T-IRQ), are touched only from within Run's single
	// goroutine: HandleCommand/OnDataReceived (T-IRQ) never read or write
	// them directly, they only set pendingOpcode/responder and hand off
	// through the buffered channel, whose send/receive already supplies
	// the synchronisation dispatchOpcode needs to see them.
	gemdosDrv   int // drive letter index assigned by drive_init (0=A)
	currentDrv  int
	currentPath string
	addrDTA     uint32
	dta         [dtaSize]byte

	searches     map[uint64]*fileSearch
	nextSearchID uint64

	handles    map[int]*os.File
	nextHandle int

	boot  []byte // first dmaBufSectors*512 bytes served on the GEMDOS LUN
	sense int    // pending request-sense code, cleared once read

	ch chan rendezvous

	pendingOpcode uint16
	responder     acsi.Responder
}

// New builds a Dispatcher rooted at cfg.GEMDOS. Call Run in its own
// goroutine once the device window is acquired.
func New(cfg *config.Config, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		log:         log,
		root:        cfg.GEMDOS,
		tz:          cfg.Timezone,
		currentPath: cfg.GEMDOS,
		searches:    make(map[uint64]*fileSearch),
		handles:     make(map[int]*os.File),
		nextHandle:  1,
		boot:        bootImage(),
		ch:          make(chan rendezvous, 1),
	}
}

// Run is T-GEMDOS's loop: wait for the next complete call hand-off and
// service it to completion before waiting for the next one. It returns
// when ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.ch:
			d.dispatchOpcode(ev.data)
		}
	}
}

// push delivers one rendezvous event. It is called from T-IRQ (via
// HandleCommand/OnDataReceived) and must never block: the channel is
// buffered for exactly the one outstanding wait the protocol allows.
func (d *Dispatcher) push(data []byte) {
	select {
	case d.ch <- rendezvous{data: data}:
	default:
		d.log.Error("gemdos: rendezvous channel full, dropping stub hand-off")
	}
}

// waitRendezvous blocks for the next stub hand-off (an OP_ACTION probe or
// an OP_RESULT payload), matching gemdos_cond_wait(500).
func (d *Dispatcher) waitRendezvous() ([]byte, error) {
	select {
	case ev := <-d.ch:
		return ev.data, nil
	case <-time.After(rendezvousTimeout):
		d.log.Error("gemdos: rendezvous timeout, abandoning call")
		return nil, errs.ErrTimeout
	}
}

// noDataOpcodes need no stack-snapshot DMA: the dispatcher is signalled
// directly and reads nothing further for them.
var noDataOpcodes = map[uint16]bool{
	0x19: true, // Dgetdrv
	0x4f: true, // Fsnext
}

// dataOpcodes require the 16-byte stack snapshot before dispatch.
var dataOpcodes = map[uint16]bool{
	0x0e:   true, // Dsetdrv
	0x1a:   true, // Fsetdta
	0x36:   true, // Dfree
	0x39:   true, // Dcreate
	0x3a:   true, // Ddelete
	0x3b:   true, // Dsetpath
	0x3c:   true, // Fcreate
	0x3d:   true, // Fopen
	0x3e:   true, // Fclose
	0x3f:   true, // Fread
	0x40:   true, // Fwrite
	0x41:   true, // Fdelete
	0x42:   true, // Fseek
	0x43:   true, // Fattrib
	0x47:   true, // Dgetpath
	0x4b:   true, // Pexec
	0x4e:   true, // Fsfirst
	0x56:   true, // Frename
	0x57:   true, // Fdatime
	0xffff: true, // driver init
}

// HandleCommand implements acsi.GEMDOSBridge. It runs on T-IRQ with the
// ACSI framing lock held, so every branch must return immediately: it
// either answers the bus transaction itself or hands off to Run via push.
func (d *Dispatcher) HandleCommand(cmd []byte, r acsi.Responder) {
	switch cmd[0] {
	case cmdTestUnitReady:
		r.ReplyOK()
	case cmdRequestSense:
		d.requestSense(cmd, r)
	case cmdRead6:
		d.readBootSector(cmd, r)
	case cmdInquiry:
		d.inquiry(cmd, r)
	case cmdStubCall:
		d.handleStubCall(cmd, r)
	default:
		r.ReplyOK()
	}
}

func (d *Dispatcher) handleStubCall(cmd []byte, r acsi.Responder) {
	switch cmd[1] {
	case opGEMDOS:
		opcode := beU16(cmd[2:4])
		d.pendingOpcode = opcode
		d.responder = r
		switch {
		case noDataOpcodes[opcode]:
			d.push(nil)
		case dataOpcodes[opcode]:
			r.WaitData(16)
		default:
			// Super, Ptermres, Malloc, Mfree, Mshrink and anything else
			// unrecognised: fall straight back to ROM.
			r.ReplyOK()
		}
	case opAction:
		d.push(nil)
	case opResult:
		r.WaitData(int(beU16(cmd[2:4])))
	default:
		d.sense = senseInvArg
		r.ReplyError()
	}
}

// OnDataReceived implements acsi.GEMDOSBridge: it is the completion of
// whichever WaitData HandleCommand started above, for either the initial
// stack snapshot or an OP_RESULT payload. Both cases are "the rendezvous
// Run is waiting on," so both just push.
func (d *Dispatcher) OnDataReceived(data []byte, r acsi.Responder) {
	d.responder = r
	d.push(data)
}

// dispatchOpcode runs one full GEMDOS call to completion on T-GEMDOS,
// mirroring gemdos_thread's switch. stack is the 16-byte snapshot for
// data-carrying opcodes, or nil for Dgetdrv/Fsnext.
func (d *Dispatcher) dispatchOpcode(stack []byte) {
	switch d.pendingOpcode {
	case 0x0e: // Dsetdrv
		d.currentDrv = int(beU16(stack[2:4]))
		d.responder.ReplyOK()
	case 0x19: // Dgetdrv
		d.responder.ReplyOK()
	case 0x1a: // Fsetdta
		d.fsetdta(beU32(stack[2:6]))
	case 0x36: // Dfree
		d.dfree(beU32(stack[2:6]), beU16(stack[6:8]))
	case 0x39: // Dcreate
		d.dcreate(beU32(stack[2:6]))
	case 0x3a: // Ddelete
		d.ddelete(beU32(stack[2:6]))
	case 0x3b: // Dsetpath
		d.dsetpath(beU32(stack[2:6]))
	case 0x3c: // Fcreate
		d.fcreate(beU32(stack[2:6]), beU16(stack[6:8]))
	case 0x3d: // Fopen
		d.fopen(beU32(stack[2:6]), beU16(stack[6:8]))
	case 0x3e: // Fclose
		d.fclose(int(beU16(stack[2:4])))
	case 0x3f: // Fread
		d.fread(int(beU16(stack[2:4])), beU32(stack[4:8]), beU32(stack[8:12]))
	case 0x40: // Fwrite
		d.responder.ReplyOK() // not locally managed: always passed through
	case 0x41: // Fdelete
		d.fdelete(beU32(stack[2:6]))
	case 0x42: // Fseek
		d.fseek(beI32(stack[2:6]), int(beU16(stack[6:8])), int(beU16(stack[8:10])))
	case 0x43: // Fattrib
		d.fattrib(beU32(stack[2:6]), int(beU16(stack[6:8])), int(beU16(stack[8:10])))
	case 0x47: // Dgetpath
		d.dgetpath(beU32(stack[2:6]), beU16(stack[6:8]))
	case 0x4b: // Pexec
		d.pexec(int(beU16(stack[2:4])), beU32(stack[4:8]), beU32(stack[8:12]), beU32(stack[12:16]))
	case 0x4e: // Fsfirst
		d.fsfirst(beU32(stack[2:6]), beU16(stack[6:8]))
	case 0x4f: // Fsnext
		d.fsnext()
	case 0x56: // Frename
		d.frename(beU32(stack[4:8]), beU32(stack[8:12]))
	case 0x57: // Fdatime
		d.fdatime(beU32(stack[2:6]), int(beU16(stack[6:8])), int(beU16(stack[8:10])))
	case 0xffff: // driver init
		d.driveInit(beU32(stack[0:4]), beU32(stack[4:8]))
	default:
		d.log.Warn("gemdos: unhandled opcode", "opcode", d.pendingOpcode)
		d.responder.ReplyOK()
	}
}
