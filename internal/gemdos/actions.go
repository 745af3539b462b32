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

import "bytes"

// The primitives below are the Go equivalent of gemdos.c's
// gemdos_read_memory/gemdos_write_memory*/gemdos_fallback/gemdos_return:
// each is a complete rendezvous with the stub — wait for its OP_ACTION
// probe, post one action, and (for reads) wait again for the OP_RESULT
// payload. action_required() itself is just the first ReplyError a
// handler sends before calling any of these.

// readMemory waits for an OP_ACTION probe, asks the stub to read nbytes
// (or, if nbytes==0, to read until the guest's own NUL terminator — the
// stub only sees the address either way, since the length is advisory)
// from addr, and returns whatever payload the stub answers with.
func (d *Dispatcher) readMemory(addr uint32, nbytes uint16) ([]byte, error) {
	if _, err := d.waitRendezvous(); err != nil {
		return nil, err
	}
	action := make([]byte, 16)
	beU16put(action[0:2], actionRDMEM)
	beU32put(action[2:6], addr)
	beU16put(action[6:8], nbytes)
	d.responder.SendReply(action)

	data, err := d.waitRendezvous()
	if err != nil {
		return nil, err
	}
	d.responder.ReplyOK()
	return data, nil
}

// readString reads a NUL-terminated guest string.
func (d *Dispatcher) readString(addr uint32) (string, error) {
	data, err := d.readMemory(addr, 0)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data), nil
}

func (d *Dispatcher) readLong(addr uint32) (uint32, error) {
	data, err := d.readMemory(addr, 4)
	if err != nil {
		return 0, err
	}
	return beU32(data), nil
}

// writeMemoryGeneric waits for an OP_ACTION probe and posts a WRMEM (or
// WRMEM0, which also forces the GEMDOS call to return 0) action carrying
// buf. Unlike readMemory it does not wait again afterward. After a WRMEM
// the stub performs the write and probes for the next action, so the
// caller chooses what comes next; after a WRMEM0 it performs the write
// and ends the call with 0.
func (d *Dispatcher) writeMemoryGeneric(buf []byte, addr uint32, ret0 bool) error {
	if _, err := d.waitRendezvous(); err != nil {
		return err
	}
	size := (8 + len(buf) + 15) &^ 15
	action := make([]byte, size)
	kind := uint16(actionWRMEM)
	if ret0 {
		kind = actionWRMEM0
	}
	beU16put(action[0:2], kind)
	beU32put(action[2:6], addr)
	beU16put(action[6:8], uint16(len(buf)))
	copy(action[8:], buf)
	d.responder.SendReply(action)
	return nil
}

func (d *Dispatcher) writeMemory(buf []byte, addr uint32) error {
	return d.writeMemoryGeneric(buf, addr, false)
}

func (d *Dispatcher) writeMemory0(buf []byte, addr uint32) error {
	return d.writeMemoryGeneric(buf, addr, true)
}

func (d *Dispatcher) writeLong(addr uint32, v uint32) error {
	buf := make([]byte, 4)
	beU32put(buf, v)
	return d.writeMemory(buf, addr)
}

// fallback ends the action loop, resuming the ROM's own GEMDOS handler.
func (d *Dispatcher) fallback() {
	if _, err := d.waitRendezvous(); err != nil {
		return
	}
	action := make([]byte, 16)
	beU16put(action[0:2], actionFallback)
	d.responder.SendReply(action)
}

// gemdosReturn ends the action loop, completing the call with val.
func (d *Dispatcher) gemdosReturn(val int32) {
	if _, err := d.waitRendezvous(); err != nil {
		return
	}
	action := make([]byte, 16)
	beU16put(action[0:2], actionReturn)
	beU32put(action[2:6], uint32(val))
	d.responder.SendReply(action)
}

// modstack patches the guest's call frame in place (action MODSTACK) and
// lets the stub fall back into ROM with the rewritten arguments — used by
// Pexec mode 0 to turn the original call into a Pexec(4).
func (d *Dispatcher) modstack(buf []byte, addr uint32) error {
	if _, err := d.waitRendezvous(); err != nil {
		return err
	}
	size := (8 + len(buf) + 15) &^ 15
	action := make([]byte, size)
	beU16put(action[0:2], actionMODSTACK)
	beU32put(action[2:6], addr)
	beU16put(action[6:8], uint16(len(buf)))
	copy(action[8:], buf)
	d.responder.SendReply(action)
	return nil
}

// nestedGEMDOS re-enters a GEMDOS call in the guest (action GEMDOS),
// used by Pexec mode 0/3 to ask the stub to build a base page before the
// relocated program image is streamed in.
func (d *Dispatcher) nestedGEMDOS(opcode uint16, args []byte) ([]byte, error) {
	if _, err := d.waitRendezvous(); err != nil {
		return nil, err
	}
	action := make([]byte, (8+len(args)+15)&^15)
	beU16put(action[0:2], actionGEMDOS)
	beU16put(action[2:4], opcode)
	copy(action[8:], args)
	d.responder.SendReply(action)

	data, err := d.waitRendezvous()
	if err != nil {
		return nil, err
	}
	d.responder.ReplyOK()
	return data, nil
}
