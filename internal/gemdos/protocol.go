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

// Package gemdos implements the GEMDOS drive dispatcher from SPEC_FULL
// §4.5: a pseudo ACSI target that answers GEMDOS trap forwards from a
// guest-side stub instead of raw sector reads. Grounded on
// _examples/original_source/linux/gemdos.c for the opcode/DTA/path-lookup
// semantics, and on rem/frfs/frfs.go for the general shape of translating
// guest filesystem calls into host os.* calls (there the guest is a FUSE
// client; here it is the ST CPU core, speaking a custom RPC envelope over
// the ACSI bus instead of the kernel VFS).
package gemdos

// ACSI command bytes recognised on the GEMDOS LUN.
const (
	cmdTestUnitReady = 0x00
	cmdRequestSense  = 0x03
	cmdRead6         = 0x08
	cmdStubCall      = 0x11
	cmdInquiry       = 0x12
)

// Sub-operations carried in byte 1 of a cmdStubCall frame.
const (
	opGEMDOS = 1 // new GEMDOS call, opcode + stack snapshot follow
	opAction = 2 // stub is ready for the next action
	opResult = 3 // stub is returning data from a prior action
)

// Action codes posted host->guest while in action mode.
const (
	actionFallback = 0 // resume ROM GEMDOS
	actionReturn   = 1 // end the call with a return value
	actionRDMEM    = 2 // read guest memory
	actionWRMEM    = 3 // write guest memory
	actionWRMEM0   = 4 // write guest memory, then return 0
	actionGEMDOS   = 5 // re-enter a nested GEMDOS call in the guest
	actionMODSTACK = 6 // patch the guest's call frame and fall back
)

// GEMDOS file attribute bits, for Fsfirst's attr argument and the
// attribute byte returned in the DTA.
const (
	faReadonly = 0x01
	faHidden   = 0x02
	faSystem   = 0x04
	faVolume   = 0x08
	faDir      = 0x10
	faArchive  = 0x20
)

// eOK is the successful GEMDOS return value; the rest of the negative
// error codes live in internal/errs (EFILNF, EPTHNF, ...) alongside
// GuestErrno, which maps host errors onto them.
const eOK = 0

// handleBase is added to a host-side handle to form the GEMDOS file handle
// the guest sees; anything below it belongs to the ROM's own open files.
const handleBase = 0x7a00

// dmaBufSectors mirrors DMABUFSZ in gemdos.c: the action buffer is sized
// for this many 512-byte sectors so Fread/Pexec can stream data in large
// chunks instead of one sector at a time.
const dmaBufSectors = 5

// wrmemChunk is the largest payload a single WRMEM action can carry,
// leaving room for the 8-byte action header within the buffer above.
const wrmemChunk = 512*dmaBufSectors - 8

func beU16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func beU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beI32(b []byte) int32 { return int32(beU32(b)) }

func beU64(b []byte) uint64 {
	var v uint64
	for _, x := range b[:8] {
		v = v<<8 | uint64(x)
	}
	return v
}

func beU16put(b []byte, v uint16) { b[0] = byte(v >> 8); b[1] = byte(v) }

func beU32put(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func beU64put(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
