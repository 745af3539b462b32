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

package acsi

import (
	"log/slog"
	"sync"

	"github.com/zestcore/zesthost/internal/device"
)

const (
	statusOK    = 0
	statusError = 2
)

// dmaMode mirrors acsi.c's dma_mode: 0 idle, 1 host-to-guest (read),
// 2 guest-to-host (write).
type dmaMode int

const (
	dmaIdle dmaMode = iota
	dmaRead
	dmaWrite
)

// GEMDOSBridge answers ACSI frames addressed to the pseudo-target that
// CommandState designates as the GEMDOS redirector slot (the first ACSI
// target with no backing image, per updateGEMDOSID). It drives its own
// reply through the Responder it is handed, mirroring gemdos_acsi_cmd's
// direct register access in acsi.c.
type GEMDOSBridge interface {
	HandleCommand(cmd []byte, r Responder)
	OnDataReceived(data []byte, r Responder)
}

// Responder is the subset of CommandState a GEMDOSBridge needs.
type Responder interface {
	ReplyOK()
	ReplyError()
	SendReply(data []byte)
	WaitData(nBytes int)
}

// CommandState is the single ACSI bus state machine shared by all eight
// targets (the FPGA has one bus), per SPEC_FULL §4.4's "ACSI Command
// State" type. Frame transitions are driven by OnInterrupt calls from
// T-IRQ; the Responder methods, which the GEMDOS dispatcher calls from its
// own goroutine, also act on it, and mu serialises the two.
type CommandState struct {
	mu  sync.Mutex
	win device.Window
	log *slog.Logger

	// disks is always eight non-nil slots; an unconfigured target is a
	// *Disk with Bound() == false, not a nil entry (construct those with
	// Open("", nil)).
	disks    [8]*Disk
	gemdosID int // -1 if no target slot is free for the GEMDOS redirector
	bridge   GEMDOSBridge

	devID   int
	cmdExt  bool
	cmdSize int
	bytes   [16]byte
	readIdx int

	mode     dmaMode
	bufID    int
	remain16 int // remaining 16-byte blocks

	// gemdosBuf/gemdosOff assemble a guest->host DMA write addressed to
	// the GEMDOS target (acsi.c's dma_gemdos_ptr).
	gemdosBuf []byte
	gemdosOff int

	// sector is the explicit cursor used for Read(6)/Write(6) DMA bursts;
	// kept separate from the per-Disk bookkeeping lba field so a bound
	// failure never leaves an in-flight transfer positioned incorrectly.
	sector uint32
}

// NewCommandState builds a bus state machine over the eight disks, with
// the GEMDOS redirector slot picked automatically (first unbound target)
// if gemdosEnabled is true.
func NewCommandState(win device.Window, disks [8]*Disk, gemdosEnabled bool, bridge GEMDOSBridge, log *slog.Logger) *CommandState {
	c := &CommandState{win: win, disks: disks, bridge: bridge, log: log, gemdosID: -1}
	if gemdosEnabled {
		c.updateGEMDOSID()
	}
	return c
}

func (c *CommandState) updateGEMDOSID() {
	c.gemdosID = -1
	for i, d := range c.disks {
		if !d.Bound() {
			c.gemdosID = i
			break
		}
	}
}

// AttachDisk swaps the backing disk at a slot (jukebox / OSD hot-plug)
// and, since binding state changed, re-derives the GEMDOS redirector slot.
func (c *CommandState) AttachDisk(id int, d *Disk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disks[id] = d
	if c.gemdosID >= 0 || d != nil {
		c.updateGEMDOSID()
	}
}

func commandSize(head int) int {
	switch {
	case head >= 0xa0:
		return 12
	case head >= 0x80:
		return 16
	case head >= 0x20:
		return 10
	default:
		return 6
	}
}

// OnInterrupt services one ACSI bus interrupt: either a DMA-completion
// event (mode != dmaIdle) or the next command/ICD-extension byte.
func (c *CommandState) OnInterrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.mode {
	case dmaRead:
		c.readNext()
		return
	case dmaWrite:
		c.writeNext()
		return
	}

	reg := c.win.ACSIRegister()
	d := int(reg & 0xff)
	a1 := (reg>>8)&1 != 0

	if c.readIdx == 0 && !c.cmdExt && a1 {
		// Not a command start: ignore until A1 drops.
		return
	}
	if (c.readIdx > 0 || c.cmdExt) && !a1 {
		c.log.Error("acsi protocol violation: command byte without A1 sideband", "index", c.readIdx)
		c.readIdx = 0
		c.cmdExt = false
		c.win.SetACSIRegister(statusError)
		return
	}

	if c.readIdx == 0 {
		cmd := d
		if !c.cmdExt {
			c.devID = d >> 5
			disk := c.disks[c.devID]
			isGemdos := c.devID == c.gemdosID
			if !disk.Bound() && !isGemdos {
				return
			}
			cmd = d & 0x1f
			if cmd == 0x1f {
				c.cmdExt = true
				c.win.SetACSIRegister(statusOK)
				return
			}
		}
		if !c.opcodeAllowed(cmd) {
			c.setError(c.disks[c.devID], senseOpcode, false)
			return
		}
		c.cmdSize = commandSize(cmd)
		c.bytes[0] = byte(cmd)
		c.readIdx = 1
	} else {
		c.bytes[c.readIdx] = byte(d)
		c.readIdx++
	}

	if c.readIdx == c.cmdSize {
		c.readIdx = 0
		c.cmdExt = false
		c.dispatch()
		return
	}
	c.win.SetACSIRegister(statusOK)
}

func (c *CommandState) opcodeAllowed(cmd int) bool {
	if c.devID == c.gemdosID {
		return cmd == 0 || cmd == 3 || cmd == 8 || cmd == 0x11 || cmd == 0x12
	}
	return cmd == 0 || cmd == 3 || cmd == 8 || cmd == 0x0a || cmd == 0x12 || cmd == 0x1a || cmd == 0x25
}

func (c *CommandState) dispatch() {
	cmd := c.bytes[0]
	if c.devID == c.gemdosID {
		frame := append([]byte(nil), c.bytes[:c.cmdSize]...)
		// The bridge may post replies from the dispatcher goroutine once it
		// wakes on its own rendezvous, long after this call returns, so it
		// must never be reached while holding the framing lock.
		c.mu.Unlock()
		c.bridge.HandleCommand(frame, c)
		c.mu.Lock()
		return
	}

	disk := c.disks[c.devID]
	switch cmd {
	case 0: // TEST UNIT READY
		c.replyOK()
	case 3:
		c.requestSense(disk)
	case 8:
		c.read6(disk)
	case 0x0a:
		c.write6(disk)
	case 0x12:
		c.inquiry()
	case 0x1a:
		c.modeSense(disk)
	case 0x25:
		c.readCapacity(disk)
	default:
		c.replyOK()
	}
}

func (c *CommandState) setError(d *Disk, sense uint32, reportLBA bool) {
	if d != nil {
		d.setSense(sense, reportLBA)
	}
	c.win.SetACSIRegister(statusError)
}

// ReplyOK and ReplyError are the Responder entry points: the GEMDOS
// dispatcher goroutine calls these without holding the framing lock, so
// unlike the lowercase internals they must take it themselves.
func (c *CommandState) ReplyOK() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replyOK()
}

func (c *CommandState) ReplyError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replyError()
}

func (c *CommandState) replyOK()    { c.win.SetACSIRegister(statusOK) }
func (c *CommandState) replyError() { c.win.SetACSIRegister(statusError) }

func (c *CommandState) requestSense(d *Disk) {
	length := int(c.bytes[4])
	if length < 4 {
		length = 4
	}
	// data is fixed at 256 bytes, same as the reference's stack buffer:
	// the fixed sense-data offsets below go as high as 13 regardless of
	// how short an allocation length the guest asked for, and only the
	// first length bytes are ever sent back.
	data := make([]byte, 256)
	if length <= 4 {
		data[0] = byte(d.sense >> 16)
		if d.reportLBA {
			data[0] |= 0x80
			data[1] = byte(d.lba >> 16)
			data[2] = byte(d.lba >> 8)
			data[3] = byte(d.lba)
		}
	} else {
		data[0] = 0x70
		if d.reportLBA {
			data[0] |= 0x80
			data[3] = byte(d.lba >> 24)
			data[4] = byte(d.lba >> 16)
			data[5] = byte(d.lba >> 8)
			data[6] = byte(d.lba)
		}
		data[2] = byte(d.sense & 0x0f)
		data[7] = 10
		data[12] = byte(d.sense >> 16)
		data[13] = byte(d.sense >> 8)
	}
	c.sendReply(data[:length])
	d.clearSense()
}

func (c *CommandState) read6(d *Disk) {
	lba := uint32(c.bytes[1])<<16 | uint32(c.bytes[2])<<8 | uint32(c.bytes[3])
	count := uint32(c.bytes[4])
	if !c.boundsOK(d, lba, count) {
		return
	}
	d.lba = lba
	c.sector = lba
	c.mode = dmaRead
	c.bufID = 0
	c.remain16 = int(count) * 32
	buf := c.win.DMABuffer(0)
	if err := d.readSector(c.sector, buf); err != nil {
		c.log.Error("acsi read6", "path", d.path, "lba", c.sector, "err", err)
	}
	c.readNext()
}

func (c *CommandState) write6(d *Disk) {
	sector := uint32(c.bytes[1])<<16 | uint32(c.bytes[2])<<8 | uint32(c.bytes[3])
	count := uint32(c.bytes[4])
	if !c.boundsOK(d, sector, count) {
		return
	}
	d.lba = sector
	c.sector = sector
	c.waitData(int(count) * sectorSize)
}

// boundsOK implements Testable Property 5: either bound violation sets
// report_lba and clamps the disk's reported lba to sector_count.
func (c *CommandState) boundsOK(d *Disk, lba, count uint32) bool {
	if lba >= uint32(d.sectors) {
		d.lba = uint32(d.sectors)
		c.setError(d, senseInvAddr, true)
		return false
	}
	if lba+count > uint32(d.sectors) {
		d.lba = uint32(d.sectors)
		c.setError(d, senseInvAddr, true)
		return false
	}
	return true
}

func (c *CommandState) inquiry() {
	data := []byte("\x00\x00\x01\x00\x1f\x00\x00\x00zeST    EmulatedHarddisk0100")
	full := make([]byte, 48)
	copy(full, data)
	alloc := int(c.bytes[3])<<8 | int(c.bytes[4])
	if alloc > 48 {
		alloc = 48
	}
	c.sendReply(full[:alloc])
}

func modeSense0(d *Disk) []byte {
	out := make([]byte, 16)
	blocks := d.sectors
	if blocks > 0xffffff {
		blocks = 0xffffff
	}
	out[1] = 14
	out[3] = 8
	out[5] = byte(blocks >> 16)
	out[6] = byte(blocks >> 8)
	out[7] = byte(blocks)
	out[10] = 2
	return out
}

func modeSense4(d *Disk) []byte {
	out := make([]byte, 24)
	cylinders, heads := d.geometry()
	out[0] = 4
	out[1] = 22
	out[2] = byte(cylinders >> 16)
	out[3] = byte(cylinders >> 8)
	out[4] = byte(cylinders)
	out[5] = byte(heads)
	return out
}

func (c *CommandState) modeSense(d *Disk) {
	switch c.bytes[2] {
	case 0:
		c.sendReply(modeSense0(d))
	case 4:
		c.sendReply(modeSense4(d))
	case 0x3f:
		data := make([]byte, 44)
		data[0] = 43
		copy(data[4:28], modeSense4(d))
		copy(data[28:44], modeSense0(d))
		c.sendReply(data)
	default:
		c.setError(d, senseInvArg, false)
	}
}

func (c *CommandState) readCapacity(d *Disk) {
	lba := uint32(d.sectors) - 1
	data := []byte{
		byte(lba >> 24), byte(lba >> 16), byte(lba >> 8), byte(lba),
		0, 0, 2, 0,
	}
	c.sendReply(data)
}

// SendReply starts a host->guest DMA burst (acsi_send_reply). It is the
// Responder entry point the GEMDOS dispatcher goroutine calls from outside
// the framing lock, so it takes the lock itself.
func (c *CommandState) SendReply(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendReply(data)
}

func (c *CommandState) sendReply(data []byte) {
	c.mode = dmaRead
	c.bufID = 0
	c.remain16 = (len(data) + 15) / 16
	buf := c.win.DMABuffer(0)
	n := len(data)
	if n > sectorSize {
		n = sectorSize
	}
	copy(buf, data[:n])
	if len(data) > sectorSize {
		// Extends past the first DMA buffer: the GEMDOS-target read path
		// pulls the remainder straight from this slice (acsi_send_reply's
		// dma_gemdos_ptr = data+512).
		c.gemdosBuf = data[sectorSize:]
		c.gemdosOff = 0
	}
	c.readNext()
}

// WaitData starts a guest->host DMA burst of exactly nBytes (acsi_wait_data).
// Like SendReply, this is a Responder entry point and takes the lock.
func (c *CommandState) WaitData(nBytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitData(nBytes)
}

func (c *CommandState) waitData(nBytes int) {
	c.mode = dmaWrite
	c.bufID = 0
	c.remain16 = (nBytes + 15) / 16
	c.gemdosBuf = make([]byte, nBytes)
	c.gemdosOff = 0
	nbs := c.remain16
	if nbs > 32 {
		nbs = 32
	}
	c.win.SetACSIRegister(0x200 | uint32(nbs-1)<<3 | uint32(c.bufID))
}

func (c *CommandState) readNext() {
	if c.remain16 == 0 {
		c.win.SetACSIRegister(statusOK)
		c.mode = dmaIdle
		return
	}
	isGemdos := c.devID == c.gemdosID
	if !isGemdos {
		c.sector++
	}
	nbs := c.remain16
	if nbs > 32 {
		nbs = 32
	}
	c.win.SetACSIRegister(0x100 | uint32(nbs-1)<<3 | uint32(c.bufID))
	c.remain16 -= nbs
	if c.remain16 > 0 {
		c.bufID ^= 1
		buf := c.win.DMABuffer(c.bufID)
		if isGemdos {
			n := copy(buf, c.gemdosBuf[c.gemdosOff:])
			c.gemdosOff += n
		} else if d := c.disks[c.devID]; d != nil {
			if err := d.readSector(c.sector, buf); err != nil {
				c.log.Error("acsi dma read", "lba", c.sector, "err", err)
			}
		}
	}
}

func (c *CommandState) writeNext() {
	nbs := c.remain16
	if nbs > 32 {
		nbs = 32
	}
	c.remain16 -= nbs
	if c.remain16 > 0 {
		nextNbs := c.remain16
		if nextNbs > 32 {
			nextNbs = 32
		}
		c.win.SetACSIRegister(0x200 | uint32(nextNbs-1)<<3 | uint32(1-c.bufID))
	}

	isGemdos := c.devID == c.gemdosID
	if isGemdos {
		buf := c.win.DMABuffer(c.bufID)
		n := nbs * 16
		if n > len(buf) {
			n = len(buf)
		}
		if c.gemdosOff+n <= len(c.gemdosBuf) {
			copy(c.gemdosBuf[c.gemdosOff:c.gemdosOff+n], buf[:n])
			c.gemdosOff += n
		}
		if c.remain16 == 0 {
			c.mode = dmaIdle
			data := c.gemdosBuf
			// Same deadlock hazard as dispatch()'s HandleCommand call: the
			// dispatcher goroutine may call back into Responder methods
			// before this returns.
			c.mu.Unlock()
			c.bridge.OnDataReceived(data, c)
			c.mu.Lock()
		}
	} else if d := c.disks[c.devID]; d != nil {
		buf := c.win.DMABuffer(c.bufID)
		if err := d.writeSector(c.sector, buf); err != nil {
			c.setError(d, senseWriteErr, false)
			c.mode = dmaIdle
			c.bufID ^= 1
			return
		}
		c.sector++
		if c.remain16 == 0 {
			c.win.SetACSIRegister(statusOK)
			c.mode = dmaIdle
		}
	}
	c.bufID ^= 1
}
