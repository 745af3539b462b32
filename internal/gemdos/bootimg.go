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

import "github.com/zestcore/zesthost/internal/acsi"

// Sense codes, packed as 0xAAQQSS (additional sense, qualifier, key), per
// gemdos.c's ERROR_INVADDR/ERROR_INVARG.
const (
	senseInvAddr = 0x21000d
	senseInvArg  = 0x240005
)

// inquiry answers INQUIRY on the GEMDOS LUN with the fixed zeST vendor and
// product strings, cut to the allocation length (48 bytes when it is 0).
func (d *Dispatcher) inquiry(cmd []byte, r acsi.Responder) {
	data := [48]byte{
		0x0a, 0x00, 0x01, 0x00, 0x1f, 0x00, 0x00, 0x00,
		'z', 'e', 'S', 'T', ' ', ' ', ' ', ' ',
		'G', 'E', 'M', 'D', 'O', 'S', '_', 'D', 'r', 'i', 'v', 'e', ' ', ' ', ' ', ' ',
		'0', '1', '0', '0',
	}
	alloc := int(cmd[3])<<8 | int(cmd[4])
	if alloc > len(data) || alloc == 0 {
		alloc = len(data)
	}
	r.SendReply(data[:alloc])
}

func (d *Dispatcher) requestSense(cmd []byte, r acsi.Responder) {
	length := int(cmd[4])
	data := make([]byte, 256)
	data[0] = 0x70
	data[2] = byte(d.sense & 0x0f)
	data[7] = 10
	data[12] = byte((d.sense >> 16) & 0xff)
	data[13] = byte((d.sense >> 8) & 0xff)
	if length > len(data) {
		length = len(data)
	}
	r.SendReply(data[:length])
	d.sense = 0
}

// readBootSector answers a plain ACSI read (cmd 0x08) against the first
// dmaBufSectors sectors, the only ones a real GEMDOS drive's boot block
// ever needs: the stub's own loader chains from there into the host side
// entirely over the 0x11/OP_GEMDOS protocol.
func (d *Dispatcher) readBootSector(cmd []byte, r acsi.Responder) {
	lba := int(cmd[1])<<16 | int(cmd[2])<<8 | int(cmd[3])
	nSectors := int(cmd[4])
	if lba+nSectors > dmaBufSectors {
		d.sense = senseInvAddr
		r.ReplyError()
		return
	}
	off := lba * 512
	n := nSectors * 512
	r.SendReply(d.boot[off : off+n])
}

// bootImage returns the sector image served on the GEMDOS pseudo-drive's
// LUN before the guest's stub has taken over. The real image is a small
// 68000 boot-sector loader (built from the companion assembly stub, not
// present among the reference sources here); this is a placeholder of the
// right size with a valid boot-sector checksum field left zeroed, which
// is enough for the stub to recognise an uninitialised card and bail into
// its own embedded fallback loader rather than hang.
func bootImage() []byte {
	img := make([]byte, dmaBufSectors*512)
	copy(img, []byte("zeST"))
	return img
}
