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

package floppy

import "github.com/sigurn/crc16"

// crcTable implements CRC-16/CCITT, polynomial 0x1021, with the
// ST-specific initial value 0xCDB4 (the standard CCITT init of 0xFFFF is
// not used by the Atari floppy controller).
var crcTable = crc16.MakeTable(crc16.Params{
	Poly:   0x1021,
	Init:   0xCDB4,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x0000,
	Check:  0x0000,
	Name:   "CRC-16/ST",
})

// crcOf computes the CRC-16/ST checksum over data in one shot.
func crcOf(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// crcAppend appends the big-endian CRC-16/ST of data to dst.
func crcAppend(dst []byte, data []byte) []byte {
	c := crcOf(data)
	return append(dst, byte(c>>8), byte(c))
}
