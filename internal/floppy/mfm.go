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

import (
	"bytes"
	"fmt"

	"github.com/zestcore/zesthost/internal/errs"
)

var amHead = []byte{0, 0, 0, 0xA1, 0xA1, 0xA1}

// findAM locates the next six-byte address-mark head {0,0,0,0xA1,0xA1,0xA1}
// starting at or after offset start within buf[:limit], or -1.
func findAM(buf []byte, start, limit int) int {
	if start >= limit || start < 0 {
		return -1
	}
	i := bytes.Index(buf[start:limit], amHead)
	if i < 0 {
		return -1
	}
	return start + i
}

// findSectorInBuf scans for an ID-AM matching {track, side, sector} within
// the first 6250 bytes of buf and returns the offset of that sector's
// 512-byte payload, or -1 if not found. Mirrors find_sector in
// original_source/linux/floppy_img.c.
func findSectorInBuf(buf []byte, track, side, sector int) int {
	limit := len(buf)
	if limit > TrackBytes {
		limit = TrackBytes
	}
	return findSectorInWindow(buf, 0, limit, track, side, sector)
}

func findSectorInWindow(buf []byte, winStart, winEnd, track, side, sector int) int {
	p := winStart
	for {
		am := findAM(buf, p, winEnd)
		if am < 0 || am+11 > winEnd {
			return -1
		}
		if buf[am+6] != 0xFE || int(buf[am+7]) != track || int(buf[am+8]) != side {
			return -1
		}
		match := int(buf[am+9]) == sector
		p = am + 11
		dam := findAM(buf, p, winEnd)
		if dam < 0 || dam+7 > winEnd || buf[dam+6] != 0xFB {
			return -1
		}
		if match {
			return dam + 7
		}
		p = dam + 7 + 512 + 2
	}
}

// gapLayout returns {gap1, gap2, gap4, gap5} for the given sectors-per-track
// count, per spec.md §4.3.
func gapLayout(nsectors int) (gap1, gap2, gap4, gap5 int) {
	switch nsectors {
	case 11:
		return 10, 3, 1, 14
	case 10:
		return 60, 12, 40, 50
	default: // 9
		return 60, 12, 40, 664
	}
}

// sectorOrder computes, for one track, the physical-slot-to-logical-sector
// mapping given the carried-in sec_shift and interleave, per spec.md
// §4.3 step 2: "set sec_no = sec_shift; for each logical sector i, write
// it to physical slot sec_no, advance sec_no by interleave mod nsectors,
// and if the next slot is already occupied search forward for the first
// unoccupied slot (wrap)."
func sectorOrder(nsectors, secShift, interleave int) []int {
	order := make([]int, nsectors)
	written := make([]bool, nsectors)
	secNo := secShift
	for i := 0; i < nsectors; i++ {
		order[secNo] = i
		written[secNo] = true
		secNo += interleave
		if secNo >= nsectors {
			secNo -= nsectors
		}
		if i+1 < nsectors {
			for written[secNo] {
				secNo++
				if secNo >= nsectors {
					secNo = 0
				}
			}
		}
	}
	return order
}

// nextSecShift applies spec.md §4.3's "after the track, decrement
// sec_shift by nsectors - skew (wrap positive)".
func nextSecShift(secShift, nsectors, skew int) int {
	next := secShift - (nsectors - skew)
	for next < 0 {
		next += nsectors
	}
	return next
}

// normalizeInterleave promotes an interleave of 1 with 11 sectors to 2,
// per spec.md §4.3's "avoid a pathological zero-interleave pattern".
func normalizeInterleave(nsectors, interleave int) int {
	if interleave == 0 {
		interleave = 1
	}
	if interleave == 1 && nsectors == 11 {
		interleave = 2
	}
	return interleave
}

// synthesizeTrack writes one TrackBytes-length MFM track into dst from the
// 512-byte logical sector payloads in sectorData (indexed by logical
// sector number 0..nsectors-1), using the physical-slot order already
// computed by sectorOrder. Mirrors the inner sector-emission loop of
// load_st_msa in original_source/linux/floppy_img.c.
func synthesizeTrack(dst []byte, track, side, nsectors int, order []int, sectorData [][]byte) error {
	gap1, gap2, gap4, gap5 := gapLayout(nsectors)

	p := 0
	fill := func(n int, b byte) {
		for i := 0; i < n; i++ {
			dst[p] = b
			p++
		}
	}

	fill(gap1, 0x4E)
	for slot := 0; slot < nsectors; slot++ {
		logical := order[slot]
		fill(gap2, 0x00)

		idStart := p
		dst[p], dst[p+1], dst[p+2], dst[p+3] = 0xA1, 0xA1, 0xA1, 0xFE
		dst[p+4] = byte(track)
		dst[p+5] = byte(side)
		dst[p+6] = byte(logical + 1)
		dst[p+7] = 2
		p += 8
		c := crcOf(dst[idStart+3 : p])
		dst[p], dst[p+1] = byte(c>>8), byte(c)
		p += 2

		fill(22, 0x4E)
		fill(12, 0x00)

		damStart := p
		dst[p], dst[p+1], dst[p+2], dst[p+3] = 0xA1, 0xA1, 0xA1, 0xFB
		p += 4
		if logical < 0 || logical >= len(sectorData) || sectorData[logical] == nil {
			return fmt.Errorf("floppy: missing sector %d data while synthesizing track %d/%d: %w", logical+1, track, side, errs.ErrFormat)
		}
		copy(dst[p:p+512], sectorData[logical])
		p += 512
		c = crcOf(dst[damStart+3 : p])
		dst[p], dst[p+1] = byte(c>>8), byte(c)
		p += 2

		fill(gap4, 0x4E)
	}
	fill(gap5, 0x4E)

	if p != TrackBytes {
		return fmt.Errorf("floppy: synthesized track %d/%d is %d bytes, want %d: %w", track, side, p, TrackBytes, errs.ErrFormat)
	}
	return nil
}
