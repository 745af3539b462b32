package floppy

import (
	"bytes"
	"testing"
)

func fillSectorData(nsectors int, seed byte) [][]byte {
	data := make([][]byte, nsectors)
	for i := range data {
		buf := make([]byte, 512)
		for j := range buf {
			buf[j] = seed + byte(i) + byte(j)
		}
		data[i] = buf
	}
	return data
}

func TestSynthesizeTrackExactLength(t *testing.T) {
	for _, nsectors := range []int{9, 10, 11} {
		dst := make([]byte, TrackBytes)
		order := sectorOrder(nsectors, 1, normalizeInterleave(nsectors, 1))
		data := fillSectorData(nsectors, 0x11)
		if err := synthesizeTrack(dst, 3, 0, nsectors, order, data); err != nil {
			t.Fatalf("nsectors=%d: synthesizeTrack: %v", nsectors, err)
		}
	}
}

func TestFindSectorRoundTrip(t *testing.T) {
	const nsectors = 9
	dst := make([]byte, TrackBytes)
	order := sectorOrder(nsectors, 1, normalizeInterleave(nsectors, 1))
	data := fillSectorData(nsectors, 0x42)
	if err := synthesizeTrack(dst, 5, 1, nsectors, order, data); err != nil {
		t.Fatalf("synthesizeTrack: %v", err)
	}

	// Testable Property 4: find_sector returns non-null for every
	// k in 1..nsectors and null for k=0 or k>nsectors.
	for k := 1; k <= nsectors; k++ {
		p := findSectorInBuf(dst, 5, 1, k)
		if p < 0 {
			t.Errorf("sector %d not found", k)
			continue
		}
		if !bytes.Equal(dst[p:p+512], data[k-1]) {
			t.Errorf("sector %d payload mismatch", k)
		}
	}
	if p := findSectorInBuf(dst, 5, 1, 0); p >= 0 {
		t.Errorf("sector 0 should not be found, got offset %d", p)
	}
	if p := findSectorInBuf(dst, 5, 1, nsectors+1); p >= 0 {
		t.Errorf("sector %d should not be found, got offset %d", nsectors+1, p)
	}
}

func TestSynthesizedTrackCRCConformance(t *testing.T) {
	const nsectors = 10
	dst := make([]byte, TrackBytes)
	order := sectorOrder(nsectors, 1, normalizeInterleave(nsectors, 1))
	data := fillSectorData(nsectors, 0x99)
	if err := synthesizeTrack(dst, 0, 0, nsectors, order, data); err != nil {
		t.Fatalf("synthesizeTrack: %v", err)
	}

	for k := 1; k <= nsectors; k++ {
		payloadOff := findSectorInBuf(dst, 0, 0, k)
		if payloadOff < 0 {
			t.Fatalf("sector %d not found", k)
		}
		idStart := payloadOff - 4 - 12 - 22 - 2 - 5
		idCRCOff := idStart + 5
		gotID := uint16(dst[idCRCOff])<<8 | uint16(dst[idCRCOff+1])
		wantID := crcOf(dst[idStart:idCRCOff])
		if gotID != wantID {
			t.Errorf("sector %d: ID-AM CRC = %#04x, want %#04x", k, gotID, wantID)
		}

		damStart := payloadOff - 1
		damCRCOff := payloadOff + 512
		gotDAM := uint16(dst[damCRCOff])<<8 | uint16(dst[damCRCOff+1])
		wantDAM := crcOf(dst[damStart:damCRCOff])
		if gotDAM != wantDAM {
			t.Errorf("sector %d: DAM CRC = %#04x, want %#04x", k, gotDAM, wantDAM)
		}
	}
}

func TestNormalizeInterleavePromotesElevenSectors(t *testing.T) {
	if got := normalizeInterleave(11, 1); got != 2 {
		t.Errorf("normalizeInterleave(11, 1) = %d, want 2", got)
	}
	if got := normalizeInterleave(9, 1); got != 1 {
		t.Errorf("normalizeInterleave(9, 1) = %d, want 1", got)
	}
	if got := normalizeInterleave(9, 0); got != 1 {
		t.Errorf("normalizeInterleave(9, 0) = %d, want 1", got)
	}
}
