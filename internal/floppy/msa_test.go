package floppy

import (
	"bytes"
	"testing"
)

func TestMSAPackUnpackIdempotent(t *testing.T) {
	cases := [][]byte{
		bytes.Repeat([]byte{0x00}, 512*9),
		bytes.Repeat([]byte{0xE5}, 512*9),
		append(bytes.Repeat([]byte{0x4E}, 300), bytes.Repeat([]byte{0x00}, 512*9-300)...),
	}
	for i, raw := range cases {
		packed, ok := msaPack(raw)
		if !ok {
			t.Fatalf("case %d: msaPack reported failure for a compressible run", i)
		}
		if len(packed) >= len(raw) {
			t.Errorf("case %d: packed length %d not shorter than raw %d", i, len(packed), len(raw))
		}
		unpacked, err := msaUnpack(packed, len(raw))
		if err != nil {
			t.Fatalf("case %d: msaUnpack: %v", i, err)
		}
		if !bytes.Equal(unpacked, raw) {
			t.Errorf("case %d: unpack(pack(x)) != x", i)
		}
	}
}

func TestMSAPackFallsBackOnIncompressibleData(t *testing.T) {
	raw := make([]byte, 512*9)
	for i := range raw {
		raw[i] = byte(i * 7 % 256)
	}
	packed, ok := msaPack(raw)
	if ok && len(packed) >= len(raw) {
		t.Errorf("msaPack returned a non-shrinking payload without signalling failure (len=%d, raw=%d)", len(packed), len(raw))
	}
}

func TestMSAUnpackRejectsOverrunningRun(t *testing.T) {
	// 0xE5 escape claiming a run far longer than the destination track.
	packed := []byte{0xE5, 0x00, 0xFF, 0xFF}
	if _, err := msaUnpack(packed, 512); err == nil {
		t.Fatalf("msaUnpack: expected error for overrunning RLE run, got nil")
	}
}

func TestMSAUnpackRejectsTruncatedRun(t *testing.T) {
	packed := []byte{0xE5, 0x00}
	if _, err := msaUnpack(packed, 512); err == nil {
		t.Fatalf("msaUnpack: expected error for truncated RLE run, got nil")
	}
}
