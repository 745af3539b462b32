package floppy

import (
	"os"
	"path/filepath"
	"testing"
)

// buildSTImage constructs a synthetic .st file: the embedded BPB at
// sector 0 plus ntracks*nsides*nsectors*512 bytes of sector payload, each
// sector byte-unique so a round trip can be checked exactly.
func buildSTImage(t *testing.T, ntracks, nsides, nsectors int) []byte {
	t.Helper()
	total := ntracks * nsides * nsectors * 512
	buf := make([]byte, total)
	writeW := func(off int, v uint16) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
	}
	writeW(0x0b, 512)
	writeW(0x13, uint16(ntracks*nsides*nsectors))
	writeW(0x18, uint16(nsectors))
	writeW(0x1a, uint16(nsides))

	secIdx := 0
	for trk := 0; trk < ntracks; trk++ {
		for side := 0; side < nsides; side++ {
			for sec := 0; sec < nsectors; sec++ {
				off := secIdx * 512
				for j := 32; j < 512; j++ {
					if off+j < total {
						buf[off+j] = byte(trk*31 + side*17 + sec*7 + j)
					}
				}
				secIdx++
			}
		}
	}
	return buf
}

func TestSTRoundTrip(t *testing.T) {
	const ntracks, nsides, nsectors = 2, 1, 9
	original := buildSTImage(t, ntracks, nsides, nsectors)

	dir := t.TempDir()
	path := filepath.Join(dir, "disk.st")
	if err := os.WriteFile(path, original, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	img, err := Open(path, false, 3, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if img.NTracks() != ntracks || img.NSides() != nsides || img.NSectors() != nsectors {
		t.Fatalf("geometry = %d/%d/%d, want %d/%d/%d", img.NTracks(), img.NSides(), img.NSectors(), ntracks, nsides, nsectors)
	}

	img.MarkDirty()
	if err := img.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := img.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	roundTripped, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(roundTripped) != len(original) {
		t.Fatalf("round-tripped length = %d, want %d", len(roundTripped), len(original))
	}
	for i := range original {
		if roundTripped[i] != original[i] {
			t.Fatalf("byte %d mismatch: got %#02x, want %#02x", i, roundTripped[i], original[i])
		}
	}
}

func TestSTGeometryGuessFallback(t *testing.T) {
	// Deliberately invalid BPB (bps != 512) forces guessSize; use a file
	// size that is an exact single-sided 9-sector/track fit.
	const ntracks, nsectors = 3, 9
	total := ntracks * nsectors * 512
	buf := make([]byte, total)
	// bps field left at zero, which is != 512 and triggers the guess path.

	dir := t.TempDir()
	path := filepath.Join(dir, "disk.st")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	img, err := Open(path, true, 3, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer img.Close()
	if img.NTracks() != ntracks || img.NSides() != 1 || img.NSectors() != nsectors {
		t.Errorf("guessed geometry = %d/%d/%d, want %d/1/%d", img.NTracks(), img.NSides(), img.NSectors(), ntracks, nsectors)
	}
}

func TestMFMLoadGuessesGeometryFromSize(t *testing.T) {
	buf := make([]byte, TrackBytes*2) // 2 tracks, 1 side by the <100-track heuristic
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.mfm")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	img, err := Open(path, true, 0, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer img.Close()
	if img.NSides() != 1 || img.NTracks() != 2 {
		t.Errorf("geometry = %d tracks, %d sides; want 2/1", img.NTracks(), img.NSides())
	}
}

func TestUnsupportedExtensionIsFormatError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.bin")
	if err := os.WriteFile(path, []byte{0}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(path, true, 0, 0); err == nil {
		t.Fatalf("Open: expected format error for unrecognised extension")
	}
}
