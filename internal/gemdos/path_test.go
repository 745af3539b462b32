package gemdos

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	root := t.TempDir()
	return &Dispatcher{
		root:        root,
		currentPath: root,
		gemdosDrv:   2,
		currentDrv:  2,
		searches:    make(map[uint64]*fileSearch),
		handles:     make(map[int]*os.File),
		nextHandle:  1,
	}
}

func TestPathLookupDriveMismatch(t *testing.T) {
	d := newTestDispatcher(t)
	d.currentDrv = 0 // A, not the managed drive
	if code, _ := d.pathLookup("FOO.TXT"); code != -2 {
		t.Fatalf("pathLookup on unmanaged drive = %d, want -2", code)
	}
}

func TestPathLookupExistingDir(t *testing.T) {
	d := newTestDispatcher(t)
	if err := os.Mkdir(filepath.Join(d.root, "SUBDIR"), 0o755); err != nil {
		t.Fatal(err)
	}
	code, host := d.pathLookup("\\subdir")
	if code != 0 {
		t.Fatalf("pathLookup(existing dir) = %d, want 0", code)
	}
	if filepath.Clean(host) != filepath.Join(d.root, "SUBDIR") {
		t.Fatalf("host path = %q", host)
	}
}

func TestPathLookupExistingFile(t *testing.T) {
	d := newTestDispatcher(t)
	if err := os.WriteFile(filepath.Join(d.root, "HELLO.TXT"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, _ := d.pathLookup("\\HELLO.TXT")
	if code != 1 {
		t.Fatalf("pathLookup(existing file) = %d, want 1", code)
	}
}

func TestPathLookupMissingLeafIsValidParent(t *testing.T) {
	d := newTestDispatcher(t)
	code, host := d.pathLookup("\\NEW.TXT")
	if code != 2 {
		t.Fatalf("pathLookup(missing leaf) = %d, want 2", code)
	}
	if filepath.Clean(host) != filepath.Join(d.root, "NEW.TXT") {
		t.Fatalf("host path = %q", host)
	}
}

func TestPathLookupMissingParentIsInvalid(t *testing.T) {
	d := newTestDispatcher(t)
	if code, _ := d.pathLookup("\\NOSUCHDIR\\FILE.TXT"); code != -1 {
		t.Fatalf("pathLookup(missing parent) = %d, want -1", code)
	}
}

func TestPathLookupCaseInsensitive(t *testing.T) {
	d := newTestDispatcher(t)
	if err := os.WriteFile(filepath.Join(d.root, "MixedCase.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, host := d.pathLookup("\\MIXEDCASE.TXT")
	if code != 1 {
		t.Fatalf("pathLookup(case-insensitive) = %d, want 1", code)
	}
	if filepath.Base(host) != "MixedCase.txt" {
		t.Fatalf("host path = %q, want original case preserved", host)
	}
}

func TestDosTimeDateRoundTrip(t *testing.T) {
	want := time.Date(2026, time.March, 5, 13, 37, 42, 0, time.UTC)
	dosTime, dosDate := dosTimeDate(want, 0)
	got := fromDOSTimeDate(dosTime, dosDate, 0)
	if !got.Equal(want.Truncate(2 * time.Second)) {
		t.Fatalf("round trip = %v, want %v", got, want)
	}
}

func TestDosTimeDateTimezone(t *testing.T) {
	utc := time.Date(2026, time.January, 1, 23, 0, 0, 0, time.UTC)
	dosTime, dosDate := dosTimeDate(utc, 2)
	got := fromDOSTimeDate(dosTime, dosDate, 2)
	if !got.Equal(utc) {
		t.Fatalf("tz round trip = %v, want %v", got, utc)
	}
	// at +2h the local date has already rolled to Jan 2nd.
	_, localDate := dosTimeDate(utc, 2)
	day := localDate & 0x1f
	if day != 2 {
		t.Fatalf("local day = %d, want 2", day)
	}
}
