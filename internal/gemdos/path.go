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

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// filenameLookup finds the host directory entry matching name inside dir,
// case-insensitively (gemdos.c's filename_lookup). An exact-case match is
// tried first so the common case never needs a directory scan.
func filenameLookup(dir, name string) (string, bool) {
	if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
		return name, true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name(), name) {
			return e.Name(), true
		}
	}
	return "", false
}

// pathLookup resolves a GEMDOS path against the host filesystem, one
// component at a time, per SPEC_FULL §4.5/gemdos.c's path_lookup. Unlike
// the literal C, a missing leaf component after a fully valid parent
// chain returns 2 (valid parent, missing leaf) rather than -1, matching
// the documented contract that Fcreate/Fopen rely on to tell "bad path"
// apart from "file doesn't exist yet" — see DESIGN.md's Open Question
// decision for why this diverges from the reference's own behaviour.
//
// Returns -2 (not on the managed drive), -1 (invalid path), 0 (existing
// directory), 1 (existing file), or 2 (valid parent, nonexistent leaf),
// together with the resolved host path.
func (d *Dispatcher) pathLookup(src string) (code int, hostPath string) {
	if len(src) >= 2 && src[1] == ':' {
		drv := int(unicode.ToUpper(rune(src[0]))) - 'A'
		if drv != d.gemdosDrv {
			return -2, ""
		}
		src = src[2:]
	} else if d.currentDrv != d.gemdosDrv {
		return -2, ""
	}

	base := d.currentPath
	if strings.HasPrefix(src, "\\") {
		base = d.root
		src = src[1:]
	}

	var comps []string
	for _, c := range strings.Split(src, "\\") {
		if c != "" {
			comps = append(comps, c)
		}
	}
	if len(comps) == 0 {
		info, err := os.Stat(base)
		if err != nil {
			return -1, ""
		}
		if info.IsDir() {
			return 0, base
		}
		return 1, base
	}

	dir := base
	for i, comp := range comps {
		last := i == len(comps)-1
		real, ok := filenameLookup(dir, comp)
		if !ok {
			if last {
				return 2, filepath.Join(dir, comp)
			}
			return -1, ""
		}
		next := filepath.Join(dir, real)
		if !last {
			info, err := os.Stat(next)
			if err != nil || !info.IsDir() {
				return -1, ""
			}
		}
		dir = next
	}
	info, err := os.Stat(dir)
	if err != nil {
		return 2, dir
	}
	if info.IsDir() {
		return 0, dir
	}
	return 1, dir
}

// dosTimeDate packs a host mtime into GEMDOS's 16-bit time/date words,
// adjusted by the configured timezone offset rather than the host's own
// locale (SPEC_FULL §4.5's "Time conversion").
func dosTimeDate(t time.Time, tzHours int) (dosTime, dosDate uint16) {
	t = t.UTC().Add(time.Duration(tzHours) * time.Hour)
	dosTime = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	dosDate = uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	return dosTime, dosDate
}

// fromDOSTimeDate is the inverse of dosTimeDate, used by Fdatime's write
// direction.
func fromDOSTimeDate(dosTime, dosDate uint16, tzHours int) time.Time {
	sec := int(dosTime&0x1f) * 2
	min := int((dosTime >> 5) & 0x3f)
	hour := int((dosTime >> 11) & 0x1f)
	day := int(dosDate & 0x1f)
	month := int((dosDate >> 5) & 0xf)
	year := int(dosDate>>9) + 1980
	t := time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
	return t.Add(-time.Duration(tzHours) * time.Hour)
}
