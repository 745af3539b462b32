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
	"strings"
	"unicode"
)

// DTA layout, per _examples/original_source/linux/gemdos.c's struct _dta:
// 21 reserved bytes, 1 attrib, 2 time, 2 date, 4 length, 14 filename.
const (
	dtaSize     = 44
	dtaReserved = 0
	dtaAttrib   = 21
	dtaTime     = 22
	dtaDate     = 24
	dtaLength   = 26
	dtaFname    = 30
	dtaFnameLen = 14
)

// dtaTag is the magic bracketing the host search-context token inside the
// DTA's reserved bytes, so Fsnext can recognise a DTA it (or a prior
// Fsfirst) populated versus one GEMDOS is using for something else.
var dtaTag = [4]byte{'z', 'e', 'S', 'T'}

// fileSearch is the continuation state for one Fsfirst/Fsnext sequence.
// The original C code embeds a raw pointer to an equivalent struct in the
// DTA's reserved bytes; Go has no address it could safely round-trip
// through guest memory, so the DTA instead carries an opaque token that
// indexes this table (see Dispatcher.searches).
type fileSearch struct {
	dir     string // host directory, resolved by Fsfirst
	pattern string
	attr    uint32
	entries []os.DirEntry
	pos     int
}

func newDTA() [dtaSize]byte {
	return [dtaSize]byte{}
}

// dtaToken packs/unpacks the search token bracketed by the two "zeST" tags,
// occupying reserved[0:4], reserved[4:12] (the token) and reserved[12:16].
func putDTAToken(dta []byte, token uint64) {
	copy(dta[0:4], dtaTag[:])
	beU64put(dta[4:12], token)
	copy(dta[12:16], dtaTag[:])
}

func dtaToken(dta []byte) (uint64, bool) {
	if !bytesEqual(dta[0:4], dtaTag[:]) || !bytesEqual(dta[12:16], dtaTag[:]) {
		return 0, false
	}
	return beU64(dta[4:12]), true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// matchDOSPattern implements the DOS wildcard grammar used by Fsfirst/
// Fsnext: '*' matches any run, '?' matches one character, and the literal
// "*.*" shortcut matches everything regardless of dots.
func matchDOSPattern(pattern, name string) bool {
	if pattern == "*.*" {
		return true
	}
	return matchDOS(pattern, name)
}

func matchDOS(p, s string) bool {
	for len(p) > 0 {
		switch p[0] {
		case '*':
			for len(p) > 0 && p[0] == '*' {
				p = p[1:]
			}
			if len(p) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if matchDOS(p, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			p, s = p[1:], s[1:]
		default:
			if len(s) == 0 || foldByte(p[0]) != foldByte(s[0]) {
				return false
			}
			p, s = p[1:], s[1:]
		}
	}
	return len(s) == 0
}

func foldByte(b byte) byte {
	return byte(unicode.ToLower(rune(b)))
}

// is8DotThree filters directory entries the way next_file does: anything
// that isn't expressible as an 8.3 name is skipped, except ".." which is
// let through unconditionally.
func is8DotThree(name string) bool {
	if name == ".." {
		return true
	}
	dot := strings.IndexByte(name, '.')
	if dot < 0 {
		return len(name) <= 8
	}
	rest := name[dot+1:]
	if strings.IndexByte(rest, '.') >= 0 {
		return false
	}
	return dot <= 8 && len(rest) <= 3
}
