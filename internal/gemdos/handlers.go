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
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/zestcore/zesthost/internal/errs"
)

func (d *Dispatcher) fsetdta(addr uint32) {
	if addr == d.addrDTA {
		d.responder.ReplyOK()
		return
	}
	d.responder.ReplyError()
	data, err := d.readMemory(addr, dtaSize)
	if err != nil {
		return
	}
	n := copy(d.dta[:], data)
	for ; n < dtaSize; n++ {
		d.dta[n] = 0
	}
	d.addrDTA = addr
	d.fallback()
}

func (d *Dispatcher) dsetpath(ppath uint32) {
	d.responder.ReplyError()
	path, err := d.readString(ppath)
	if err != nil {
		return
	}
	if d.currentDrv == d.gemdosDrv {
		if _, host := d.pathLookup(path); host != "" {
			d.currentPath = host
		}
	}
	d.fallback()
}

// dgetpath answers Dgetpath by writing the managed drive's current
// directory, GEMDOS-style (leading backslash, backslash separators,
// NUL-terminated), into the guest buffer. drive 0 means "the current
// drive"; any other value is drive+1 as usual for GEMDOS drive args.
func (d *Dispatcher) dgetpath(addr uint32, drive uint16) {
	managed := (drive == 0 && d.currentDrv == d.gemdosDrv) || (drive > 0 && int(drive)-1 == d.gemdosDrv)
	if !managed {
		d.responder.ReplyOK()
		return
	}
	d.responder.ReplyError()

	rel := strings.TrimPrefix(d.currentPath, d.root)
	rel = strings.ReplaceAll(rel, string(filepath.Separator), "\\")
	if !strings.HasPrefix(rel, "\\") {
		rel = "\\" + rel
	}
	buf := append([]byte(rel), 0)
	if err := d.writeMemory(buf, addr); err != nil {
		return
	}
	d.gemdosReturn(0)
}

// dcreate makes a new directory under the managed drive, per SPEC_FULL
// §4.5's host-POSIX mapping for Dcreate/Ddelete/Dgetpath.
func (d *Dispatcher) dcreate(ppath uint32) {
	d.responder.ReplyError()
	path, err := d.readString(ppath)
	if err != nil {
		return
	}
	code, host := d.pathLookup(path)
	switch {
	case code == -2:
		d.fallback()
		return
	case code == -1:
		d.gemdosReturn(errs.EPTHNF)
		return
	case code != 2:
		d.gemdosReturn(errs.EACCDN) // already exists, as file or directory
		return
	}
	if err := os.Mkdir(host, 0o755); err != nil {
		d.gemdosReturn(errs.GuestErrno(err))
		return
	}
	d.gemdosReturn(0)
}

// ddelete removes an empty directory under the managed drive.
func (d *Dispatcher) ddelete(ppath uint32) {
	d.responder.ReplyError()
	path, err := d.readString(ppath)
	if err != nil {
		return
	}
	code, host := d.pathLookup(path)
	switch {
	case code == -2:
		d.fallback()
		return
	case code != 0:
		d.gemdosReturn(errs.EPTHNF)
		return
	}
	if err := os.Remove(host); err != nil {
		d.gemdosReturn(errs.GuestErrno(err))
		return
	}
	d.gemdosReturn(0)
}

func (d *Dispatcher) dfree(diskinfoAddr uint32, drive uint16) {
	managed := (drive == 0 && d.currentDrv == d.gemdosDrv) || (drive > 0 && int(drive)-1 == d.gemdosDrv)
	if !managed {
		d.responder.ReplyOK()
		return
	}
	d.responder.ReplyError()

	var stat syscall.Statfs_t
	if err := syscall.Statfs(d.root, &stat); err != nil {
		d.gemdosReturn(errs.EINTRN)
		return
	}
	max := uint64(0x7fffffff) / uint64(stat.Bsize)
	free := stat.Bfree
	if free > max {
		free = max
	}
	info := make([]byte, 16)
	beU32put(info[0:4], uint32(free))
	beU32put(info[4:8], uint32(stat.Blocks))
	beU32put(info[8:12], 512)
	beU32put(info[12:16], uint32(stat.Bsize)/512)

	if err := d.writeMemory(info, diskinfoAddr); err != nil {
		return
	}
	d.gemdosReturn(0)
}

func (d *Dispatcher) fcreate(pname uint32, attr uint16) {
	d.responder.ReplyError()
	path, err := d.readString(pname)
	if err != nil {
		return
	}
	code, host := d.pathLookup(path)
	switch {
	case code == -2:
		d.fallback()
		return
	case code == -1:
		d.gemdosReturn(errs.EPTHNF)
		return
	case code == 0:
		d.gemdosReturn(errs.EACCDN)
		return
	}
	f, err := os.OpenFile(host, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		d.gemdosReturn(errs.EACCDN)
		return
	}
	handle := d.allocHandle(f)
	d.gemdosReturn(int32(handleBase + handle))
}

var openModes = [3]int{os.O_RDONLY, os.O_WRONLY, os.O_RDWR}

func (d *Dispatcher) fopen(pname uint32, mode uint16) {
	d.responder.ReplyError()
	path, err := d.readString(pname)
	if err != nil {
		return
	}
	code, host := d.pathLookup(path)
	switch {
	case code == -2:
		d.fallback()
		return
	case code == -1:
		d.gemdosReturn(errs.EPTHNF)
		return
	case code == 0 || code == 2:
		d.gemdosReturn(errs.EFILNF)
		return
	}
	if int(mode&7) > 2 {
		d.gemdosReturn(errs.EACCDN)
		return
	}
	f, err := os.OpenFile(host, openModes[mode&7], 0)
	if err != nil {
		d.gemdosReturn(errs.EFILNF)
		return
	}
	handle := d.allocHandle(f)
	d.gemdosReturn(int32(handleBase + handle))
}

func (d *Dispatcher) allocHandle(f *os.File) int {
	h := d.nextHandle
	d.nextHandle++
	d.handles[h] = f
	return h
}

func (d *Dispatcher) fclose(handle int) {
	if handle < handleBase {
		d.responder.ReplyOK()
		return
	}
	d.responder.ReplyError()
	h := handle - handleBase
	f, ok := d.handles[h]
	if !ok {
		d.gemdosReturn(errs.EIHNDL)
		return
	}
	delete(d.handles, h)
	if err := f.Close(); err != nil {
		d.gemdosReturn(errs.GuestErrno(err))
		return
	}
	d.gemdosReturn(0)
}

func (d *Dispatcher) fread(handle int, length, addr uint32) {
	if handle < handleBase {
		d.responder.ReplyOK()
		return
	}
	d.responder.ReplyError()
	f, ok := d.handles[handle-handleBase]
	if !ok {
		d.gemdosReturn(errs.EIHNDL)
		return
	}
	var nread uint32
	buf := make([]byte, wrmemChunk)
	for length > 0 {
		n := int(length)
		if n > len(buf) {
			n = len(buf)
		}
		rdb, err := f.Read(buf[:n])
		if rdb == 0 {
			break
		}
		if err != nil && err != io.EOF {
			d.gemdosReturn(errs.GuestErrno(err))
			return
		}
		if err := d.writeMemory(buf[:rdb], addr); err != nil {
			return
		}
		nread += uint32(rdb)
		addr += uint32(rdb)
		length -= uint32(rdb)
		if rdb < n {
			break
		}
	}
	d.gemdosReturn(int32(nread))
}

func (d *Dispatcher) fdelete(pname uint32) {
	d.responder.ReplyError()
	path, err := d.readString(pname)
	if err != nil {
		return
	}
	code, host := d.pathLookup(path)
	switch {
	case code == -2:
		d.fallback()
		return
	case code != 1:
		d.gemdosReturn(errs.EFILNF)
		return
	}
	if err := os.Remove(host); err != nil {
		d.gemdosReturn(errs.GuestErrno(err))
		return
	}
	d.gemdosReturn(0)
}

func (d *Dispatcher) fseek(offset int32, handle, mode int) {
	if handle < handleBase {
		d.responder.ReplyOK()
		return
	}
	d.responder.ReplyError()
	f, ok := d.handles[handle-handleBase]
	if !ok {
		d.gemdosReturn(errs.EIHNDL)
		return
	}
	var whence int
	switch mode {
	case 0:
		whence = io.SeekStart
	case 1:
		whence = io.SeekCurrent
	case 2:
		whence = io.SeekEnd
	default:
		d.gemdosReturn(errs.EACCDN)
		return
	}
	off, err := f.Seek(int64(offset), whence)
	if err != nil {
		d.gemdosReturn(errs.GuestErrno(err))
		return
	}
	d.gemdosReturn(int32(off))
}

func (d *Dispatcher) fattrib(pname uint32, wflag, attrib int) {
	d.responder.ReplyError()
	_, err := d.readString(pname)
	if err != nil {
		return
	}
	_ = wflag
	_ = attrib
	d.fallback()
}

func (d *Dispatcher) fdatime(addr uint32, handle, wflag int) {
	if handle < handleBase {
		d.responder.ReplyOK()
		return
	}
	d.responder.ReplyError()
	f, ok := d.handles[handle-handleBase]
	if !ok {
		d.gemdosReturn(errs.EIHNDL)
		return
	}
	if wflag == 0 {
		info, err := f.Stat()
		if err != nil {
			d.gemdosReturn(errs.GuestErrno(err))
			return
		}
		dosTime, dosDate := dosTimeDate(info.ModTime(), d.tz)
		buf := make([]byte, 4)
		beU16put(buf[0:2], dosTime)
		beU16put(buf[2:4], dosDate)
		if err := d.writeMemory(buf, addr); err != nil {
			return
		}
		d.gemdosReturn(0)
		return
	}
	raw, err := d.readMemory(addr, 4)
	if err != nil {
		return
	}
	mtime := fromDOSTimeDate(beU16(raw[0:2]), beU16(raw[2:4]), d.tz)
	if err := os.Chtimes(f.Name(), mtime, mtime); err != nil {
		d.gemdosReturn(errs.GuestErrno(err))
		return
	}
	d.gemdosReturn(0)
}

func (d *Dispatcher) frename(poldname, pnewname uint32) {
	d.responder.ReplyError()
	oldPath, err := d.readString(poldname)
	if err != nil {
		return
	}
	newPath, err := d.readString(pnewname)
	if err != nil {
		return
	}
	oldCode, oldHost := d.pathLookup(oldPath)
	if oldCode == -2 {
		d.fallback()
		return
	}
	if oldCode != 1 {
		d.gemdosReturn(errs.EFILNF)
		return
	}
	newCode, newHost := d.pathLookup(newPath)
	switch newCode {
	case -2:
		d.fallback()
		return
	case -1:
		d.gemdosReturn(errs.EPTHNF)
		return
	}
	if err := os.Rename(oldHost, newHost); err != nil {
		d.gemdosReturn(errs.GuestErrno(err))
		return
	}
	d.gemdosReturn(0)
}

// pexec implements the fuller load/relocate/run flow SPEC_FULL §4.5 asks
// for, built from the primitives above rather than transliterated from
// Pexec's always-fallback stub in gemdos.c. Modes 0 (load and go) and 3
// (load only) read the program file, ask the guest to carve out a base
// page via a nested Pexec(5) call, and stream the image into it in
// wrmemChunk-sized pieces; mode 0 then rewrites the active call's frame
// into a Pexec(4) (run an already-loaded base page) so the stub's own
// ROM fallback does the actual launch. Modes 4/6 (run/run-with-env an
// already-loaded base page) just note the program's DTA, which GEMDOS
// places at basepage+0x80, before falling back; modes 5/7 (base page
// only, no load) need no host-side work at all.
func (d *Dispatcher) pexec(mode int, pname, pcmdline, penv uint32) {
	switch mode {
	case 0, 3:
		d.responder.ReplyError()
		path, err := d.readString(pname)
		if err != nil {
			return
		}
		code, host := d.pathLookup(path)
		if code == -2 {
			d.fallback()
			return
		}
		if code != 1 {
			d.gemdosReturn(errs.EFILNF)
			return
		}
		data, err := os.ReadFile(host)
		if err != nil {
			d.gemdosReturn(errs.EFILNF)
			return
		}

		args := make([]byte, 16)
		beU16put(args[2:4], 5)
		beU32put(args[4:8], pname)
		beU32put(args[8:12], pcmdline)
		beU32put(args[12:16], penv)
		result, err := d.nestedGEMDOS(0x4b, args)
		if err != nil {
			return
		}
		basepage := beU32(result)
		if int32(basepage) < 0 {
			d.gemdosReturn(int32(basepage))
			return
		}

		const textOffset = 0x100
		for off := 0; off < len(data); off += wrmemChunk {
			end := off + wrmemChunk
			if end > len(data) {
				end = len(data)
			}
			if err := d.writeMemory(data[off:end], basepage+textOffset+uint32(off)); err != nil {
				return
			}
		}

		if mode == 3 {
			d.gemdosReturn(int32(basepage))
			return
		}

		// Layout matches dispatchOpcode's own Pexec decode: [0:2]=opcode,
		// [2:4]=mode, [4:8]=pname, [8:12]=pcmdline, [12:16]=penv. The
		// basepage goes in the pcmdline slot, the same slot mode 4/6 reads
		// it from above.
		frame := make([]byte, 16)
		beU16put(frame[0:2], 0x4b)
		beU16put(frame[2:4], 4)
		beU32put(frame[8:12], basepage)
		if err := d.modstack(frame, 0); err != nil {
			return
		}

	case 4, 6:
		d.responder.ReplyError()
		d.addrDTA = pcmdline + 0x80
		d.fallback()

	case 5, 7:
		d.responder.ReplyError()
		d.fallback()

	default:
		d.responder.ReplyOK()
	}
}

// fsfirst starts a directory search. Per SPEC_FULL §4.5, the pattern is
// split from the path, the path is resolved, and a fileSearch continuation
// is stashed under a token written into the DTA's reserved bytes.
func (d *Dispatcher) fsfirst(pname uint32, attr uint16) {
	d.responder.ReplyError()
	full, err := d.readString(pname)
	if err != nil {
		return
	}
	i := strings.LastIndexByte(full, '\\')
	var path, pattern string
	if i < 0 {
		pattern = full
	} else {
		path, pattern = full[:i], full[i+1:]
	}
	code, host := d.pathLookup(path)
	if code == -2 {
		d.fallback()
		return
	}
	if code == -1 || code > 0 {
		d.gemdosReturn(errs.EFILNF)
		return
	}

	entries, err := os.ReadDir(host)
	if err != nil {
		d.gemdosReturn(errs.EFILNF)
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	token := d.nextSearchID
	d.nextSearchID++
	d.searches[token] = &fileSearch{dir: host, pattern: pattern, attr: uint32(attr), entries: entries}

	putDTAToken(d.dta[dtaReserved:dtaReserved+16], token)
	if err := d.writeMemory(d.dta[:16], d.addrDTA); err != nil {
		return
	}
	d.nextFile(token)
}

func (d *Dispatcher) fsnext() {
	d.responder.ReplyError()
	token, ok := dtaToken(d.dta[dtaReserved : dtaReserved+16])
	if !ok {
		d.fallback()
		return
	}
	d.nextFile(token)
}

// nextFile advances the search and fills the DTA with the next matching
// entry, or returns ENMFIL once the directory is exhausted. Mirrors
// next_file's filtering and field layout.
func (d *Dispatcher) nextFile(token uint64) {
	sr, ok := d.searches[token]
	if !ok {
		d.fallback()
		return
	}
	for {
		if sr.pos >= len(sr.entries) {
			delete(d.searches, token)
			if err := d.writeMemory(d.dta[:16], d.addrDTA); err != nil {
				return
			}
			d.gemdosReturn(errs.ENMFIL)
			return
		}
		e := sr.entries[sr.pos]
		sr.pos++
		name := e.Name()
		if !matchDOSPattern(sr.pattern, name) {
			continue
		}
		isDir := e.IsDir()
		if isDir && sr.attr&faDir == 0 {
			continue
		}
		if !isDir && !e.Type().IsRegular() {
			continue
		}
		if !is8DotThree(name) {
			continue
		}

		fnameBuf := [dtaFnameLen]byte{}
		copy(fnameBuf[:dtaFnameLen-1], strings.ToUpper(name))
		copy(d.dta[dtaFname:dtaFname+dtaFnameLen], fnameBuf[:])

		info, statErr := os.Stat(filepath.Join(sr.dir, name))
		var size int64
		var attrib byte
		var dosTime, dosDate uint16
		if statErr == nil {
			size = info.Size()
			if info.IsDir() {
				attrib = faDir
			}
			dosTime, dosDate = dosTimeDate(info.ModTime(), d.tz)
		}
		beU32put(d.dta[dtaLength:dtaLength+4], uint32(size))
		beU16put(d.dta[dtaTime:dtaTime+2], dosTime)
		beU16put(d.dta[dtaDate:dtaDate+2], dosDate)
		d.dta[dtaAttrib] = attrib

		if err := d.writeMemory0(d.dta[20:dtaSize], d.addrDTA+20); err != nil {
			return
		}
		return
	}
}

// driveInit answers the stub's synthetic 0xffff call at boot: it picks
// the lowest unused drive letter from the bitmask at guest address 0x4c2
// (skipping A/B, which are reserved for floppies) and writes the updated
// bitmask back, per drive_init in gemdos.c.
func (d *Dispatcher) driveInit(beginAddr, resblkAddr uint32) {
	d.responder.ReplyError()
	drvbits, err := d.readLong(0x4c2)
	if err != nil {
		return
	}
	drv := 2
	for drvbits&(1<<uint(drv)) != 0 {
		drv++
	}
	d.gemdosDrv = drv
	d.currentDrv = drv
	d.log.Info("gemdos: driver init", "begin", beginAddr, "resblk", resblkAddr, "drive", string(rune('A'+drv)))
	if err := d.writeLong(0x4c2, drvbits|(1<<uint(drv))); err != nil {
		return
	}
	d.fallback()
}

