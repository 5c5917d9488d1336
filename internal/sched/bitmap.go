package sched

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
)

// Static-site bitmap: a byte-per-page map over the executable's text
// segment recording where extended (vector) state is live. The sidecar file
// is a headerless sequence of little-endian (start, end) u64 pairs, byte
// offsets relative to the text start, with exclusive ends. The handler
// queries by interrupted program counter; pages a range touches are marked
// conservatively, so a sub-page range still sets its page's bit.

// SiteRange is one [Start, End) byte range from the sidecar file.
type SiteRange struct {
	Start uint64
	End   uint64
}

// SiteBitmap answers extended-state liveness queries by page.
type SiteBitmap struct {
	pages      []byte
	textStart  uint64
	textEnd    uint64
	pgszFactor uint
}

// sidecarSuffix names the per-executable sidecar file.
const sidecarSuffix = ".gprdump"

// LoadSiteRanges reads the sidecar file. The file size must be a multiple
// of 16 bytes.
func LoadSiteRanges(path string) ([]SiteRange, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%16 != 0 {
		return nil, fmt.Errorf("sidecar %s: size %d is not a multiple of 16", path, len(data))
	}

	ranges := make([]SiteRange, 0, len(data)/16)
	for off := 0; off < len(data); off += 16 {
		ranges = append(ranges, SiteRange{
			Start: binary.LittleEndian.Uint64(data[off:]),
			End:   binary.LittleEndian.Uint64(data[off+8:]),
		})
	}
	return ranges, nil
}

// NewSiteBitmap builds the page bitmap for the text segment
// [textStart, textEnd) at page size 2^pgszFactor. Empty or inverted ranges
// are skipped; ends beyond the text segment are clamped.
func NewSiteBitmap(ranges []SiteRange, textStart, textEnd uint64, pgszFactor uint) *SiteBitmap {
	textLen := uint64(0)
	if textEnd > textStart {
		textLen = textEnd - textStart
	}
	numPages := (textLen >> pgszFactor) + 1

	b := &SiteBitmap{
		pages:      make([]byte, numPages),
		textStart:  textStart,
		textEnd:    textEnd,
		pgszFactor: pgszFactor,
	}

	for _, r := range ranges {
		s, e := r.Start, r.End
		if e <= s {
			continue
		}
		if s+textStart >= textEnd {
			continue
		}
		if e+textStart > textEnd {
			e = textEnd - textStart
		}
		// Mark every page the range touches; the end is exclusive.
		startIdx := s >> pgszFactor
		endIdx := (e - 1) >> pgszFactor
		if endIdx >= numPages {
			endIdx = numPages - 1
		}
		for p := startIdx; p <= endIdx; p++ {
			b.pages[p] = 1
		}
	}
	return b
}

// NeedsXSave reports whether the page containing pc is marked. Program
// counters outside the text segment report true conservatively.
func (b *SiteBitmap) NeedsXSave(pc uintptr) bool {
	addr := uint64(pc)
	if addr < b.textStart || addr >= b.textEnd {
		return true
	}
	return b.pages[(addr-b.textStart)>>b.pgszFactor] != 0
}

// Pages returns the number of pages the bitmap covers.
func (b *SiteBitmap) Pages() int { return len(b.pages) }

// MarkedPages returns the number of set pages.
func (b *SiteBitmap) MarkedPages() int {
	n := 0
	for _, v := range b.pages {
		if v != 0 {
			n++
		}
	}
	return n
}

// MainExecTextRange parses /proc/self/maps for the first read-execute
// mapping of the main executable and returns its [start, end) range.
func MainExecTextRange() (uint64, uint64, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, 0, err
	}

	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		perms := fields[1]
		if len(perms) < 3 || perms[0] != 'r' || perms[2] != 'x' {
			continue
		}
		if fields[5] != exe {
			continue
		}

		var start, end uint64
		if _, err := fmt.Sscanf(fields[0], "%x-%x", &start, &end); err != nil {
			continue
		}
		return start, end, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, fmt.Errorf("no executable text mapping found for %s", exe)
}

// InitSiteBitmap loads <executable>.gprdump and builds the bitmap at page
// size 2^pgszFactor. A negative factor disables the bitmap and returns nil.
func InitSiteBitmap(pgszFactor int) (*SiteBitmap, error) {
	if pgszFactor < 0 {
		return nil, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}

	ranges, err := LoadSiteRanges(exe + sidecarSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to read site ranges: %w", err)
	}

	textStart, textEnd, err := MainExecTextRange()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve text range: %w", err)
	}

	return NewSiteBitmap(ranges, textStart, textEnd, uint(pgszFactor)), nil
}
