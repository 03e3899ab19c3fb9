// Package meminfo reads current memory availability from the kernel's
// meminfo pseudo-file. One call performs one open-scan-close pass and
// reports how much memory, swap, and (optionally) huge-page memory can
// be allocated right now, in the kernel's native kilobyte units.
package meminfo

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultPath is the statistics pseudo-file, refreshed by the kernel on
// every read.
const DefaultPath = "/proc/meminfo"

var (
	// ErrSourceUnavailable reports that the statistics source could not
	// be opened (missing, permission denied, or not a Linux proc mount).
	ErrSourceUnavailable = errors.New("meminfo source unavailable")

	// ErrRequiredFieldMissing reports that the source was read but did
	// not contain resolvable MemAvailable and/or SwapFree entries.
	ErrRequiredFieldMissing = errors.New("required meminfo field missing")
)

// Report holds the quantities extracted by a single read. All values are
// kilobytes as reported by the kernel.
type Report struct {
	// AvailableKB is the kernel's estimate of memory allocatable
	// without swapping (MemAvailable).
	AvailableKB int64

	// FreeSwapKB is unused swap space (SwapFree).
	FreeSwapKB int64

	// HugePagesFreeKB is free huge-page memory, derived as
	// HugePages_Free x Hugepagesize. It is zero unless huge-page
	// accounting was requested, all three huge-page fields were
	// present, and HugePages_Total is positive.
	HugePagesFreeKB int64

	// HugePages records whether huge-page accounting was requested for
	// this report.
	HugePages bool
}

// Reader reads reports from a meminfo-format file.
type Reader struct {
	// Path overrides the source location. Empty means DefaultPath;
	// deployments reading a mounted host proc set this to
	// <proc root>/meminfo.
	Path string
}

// Read reads one report using the default source path.
func Read(includeHugePages bool) (Report, error) {
	r := Reader{}
	return r.Read(includeHugePages)
}

// field tracks one labeled quantity through the scan. The zero value is
// unresolved; no integer is reserved as a sentinel.
type field struct {
	val int64
	ok  bool
}

// Read scans the source once and returns the extracted report.
//
// The scan recognizes five labels: MemAvailable, SwapFree,
// HugePages_Total, HugePages_Free, and Hugepagesize. MemAvailable and
// SwapFree are mandatory; their absence fails the call with
// ErrRequiredFieldMissing. The huge-page fields are gathered only when
// includeHugePages is set and their absence never fails the call. The
// scan stops at the earliest line by which every requested field has
// been resolved.
func (r *Reader) Read(includeHugePages bool) (Report, error) {
	path := r.Path
	if path == "" {
		path = DefaultPath
	}

	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("%w: open %s: %v", ErrSourceUnavailable, path, err)
	}
	defer f.Close()

	var avail, freeSwap, hugeTotal, hugeFree, hugeSize field

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case matchField(line, "MemAvailable:", &avail):
		case matchField(line, "SwapFree:", &freeSwap):
		case matchField(line, "HugePages_Total:", &hugeTotal):
		case matchField(line, "HugePages_Free:", &hugeFree):
		case matchField(line, "Hugepagesize:", &hugeSize):
		}

		mandatoryDone := avail.ok && freeSwap.ok
		optionalDone := !includeHugePages || (hugeTotal.ok && hugeFree.ok && hugeSize.ok)
		if mandatoryDone && optionalDone {
			break
		}
	}
	scanErr := scanner.Err()

	if !avail.ok || !freeSwap.ok {
		missing := make([]string, 0, 2)
		if !avail.ok {
			missing = append(missing, "MemAvailable")
		}
		if !freeSwap.ok {
			missing = append(missing, "SwapFree")
		}
		if scanErr != nil {
			return Report{}, fmt.Errorf("%w: %s (scan %s: %v)", ErrRequiredFieldMissing, strings.Join(missing, ", "), path, scanErr)
		}
		return Report{}, fmt.Errorf("%w: %s", ErrRequiredFieldMissing, strings.Join(missing, ", "))
	}

	report := Report{
		AvailableKB: avail.val,
		FreeSwapKB:  freeSwap.val,
		HugePages:   includeHugePages,
	}
	if includeHugePages && hugeTotal.ok && hugeFree.ok && hugeSize.ok && hugeTotal.val > 0 {
		report.HugePagesFreeKB = hugeFree.val * hugeSize.val
	}
	return report, nil
}

// matchField resolves dst from line when line starts with label followed
// by a well-formed non-negative integer. Anything after the integer (the
// usual " kB" suffix) is ignored. A label-matching line whose value does
// not parse is treated as a non-match, leaving dst unresolved.
func matchField(line, label string, dst *field) bool {
	if !strings.HasPrefix(line, label) {
		return false
	}
	tokens := strings.Fields(line[len(label):])
	if len(tokens) == 0 {
		return false
	}
	v, err := strconv.ParseInt(tokens[0], 10, 64)
	if err != nil || v < 0 {
		return false
	}
	*dst = field{val: v, ok: true}
	return true
}
