// Package procmap parses /proc/<pid>/maps into an owned, serializable list
// of memory regions, the same line format go-delve/delve's
// pkg/proc/native/dump_linux.go smaps/maps parser reads.
package procmap

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
)

// Region is a single mapped region of a process's address space, in the
// order the kernel reports them.
type Region struct {
	Start       addr.Address `json:"start"`
	End         addr.Address `json:"end"`
	Read        bool         `json:"read"`
	Write       bool         `json:"write"`
	Execute     bool         `json:"execute"`
	Shared      bool         `json:"shared"`
	Offset      uint64       `json:"offset"`
	Device      string       `json:"device"`
	Inode       uint64       `json:"inode"`
	Path        string       `json:"path,omitempty"`
	Anonymous   bool         `json:"anonymous"`
}

// Size returns the byte length of the region.
func (r Region) Size() uint64 { return uint64(r.End.Diff(r.Start)) }

// Contains reports whether a falls within [Start, End).
func (r Region) Contains(a addr.Address) bool { return a >= r.Start && a < r.End }

// Load reads and parses /proc/<pid>/maps, preserving kernel order.
func Load(pid int) ([]Region, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, cmerr.Wrap(cmerr.KindIO, "reading /proc/<pid>/maps", err)
	}
	return Parse(string(data))
}

// Parse parses the contents of a /proc/<pid>/maps file. Exported so tests
// (and log replay tooling) can exercise the parser without a live process.
func Parse(contents string) ([]Region, error) {
	lines := strings.Split(contents, "\n")
	regions := make([]Region, 0, len(lines))
	for lineno, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, err := parseLine(lineno+1, line)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, nil
}

func parseLine(lineno int, line string) (Region, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Region{}, cmerr.New(cmerr.KindParse, fmt.Sprintf("malformed /proc/<pid>/maps line %d: %q", lineno, line))
	}

	bounds := strings.SplitN(fields[0], "-", 2)
	if len(bounds) != 2 {
		return Region{}, cmerr.New(cmerr.KindParse, fmt.Sprintf("malformed address range on line %d: %q", lineno, line))
	}
	start, err := strconv.ParseUint(bounds[0], 16, 64)
	if err != nil {
		return Region{}, cmerr.Wrap(cmerr.KindParse, fmt.Sprintf("start address on line %d", lineno), err)
	}
	end, err := strconv.ParseUint(bounds[1], 16, 64)
	if err != nil {
		return Region{}, cmerr.Wrap(cmerr.KindParse, fmt.Sprintf("end address on line %d", lineno), err)
	}

	perm := fields[1]
	if len(perm) < 4 {
		return Region{}, cmerr.New(cmerr.KindParse, fmt.Sprintf("malformed permissions on line %d: %q", lineno, line))
	}

	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return Region{}, cmerr.Wrap(cmerr.KindParse, fmt.Sprintf("offset on line %d", lineno), err)
	}

	var inode uint64
	if len(fields) >= 5 {
		inode, _ = strconv.ParseUint(fields[4], 10, 64)
	}

	path := ""
	if len(fields) >= 6 {
		path = strings.Join(fields[5:], " ")
	}

	return Region{
		Start:     addr.Address(start),
		End:       addr.Address(end),
		Read:      perm[0] == 'r',
		Write:     perm[1] == 'w',
		Execute:   perm[2] == 'x',
		Shared:    perm[3] == 's',
		Offset:    offset,
		Device:    fields[3],
		Inode:     inode,
		Path:      path,
		Anonymous: path == "",
	}, nil
}

// LoadBias returns the runtime load bias of the executable at execPath:
// the start address of the first region in the process memory map that is
// backed by execPath, whatever its permissions, or addr.Null if none is.
func LoadBias(regions []Region, execPath string) addr.Address {
	for _, r := range regions {
		if r.Path == execPath {
			return r.Start
		}
	}
	return addr.Null
}
