// Package pull implements the file-pull workflow split across both
// roles: on a disk node it spawns the configured pull hook through
// TaskExec and reports the outcome back to the head; on the head,
// dome_get enqueues a pull onto a GPQ queue when no replica is
// available but a Volatile filesystem can host one, and dome_pullstatus
// finalizes it when the disk reports completion.
package pull

import (
	"strconv"
	"strings"
)

// statLinePrefix is the marker line the pull hook (and the stat hook)
// contractually write to stdout on success: ">>>>> STAT <size> <mode>".
const statLinePrefix = ">>>>> STAT "

// ParseStat extracts the size and mode the pull hook reports after
// fetching a file into its target pfn. ok is false if no STAT line was
// found or it didn't carry two parseable integers.
func ParseStat(stdout []byte) (size int64, mode int64, ok bool) {
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimSpace(line)
		rest, found := strings.CutPrefix(line, statLinePrefix)
		if !found {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			continue
		}
		sz, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		md, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		return sz, md, true
	}
	return 0, 0, false
}
