// Package checksum implements the checksum workflow split across both
// roles: on a disk node it spawns the checksum binary through TaskExec
// and reports the outcome back to the head; on the head it serves
// dome_chksum out of the cached LFN checksum or, on a miss, admits the
// job through a GPQ queue and dispatches it to the owning disk server.
package checksum

import (
	"strings"
)

// hashLinePrefix is the marker line a checksum binary contractually
// writes to stdout on success.
const hashLinePrefix = ">>>>> HASH "

// ParseHash extracts the hex digest from a checksum binary's captured
// stdout. ok is false if no HASH line was found, meaning the job must be
// treated as failed even if its exit code was 0.
func ParseHash(stdout []byte) (digest string, ok bool) {
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimSpace(line)
		if rest, found := strings.CutPrefix(line, hashLinePrefix); found {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}
