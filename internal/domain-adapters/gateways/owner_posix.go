//go:build unix

package gateways

import (
	"io/fs"
	"syscall"
)

// ownerIDs extracts the numeric owner and group ids from stat data.
func ownerIDs(info fs.FileInfo) (uid, gid int) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return int(st.Uid), int(st.Gid)
	}
	return 0, 0
}
