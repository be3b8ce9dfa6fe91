//go:build linux

package source

import (
	"io/fs"
	"syscall"
	"time"
)

func statOf(info fs.FileInfo) (sysStat, bool) {
	raw, ok := info.Sys().(*syscall.Stat_t)
	if !ok || raw == nil {
		return sysStat{}, false
	}
	return sysStat{
		uid:        raw.Uid,
		gid:        raw.Gid,
		inode:      raw.Ino,
		nlink:      uint64(raw.Nlink),
		accessTime: time.Unix(int64(raw.Atim.Sec), int64(raw.Atim.Nsec)),
	}, true
}
