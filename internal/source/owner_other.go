//go:build !linux

package source

import "io/fs"

func statOf(fs.FileInfo) (sysStat, bool) {
	return sysStat{}, false
}
