package source

import (
	"os/user"
	"strconv"
	"sync"
	"time"
)

type sysStat struct {
	uid        uint32
	gid        uint32
	inode      uint64
	nlink      uint64
	accessTime time.Time
}

// ownerCache memoizes uid/gid name lookups. Unknown ids resolve to their
// decimal form.
type ownerCache struct {
	mu     sync.Mutex
	users  map[uint32]string
	groups map[uint32]string
}

func newOwnerCache() *ownerCache {
	return &ownerCache{
		users:  make(map[uint32]string),
		groups: make(map[uint32]string),
	}
}

func (cache *ownerCache) user(uid uint32) string {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if name, ok := cache.users[uid]; ok {
		return name
	}
	id := strconv.FormatUint(uint64(uid), 10)
	name := id
	if found, err := user.LookupId(id); err == nil && found.Username != "" {
		name = found.Username
	}
	cache.users[uid] = name
	return name
}

func (cache *ownerCache) group(gid uint32) string {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if name, ok := cache.groups[gid]; ok {
		return name
	}
	id := strconv.FormatUint(uint64(gid), 10)
	name := id
	if found, err := user.LookupGroupId(id); err == nil && found.Name != "" {
		name = found.Name
	}
	cache.groups[gid] = name
	return name
}
