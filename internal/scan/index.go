package scan

import (
	"encoding/binary"
	"hash/fnv"
	"sort"
	"sync"
)

// indexShards bounds contention between hashing workers. Inserts hit
// one shard's mutex, never a global lock.
const indexShards = 64

// GroupMember is one physical file inside a DuplicateGroup, with every
// path it was discovered under. Hard links to the same storage all
// land on one member.
type GroupMember struct {
	// Identity is the member's physical storage identity.
	Identity FileIdentity `json:"identity"`
	// Paths lists every discovered path referencing this storage.
	Paths []string `json:"paths"`
}

// DuplicateGroup is a set of at least two distinct physical files
// sharing one DigestKey.
type DuplicateGroup struct {
	// Key is the shared digest key.
	Key DigestKey `json:"key"`
	// Digest is the shared content digest, hex encoded.
	Digest string `json:"digest"`
	// Members holds the distinct physical files in the group.
	Members []GroupMember `json:"members"`
	// Reclaimable is (len(Members)-1) * Key.Length: the bytes freed by
	// collapsing the group to a single copy.
	Reclaimable int64 `json:"reclaimable"`
}

type indexMember struct {
	identity FileIdentity
	paths    []string
}

type indexGroup struct {
	key     DigestKey
	members []*indexMember
}

type indexShard struct {
	mu     sync.Mutex
	groups map[DigestKey]*indexGroup
}

// dedupIndex maps DigestKey to the set of file identities discovered
// with that content. It accumulates monotonically during a scan and is
// safe for concurrent record calls; duplicateGroups is only valid
// after all writers have finished (the walker's completion barrier).
type dedupIndex struct {
	shards [indexShards]indexShard
}

func newDedupIndex() *dedupIndex {
	index := &dedupIndex{}
	for i := range index.shards {
		index.shards[i].groups = make(map[DigestKey]*indexGroup)
	}

	return index
}

func (ix *dedupIndex) shard(key DigestKey) *indexShard {
	hasher := fnv.New32a()
	hasher.Write([]byte(key.Algo))
	hasher.Write([]byte(key.Sum))

	var length [8]byte

	binary.LittleEndian.PutUint64(length[:], uint64(key.Length))
	hasher.Write(length[:])

	return &ix.shards[hasher.Sum32()%indexShards]
}

// record registers one discovered path for the given content key and
// storage identity. The first call for a key creates its group; a call
// with an identity already in the group records the path as an alias
// of the existing member instead of inflating the duplicate count.
func (ix *dedupIndex) record(key DigestKey, identity FileIdentity, path string) {
	shard := ix.shard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	group := shard.groups[key]
	if group == nil {
		group = &indexGroup{key: key}
		shard.groups[key] = group
	}

	for _, member := range group.members {
		if member.identity == identity {
			member.paths = append(member.paths, path)

			return
		}
	}

	group.members = append(group.members, &indexMember{
		identity: identity,
		paths:    []string{path},
	})
}

// duplicateGroups snapshots every group with at least two distinct
// members, sorted by reclaimable space descending. Paths within a
// member and members within a group are sorted so the result is
// independent of discovery order. Must only be called after the scan's
// completion barrier.
func (ix *dedupIndex) duplicateGroups() []DuplicateGroup {
	var out []DuplicateGroup

	for i := range ix.shards {
		shard := &ix.shards[i]
		for _, group := range shard.groups {
			if len(group.members) < 2 {
				continue
			}

			members := make([]GroupMember, 0, len(group.members))

			for _, member := range group.members {
				paths := append([]string(nil), member.paths...)
				sort.Strings(paths)
				members = append(members, GroupMember{
					Identity: member.identity,
					Paths:    paths,
				})
			}

			sort.Slice(members, func(i, j int) bool {
				return members[i].Paths[0] < members[j].Paths[0]
			})

			out = append(out, DuplicateGroup{
				Key:         group.key,
				Digest:      group.key.HexSum(),
				Members:     members,
				Reclaimable: int64(len(members)-1) * group.key.Length,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Reclaimable != out[j].Reclaimable {
			return out[i].Reclaimable > out[j].Reclaimable
		}

		return out[i].Key.Sum < out[j].Key.Sum
	})

	return out
}
