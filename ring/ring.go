// Package ring implements a consistent hash ring with virtual nodes.
package ring

import (
	"crypto/sha1"
	"encoding/binary"
	"sort"
	"strconv"
	"sync"
)

// DefaultVirtualNodes is the number of ring positions per physical node.
const DefaultVirtualNodes = 150

// Ring maps keys to node ids. It is safe for concurrent use.
type Ring struct {
	virtualNodes int

	mu     sync.RWMutex
	hashes []uint32
	owners map[uint32]string
	nodes  map[string]struct{}
}

// New creates an empty ring. A non-positive virtualNodes selects DefaultVirtualNodes.
func New(virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &Ring{
		virtualNodes: virtualNodes,
		owners:       make(map[uint32]string),
		nodes:        make(map[string]struct{}),
	}
}

// Hash returns the 32-bit ring position of s: the first four bytes of its SHA-1.
func Hash(s string) uint32 {
	sum := sha1.Sum([]byte(s))
	return binary.BigEndian.Uint32(sum[:4])
}

// AddNode places id on the ring. Adding a known node is a no-op.
func (r *Ring) AddNode(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[id]; ok {
		return
	}

	owners := make(map[uint32]string, len(r.owners)+r.virtualNodes)
	for h, n := range r.owners {
		owners[h] = n
	}
	for i := 0; i < r.virtualNodes; i++ {
		h := Hash(id + ":" + strconv.Itoa(i))
		// On a collision the earlier owner keeps the slot.
		if _, taken := owners[h]; !taken {
			owners[h] = id
		}
	}
	r.nodes[id] = struct{}{}
	r.swap(owners)
}

// RemoveNode takes id off the ring. Unknown ids are ignored.
func (r *Ring) RemoveNode(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[id]; !ok {
		return
	}

	owners := make(map[uint32]string, len(r.owners))
	for h, n := range r.owners {
		if n != id {
			owners[h] = n
		}
	}
	delete(r.nodes, id)
	r.swap(owners)
}

// swap installs a rebuilt ring. Callers hold the write lock.
func (r *Ring) swap(owners map[uint32]string) {
	hashes := make([]uint32, 0, len(owners))
	for h := range owners {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	r.owners = owners
	r.hashes = hashes
}

// GetNode returns the owner of key, or false when the ring is empty.
func (r *Ring) GetNode(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.hashes) == 0 {
		return "", false
	}
	return r.owners[r.hashes[r.search(Hash(key))]], true
}

// GetNodes walks clockwise from key's position and returns up to count
// distinct nodes, primary first.
func (r *Ring) GetNodes(key string, count int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.hashes) == 0 || count <= 0 {
		return nil
	}
	if count > len(r.nodes) {
		count = len(r.nodes)
	}

	result := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	start := r.search(Hash(key))
	for i := 0; i < len(r.hashes) && len(result) < count; i++ {
		node := r.owners[r.hashes[(start+i)%len(r.hashes)]]
		if _, ok := seen[node]; ok {
			continue
		}
		seen[node] = struct{}{}
		result = append(result, node)
	}
	return result
}

// GetAffectedKeys returns the keys currently owned by nodeID.
func (r *Ring) GetAffectedKeys(nodeID string, keys []string) []string {
	var affected []string
	for _, key := range keys {
		if owner, ok := r.GetNode(key); ok && owner == nodeID {
			affected = append(affected, key)
		}
	}
	return affected
}

// Nodes returns the physical nodes on the ring in sorted order.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]string, 0, len(r.nodes))
	for n := range r.nodes {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

// Contains reports whether id is on the ring.
func (r *Ring) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[id]
	return ok
}

// Len returns the number of physical nodes.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// search returns the index of the first hash >= h, wrapping to 0.
func (r *Ring) search(h uint32) int {
	idx := sort.Search(len(r.hashes), func(i int) bool { return r.hashes[i] >= h })
	if idx == len(r.hashes) {
		return 0
	}
	return idx
}
