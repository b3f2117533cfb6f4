package ledger

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultStripes is the lock table size used when Config.Stripes is unset.
const DefaultStripes = 256

// lockTable maps keys onto a fixed set of mutexes.
// Stripes are always taken in ascending index order, so two transactions
// with overlapping key sets cannot deadlock.
type lockTable struct {
	stripes []sync.Mutex
}

func newLockTable(n int) *lockTable {
	if n <= 0 {
		n = DefaultStripes
	}
	return &lockTable{stripes: make([]sync.Mutex, n)}
}

func (t *lockTable) index(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(t.stripes)))
}

// acquire locks the stripes covering keys and returns the release func.
func (t *lockTable) acquire(keys []string) func() {
	idx := make([]int, 0, len(keys))
	seen := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		i := t.index(k)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	sort.Ints(idx)

	for _, i := range idx {
		t.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			t.stripes[idx[j]].Unlock()
		}
	}
}

// acquireAll locks every stripe.
func (t *lockTable) acquireAll() func() {
	for i := range t.stripes {
		t.stripes[i].Lock()
	}
	return func() {
		for i := len(t.stripes) - 1; i >= 0; i-- {
			t.stripes[i].Unlock()
		}
	}
}
