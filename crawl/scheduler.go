package crawl

import (
	"container/heap"
	"hash/fnv"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/crawlgraph/crawlgraph/internal/urlutil"
)

// schedItem is a single scheduled URL, ordered by (−priority, insertion
// counter) so higher priority dequeues first and ties break FIFO.
type schedItem struct {
	node    *Node
	counter uint64
}

type schedHeap []schedItem

func (h schedHeap) Len() int { return len(h) }

func (h schedHeap) Less(i, j int) bool {
	pi, pj := h[i].node.Priority(), h[j].node.Priority()
	if pi != pj {
		return pi > pj // higher priority first
	}
	return h[i].counter < h[j].counter // FIFO among equal priority
}

func (h schedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *schedHeap) Push(x interface{}) { *h = append(*h, x.(schedItem)) }

func (h *schedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scheduler orders prospective nodes for fetching by priority, tracks
// which URLs have already been seen, and optionally puts a bloom filter
// in front of the seen-set; the exact seen-map still holds every URL.
type Scheduler struct {
	mu              sync.Mutex
	heap            schedHeap
	counter         uint64
	seen            map[string]struct{}
	filter          *urlBloomFilter // nil unless enabled
	rules           []*URLRule
	defaultPriority int
	allowInternal   bool
}

// SetAllowInternalHosts permits URLs on private, loopback, and link-local
// hosts to be scheduled. Off by default; intended for crawls of internal
// networks and for tests against local servers.
func (s *Scheduler) SetAllowInternalHosts(allow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowInternal = allow
}

// NewScheduler constructs an empty Scheduler. When expectedURLs > 0, a
// bloom filter sized for that many insertions with roughly a 1%
// false-positive rate gates lookups against the exact map, letting
// HasURL short-circuit to "definitely not seen" without a map probe.
// The exact map still records every added URL, so the filter saves
// lookups, not memory. rules
// feeds the effective-priority computation in AddNode.
func NewScheduler(expectedURLs uint, rules []*URLRule) *Scheduler {
	s := &Scheduler{
		heap:            make(schedHeap, 0),
		seen:            make(map[string]struct{}),
		rules:           rules,
		defaultPriority: 5,
	}
	if expectedURLs > 0 {
		s.filter = newURLBloomFilter(expectedURLs, 0.01)
	}
	heap.Init(&s.heap)
	return s
}

// HasURL reports whether url has already been added, consulting the
// bloom filter first (cheap, may false-positive) and falling back to the
// exact map.
func (s *Scheduler) HasURL(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasURLLocked(url)
}

func (s *Scheduler) hasURLLocked(url string) bool {
	if s.filter != nil && !s.filter.test(url) {
		return false
	}
	_, ok := s.seen[url]
	return ok
}

// AddNode enqueues n unless its URL has already been seen or, when n has
// no priority of its own, a matching URL rule forbids scanning. The
// node's own priority wins if set;
// otherwise the first matching rule's
// priority; otherwise the scheduler default (5). The matched rule is
// then applied to the node (should_scan / can_create_edges).
func (s *Scheduler) AddNode(n *Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	url := n.URL()
	if s.hasURLLocked(url) {
		return false
	}
	// SSRF guard at the scheduler boundary: URLs pointing at internal
	// hosts or blocked ports never enter the queue, even when a plugin
	// injected them.
	if err := urlutil.ValidateURLSecurity(url, s.allowInternal); err != nil {
		return false
	}

	matched := matchFirstRule(s.rules, url)
	priority := n.Priority()
	if priority == 0 {
		switch {
		case matched != nil && matched.ShouldScan == False:
			return false
		case matched != nil && matched.Priority > 0:
			priority = matched.Priority
		default:
			priority = s.defaultPriority
		}
	}
	n.SetPriority(clampPriority(priority))
	applyRuleToNode(matched, n)

	s.seen[url] = struct{}{}
	if s.filter != nil {
		s.filter.add(url)
	}
	heap.Push(&s.heap, schedItem{node: n, counter: s.counter})
	s.counter++
	return true
}

// GetNext pops the highest-priority node, or returns (nil, false) when
// empty.
func (s *Scheduler) GetNext() (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return nil, false
	}
	item := heap.Pop(&s.heap).(schedItem)
	return item.node, true
}

// Peek returns the node GetNext would pop, without removing it.
func (s *Scheduler) Peek() (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return nil, false
	}
	return s.heap[0].node, true
}

func (s *Scheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

func (s *Scheduler) IsEmpty() bool { return s.Size() == 0 }

// MemoryStatistics reports the scheduler's approximate footprint, useful
// for long-running crawls monitoring their own memory use.
type MemoryStatistics struct {
	QueuedNodes   int
	SeenURLs      int
	UsingBloom    bool
	BloomBitCount uint
}

func (s *Scheduler) GetMemoryStatistics() MemoryStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := MemoryStatistics{
		QueuedNodes: len(s.heap),
		SeenURLs:    len(s.seen),
		UsingBloom:  s.filter != nil,
	}
	if s.filter != nil {
		stats.BloomBitCount = s.filter.bits.Len()
	}
	return stats
}

// urlBloomFilter is a minimal bloom filter over bits-and-blooms/bitset
// using double hashing (Kirsch-Mitzenmacher): k hash positions are
// derived from two independent FNV hashes instead of k separate hash
// functions.
type urlBloomFilter struct {
	bits *bitset.BitSet
	k    uint
	m    uint
}

func newURLBloomFilter(expectedItems uint, falsePositiveRate float64) *urlBloomFilter {
	m := optimalBits(expectedItems, falsePositiveRate)
	k := optimalHashCount(m, expectedItems)
	return &urlBloomFilter{bits: bitset.New(m), k: k, m: m}
}

func optimalBits(n uint, p float64) uint {
	if n == 0 {
		n = 1
	}
	// m = -(n * ln(p)) / (ln(2)^2)
	const ln2sq = 0.4804530139182014
	m := uint(-float64(n) * lnApprox(p) / ln2sq)
	if m < 64 {
		m = 64
	}
	return m
}

func optimalHashCount(m, n uint) uint {
	if n == 0 {
		return 1
	}
	k := uint(float64(m) / float64(n) * 0.6931471805599453)
	if k < 1 {
		k = 1
	}
	if k > 16 {
		k = 16
	}
	return k
}

// lnApprox is a small natural-log approximation sufficient for sizing a
// bloom filter; precision beyond a couple of significant digits buys
// nothing here since n and p are themselves estimates.
func lnApprox(x float64) float64 {
	if x <= 0 {
		return -40
	}
	// Range-reduce x into [1,2) by tracking powers of 2, then use a
	// short series around 1.
	exp := 0.0
	for x >= 2 {
		x /= 2
		exp++
	}
	for x < 1 {
		x *= 2
		exp--
	}
	y := (x - 1) / (x + 1)
	y2 := y * y
	sum := y
	term := y
	for i := 1; i < 8; i++ {
		term *= y2
		sum += term / float64(2*i+1)
	}
	return 2*sum + exp*0.6931471805599453
}

func (f *urlBloomFilter) positions(url string) (uint, uint) {
	h1 := fnv.New64a()
	h1.Write([]byte(url))
	sum1 := h1.Sum64()

	h2 := fnv.New64()
	h2.Write([]byte(url))
	sum2 := h2.Sum64()
	return uint(sum1 % uint64(f.m)), uint(sum2 % uint64(f.m))
}

func (f *urlBloomFilter) add(url string) {
	p1, p2 := f.positions(url)
	for i := uint(0); i < f.k; i++ {
		f.bits.Set((p1 + i*p2) % f.m)
	}
}

func (f *urlBloomFilter) test(url string) bool {
	p1, p2 := f.positions(url)
	for i := uint(0); i < f.k; i++ {
		if !f.bits.Test((p1 + i*p2) % f.m) {
			return false
		}
	}
	return true
}
