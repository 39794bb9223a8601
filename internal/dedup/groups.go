package dedup

import (
	"context"
	"sort"

	"imagedup/internal/phash"

	"github.com/RoaringBitmap/roaring"
)

// Member is one file in a duplicate group. Distance is measured to the
// group's reference member, so the reference itself carries 0.
type Member struct {
	Path     string
	Hash     phash.Hash
	Distance int
}

// Group is a set of at least two files judged near-duplicates of each
// other. Reference is the lexically first member path.
type Group struct {
	Reference string
	Members   []Member
}

// FindDuplicateGroups updates the index for root and partitions its
// files into near-duplicate groups at the given Hamming threshold.
func (d *Detector) FindDuplicateGroups(ctx context.Context, root string, threshold int) ([]Group, error) {
	if _, err := d.BuildOrUpdateIndex(ctx, root); err != nil {
		return nil, err
	}
	return d.GroupDuplicates(threshold), nil
}

// GroupDuplicates partitions the currently indexed files into
// near-duplicate groups at the given Hamming threshold.
//
// Every distinct hash is queried against a BK-tree of all hashes and
// matching hashes are merged in a union-find structure, so grouping is
// transitive: A close to B and B close to C lands all three in one
// group even when A and C are far apart. Each file appears in at most
// one group and only groups with two or more files are returned, sorted
// by reference path.
func (d *Detector) GroupDuplicates(threshold int) []Group {
	hashes := d.store.Hashes()
	if len(hashes) == 0 {
		return nil
	}
	ordinal := make(map[phash.Hash]uint32, len(hashes))
	for i, h := range hashes {
		ordinal[h] = uint32(i)
	}

	tree := d.buildTree()
	dsu := newUnionFind(len(hashes))

	// Hashes that belong to some duplicate relation, by ordinal. A hash
	// carried by two paths is a duplicate even without a tree match.
	dup := roaring.New()

	for i, h := range hashes {
		if len(d.store.PathsForHash(h)) > 1 {
			dup.Add(uint32(i))
		}
		for _, m := range tree.Query(h, threshold) {
			j := ordinal[m.Hash]
			if j == uint32(i) {
				continue
			}
			dsu.union(i, int(j))
			dup.Add(uint32(i))
			dup.Add(j)
		}
	}

	// Assemble components from the flagged ordinals only.
	components := make(map[int][]phash.Hash)
	it := dup.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		rep := dsu.find(i)
		components[rep] = append(components[rep], hashes[i])
	}

	groups := make([]Group, 0, len(components))
	for _, hs := range components {
		var paths []string
		byPath := make(map[string]phash.Hash)
		for _, h := range hs {
			for _, p := range d.store.PathsForHash(h) {
				paths = append(paths, p)
				byPath[p] = h
			}
		}
		if len(paths) < 2 {
			continue
		}
		sort.Strings(paths)

		ref := paths[0]
		refHash := byPath[ref]
		members := make([]Member, 0, len(paths))
		for _, p := range paths {
			members = append(members, Member{
				Path:     p,
				Hash:     byPath[p],
				Distance: phash.Distance(refHash, byPath[p]),
			})
		}
		sort.Slice(members, func(i, j int) bool {
			if members[i].Distance != members[j].Distance {
				return members[i].Distance < members[j].Distance
			}
			return members[i].Path < members[j].Path
		})
		groups = append(groups, Group{Reference: ref, Members: members})
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Reference < groups[j].Reference
	})

	d.logger.Info("duplicate search complete",
		"threshold", threshold,
		"files", d.store.Len(),
		"groups", len(groups))
	return groups
}

// unionFind is a disjoint-set forest with path compression and union by
// size, indexed by hash ordinal.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{
		parent: make([]int, n),
		size:   make([]int, n),
	}
	for i := range u.parent {
		u.parent[i] = i
		u.size[i] = 1
	}
	return u
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}
