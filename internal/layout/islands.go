package layout

import (
	"github.com/apple-oss-distributions/ld64-sub000/internal/arch"
	"github.com/apple-oss-distributions/ld64-sub000/internal/atom"
)

// islandKey memoizes one branch-island atom per (region, target, addend)
// so multiple out-of-range branches crossing the same region share a
// single island (spec.md §4.5: "ensure an island atom exists ... memoized
// per region").
type islandKey struct {
	region int64
	target atom.AtomID
	addend int64
}

// insertBranchIslands implements spec.md §4.5's PowerPC long-branch
// island pass: once __text exceeds the configured limit, it is divided
// into fixed-size "island regions"; every branch24 reference spanning
// more than one region gets retargeted through a chain of island atoms,
// one per intervening region, each branching to the next and the last
// to the real target. Returns true if any new island was created, so
// Run's fixed-point loop re-lays-out addresses and checks again.
func (l *Layouter) insertBranchIslands() (bool, error) {
	textSeg := l.segByName["__TEXT"]
	if textSeg == nil || textSeg.VMSize == 0 {
		return false, nil
	}
	limit := l.Opts.TextLimit
	if limit == 0 {
		limit = defaultTextLimit
	}
	if textSeg.VMSize <= limit {
		return false, nil
	}
	regionSize := l.Opts.IslandRegionSize
	if regionSize == 0 {
		regionSize = defaultIslandRegionSize
	}

	islands := map[islandKey]atom.AtomID{}
	created := false

	for _, a := range l.Graph.All() {
		if !a.Live || a.SegmentName != "__TEXT" {
			continue
		}
		for _, ref := range a.References {
			if ref.Kind != arch.Branch24 || !ref.To.Resolved {
				continue
			}
			target := l.Graph.Get(ref.To.Atom)
			if target == nil {
				continue
			}
			dist := signedDistance(target.Address, a.Address)
			if abs64(dist) <= int64(regionSize) {
				continue
			}

			regions := interveningRegions(a.Address, target.Address, textSeg.BaseAddress, regionSize)
			if len(regions) == 0 {
				continue
			}
			chainTarget := atom.DirectTarget(ref.To.Atom)
			chainAddend := ref.ToAddend
			for i := len(regions) - 1; i >= 0; i-- {
				key := islandKey{region: regions[i], target: ref.To.Atom, addend: chainAddend}
				id, ok := islands[key]
				if !ok {
					island := &atom.Atom{
						Kind:        atom.KindBranchIsland,
						Name:        "",
						Scope:       atom.ScopeTranslationUnit,
						Size:        4,
						SegmentName: "__TEXT",
						SectionName: "__text",
						Arch:        a.Arch,
						Reader:      a.Reader,
						References: []*atom.Reference{
							{Kind: arch.Branch24, To: chainTarget, ToAddend: chainAddend},
						},
					}
					id = l.Graph.Add(island)
					islands[key] = id
					created = true
				}
				chainTarget = atom.DirectTarget(id)
				chainAddend = 0
			}
			ref.To = chainTarget
			ref.ToAddend = chainAddend
		}
	}

	return created, nil
}

// interveningRegions returns the island-region indices strictly between
// src and dst (exclusive of either endpoint's own region), ordered from
// the region nearest src to the region nearest dst.
func interveningRegions(src, dst, textBase, regionSize uint64) []int64 {
	srcRegion := int64((src - textBase) / regionSize)
	dstRegion := int64((dst - textBase) / regionSize)
	if srcRegion == dstRegion {
		return nil
	}
	var out []int64
	if srcRegion < dstRegion {
		for r := srcRegion + 1; r < dstRegion; r++ {
			out = append(out, r)
		}
	} else {
		for r := srcRegion - 1; r > dstRegion; r-- {
			out = append(out, r)
		}
	}
	return out
}

func signedDistance(dst, src uint64) int64 { return int64(dst) - int64(src) }

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// insertThumbArmShims implements spec.md §4.5's ARM thumb<->arm shim
// pass: a thumb_branch22 whose target is ARM-mode-with-"b" (not "bl"),
// or an arm_branch24 whose target is Thumb-mode-with-"b", is redirected
// through a mode-crossing shim atom, one per target (memoized).
func (l *Layouter) insertThumbArmShims() bool {
	shims := map[atom.AtomID]atom.AtomID{}
	created := false

	for _, a := range l.Graph.All() {
		if !a.Live || a.SegmentName != "__TEXT" {
			continue
		}
		for _, ref := range a.References {
			if !ref.To.Resolved {
				continue
			}
			target := l.Graph.Get(ref.To.Atom)
			if target == nil {
				continue
			}
			crosses := (ref.Kind == arch.ThumbBranch22 && !target.Thumb) ||
				(ref.Kind == arch.ArmBranch24 && target.Thumb)
			if !crosses {
				continue
			}

			id, ok := shims[target.ID]
			if !ok {
				shim := &atom.Atom{
					Kind:        atom.KindShim,
					Scope:       atom.ScopeTranslationUnit,
					Size:        16,
					SegmentName: "__TEXT",
					SectionName: "__text",
					Arch:        a.Arch,
					Reader:      a.Reader,
					Thumb:       a.Thumb,
					References: []*atom.Reference{
						{Kind: arch.Pointer, To: atom.DirectTarget(target.ID)},
					},
				}
				id = l.Graph.Add(shim)
				shims[target.ID] = id
				created = true
			}
			ref.To = atom.DirectTarget(id)
		}
	}
	return created
}
