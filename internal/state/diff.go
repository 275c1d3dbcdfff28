package state

import (
	"sort"
	"strconv"
)

// Diff computes the minimal patch list transforming old into cur. The result
// is path-sorted for deterministic reproducibility; applying it to old yields
// cur (see Apply).
func Diff(old, cur Snapshot) []Patch {
	var patches []Patch
	diffMap(nil, map[string]interface{}(old), map[string]interface{}(cur), &patches)
	sort.Slice(patches, func(i, j int) bool {
		if patches[i].Path != patches[j].Path {
			return patches[i].Path < patches[j].Path
		}
		// Inserts on the same array stay in index order.
		return patches[i].Index < patches[j].Index
	})
	return patches
}

func diffValue(segs []string, old, cur interface{}, out *[]Patch) {
	oldMap, oldIsMap := old.(map[string]interface{})
	curMap, curIsMap := cur.(map[string]interface{})
	if oldIsMap && curIsMap {
		diffMap(segs, oldMap, curMap, out)
		return
	}
	oldArr, oldIsArr := old.([]interface{})
	curArr, curIsArr := cur.([]interface{})
	if oldIsArr && curIsArr {
		diffArray(segs, oldArr, curArr, out)
		return
	}
	if !Equal(old, cur) {
		*out = append(*out, Patch{Path: JoinPath(segs...), Kind: OpSet, Value: Clone(cur)})
	}
}

func diffMap(segs []string, old, cur map[string]interface{}, out *[]Patch) {
	for k, oldV := range old {
		curV, ok := cur[k]
		if !ok {
			*out = append(*out, Patch{Path: JoinPath(append(segs, k)...), Kind: OpRemove})
			continue
		}
		diffValue(append(segs, k), oldV, curV, out)
	}
	for k, curV := range cur {
		if _, ok := old[k]; !ok {
			*out = append(*out, Patch{Path: JoinPath(append(segs, k)...), Kind: OpSet, Value: Clone(curV)})
		}
	}
}

// diffArray keeps the patch list small for the common mutations: in-place
// element changes and appends. Anything with a length decrease falls back to
// replacing the whole array. Inserts target the array path and carry the
// index in the op, so path sorting preserves apply order.
func diffArray(segs []string, old, cur []interface{}, out *[]Patch) {
	if len(cur) < len(old) {
		*out = append(*out, Patch{Path: JoinPath(segs...), Kind: OpSet, Value: Clone(cur)})
		return
	}
	for i := range old {
		diffValue(append(segs, strconv.Itoa(i)), old[i], cur[i], out)
	}
	for i := len(old); i < len(cur); i++ {
		*out = append(*out, Patch{
			Path:  JoinPath(segs...),
			Kind:  OpInsert,
			Index: i,
			Value: Clone(cur[i]),
		})
	}
}
