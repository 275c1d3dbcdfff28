package state

import (
	"fmt"
	"strconv"
	"strings"
)

// OpKind discriminates the three patch operations.
type OpKind string

const (
	OpSet    OpKind = "set"
	OpRemove OpKind = "remove"
	OpInsert OpKind = "insert"
)

// Patch is one structural change at a path. Paths use /-separated segments
// with ~0 -> ~ and ~1 -> / escaping, JSON-pointer style.
type Patch struct {
	Path  string
	Kind  OpKind
	Value interface{} // set, insert
	Index int         // insert
}

// EscapeSegment encodes one path segment.
func EscapeSegment(seg string) string {
	seg = strings.ReplaceAll(seg, "~", "~0")
	return strings.ReplaceAll(seg, "/", "~1")
}

// UnescapeSegment decodes one path segment.
func UnescapeSegment(seg string) string {
	seg = strings.ReplaceAll(seg, "~1", "/")
	return strings.ReplaceAll(seg, "~0", "~")
}

// JoinPath builds a /-prefixed path from raw segments.
func JoinPath(segments ...string) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(EscapeSegment(seg))
	}
	return b.String()
}

// SplitPath returns the decoded segments of a path.
func SplitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = UnescapeSegment(p)
	}
	return parts
}

// WireForm returns the generic-map encoding of the patch used by every codec:
// {"path": ..., "op": {"set": v} | {"remove": nil} | {"insert": {"index": i, "value": v}}}.
func (p Patch) WireForm() map[string]interface{} {
	var op map[string]interface{}
	switch p.Kind {
	case OpSet:
		op = map[string]interface{}{"set": p.Value}
	case OpRemove:
		op = map[string]interface{}{"remove": nil}
	case OpInsert:
		op = map[string]interface{}{"insert": map[string]interface{}{
			"index": int64(p.Index),
			"value": p.Value,
		}}
	}
	return map[string]interface{}{"path": p.Path, "op": op}
}

// PatchFromWire decodes the generic-map encoding.
func PatchFromWire(raw map[string]interface{}) (Patch, error) {
	path, _ := raw["path"].(string)
	op, ok := Normalize(raw["op"]).(map[string]interface{})
	if !ok {
		return Patch{}, fmt.Errorf("patch at %q: missing op", path)
	}
	if v, ok := op["set"]; ok {
		return Patch{Path: path, Kind: OpSet, Value: Normalize(v)}, nil
	}
	if _, ok := op["remove"]; ok {
		return Patch{Path: path, Kind: OpRemove}, nil
	}
	if v, ok := op["insert"]; ok {
		ins, ok := Normalize(v).(map[string]interface{})
		if !ok {
			return Patch{}, fmt.Errorf("patch at %q: malformed insert", path)
		}
		idx, ok := Normalize(ins["index"]).(int64)
		if !ok {
			if f, okf := ins["index"].(float64); okf {
				idx = int64(f)
			} else {
				return Patch{}, fmt.Errorf("patch at %q: insert without index", path)
			}
		}
		return Patch{Path: path, Kind: OpInsert, Index: int(idx), Value: Normalize(ins["value"])}, nil
	}
	return Patch{}, fmt.Errorf("patch at %q: unknown op", path)
}

// Apply returns a new snapshot with the patches applied in order.
func Apply(snap Snapshot, patches []Patch) (Snapshot, error) {
	root := map[string]interface{}(snap.Clone())
	for _, p := range patches {
		if err := applyOne(root, p); err != nil {
			return nil, err
		}
	}
	return Snapshot(root), nil
}

func applyOne(root map[string]interface{}, p Patch) error {
	segs := SplitPath(p.Path)
	if len(segs) == 0 {
		return fmt.Errorf("patch with empty path")
	}

	// Inserts address the array itself; the index lives in the op.
	if p.Kind == OpInsert {
		target, err := descend(root, segs)
		if err != nil {
			return fmt.Errorf("patch at %q: %w", p.Path, err)
		}
		arr, ok := target.([]interface{})
		if !ok {
			return fmt.Errorf("patch at %q: insert into non-array", p.Path)
		}
		if p.Index < 0 || p.Index > len(arr) {
			return fmt.Errorf("patch at %q: insert index %d out of range", p.Path, p.Index)
		}
		grown := append(arr[:p.Index:p.Index], append([]interface{}{Clone(p.Value)}, arr[p.Index:]...)...)
		return replaceChild(root, segs, grown)
	}

	parent, err := descend(root, segs[:len(segs)-1])
	if err != nil {
		return fmt.Errorf("patch at %q: %w", p.Path, err)
	}
	last := segs[len(segs)-1]

	switch container := parent.(type) {
	case map[string]interface{}:
		switch p.Kind {
		case OpSet:
			container[last] = Clone(p.Value)
		case OpRemove:
			delete(container, last)
		}
		return nil
	case []interface{}:
		idx, err := strconv.Atoi(last)
		if err != nil {
			return fmt.Errorf("patch at %q: non-numeric array index", p.Path)
		}
		if idx < 0 || idx >= len(container) {
			return fmt.Errorf("patch at %q: index out of range", p.Path)
		}
		switch p.Kind {
		case OpSet:
			container[idx] = Clone(p.Value)
			return nil
		case OpRemove:
			shrunk := append(container[:idx:idx], container[idx+1:]...)
			return replaceChild(root, segs[:len(segs)-1], shrunk)
		}
		return nil
	default:
		return fmt.Errorf("patch at %q: parent is not a container", p.Path)
	}
}

func descend(root map[string]interface{}, segs []string) (interface{}, error) {
	var cur interface{} = root
	for _, seg := range segs {
		switch c := cur.(type) {
		case map[string]interface{}:
			next, ok := c[seg]
			if !ok {
				return nil, fmt.Errorf("missing segment %q", seg)
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, fmt.Errorf("bad array segment %q", seg)
			}
			cur = c[idx]
		default:
			return nil, fmt.Errorf("segment %q is not a container", seg)
		}
	}
	return cur, nil
}

func replaceChild(root map[string]interface{}, parentSegs []string, value interface{}) error {
	if len(parentSegs) == 0 {
		return fmt.Errorf("cannot replace root")
	}
	grand, err := descend(root, parentSegs[:len(parentSegs)-1])
	if err != nil {
		return err
	}
	last := parentSegs[len(parentSegs)-1]
	switch g := grand.(type) {
	case map[string]interface{}:
		g[last] = value
		return nil
	case []interface{}:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(g) {
			return fmt.Errorf("bad array segment %q", last)
		}
		g[idx] = value
		return nil
	default:
		return fmt.Errorf("segment %q is not a container", last)
	}
}
