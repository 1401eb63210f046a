package kvstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Values are kept as flattened leaves: every primitive JSON value lives at its own
// absolute path. Objects exist only implicitly through their descendants, which makes
// partial updates and subtree reads plain prefix operations for both backends.

// flatten encodes v and returns its primitive leaves keyed by absolute path under base.
// A nil value or an empty object produces no leaves.
func flatten(base string, v any) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value at %s: %w", base, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode value at %s: %w", base, err)
	}
	leaves := make(map[string]json.RawMessage)
	if err := walk(base, tree, leaves); err != nil {
		return nil, err
	}
	return leaves, nil
}

func walk(p string, node any, leaves map[string]json.RawMessage) error {
	switch n := node.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, child := range n {
			if err := checkSegment(k); err != nil {
				return fmt.Errorf("key under %s: %w", p, err)
			}
			if err := walk(p+"/"+k, child, leaves); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for i, child := range n {
			if err := walk(p+"/"+strconv.Itoa(i), child, leaves); err != nil {
				return err
			}
		}
		return nil
	default:
		raw, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("encode leaf %s: %w", p, err)
		}
		leaves[p] = raw
		return nil
	}
}

// unflatten rebuilds the JSON value at base from leaves at or below it. It returns nil
// when nothing is stored there.
func unflatten(base string, leaves map[string]json.RawMessage) (json.RawMessage, error) {
	if leaf, ok := leaves[base]; ok {
		return leaf, nil
	}
	if len(leaves) == 0 {
		return nil, nil
	}
	root := make(map[string]any)
	prefix := base + "/"
	for p, leaf := range leaves {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		segs := strings.Split(strings.TrimPrefix(p, prefix), "/")
		node := root
		for _, seg := range segs[:len(segs)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
		node[segs[len(segs)-1]] = leaf
	}
	if len(root) == 0 {
		return nil, nil
	}
	return json.Marshal(root)
}

// Snapshot is the value observed at a path. A snapshot of an absent path has no value.
type Snapshot struct {
	Path string
	raw  json.RawMessage
}

// NewSnapshot wraps an already encoded value. Mostly useful for tests.
func NewSnapshot(path string, raw json.RawMessage) Snapshot {
	return Snapshot{Path: path, raw: raw}
}

// Key is the last path segment.
func (s Snapshot) Key() string { return lastSegment(s.Path) }

// Exists reports whether a value is stored at the path.
func (s Snapshot) Exists() bool { return len(s.raw) > 0 }

// Raw returns the encoded value, nil when absent.
func (s Snapshot) Raw() json.RawMessage { return s.raw }

// Decode unmarshals the value into v. Decoding an absent value is a no-op.
func (s Snapshot) Decode(v any) error {
	if !s.Exists() {
		return nil
	}
	return json.Unmarshal(s.raw, v)
}

// Children returns the direct children ordered by key. Primitive or absent values have none.
func (s Snapshot) Children() []Snapshot {
	if !s.Exists() {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(s.raw, &m); err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, Snapshot{Path: s.Path + "/" + k, raw: m[k]})
	}
	return out
}

// leafSet is the in-memory leaf table shared by the memory backend and transaction buffers.
type leafSet map[string]json.RawMessage

func (s leafSet) under(p string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	for k, v := range s {
		if within(p, k) {
			out[k] = v
		}
	}
	return out
}

func (s leafSet) read(p string) (json.RawMessage, error) {
	return unflatten(p, s.under(p))
}

// remove deletes the subtree at p.
func (s leafSet) remove(p string) {
	for k := range s {
		if within(p, k) {
			delete(s, k)
		}
	}
}

// replace swaps the subtree at p for leaves. Primitive ancestors are dropped because a
// path cannot hold a primitive and children at once.
func (s leafSet) replace(p string, leaves map[string]json.RawMessage) {
	s.remove(p)
	for _, a := range ancestors(p) {
		delete(s, a)
	}
	for k, v := range leaves {
		s[k] = v
	}
}

func (s leafSet) clone() leafSet {
	out := make(leafSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
