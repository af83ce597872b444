// Package denest flattens arbitrarily nested JSON-like values into a flat
// path->leaf table and resolves values out of it by substring match. Platform
// exports rename and re-nest the same logical record release to release, so
// extraction code matches on "key contains X, shallowest wins" instead of
// hard-coding exact paths.
package denest

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Tree is a flattened structure. Keys are dash-joined paths from the root
// ("Activity-Video Browsing History-VideoList-0-Date"). Insertion order is
// preserved so lookups that tie on depth resolve deterministically.
type Tree struct {
	keys   []string
	values map[string]any
}

// NewTree returns an empty Tree.
func NewTree() *Tree {
	return &Tree{values: map[string]any{}}
}

// Set writes a leaf value. Writing an existing key overwrites the value in
// place and keeps the key's original position.
func (t *Tree) Set(key string, value any) {
	if _, ok := t.values[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.values[key] = value
}

// Get returns the leaf value at key.
func (t *Tree) Get(key string) (any, bool) {
	v, ok := t.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (t *Tree) Keys() []string { return t.keys }

// String returns the leaf at key rendered as a string, "" when absent.
func (t *Tree) String(key string) string {
	v, ok := t.values[key]
	if !ok {
		return ""
	}
	return render(v)
}

// Len returns the number of leaves.
func (t *Tree) Len() int { return len(t.keys) }

// Flatten denests a decoded JSON value (map, slice or scalar, arbitrarily
// mixed) into a Tree. Map entries extend the path with "-<key>", slice
// elements with "-<index>". Empty maps and slices contribute nothing. The
// input is not mutated.
func Flatten(v any) *Tree {
	t := NewTree()
	flattenInto(t, v, "")
	return t
}

func flattenInto(t *Tree, v any, path string) {
	switch val := v.(type) {
	case map[string]any:
		for _, k := range sortedKeys(val) {
			flattenInto(t, val[k], path+"-"+k)
		}
	case []any:
		for i, item := range val {
			flattenInto(t, item, path+"-"+strconv.Itoa(i))
		}
	default:
		t.Set(strings.TrimPrefix(path, "-"), v)
	}
}

// sortedKeys makes flattening deterministic; encoding/json decodes objects
// into maps whose iteration order would otherwise vary between runs.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion sort, maps here are small
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// FindFirst returns the value of the least nested key matching pattern, as a
// string. Pattern is a regular expression fragment matched anywhere in the
// key. Among matches the key with the fewest dash separators wins; keys tying
// at the minimum depth keep overwriting, so the match seen last wins. Returns
// "" when nothing matches or the pattern does not compile.
func FindFirst(t *Tree, pattern string, log *zap.Logger) string {
	re, err := regexp.Compile(pattern)
	if err != nil {
		logErr(log, pattern, err)
		return ""
	}
	out := ""
	depth := math.MaxInt
	for _, k := range t.keys {
		if !re.MatchString(k) {
			continue
		}
		if d := strings.Count(k, "-"); d <= depth {
			depth = d
			out = render(t.values[k])
		}
	}
	return out
}

// FindAll returns the values of every key matching pattern, in tree insertion
// order, without depth filtering.
func FindAll(t *Tree, pattern string, log *zap.Logger) []string {
	re, err := regexp.Compile(pattern)
	if err != nil {
		logErr(log, pattern, err)
		return nil
	}
	var out []string
	for _, k := range t.keys {
		if re.MatchString(k) {
			out = append(out, render(t.values[k]))
		}
	}
	return out
}

func logErr(log *zap.Logger, pattern string, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	log.Error("denest lookup failed", zap.String("pattern", pattern), zap.Error(err))
}

// render stringifies a leaf. JSON numbers decode as float64; integral ones
// are printed without a decimal point so ids and epoch seconds survive.
func render(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	default:
		return fmt.Sprint(v)
	}
}
