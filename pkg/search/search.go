// Package search implements the typed comparison operators of spec.md
// §4.G over a tree's leaves, reached through pkg/navigator. It follows the
// operator-dispatch, extractor/iterator shape of the teacher's
// pkg/query/engine.go (SimpleQueryEngine.ExecuteQuery switching on operator,
// QueryResult/QueryIterator result shape), generalized from secondary-index
// field lookups to direct B+tree key search.
package search

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/navigator"
	"github.com/ssargent/rtbtree/pkg/rtkey"
)

// Operator identifies one of the comparison strategies spec.md §4.G lists.
type Operator string

const (
	Eq         Operator = "=="
	Ne         Operator = "!="
	Lt         Operator = "<"
	Le         Operator = "<="
	Gt         Operator = ">"
	Ge         Operator = ">="
	In         Operator = "in"
	NotIn      Operator = "!in"
	Between    Operator = "between"
	NotBetween Operator = "!between"
	Like       Operator = "like"
	NotLike    Operator = "!like"
	Matches    Operator = "matches"
	NotMatches Operator = "!matches"
	Exists     Operator = "exists"
	NotExists  Operator = "!exists"
)

// UnsupportedOperator reports an Operator the engine does not implement.
var UnsupportedOperator = errors.New("search: unsupported operator")

// Criteria is one search condition. Which fields are meaningful depends on
// Operator: Value for ==/!=/</<=/>/>=, Values for in/!in, Low/High for
// between/!between, Pattern for like/!like/matches/!matches. exists/!exists
// use none of them.
type Criteria struct {
	Operator Operator
	Value    rtkey.Value
	Values   []rtkey.Value
	Low      rtkey.Value
	High     rtkey.Value
	Pattern  string
}

// Projection selects what Execute materializes per matching entry and an
// optional record-pointer filter applied to each entry's value list.
type Projection struct {
	IncludeKeys         bool
	IncludeValues       bool
	CountOnly           bool
	RecordPointerFilter []byte
}

// Result is one matching leaf entry, shaped per the requested Projection.
type Result struct {
	Key        rtkey.Value
	Values     []layout.Value
	TotalCount int
}

// Engine executes Criteria against a single tree.
type Engine struct {
	nav              *navigator.Navigator
	src              bytesource.Source
	metadataKeyCount int
}

// New builds an Engine. src must be the same byte source nav was built
// over; it is needed directly to load ext_data sub-ranges matched entries
// point into.
func New(nav *navigator.Navigator, src bytesource.Source, metadataKeyCount int) *Engine {
	return &Engine{nav: nav, src: src, metadataKeyCount: metadataKeyCount}
}

// Execute runs crit against the tree rooted at rootOffset.
func (e *Engine) Execute(ctx context.Context, rootOffset int64, crit Criteria, proj Projection) ([]Result, error) {
	switch crit.Operator {
	case Eq:
		return e.equality(ctx, rootOffset, crit.Value, proj)
	case Ne:
		return e.fullScan(ctx, rootOffset, proj, func(k rtkey.Value) bool { return !rtkey.Equal(k, crit.Value) })
	case Lt:
		return e.lessThan(ctx, rootOffset, crit.Value, proj, false)
	case Le:
		return e.lessThan(ctx, rootOffset, crit.Value, proj, true)
	case Gt:
		return e.greaterThan(ctx, rootOffset, crit.Value, proj, false)
	case Ge:
		return e.greaterThan(ctx, rootOffset, crit.Value, proj, true)
	case Between:
		return e.between(ctx, rootOffset, crit.Low, crit.High, proj)
	case NotBetween:
		return e.fullScan(ctx, rootOffset, proj, func(k rtkey.Value) bool {
			return rtkey.Less(k, crit.Low) || rtkey.Less(crit.High, k)
		})
	case In:
		return e.in(ctx, rootOffset, crit.Values, proj)
	case NotIn:
		set := newNeedleSet(crit.Values)
		return e.fullScan(ctx, rootOffset, proj, func(k rtkey.Value) bool { return !set.contains(k) })
	case Like:
		return e.like(ctx, rootOffset, crit.Pattern, proj, true)
	case NotLike:
		return e.like(ctx, rootOffset, crit.Pattern, proj, false)
	case Matches:
		re, err := regexp.Compile(crit.Pattern)
		if err != nil {
			return nil, errors.Wrap(err, "search: invalid regular expression")
		}
		return e.fullScan(ctx, rootOffset, proj, func(k rtkey.Value) bool { return k.Tag == rtkey.TagString && re.MatchString(k.Str) })
	case NotMatches:
		re, err := regexp.Compile(crit.Pattern)
		if err != nil {
			return nil, errors.Wrap(err, "search: invalid regular expression")
		}
		return e.fullScan(ctx, rootOffset, proj, func(k rtkey.Value) bool { return k.Tag != rtkey.TagString || !re.MatchString(k.Str) })
	case Exists:
		return e.fullScan(ctx, rootOffset, proj, func(k rtkey.Value) bool { return k.Tag != rtkey.TagAbsent })
	case NotExists:
		return e.fullScan(ctx, rootOffset, proj, func(k rtkey.Value) bool { return k.Tag == rtkey.TagAbsent })
	default:
		return nil, errors.Wrapf(UnsupportedOperator, "%q", crit.Operator)
	}
}

// equality locates the single leaf that would hold val and linear-probes
// it for an exact match.
func (e *Engine) equality(ctx context.Context, rootOffset int64, val rtkey.Value, proj Projection) ([]Result, error) {
	leaf, err := e.nav.FindLeaf(ctx, rootOffset, val)
	if err != nil {
		return nil, err
	}
	for _, entry := range leaf.Body.Entries {
		if rtkey.Equal(entry.Key, val) {
			res, err := e.materialize(leaf, entry, proj)
			if err != nil {
				return nil, err
			}
			return []Result{res}, nil
		}
	}
	return nil, nil
}

// lessThan locates val's leaf, keeps entries satisfying the predicate, then
// walks backward to the beginning of the tree (every earlier leaf is
// entirely below val by construction).
func (e *Engine) lessThan(ctx context.Context, rootOffset int64, val rtkey.Value, proj Projection, orEqual bool) ([]Result, error) {
	leaf, err := e.nav.FindLeaf(ctx, rootOffset, val)
	if err != nil {
		return nil, err
	}
	satisfies := func(k rtkey.Value) bool {
		if orEqual {
			return !rtkey.Less(val, k)
		}
		return rtkey.Less(k, val)
	}

	var out []Result
	for i := len(leaf.Body.Entries) - 1; i >= 0; i-- {
		entry := leaf.Body.Entries[i]
		if satisfies(entry.Key) {
			res, err := e.materialize(leaf, entry, proj)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prev, ok, err := e.nav.GetPrevious(leaf)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		leaf = prev
		for i := len(leaf.Body.Entries) - 1; i >= 0; i-- {
			entry := leaf.Body.Entries[i]
			res, err := e.materialize(leaf, entry, proj)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
	}
	reverse(out)
	return out, nil
}

// greaterThan is lessThan's mirror: forward walk to the end of the tree.
func (e *Engine) greaterThan(ctx context.Context, rootOffset int64, val rtkey.Value, proj Projection, orEqual bool) ([]Result, error) {
	leaf, err := e.nav.FindLeaf(ctx, rootOffset, val)
	if err != nil {
		return nil, err
	}
	satisfies := func(k rtkey.Value) bool {
		if orEqual {
			return !rtkey.Less(k, val)
		}
		return rtkey.Less(val, k)
	}

	var out []Result
	for _, entry := range leaf.Body.Entries {
		if satisfies(entry.Key) {
			res, err := e.materialize(leaf, entry, proj)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, ok, err := e.nav.GetNext(leaf)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		leaf = next
		for _, entry := range leaf.Body.Entries {
			res, err := e.materialize(leaf, entry, proj)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
	}
	return out, nil
}

// between locates low's leaf, forward-walks, and stops once an entry key
// exceeds high.
func (e *Engine) between(ctx context.Context, rootOffset int64, low, high rtkey.Value, proj Projection) ([]Result, error) {
	leaf, err := e.nav.FindLeaf(ctx, rootOffset, low)
	if err != nil {
		return nil, err
	}

	var out []Result
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		done := false
		for _, entry := range leaf.Body.Entries {
			if rtkey.Less(entry.Key, low) {
				continue
			}
			if rtkey.Less(high, entry.Key) {
				done = true
				break
			}
			res, err := e.materialize(leaf, entry, proj)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
		if done {
			break
		}
		next, ok, err := e.nav.GetNext(leaf)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		leaf = next
	}
	return out, nil
}

// fullScan walks every leaf from the first to the last, keeping entries
// whose key satisfies keep.
func (e *Engine) fullScan(ctx context.Context, rootOffset int64, proj Projection, keep func(rtkey.Value) bool) ([]Result, error) {
	leaf, err := e.nav.GetFirstLeaf(ctx, rootOffset)
	if err != nil {
		return nil, err
	}

	var out []Result
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, entry := range leaf.Body.Entries {
			if !keep(entry.Key) {
				continue
			}
			res, err := e.materialize(leaf, entry, proj)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
		next, ok, err := e.nav.GetNext(leaf)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		leaf = next
	}
	return out, nil
}

// in sorts the needle list and jump-seeks each unique value, opportunistically
// consuming subsequent needles that fall within the leaf already loaded
// before seeking again.
func (e *Engine) in(ctx context.Context, rootOffset int64, needles []rtkey.Value, proj Projection) ([]Result, error) {
	sorted := append([]rtkey.Value(nil), needles...)
	sort.Slice(sorted, func(i, j int) bool { return rtkey.Less(sorted[i], sorted[j]) })

	var out []Result
	i := 0
	for i < len(sorted) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		leaf, err := e.nav.FindLeaf(ctx, rootOffset, sorted[i])
		if err != nil {
			return nil, err
		}
		for i < len(sorted) && withinLeafRange(leaf, sorted[i]) {
			for _, entry := range leaf.Body.Entries {
				if rtkey.Equal(entry.Key, sorted[i]) {
					res, err := e.materialize(leaf, entry, proj)
					if err != nil {
						return nil, err
					}
					out = append(out, res)
					break
				}
			}
			i++
		}
	}
	return out, nil
}

// withinLeafRange reports whether key falls within leaf's key span, so the
// in-operator loop can keep consuming needles without reseeking.
func withinLeafRange(leaf navigator.Leaf, key rtkey.Value) bool {
	if len(leaf.Body.Entries) == 0 {
		return false
	}
	first := leaf.Body.Entries[0].Key
	last := leaf.Body.Entries[len(leaf.Body.Entries)-1].Key
	return !rtkey.Less(key, first) && !rtkey.Less(last, key)
}

// like matches pattern (glob with * and ?) against string keys. If pattern
// has a literal prefix before its first wildcard, the scan locates that
// prefix and stops once a leaf's last key's prefix sorts past it;
// otherwise it falls back to a full scan.
func (e *Engine) like(ctx context.Context, rootOffset int64, pattern string, proj Projection, want bool) ([]Result, error) {
	re := globToRegexp(pattern)
	prefix := literalPrefix(pattern)

	keep := func(k rtkey.Value) bool {
		if k.Tag != rtkey.TagString {
			return !want
		}
		return re.MatchString(k.Str) == want
	}

	if prefix == "" {
		return e.fullScan(ctx, rootOffset, proj, keep)
	}

	leaf, err := e.nav.FindLeaf(ctx, rootOffset, rtkey.String(prefix))
	if err != nil {
		return nil, err
	}

	var out []Result
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, entry := range leaf.Body.Entries {
			if keep(entry.Key) {
				res, err := e.materialize(leaf, entry, proj)
				if err != nil {
					return nil, err
				}
				out = append(out, res)
			}
		}

		if n := len(leaf.Body.Entries); n > 0 {
			lastKey := leaf.Body.Entries[n-1].Key
			if lastKey.Tag == rtkey.TagString && !strings.HasPrefix(lastKey.Str, prefix) && lastKey.Str > prefix {
				break
			}
		}

		next, ok, err := e.nav.GetNext(leaf)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		leaf = next
	}
	return out, nil
}

// literalPrefix returns the glob pattern's text before its first wildcard.
func literalPrefix(pattern string) string {
	idx := strings.IndexAny(pattern, "*?")
	if idx < 0 {
		return pattern
	}
	return pattern[:idx]
}

// globToRegexp compiles a * / ? glob into an anchored regexp.
func globToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// materialize loads a matched entry's values (from ext_data if necessary)
// and shapes the Result per proj.
func (e *Engine) materialize(leaf navigator.Leaf, entry layout.LeafEntry, proj Projection) (Result, error) {
	res := Result{}
	if proj.IncludeKeys || !proj.CountOnly {
		res.Key = entry.Key
	}

	values := entry.InlineValues
	if entry.Ext != nil {
		loaded, err := e.loadExtValues(leaf, entry.Ext)
		if err != nil {
			return Result{}, err
		}
		values = loaded
	}

	if proj.RecordPointerFilter != nil {
		values = filterByRecordPointer(values, proj.RecordPointerFilter)
	}

	res.TotalCount = len(values)
	if proj.IncludeValues && !proj.CountOnly {
		res.Values = values
	}
	return res, nil
}

func filterByRecordPointer(values []layout.Value, rp []byte) []layout.Value {
	var out []layout.Value
	for _, v := range values {
		if bytesEqual(v.RecordPointer, rp) {
			out = append(out, v)
		}
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// loadExtValues reads a single entry's value list out of its leaf's
// ext_data region, addressed by Ptr (from the end of the leaf body) and
// ListLength, per spec.md §4.C.
func (e *Engine) loadExtValues(leaf navigator.Leaf, ref *layout.ExtRef) ([]layout.Value, error) {
	r := bytesource.NewReader(e.src, bytesource.DefaultChunkSize)
	r.Seek(leaf.ExtDataOffset(ref))
	buf, err := r.Get(int(ref.ListLength))
	if err != nil {
		return nil, errors.Wrap(err, "search: reading ext_data value list")
	}
	return layout.DecodeValueList(buf, e.metadataKeyCount)
}

func reverse(out []Result) {
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
}

// needleSet is a hashed membership test over a needle list, used by !in to
// keep the full scan's per-entry check O(1) instead of O(|needles|) (spec.md
// Open Question (b)).
type needleSet struct {
	hashes map[uint64][]rtkey.Value
}

func newNeedleSet(values []rtkey.Value) *needleSet {
	s := &needleSet{hashes: make(map[uint64][]rtkey.Value, len(values))}
	for _, v := range values {
		h := hashKey(v)
		s.hashes[h] = append(s.hashes[h], v)
	}
	return s
}

func (s *needleSet) contains(v rtkey.Value) bool {
	for _, candidate := range s.hashes[hashKey(v)] {
		if rtkey.Equal(candidate, v) {
			return true
		}
	}
	return false
}

// hashKey hashes a key's encoded bytes with xxhash so needle-set membership
// is a single map lookup regardless of how many needles were supplied.
func hashKey(v rtkey.Value) uint64 {
	b, err := rtkey.Encode(v)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}
