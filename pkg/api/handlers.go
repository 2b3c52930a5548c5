package api

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ssargent/rtbtree/pkg/rtkey"
	"github.com/ssargent/rtbtree/pkg/rtree"
	"github.com/ssargent/rtbtree/pkg/search"
)

// Server holds the inspection API's state: the single tree it serves,
// configuration, and metrics.
type Server struct {
	tree    *rtree.Tree
	config  ServerConfig
	metrics *Metrics
}

// NewServer creates a new API server over tr.
func NewServer(tr *rtree.Tree, config ServerConfig, metrics *Metrics) *Server {
	return &Server{tree: tr, config: config, metrics: metrics}
}

// parseKeyValue parses a query-string key representation into an
// rtkey.Value. typ defaults to "string" when unset; "number", "bool",
// and "date" (epoch milliseconds) are also accepted.
func parseKeyValue(raw, typ string) (rtkey.Value, error) {
	switch typ {
	case "", "string":
		return rtkey.String(raw), nil
	case "number":
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return rtkey.Value{}, err
		}
		return rtkey.Number(n), nil
	case "bool":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return rtkey.Value{}, err
		}
		return rtkey.Bool(b), nil
	case "date":
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return rtkey.Value{}, err
		}
		return rtkey.Date(ms), nil
	default:
		return rtkey.Value{}, errUnsupportedKeyType
	}
}

var errUnsupportedKeyType = errors.New("unsupported key type")

// keyToJSON renders an rtkey.Value as a plain JSON-friendly value.
func keyToJSON(v rtkey.Value) interface{} {
	switch v.Tag {
	case rtkey.TagString:
		return v.Str
	case rtkey.TagNumber:
		return v.Num
	case rtkey.TagBool:
		return v.Bool
	case rtkey.TagDate:
		return v.DateMS
	default:
		return nil
	}
}

// metadataToMap zips a value's metadata tuple against the tree's ordered
// metadata key names.
func metadataToMap(keys []string, tuple rtkey.Tuple) map[string]string {
	if len(tuple) == 0 {
		return nil
	}
	out := make(map[string]string, len(tuple))
	for i, v := range tuple {
		name := strconv.Itoa(i)
		if i < len(keys) {
			name = keys[i]
		}
		out[name] = renderMetadataValue(v)
	}
	return out
}

func renderMetadataValue(v rtkey.Value) string {
	switch v.Tag {
	case rtkey.TagString:
		return v.Str
	case rtkey.TagNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case rtkey.TagBool:
		return strconv.FormatBool(v.Bool)
	case rtkey.TagDate:
		return strconv.FormatInt(v.DateMS, 10)
	default:
		return ""
	}
}

func (s *Server) entryResults(results []search.Result) []EntryResult {
	out := make([]EntryResult, 0, len(results))
	keys := s.tree.MetadataKeys()
	for _, r := range results {
		values := make([]ValueResult, 0, len(r.Values))
		for _, v := range r.Values {
			values = append(values, ValueResult{
				RecordPointer: hex.EncodeToString(v.RecordPointer),
				Metadata:      metadataToMap(keys, v.Metadata),
			})
		}
		out = append(out, EntryResult{
			Key:    keyToJSON(r.Key),
			Values: values,
			Count:  r.TotalCount,
		})
	}
	return out
}

// handleHealth godoc
//
//	@Summary		Health check
//	@Description	Reports the inspection API is reachable.
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	map[string]string
//	@Router			/health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, map[string]string{"status": "healthy"})
}

// handleFind godoc
//
//	@Summary		Find a key
//	@Description	Exact-match lookup of a single key.
//	@Tags			keys
//	@Produce		json
//	@Param			key		path	string	true	"Key"
//	@Param			type	query	string	false	"Key type: string, number, bool, date"
//	@Success		200	{object}	APIResponse
//	@Failure		400	{object}	APIResponse
//	@Failure		500	{object}	APIResponse
//	@Security		ApiKeyAuth
//	@Router			/keys/{key} [get]
func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	raw := chi.URLParam(r, "key")
	key, err := parseKeyValue(raw, r.URL.Query().Get("type"))
	if err != nil {
		s.metrics.RecordTreeOperation("find", false, time.Since(start))
		sendError(w, "invalid key: "+err.Error(), http.StatusBadRequest)
		return
	}

	proj := projectionFromQuery(r)
	results, err := s.tree.Find(r.Context(), key, proj)
	if err != nil {
		s.metrics.RecordTreeOperation("find", false, time.Since(start))
		sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.metrics.RecordTreeOperation("find", true, time.Since(start))
	sendSuccess(w, s.entryResults(results))
}

// handleRange godoc
//
//	@Summary		Range scan
//	@Description	Between-bounds scan over [low, high].
//	@Tags			keys
//	@Produce		json
//	@Param			low		query	string	true	"Low bound (inclusive)"
//	@Param			high	query	string	true	"High bound (inclusive)"
//	@Param			type	query	string	false	"Key type: string, number, bool, date"
//	@Success		200	{object}	APIResponse
//	@Failure		400	{object}	APIResponse
//	@Failure		500	{object}	APIResponse
//	@Security		ApiKeyAuth
//	@Router			/range [get]
func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	typ := q.Get("type")

	low, err := parseKeyValue(q.Get("low"), typ)
	if err != nil {
		s.metrics.RecordTreeOperation("range", false, time.Since(start))
		sendError(w, "invalid low bound: "+err.Error(), http.StatusBadRequest)
		return
	}
	high, err := parseKeyValue(q.Get("high"), typ)
	if err != nil {
		s.metrics.RecordTreeOperation("range", false, time.Since(start))
		sendError(w, "invalid high bound: "+err.Error(), http.StatusBadRequest)
		return
	}

	results, err := s.tree.Search(r.Context(), search.Criteria{
		Operator: search.Between,
		Low:      low,
		High:     high,
	}, projectionFromQuery(r))
	if err != nil {
		s.metrics.RecordTreeOperation("range", false, time.Since(start))
		sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.metrics.RecordTreeOperation("range", true, time.Since(start))
	sendSuccess(w, s.entryResults(results))
}

// handleSearch godoc
//
//	@Summary		Operator search
//	@Description	Runs one spec.md §4.G comparison operator against the tree.
//	@Tags			keys
//	@Produce		json
//	@Param			op		query	string	true	"Operator: ==, !=, <, <=, >, >=, in, !in, between, !between, like, !like, matches, !matches, exists, !exists"
//	@Param			value	query	string	false	"Value, for ==/!=/</<=/>/>="
//	@Param			values	query	string	false	"Comma-separated values, for in/!in"
//	@Param			low		query	string	false	"Low bound, for between/!between"
//	@Param			high	query	string	false	"High bound, for between/!between"
//	@Param			pattern	query	string	false	"Pattern, for like/!like/matches/!matches"
//	@Param			type	query	string	false	"Key type: string, number, bool, date"
//	@Success		200	{object}	APIResponse
//	@Failure		400	{object}	APIResponse
//	@Failure		500	{object}	APIResponse
//	@Security		ApiKeyAuth
//	@Router			/search [get]
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	op := search.Operator(q.Get("op"))
	typ := q.Get("type")

	crit := search.Criteria{Operator: op, Pattern: q.Get("pattern")}

	if v := q.Get("value"); v != "" {
		val, err := parseKeyValue(v, typ)
		if err != nil {
			s.metrics.RecordTreeOperation("search", false, time.Since(start))
			sendError(w, "invalid value: "+err.Error(), http.StatusBadRequest)
			return
		}
		crit.Value = val
	}
	if low := q.Get("low"); low != "" {
		val, err := parseKeyValue(low, typ)
		if err != nil {
			s.metrics.RecordTreeOperation("search", false, time.Since(start))
			sendError(w, "invalid low bound: "+err.Error(), http.StatusBadRequest)
			return
		}
		crit.Low = val
	}
	if high := q.Get("high"); high != "" {
		val, err := parseKeyValue(high, typ)
		if err != nil {
			s.metrics.RecordTreeOperation("search", false, time.Since(start))
			sendError(w, "invalid high bound: "+err.Error(), http.StatusBadRequest)
			return
		}
		crit.High = val
	}
	if raw := q.Get("values"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			val, err := parseKeyValue(part, typ)
			if err != nil {
				s.metrics.RecordTreeOperation("search", false, time.Since(start))
				sendError(w, "invalid values entry: "+err.Error(), http.StatusBadRequest)
				return
			}
			crit.Values = append(crit.Values, val)
		}
	}

	results, err := s.tree.Search(r.Context(), crit, projectionFromQuery(r))
	if err != nil {
		s.metrics.RecordTreeOperation("search", false, time.Since(start))
		sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.metrics.RecordTreeOperation("search", true, time.Since(start))
	sendSuccess(w, s.entryResults(results))
}

// handleStats godoc
//
//	@Summary		Tree statistics
//	@Description	Depth, leaf/entry/value counts, and allocator bookkeeping.
//	@Tags			stats
//	@Produce		json
//	@Success		200	{object}	APIResponse
//	@Failure		500	{object}	APIResponse
//	@Security		ApiKeyAuth
//	@Router			/stats [get]
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	stats, err := s.tree.Stats(r.Context())
	if err != nil {
		s.metrics.RecordTreeOperation("stats", false, time.Since(start))
		sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.metrics.UpdateTreeStats(stats.Depth, stats.LeafCount, stats.LiveEntryCount, stats.LiveValueCount)
	s.metrics.RecordTreeOperation("stats", true, time.Since(start))
	sendSuccess(w, StatsResult{
		Depth:            stats.Depth,
		LeafCount:        stats.LeafCount,
		LiveEntryCount:   stats.LiveEntryCount,
		LiveValueCount:   stats.LiveValueCount,
		TotalLength:      stats.TotalLength,
		TailFree:         stats.TailFree,
		ReclaimedTotal:   stats.ReclaimedTotal,
		ReclaimedRegions: stats.ReclaimedRegions,
	})
}

// projectionFromQuery builds a search.Projection from common query
// parameters shared by handleFind/handleRange/handleSearch:
// include_keys, include_values (both default true), count_only.
func projectionFromQuery(r *http.Request) search.Projection {
	q := r.URL.Query()
	proj := search.Projection{
		IncludeKeys:   q.Get("include_keys") != "false",
		IncludeValues: q.Get("include_values") != "false",
		CountOnly:     q.Get("count_only") == "true",
	}
	if rp := q.Get("record_pointer"); rp != "" {
		if decoded, err := hex.DecodeString(rp); err == nil {
			proj.RecordPointerFilter = decoded
		}
	}
	return proj
}
