// Package indextest runs an in-process stand-in for the index service. It
// understands the subset of the query language datayard sends: *:*,
// field:value, field:[a TO b], bare terms against full_text, AND, and
// parentheses.
package indextest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type op struct {
	doc    map[string]any
	delete string
}

type core struct {
	docs    map[string]map[string]any
	order   []string
	pending []op
}

// Server is a fake index. Writes become visible on commit.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	cores     map[string]*core
	adds      int
	commits   int
	failAfter int
	failCode  int
}

// NewServer starts a fake index closed at test cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{cores: make(map[string]*core), failAfter: -1}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// FailAddsAfter makes every add request after the first n fail with status.
func (s *Server) FailAddsAfter(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
	s.failCode = status
}

// Adds is the number of add requests accepted.
func (s *Server) Adds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adds
}

// Commits is the number of commits applied.
func (s *Server) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Docs returns the committed documents of name matching query, in insertion
// order.
func (s *Server) Docs(name, query string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.core(name)
	m, err := parse(query)
	if err != nil {
		panic(err)
	}
	var out []map[string]any
	for _, id := range c.order {
		if d := c.docs[id]; m(d) {
			out = append(out, d)
		}
	}
	return out
}

// Count is len(Docs(name, query)).
func (s *Server) Count(name, query string) int { return len(s.Docs(name, query)) }

// Pending is the number of uncommitted operations on name.
func (s *Server) Pending(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.core(name).pending)
}

func (s *Server) core(name string) *core {
	c, ok := s.cores[name]
	if !ok {
		c = &core{docs: make(map[string]map[string]any)}
		s.cores[name] = c
	}
	return c
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	name, handler := parts[len(parts)-2], parts[len(parts)-1]
	switch {
	case handler == "update" && r.Method == http.MethodPost:
		s.update(w, r, name)
	case handler == "select" && r.Method == http.MethodGet:
		s.query(w, r, name)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, name string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.core(name)

	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		if s.failAfter >= 0 && s.adds >= s.failAfter {
			http.Error(w, `{"error":{"msg":"injected failure"}}`, s.failCode)
			return
		}
		var docs []map[string]any
		if err := json.Unmarshal(body, &docs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, d := range docs {
			if _, ok := d["id"]; !ok {
				http.Error(w, `{"error":{"msg":"missing id"}}`, http.StatusBadRequest)
				return
			}
		}
		for _, d := range docs {
			c.pending = append(c.pending, op{doc: d})
		}
		s.adds++
	} else {
		var cmd map[string]json.RawMessage
		if err := json.Unmarshal(body, &cmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if raw, ok := cmd["delete"]; ok {
			var del struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(raw, &del); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if _, err := parse(del.Query); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			c.pending = append(c.pending, op{delete: del.Query})
		}
		if _, ok := cmd["commit"]; ok {
			s.commit(c)
		}
	}
	if r.URL.Query().Get("commit") == "true" {
		s.commit(c)
	}
	writeJSON(w, map[string]any{"responseHeader": map[string]any{"status": 0}})
}

func (s *Server) commit(c *core) {
	for _, o := range c.pending {
		if o.doc != nil {
			id := fmt.Sprint(o.doc["id"])
			if _, exists := c.docs[id]; !exists {
				c.order = append(c.order, id)
			}
			c.docs[id] = o.doc
			continue
		}
		m, _ := parse(o.delete)
		kept := c.order[:0]
		for _, id := range c.order {
			if m(c.docs[id]) {
				delete(c.docs, id)
				continue
			}
			kept = append(kept, id)
		}
		c.order = kept
	}
	c.pending = nil
	s.commits++
}

func (s *Server) query(w http.ResponseWriter, r *http.Request, name string) {
	q := r.URL.Query()
	m, err := parse(q.Get("q"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start := atoi(q.Get("start"), 0)
	rows := atoi(q.Get("rows"), 10)

	s.mu.Lock()
	c := s.core(name)
	var hits []map[string]any
	for _, id := range c.order {
		if d := c.docs[id]; m(d) {
			hits = append(hits, d)
		}
	}
	s.mu.Unlock()

	if field, dir, ok := strings.Cut(q.Get("sort"), " "); ok {
		sort.SliceStable(hits, func(i, j int) bool {
			less := compare(hits[i][field], hits[j][field]) < 0
			if dir == "desc" {
				return compare(hits[i][field], hits[j][field]) > 0
			}
			return less
		})
	}

	if q.Get("group") == "true" {
		field := q.Get("group.field")
		writeJSON(w, map[string]any{
			"grouped": map[string]any{field: group(hits, field, start, rows,
				atoi(q.Get("group.limit"), 1), atoi(q.Get("group.offset"), 0))},
		})
		return
	}
	writeJSON(w, map[string]any{
		"response": map[string]any{"numFound": len(hits), "start": start, "docs": page(hits, start, rows)},
	})
}

func group(hits []map[string]any, field string, start, rows, limit, offset int) map[string]any {
	var keys []string
	members := make(map[string][]map[string]any)
	values := make(map[string]any)
	for _, d := range hits {
		v, ok := d[field]
		if !ok {
			continue
		}
		k := fmt.Sprint(v)
		if _, seen := members[k]; !seen {
			keys = append(keys, k)
			values[k] = v
		}
		members[k] = append(members[k], d)
	}
	groups := []map[string]any{}
	for _, k := range pageKeys(keys, start, rows) {
		groups = append(groups, map[string]any{
			"groupValue": values[k],
			"doclist": map[string]any{
				"numFound": len(members[k]),
				"start":    offset,
				"docs":     page(members[k], offset, limit),
			},
		})
	}
	return map[string]any{"matches": len(hits), "ngroups": len(keys), "groups": groups}
}

func page(docs []map[string]any, start, rows int) []map[string]any {
	out := []map[string]any{}
	for i := start; i < len(docs) && i < start+rows; i++ {
		out = append(out, docs[i])
	}
	return out
}

func pageKeys(keys []string, start, rows int) []string {
	if start >= len(keys) {
		return nil
	}
	end := start + rows
	if end > len(keys) {
		end = len(keys)
	}
	return keys[start:end]
}

func atoi(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
