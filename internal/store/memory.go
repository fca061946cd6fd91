package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process engine. Documents are kept as JSON so they round-trip exactly
// like the postgres engine.
type Memory struct {
	mu      sync.RWMutex
	schemas map[string]Schema
	colls   map[string][]*memDoc
}

type memDoc struct {
	id     string
	raw    []byte
	fields map[string]any
}

type jsonDecoder []byte

func (d jsonDecoder) Decode(v any) error { return json.Unmarshal(d, v) }

// NewMemory returns an empty engine.
func NewMemory() *Memory {
	return &Memory{schemas: make(map[string]Schema), colls: make(map[string][]*memDoc)}
}

func (m *Memory) Migrate(_ context.Context, s Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[s.Name] = s
	if _, ok := m.colls[s.Name]; !ok {
		m.colls[s.Name] = nil
	}
	return nil
}

func (m *Memory) Insert(_ context.Context, coll, id string, doc any) error {
	d, err := newMemDoc(id, doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.colls[coll] {
		if other.id == id {
			return fmt.Errorf("%s: id %s: %w", coll, id, ErrDuplicate)
		}
	}
	if err := m.checkUnique(coll, d); err != nil {
		return err
	}
	m.colls[coll] = append(m.colls[coll], d)
	return nil
}

func (m *Memory) Replace(_ context.Context, coll, id string, doc any) error {
	d, err := newMemDoc(id, doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, other := range m.colls[coll] {
		if other.id != id {
			continue
		}
		if err := m.checkUnique(coll, d); err != nil {
			return err
		}
		m.colls[coll][i] = d
		return nil
	}
	return ErrNotFound
}

func (m *Memory) FindOne(ctx context.Context, coll string, q Query) (Decoder, error) {
	q.Limit = 1
	res, err := m.Find(ctx, coll, q)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	return res[0], nil
}

func (m *Memory) Find(_ context.Context, coll string, q Query) ([]Decoder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := m.filter(coll, q.Where)
	if q.Sort != nil {
		m.sortDocs(coll, docs, *q.Sort)
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	out := make([]Decoder, 0, len(docs))
	for _, d := range docs {
		out = append(out, jsonDecoder(d.raw))
	}
	return out, nil
}

func (m *Memory) Count(_ context.Context, coll string, conds ...Cond) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.filter(coll, conds))), nil
}

func (m *Memory) DeleteIDs(_ context.Context, coll string, ids []string) (int64, error) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.colls[coll][:0]
	var deleted int64
	for _, d := range m.colls[coll] {
		if _, ok := drop[d.id]; ok {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	m.colls[coll] = kept
	return deleted, nil
}

func (m *Memory) LatestBy(_ context.Context, coll, group string, s Sort) ([]Decoder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := m.filter(coll, nil)
	m.sortDocs(coll, docs, s)
	seen := make(map[string]struct{})
	var out []Decoder
	for _, d := range docs {
		key := fmt.Sprint(d.fields[group])
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, jsonDecoder(d.raw))
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error  { return nil }
func (m *Memory) Close(context.Context) error { return nil }

func newMemDoc(id string, doc any) (*memDoc, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return &memDoc{id: id, raw: raw, fields: fields}, nil
}

func (m *Memory) checkUnique(coll string, d *memDoc) error {
	for _, key := range m.schemas[coll].Unique {
		want := d.keyOf(key)
		for _, other := range m.colls[coll] {
			if other.id != d.id && other.keyOf(key) == want {
				return fmt.Errorf("%s: %s: %w", coll, strings.Join(key, ","), ErrDuplicate)
			}
		}
	}
	return nil
}

func (d *memDoc) keyOf(fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprint(d.value(f))
	}
	return strings.Join(parts, "\x00")
}

func (d *memDoc) value(field string) any {
	if field == IDField {
		return d.id
	}
	return d.fields[field]
}

// filter must be called with m.mu held.
func (m *Memory) filter(coll string, conds []Cond) []*memDoc {
	schema := m.schemas[coll]
	var out []*memDoc
	for _, d := range m.colls[coll] {
		if matchAll(schema, d, conds) {
			out = append(out, d)
		}
	}
	return out
}

func matchAll(s Schema, d *memDoc, conds []Cond) bool {
	for _, c := range conds {
		v := d.value(c.Field)
		if c.Op == OpExists {
			if v == nil || v == "" {
				return false
			}
			continue
		}
		cmp, ok := compareValues(v, c.Value, s.isTime(c.Field))
		if !ok {
			return false
		}
		switch c.Op {
		case OpEq:
			if cmp != 0 {
				return false
			}
		case OpGte:
			if cmp < 0 {
				return false
			}
		case OpLt:
			if cmp >= 0 {
				return false
			}
		}
	}
	return true
}

func (m *Memory) sortDocs(coll string, docs []*memDoc, s Sort) {
	isTime := m.schemas[coll].isTime(s.Field)
	sort.SliceStable(docs, func(i, j int) bool {
		cmp := compareForSort(docs[i].value(s.Field), docs[j].value(s.Field), isTime)
		if cmp == 0 {
			cmp = strings.Compare(docs[i].id, docs[j].id)
		}
		if s.Desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// compareForSort orders a missing value before any present one.
func compareForSort(a, b any, isTime bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	cmp, _ := compareValues(a, b, isTime)
	return cmp
}

// compareValues compares a stored JSON value with a query value or another stored value.
func compareValues(stored, want any, isTime bool) (int, bool) {
	if t, ok := timeValue(want); ok || isTime {
		a, aok := asTime(stored)
		b, bok := asTime(want)
		if ok {
			b, bok = t, true
		}
		if !aok || !bok {
			return 0, false
		}
		return a.Compare(b), true
	}
	switch w := want.(type) {
	case string:
		s, ok := stored.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(s, w), true
	case bool:
		b, ok := stored.(bool)
		if !ok {
			return 0, false
		}
		if b == w {
			return 0, true
		}
		if !b {
			return -1, true
		}
		return 1, true
	case nil:
		if stored == nil {
			return 0, true
		}
		return 1, true
	}
	a, aok := asFloat(stored)
	b, bok := asFloat(want)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case a < b:
		return -1, true
	case a > b:
		return 1, true
	}
	return 0, true
}

func asTime(v any) (time.Time, bool) {
	if t, ok := timeValue(v); ok {
		return t, true
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
