// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog aggregates the operations of every discovered service
// into an immutable, keyword-indexed snapshot, and owns the registry that
// swaps snapshots in when services are registered or refreshed.
package catalog

import (
	"sort"
	"strings"
)

// Catalog is a read-only snapshot of all registered services. A query
// holds on to the snapshot it started with for its whole lifetime.
type Catalog struct {
	version  uint64
	services map[string]*ServiceDescriptor
	order    []string
	ops      []indexedOp
	index    map[string][]int
}

type indexedOp struct {
	op        Operation
	compact   string
	nameWords []string
	descWords map[string]struct{}
}

// Match is one Lookup result.
type Match struct {
	Operation Operation `json:"operation"`
	// Substring is set when the compacted keyword and the operation name
	// contain one another.
	Substring bool `json:"substring"`
	// NameHits counts operation-name words found among the keywords.
	NameHits int `json:"nameHits"`
	// DescHits counts keywords found in the operation description.
	DescHits int `json:"descHits"`
	// Confidence is 1 for substring matches, otherwise the fraction of
	// operation-name words the keywords cover.
	Confidence float64 `json:"confidence"`
}

// Empty returns a catalog with no services.
func Empty() *Catalog {
	return newCatalog(0, nil, nil)
}

// New builds a standalone snapshot from descriptors, in the given order.
// Later descriptors with a repeated id replace earlier ones in place.
func New(descs ...*ServiceDescriptor) *Catalog {
	services := make(map[string]*ServiceDescriptor, len(descs))
	var order []string
	for _, d := range descs {
		if d == nil {
			continue
		}
		if _, ok := services[d.ID]; !ok {
			order = append(order, d.ID)
		}
		services[d.ID] = d
	}
	return newCatalog(0, services, order)
}

func newCatalog(version uint64, services map[string]*ServiceDescriptor, order []string) *Catalog {
	c := &Catalog{
		version:  version,
		services: make(map[string]*ServiceDescriptor, len(services)),
		order:    append([]string(nil), order...),
		index:    make(map[string][]int),
	}
	for id, d := range services {
		c.services[id] = d
	}
	for _, id := range c.order {
		d, ok := c.services[id]
		if !ok {
			continue
		}
		for _, op := range d.Operations {
			io := indexedOp{
				op:        op,
				compact:   compactKeyword(op.Name),
				nameWords: Keywords(op.Name),
				descWords: make(map[string]struct{}),
			}
			for _, w := range Keywords(op.Description) {
				io.descWords[w] = struct{}{}
			}
			pos := len(c.ops)
			c.ops = append(c.ops, io)
			terms := make(map[string]struct{})
			for _, w := range io.nameWords {
				terms[w] = struct{}{}
			}
			for w := range io.descWords {
				terms[w] = struct{}{}
			}
			for w := range terms {
				c.index[w] = append(c.index[w], pos)
			}
		}
	}
	return c
}

// Version increases every time the registry publishes a new snapshot.
func (c *Catalog) Version() uint64 {
	return c.version
}

// Len returns the number of services in the snapshot.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Services returns the descriptors in registration order.
func (c *Catalog) Services() []*ServiceDescriptor {
	out := make([]*ServiceDescriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.services[id])
	}
	return out
}

// Service returns the descriptor for id.
func (c *Catalog) Service(id string) (*ServiceDescriptor, bool) {
	d, ok := c.services[id]
	return d, ok
}

// Operations returns every operation in registration order.
func (c *Catalog) Operations() []Operation {
	out := make([]Operation, len(c.ops))
	for i, io := range c.ops {
		out[i] = io.op
	}
	return out
}

// Operation returns the operation identified by ref.
func (c *Catalog) Operation(ref OperationRef) (Operation, bool) {
	d, ok := c.services[ref.ServiceID]
	if !ok {
		return Operation{}, false
	}
	for _, op := range d.Operations {
		if op.Name == ref.Name {
			return op, true
		}
	}
	return Operation{}, false
}

// FindOperation returns the first operation named name in registration
// order, for callers that only know the operation name.
func (c *Catalog) FindOperation(name string) (Operation, bool) {
	for _, io := range c.ops {
		if io.op.Name == name {
			return io.op, true
		}
	}
	return Operation{}, false
}

// Lookup ranks operations against keyword, which may be a single word or
// a whole clause. Ranking is deterministic: substring matches first, then
// operation-name word hits, then description keyword overlap, then
// registration order. Operations that match nothing are omitted.
func (c *Catalog) Lookup(keyword string) []Match {
	terms := Keywords(keyword)
	compact := compactKeyword(keyword)

	candidates := make(map[int]struct{})
	for _, t := range terms {
		for _, pos := range c.index[t] {
			candidates[pos] = struct{}{}
		}
	}
	if len(compact) >= 3 {
		for pos, io := range c.ops {
			if substringMatch(io.compact, compact) {
				candidates[pos] = struct{}{}
			}
		}
	}

	termSet := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		termSet[t] = struct{}{}
	}

	type ranked struct {
		pos int
		m   Match
	}
	results := make([]ranked, 0, len(candidates))
	for pos := range candidates {
		io := c.ops[pos]
		m := Match{Operation: io.op}
		m.Substring = len(compact) >= 3 && substringMatch(io.compact, compact)
		for _, w := range io.nameWords {
			if _, ok := termSet[w]; ok {
				m.NameHits++
			}
		}
		for t := range termSet {
			if _, ok := io.descWords[t]; ok {
				m.DescHits++
			}
		}
		switch {
		case m.Substring:
			m.Confidence = 1
		case len(io.nameWords) > 0:
			m.Confidence = float64(m.NameHits) / float64(len(io.nameWords))
		}
		results = append(results, ranked{pos: pos, m: m})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i].m, results[j].m
		if a.Substring != b.Substring {
			return a.Substring
		}
		if a.NameHits != b.NameHits {
			return a.NameHits > b.NameHits
		}
		if a.DescHits != b.DescHits {
			return a.DescHits > b.DescHits
		}
		return results[i].pos < results[j].pos
	})

	out := make([]Match, len(results))
	for i, r := range results {
		out[i] = r.m
	}
	return out
}

func compactKeyword(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func substringMatch(opName, compact string) bool {
	return strings.Contains(opName, compact) || (len(opName) >= 3 && strings.Contains(compact, opName))
}
