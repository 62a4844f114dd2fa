// Package graph rebuilds the item/concept graph from stored items on demand.
// Nothing is cached between builds.
package graph

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kalambet/imgraph/internal/storage"
)

// Node kinds.
const (
	KindItem    = "item"
	KindConcept = "concept"
)

// Edge kinds.
const (
	EdgeHasConcept   = "has_concept"
	EdgeCoOccurrence = "co_occurrence"
	EdgeSimilar      = "similar"
)

// DefaultThreshold is the similarity threshold used when none is given.
const DefaultThreshold = 0.7

// Node is an item or a concept.
type Node struct {
	ID      string
	Kind    string
	Name    string
	Path    string // items only
	Caption string // items only
	Type    string // items only: image or text
}

// Edge links two nodes. Weight is 1 for has_concept, the shared item count
// for co_occurrence, and the cosine similarity for similar.
type Edge struct {
	Source string
	Target string
	Kind   string
	Weight float64
}

// Graph is the result of one build. Nodes are ordered items first (ascending
// id), then concepts by first sight. Edges are ordered by creation.
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// Source is the read side of the store used by Build.
type Source interface {
	ListItems() ([]storage.ItemSummary, error)
	ListEmbeddings() ([]int64, [][]float32, error)
}

// Builder builds graphs from a Source.
type Builder struct {
	src    Source
	logger *slog.Logger
}

// NewBuilder creates a Builder reading from src.
func NewBuilder(src Source) *Builder {
	return &Builder{src: src, logger: slog.Default()}
}

// ItemID returns the node id of the item with database id id.
func ItemID(id int64) string {
	return "item_" + strconv.FormatInt(id, 10)
}

// ConceptID returns the node id for a normalized concept name.
func ConceptID(name string) string {
	return "concept_" + name
}

// NormalizeTag lowercases and trims tag. It reports false for tags shorter
// than two characters after normalization.
func NormalizeTag(tag string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(tag))
	if len([]rune(t)) < 2 {
		return "", false
	}
	return t, true
}

type pairKey struct{ a, b string }

// edgeSet keeps edges in creation order with O(1) lookup by unordered pair.
type edgeSet struct {
	edges []Edge
	index map[pairKey]int
}

func newEdgeSet() *edgeSet {
	return &edgeSet{index: make(map[pairKey]int)}
}

func key(u, v string) pairKey {
	if u > v {
		u, v = v, u
	}
	return pairKey{u, v}
}

// set creates the edge or overwrites its weight.
func (s *edgeSet) set(src, dst, kind string, w float64) {
	k := key(src, dst)
	if i, ok := s.index[k]; ok {
		s.edges[i].Weight = w
		return
	}
	s.index[k] = len(s.edges)
	s.edges = append(s.edges, Edge{Source: src, Target: dst, Kind: kind, Weight: w})
}

// inc creates the edge at weight 1 or adds 1 to it.
func (s *edgeSet) inc(src, dst, kind string) {
	k := key(src, dst)
	if i, ok := s.index[k]; ok {
		s.edges[i].Weight++
		return
	}
	s.index[k] = len(s.edges)
	s.edges = append(s.edges, Edge{Source: src, Target: dst, Kind: kind, Weight: 1})
}

// Build loads every item and embedding and returns the graph for threshold.
func (b *Builder) Build(threshold float64) (Graph, error) {
	items, err := b.src.ListItems()
	if err != nil {
		return Graph{}, fmt.Errorf("listing items: %w", err)
	}
	ids, vecs, err := b.src.ListEmbeddings()
	if err != nil {
		return Graph{}, fmt.Errorf("listing embeddings: %w", err)
	}
	if len(ids) != len(vecs) {
		return Graph{}, fmt.Errorf("embedding ids and vectors differ in length: %d != %d", len(ids), len(vecs))
	}

	var g Graph
	edges := newEdgeSet()
	concepts := make(map[string]bool)
	var conceptNodes []Node
	known := make(map[int64]bool, len(items))

	for _, it := range items {
		nodeID := ItemID(it.ID)
		known[it.ID] = true
		g.Nodes = append(g.Nodes, Node{
			ID:      nodeID,
			Kind:    KindItem,
			Name:    filepath.Base(it.Path),
			Path:    it.Path,
			Caption: it.Caption,
			Type:    it.Type,
		})

		conceptIDs := make([]string, 0, len(it.Tags))
		seen := make(map[string]bool, len(it.Tags))
		for _, tag := range it.Tags {
			name, ok := NormalizeTag(tag)
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			cid := ConceptID(name)
			if !concepts[cid] {
				concepts[cid] = true
				conceptNodes = append(conceptNodes, Node{ID: cid, Kind: KindConcept, Name: name})
			}
			edges.set(nodeID, cid, EdgeHasConcept, 1)
			conceptIDs = append(conceptIDs, cid)
		}

		for i := 0; i < len(conceptIDs); i++ {
			for j := i + 1; j < len(conceptIDs); j++ {
				edges.inc(conceptIDs[i], conceptIDs[j], EdgeCoOccurrence)
			}
		}
	}
	g.Nodes = append(g.Nodes, conceptNodes...)

	b.addSimilarity(edges, known, ids, vecs, threshold)

	g.Edges = edges.edges
	return g, nil
}

// addSimilarity adds one similar edge per item pair at or above threshold.
// Vectors of unknown items, zero vectors and mismatched dimensions are skipped.
func (b *Builder) addSimilarity(edges *edgeSet, known map[int64]bool, ids []int64, vecs [][]float32, threshold float64) {
	type entry struct {
		id   int64
		vec  []float32
		norm float64
	}
	var entries []entry
	for i, id := range ids {
		if !known[id] || len(vecs[i]) == 0 {
			continue
		}
		n := norm(vecs[i])
		if n == 0 {
			continue
		}
		entries = append(entries, entry{id: id, vec: vecs[i], norm: n})
	}
	if len(entries) < 2 {
		return
	}

	skipped := 0
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			a, c := entries[i], entries[j]
			if a.id == c.id {
				continue
			}
			if len(a.vec) != len(c.vec) {
				skipped++
				continue
			}
			sim := dot(a.vec, c.vec) / (a.norm * c.norm)
			if sim >= threshold {
				edges.set(ItemID(a.id), ItemID(c.id), EdgeSimilar, sim)
			}
		}
	}
	if skipped > 0 {
		b.logger.Warn("skipped similarity pairs with mismatched embedding dimensions", "pairs", skipped)
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
