package graph

// Element is one node or edge in the cytoscape.js elements format.
type Element struct {
	Data map[string]any `json:"data"`
}

// Elements flattens g into nodes followed by edges.
func (g Graph) Elements() []Element {
	out := make([]Element, 0, len(g.Nodes)+len(g.Edges))
	for _, n := range g.Nodes {
		data := map[string]any{
			"id":   n.ID,
			"kind": n.Kind,
			"name": n.Name,
		}
		if n.Kind == KindItem {
			data["path"] = n.Path
			data["caption"] = n.Caption
			data["type"] = n.Type
		} else {
			data["type"] = KindConcept
		}
		out = append(out, Element{Data: data})
	}
	for _, e := range g.Edges {
		out = append(out, Element{Data: map[string]any{
			"id":     e.Source + "__" + e.Target,
			"source": e.Source,
			"target": e.Target,
			"type":   e.Kind,
			"weight": e.Weight,
		}})
	}
	return out
}
