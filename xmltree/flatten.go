package xmltree

// AttrKey is the reserved key under which Flatten exposes attributes.
const AttrKey = "$"

// TextKey holds character data of elements that also carry attributes or
// children.
const TextKey = "_"

// Flatten converts the tree into loosely typed maps, collapsing every
// single-element sequence to its sole element. A leaf element without
// attributes becomes its text.
func Flatten(n *Node) any {
	if n == nil {
		return nil
	}

	if len(n.elements) == 0 && len(n.Attrs) == 0 {
		return n.Text
	}

	out := make(map[string]any, len(n.Children)+1)
	if len(n.Attrs) > 0 {
		attrs := make(map[string]string, len(n.Attrs))
		for k, v := range n.Attrs {
			attrs[k] = v
		}
		out[AttrKey] = attrs
	}
	if n.Text != "" {
		out[TextKey] = n.Text
	}

	for name, list := range n.Children {
		if single, ok := Single(list); ok {
			out[name] = Flatten(single)
			continue
		}
		values := make([]any, 0, len(list))
		for _, child := range list {
			values = append(values, Flatten(child))
		}
		out[name] = values
	}

	return out
}

// Single unwraps a sequence holding exactly one element.
func Single[T any](list []T) (T, bool) {
	var zero T
	if len(list) != 1 {
		return zero, false
	}
	return list[0], true
}
