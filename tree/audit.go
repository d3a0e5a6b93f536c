package tree

// AuditNode is one entry in a raw per-source side-tree. The side-trees
// preserve each source's native hierarchy exactly as reported, before
// root mapping, so curators can see where a mapping table disagrees
// with its source.
type AuditNode struct {
	// Label is the native segment, untouched.
	Label string `json:"label"`

	// Routes counts how many reported routes pass through this node.
	Routes int `json:"routes"`

	// Children holds nested segments keyed by label.
	Children map[string]*AuditNode `json:"children,omitempty"`
}

// BuildAudit folds raw source routes into one side-tree per source.
// Duplicate routes accumulate in the counts instead of repeating.
func BuildAudit(raw map[string][][]string) map[string]*AuditNode {
	if len(raw) == 0 {
		return nil
	}

	out := make(map[string]*AuditNode, len(raw))
	for source, routes := range raw {
		root := &AuditNode{Label: source}
		for _, route := range routes {
			insertRoute(root, route)
		}
		if len(root.Children) == 0 {
			continue
		}
		out[source] = root
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func insertRoute(root *AuditNode, route []string) {
	node := root
	for _, segment := range route {
		if segment == "" {
			continue
		}
		if node.Children == nil {
			node.Children = make(map[string]*AuditNode)
		}
		child, ok := node.Children[segment]
		if !ok {
			child = &AuditNode{Label: segment}
			node.Children[segment] = child
		}
		child.Routes++
		node = child
	}
}
