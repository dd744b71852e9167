package graph

import "encoding/json"

// ToSerialized marshals the tree rooted at n. Prev is tagged json:"-" so the
// serialized form carries no back-references (spec §3.4, P5).
func ToSerialized(n *Node) ([]byte, error) {
	return json.Marshal(n)
}

// FromSerialized unmarshals raw into a tree and rebuilds every Prev pointer
// (spec §4.3 fromSerialized()).
func FromSerialized(raw []byte) (*Node, error) {
	var root Node
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, err
	}
	linkPrev(&root, nil)
	return &root, nil
}

// linkPrev walks the tree setting Prev on every reachable node.
func linkPrev(n *Node, parent *Node) {
	if n == nil {
		return
	}
	n.Prev = parent
	switch n.Kind {
	case KindGroup:
		for _, agent := range n.Agents {
			linkPrev(agent, n)
		}
	case KindBranch:
		for _, entry := range n.Branches {
			linkPrev(entry.Node, n)
		}
	}
	if n.Next != nil {
		linkPrev(n.Next, n)
	}
}
