package prosemirror

// Doc builds a resolved doc node from block children.
func Doc(blocks ...Node) *Node {
	root := &Node{Type: "doc", Content: blocks}
	root.resolve(false)
	return root
}

// Block builds a node of the given type around its children.
func Block(nodeType string, children ...Node) Node {
	return Node{Type: nodeType, Content: children}
}

// Paragraph builds a paragraph holding a single text run. An empty string
// gives an empty paragraph.
func Paragraph(text string) Node {
	if text == "" {
		return Node{Type: "paragraph"}
	}
	return Node{Type: "paragraph", Content: []Node{Text(text)}}
}

// Text builds a text node.
func Text(text string, marks ...string) Node {
	node := Node{Type: "text", Text: text}
	for _, mark := range marks {
		node.Marks = append(node.Marks, Mark{Type: mark})
	}
	return node
}

// Leaf builds a content-less node such as hardBreak or horizontalRule.
func Leaf(nodeType string) Node {
	return Node{Type: nodeType}
}
