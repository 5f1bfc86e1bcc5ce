package reduce

// NodeID indexes a node inside a Record's arena.
type NodeID int

const rootID NodeID = 0

type node struct {
	attrs     map[string]any
	slots     map[string]*slot
	slotOrder []string
}

type slot struct {
	toMany bool
	null   bool
	one    NodeID
	many   []NodeID
	index  map[string]NodeID
}

// Record is one reduced root entity with its nested related records. Nodes are
// stored in a flat arena and linked by index.
type Record struct {
	nodes []node
}

func newRecord(rootAttrs map[string]any) *Record {
	return &Record{nodes: []node{{attrs: rootAttrs}}}
}

// Root returns the root entity node.
func (r *Record) Root() Node {
	return Node{rec: r, id: rootID}
}

// Len is the number of nodes in the record, root included.
func (r *Record) Len() int {
	return len(r.nodes)
}

// Map renders the record as nested maps. One-to-one relations become a map or nil,
// one-to-many relations become a slice of maps in first-seen order.
func (r *Record) Map() map[string]any {
	return r.Root().Map()
}

// Node is a read-only handle on one entity inside a Record.
type Node struct {
	rec *Record
	id  NodeID
}

// ID is the node's arena index.
func (n Node) ID() NodeID {
	return n.id
}

// Attributes returns the entity's own column values.
func (n Node) Attributes() map[string]any {
	return n.rec.nodes[n.id].attrs
}

// Relations returns the relation names placed on this node, in placement order.
func (n Node) Relations() []string {
	return append([]string(nil), n.rec.nodes[n.id].slotOrder...)
}

// Slot describes the content of one relation on a node.
type Slot struct {
	ToMany bool
	// Null is set for a one-to-one relation whose related row was absent.
	Null bool
	One  Node
	Many []Node
}

// Slot returns the relation slot called name.
func (n Node) Slot(name string) (Slot, bool) {
	s, ok := n.rec.nodes[n.id].slots[name]
	if !ok {
		return Slot{}, false
	}
	out := Slot{ToMany: s.toMany, Null: s.null}
	if s.toMany {
		out.Many = make([]Node, len(s.many))
		for i, id := range s.many {
			out.Many[i] = Node{rec: n.rec, id: id}
		}
	} else if !s.null {
		out.One = Node{rec: n.rec, id: s.one}
	}
	return out, true
}

// One returns the one-to-one child called name. ok is false when the relation is
// absent or null.
func (n Node) One(name string) (Node, bool) {
	s, ok := n.rec.nodes[n.id].slots[name]
	if !ok || s.toMany || s.null {
		return Node{}, false
	}
	return Node{rec: n.rec, id: s.one}, true
}

// Many returns the one-to-many children called name in first-seen order.
func (n Node) Many(name string) []Node {
	s, ok := n.rec.nodes[n.id].slots[name]
	if !ok || !s.toMany {
		return nil
	}
	out := make([]Node, len(s.many))
	for i, id := range s.many {
		out[i] = Node{rec: n.rec, id: id}
	}
	return out
}

// Map renders the node and its descendants as nested maps.
func (n Node) Map() map[string]any {
	nd := n.rec.nodes[n.id]
	out := make(map[string]any, len(nd.attrs)+len(nd.slotOrder))
	for k, v := range nd.attrs {
		out[k] = v
	}
	for _, name := range nd.slotOrder {
		s := nd.slots[name]
		switch {
		case s.toMany:
			items := make([]map[string]any, len(s.many))
			for i, id := range s.many {
				items[i] = Node{rec: n.rec, id: id}.Map()
			}
			out[name] = items
		case s.null:
			out[name] = nil
		default:
			out[name] = Node{rec: n.rec, id: s.one}.Map()
		}
	}
	return out
}

// builder mutates a Record through get-or-create operations on child slots.
type builder struct {
	rec *Record
}

func (b builder) add(attrs map[string]any) NodeID {
	b.rec.nodes = append(b.rec.nodes, node{attrs: attrs})
	return NodeID(len(b.rec.nodes) - 1)
}

func (b builder) slot(parent NodeID, name string, toMany bool) (*slot, bool) {
	nd := &b.rec.nodes[parent]
	if s, ok := nd.slots[name]; ok {
		return s, false
	}
	if nd.slots == nil {
		nd.slots = make(map[string]*slot)
	}
	s := &slot{toMany: toMany}
	if toMany {
		s.index = make(map[string]NodeID)
	}
	nd.slots[name] = s
	nd.slotOrder = append(nd.slotOrder, name)
	return s, true
}

// ensureMany creates an empty collection slot if none exists yet.
func (b builder) ensureMany(parent NodeID, name string) {
	b.slot(parent, name, true)
}

// manyChild returns the collection entry for key, creating it from attrs on first sight.
func (b builder) manyChild(parent NodeID, name, key string, attrs func() map[string]any) NodeID {
	s, _ := b.slot(parent, name, true)
	if id, ok := s.index[key]; ok {
		return id
	}
	id := b.add(attrs())
	// b.add may grow the arena; s points into a map value and stays valid.
	s.index[key] = id
	s.many = append(s.many, id)
	return id
}

// oneChild returns the one-to-one child, filling it on first sight. ok is false
// when the slot holds an explicit null.
func (b builder) oneChild(parent NodeID, name string, fill func() (map[string]any, bool)) (NodeID, bool) {
	s, created := b.slot(parent, name, false)
	if created {
		attrs, present := fill()
		if !present {
			s.null = true
			return 0, false
		}
		s.one = b.add(attrs)
	}
	if s.null {
		return 0, false
	}
	return s.one, true
}
