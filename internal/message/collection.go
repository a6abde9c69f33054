package message

// Collection is the ordered set of accepted messages. It holds at most one
// message per non-empty ID: admitting a message whose ID is already present
// removes the earlier one and appends the new one at the end. The newcomer
// inherits body, group and attachments from the removed message when it has
// none of its own.
//
// Collection is not safe for concurrent use.
type Collection struct {
	slots []*Message // nil marks a replaced entry
	index map[string]int
	live  int
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{index: make(map[string]int)}
}

// Admit adds m and reports whether it replaced an entry with the same ID.
func (c *Collection) Admit(m *Message) bool {
	if m == nil {
		return false
	}
	if c.index == nil {
		c.index = make(map[string]int)
	}

	replaced := false
	if m.ID != "" {
		if pos, ok := c.index[m.ID]; ok {
			m.backfill(c.slots[pos])
			c.slots[pos] = nil
			c.live--
			replaced = true
		}
		c.index[m.ID] = len(c.slots)
	}
	c.slots = append(c.slots, m)
	c.live++

	// Keep tombstones from dominating after many replacements.
	if len(c.slots) > 64 && c.live < len(c.slots)/2 {
		c.compact()
	}
	return replaced
}

// Get returns the message with the given ID.
func (c *Collection) Get(id string) (*Message, bool) {
	if id == "" {
		return nil, false
	}
	pos, ok := c.index[id]
	if !ok {
		return nil, false
	}
	return c.slots[pos], true
}

// Len returns the number of live messages.
func (c *Collection) Len() int {
	return c.live
}

// Messages returns the live messages in admission order. The slice is fresh
// but the messages are shared.
func (c *Collection) Messages() []*Message {
	out := make([]*Message, 0, c.live)
	for _, m := range c.slots {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *Collection) compact() {
	slots := make([]*Message, 0, c.live)
	for _, m := range c.slots {
		if m == nil {
			continue
		}
		if m.ID != "" {
			c.index[m.ID] = len(slots)
		}
		slots = append(slots, m)
	}
	c.slots = slots
}
