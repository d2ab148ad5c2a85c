package page

// List is an intrusive LRU list of pages. Front is the most recently used.
// The zero value is an empty list. Not safe for concurrent use.
type List struct {
	head, tail *Page
	len        int
}

func (l *List) Len() int {
	return l.len
}

func (l *List) PushFront(p *Page) {
	p.prev = nil
	p.next = l.head
	if l.head != nil {
		l.head.prev = p
	} else {
		l.tail = p
	}
	l.head = p
	l.len++
}

func (l *List) Remove(p *Page) {
	if p.prev != nil {
		p.prev.next = p.next
	} else if l.head == p {
		l.head = p.next
	} else {
		return // not linked
	}
	if p.next != nil {
		p.next.prev = p.prev
	} else {
		l.tail = p.prev
	}
	p.prev, p.next = nil, nil
	l.len--
}

func (l *List) MoveToFront(p *Page) {
	if l.head == p {
		return
	}
	l.Remove(p)
	l.PushFront(p)
}

// Back returns the least recently used page.
func (l *List) Back() *Page {
	return l.tail
}

// Prev returns the page used just after p, walking from the back.
func (l *List) Prev(p *Page) *Page {
	return p.prev
}
