package orderbook

// PriceLevel is a FIFO queue of resting orders at one price, kept in
// arrival (Seq) order.
type PriceLevel struct {
	Price int64

	head *Order
	tail *Order

	TotalQty   int64
	OrderCount int
}

// Enqueue links o into the level. Arrivals almost always carry the highest
// Seq so the scan from the tail stops immediately; replayed orders may land
// further in.
func (p *PriceLevel) Enqueue(o *Order) {
	at := p.tail
	for at != nil && at.Seq > o.Seq {
		at = at.prev
	}

	if at == nil {
		o.prev = nil
		o.next = p.head
		if p.head != nil {
			p.head.prev = o
		}
		p.head = o
		if p.tail == nil {
			p.tail = o
		}
	} else {
		o.prev = at
		o.next = at.next
		if at.next != nil {
			at.next.prev = o
		} else {
			p.tail = o
		}
		at.next = o
	}

	p.TotalQty += o.Remaining()
	p.OrderCount++
}

func (p *PriceLevel) unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.next, o.prev = nil, nil

	p.TotalQty -= o.Remaining()
	p.OrderCount--
}

func (p *PriceLevel) PopHead() *Order {
	o := p.head
	if o == nil {
		return nil
	}
	p.unlink(o)
	return o
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// Read-only helper
func (p *PriceLevel) Head() *Order {
	return p.head
}
