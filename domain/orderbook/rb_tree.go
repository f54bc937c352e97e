package orderbook

type color bool

const (
	red   color = false
	black color = true
)

type rbNode struct {
	key    int64
	level  *PriceLevel
	color  color
	left   *rbNode
	right  *rbNode
	parent *rbNode
}

// RBTree indexes price levels by price. A shared black sentinel stands in
// for every leaf and for the root's parent.
type RBTree struct {
	root *rbNode
	nil  *rbNode
	size int
}

func NewRBTree() *RBTree {
	sentinel := &rbNode{color: black}
	return &RBTree{
		root: sentinel,
		nil:  sentinel,
	}
}

// Len is the number of price levels.
func (t *RBTree) Len() int { return t.size }

// ---- public API ----

func (t *RBTree) GetOrCreate(price int64) *PriceLevel {
	parent := t.nil
	cur := t.root
	for cur != t.nil {
		parent = cur
		switch {
		case price < cur.key:
			cur = cur.left
		case price > cur.key:
			cur = cur.right
		default:
			return cur.level
		}
	}

	lvl := &PriceLevel{Price: price}
	n := &rbNode{
		key:    price,
		level:  lvl,
		color:  red,
		left:   t.nil,
		right:  t.nil,
		parent: parent,
	}
	switch {
	case parent == t.nil:
		t.root = n
	case price < parent.key:
		parent.left = n
	default:
		parent.right = n
	}
	t.fixInsert(n)
	t.size++
	return lvl
}

func (t *RBTree) Find(price int64) *PriceLevel {
	n := t.find(price)
	if n == t.nil {
		return nil
	}
	return n.level
}

// Delete drops the level at price and reports whether it existed.
func (t *RBTree) Delete(price int64) bool {
	n := t.find(price)
	if n == t.nil {
		return false
	}
	t.remove(n)
	t.size--
	return true
}

func (t *RBTree) BestMin() *PriceLevel {
	n := t.min(t.root)
	if n == t.nil {
		return nil
	}
	return n.level
}

func (t *RBTree) BestMax() *PriceLevel {
	n := t.max(t.root)
	if n == t.nil {
		return nil
	}
	return n.level
}

// ---- walkers ----

// Ascend visits levels from the lowest price until fn returns false.
func (t *RBTree) Ascend(fn func(*PriceLevel) bool) {
	for n := t.min(t.root); n != t.nil; n = t.next(n) {
		if !fn(n.level) {
			return
		}
	}
}

// Descend visits levels from the highest price until fn returns false.
func (t *RBTree) Descend(fn func(*PriceLevel) bool) {
	for n := t.max(t.root); n != t.nil; n = t.prev(n) {
		if !fn(n.level) {
			return
		}
	}
}

// ---- internal helpers ----

func (t *RBTree) find(price int64) *rbNode {
	n := t.root
	for n != t.nil {
		switch {
		case price < n.key:
			n = n.left
		case price > n.key:
			n = n.right
		default:
			return n
		}
	}
	return t.nil
}

func (t *RBTree) min(n *rbNode) *rbNode {
	for n != t.nil && n.left != t.nil {
		n = n.left
	}
	return n
}

func (t *RBTree) max(n *rbNode) *rbNode {
	for n != t.nil && n.right != t.nil {
		n = n.right
	}
	return n
}

func (t *RBTree) next(n *rbNode) *rbNode {
	if n.right != t.nil {
		return t.min(n.right)
	}
	p := n.parent
	for p != t.nil && n == p.right {
		n = p
		p = p.parent
	}
	return p
}

func (t *RBTree) prev(n *rbNode) *rbNode {
	if n.left != t.nil {
		return t.max(n.left)
	}
	p := n.parent
	for p != t.nil && n == p.left {
		n = p
		p = p.parent
	}
	return p
}

func (t *RBTree) rotateLeft(x *rbNode) {
	y := x.right
	x.right = y.left
	if y.left != t.nil {
		y.left.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == t.nil:
		t.root = y
	case x == x.parent.left:
		x.parent.left = y
	default:
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *RBTree) rotateRight(x *rbNode) {
	y := x.left
	x.left = y.right
	if y.right != t.nil {
		y.right.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == t.nil:
		t.root = y
	case x == x.parent.right:
		x.parent.right = y
	default:
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func (t *RBTree) fixInsert(n *rbNode) {
	for n.parent.color == red {
		gp := n.parent.parent
		if n.parent == gp.left {
			uncle := gp.right
			if uncle.color == red {
				n.parent.color = black
				uncle.color = black
				gp.color = red
				n = gp
				continue
			}
			if n == n.parent.right {
				n = n.parent
				t.rotateLeft(n)
			}
			n.parent.color = black
			n.parent.parent.color = red
			t.rotateRight(n.parent.parent)
		} else {
			uncle := gp.left
			if uncle.color == red {
				n.parent.color = black
				uncle.color = black
				gp.color = red
				n = gp
				continue
			}
			if n == n.parent.left {
				n = n.parent
				t.rotateRight(n)
			}
			n.parent.color = black
			n.parent.parent.color = red
			t.rotateLeft(n.parent.parent)
		}
	}
	t.root.color = black
}

func (t *RBTree) replace(u, v *rbNode) {
	switch {
	case u.parent == t.nil:
		t.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *RBTree) remove(z *rbNode) {
	y := z
	removedColor := y.color
	var x *rbNode

	switch {
	case z.left == t.nil:
		x = z.right
		t.replace(z, z.right)
	case z.right == t.nil:
		x = z.left
		t.replace(z, z.left)
	default:
		y = t.min(z.right)
		removedColor = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.replace(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.replace(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if removedColor == black {
		t.fixDelete(x)
	}
	// the sentinel's parent is scratch space during fixDelete
	t.nil.parent = t.nil
}

func (t *RBTree) fixDelete(x *rbNode) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rotateLeft(x.parent)
				w = x.parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
				continue
			}
			if w.right.color == black {
				w.left.color = black
				w.color = red
				t.rotateRight(w)
				w = x.parent.right
			}
			w.color = x.parent.color
			x.parent.color = black
			w.right.color = black
			t.rotateLeft(x.parent)
			x = t.root
		} else {
			w := x.parent.left
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rotateRight(x.parent)
				w = x.parent.left
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
				continue
			}
			if w.left.color == black {
				w.right.color = black
				w.color = red
				t.rotateLeft(w)
				w = x.parent.left
			}
			w.color = x.parent.color
			x.parent.color = black
			w.left.color = black
			t.rotateRight(x.parent)
			x = t.root
		}
	}
	x.color = black
}
