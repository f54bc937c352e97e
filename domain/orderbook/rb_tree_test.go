package orderbook

import (
	"math/rand"
	"sort"
	"testing"
)

func TestRBTreeGetOrCreateFindDelete(t *testing.T) {
	tree := NewRBTree()
	pl1 := tree.GetOrCreate(100)
	if pl1 == nil {
		t.Fatal("GetOrCreate failed")
	}
	if pl2 := tree.Find(100); pl2 != pl1 {
		t.Error("Find did not return same PriceLevel")
	}

	tree.GetOrCreate(200)
	if tree.BestMin().Price != 100 {
		t.Error("expected min=100")
	}
	if tree.BestMax().Price != 200 {
		t.Error("expected max=200")
	}

	if !tree.Delete(100) {
		t.Error("Delete failed")
	}
	if tree.Find(100) != nil {
		t.Error("expected level 100 to be gone")
	}
	if tree.Len() != 1 {
		t.Errorf("Len = %d, want 1", tree.Len())
	}
}

// --- Edge Cases ---

func TestDeleteNonExistentLevel(t *testing.T) {
	tree := NewRBTree()
	if tree.Delete(123) {
		t.Error("expected false when deleting non-existent level")
	}
}

func TestEmptyTreeMinMax(t *testing.T) {
	tree := NewRBTree()
	if tree.BestMin() != nil || tree.BestMax() != nil {
		t.Error("expected nil for min/max on empty tree")
	}
}

func TestGetOrCreateDuplicateLevel(t *testing.T) {
	tree := NewRBTree()
	pl1 := tree.GetOrCreate(150)
	pl2 := tree.GetOrCreate(150)
	if pl1 != pl2 {
		t.Error("GetOrCreate should return the same level for a duplicate price")
	}
	if tree.Len() != 1 {
		t.Errorf("Len = %d, want 1", tree.Len())
	}
}

func TestRBTreeRandomizedOrdering(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tree := NewRBTree()
	live := map[int64]bool{}

	for i := 0; i < 2000; i++ {
		p := rng.Int63n(500)
		if rng.Intn(3) == 0 {
			if tree.Delete(p) != live[p] {
				t.Fatalf("Delete(%d) disagreed with model", p)
			}
			delete(live, p)
			continue
		}
		tree.GetOrCreate(p)
		live[p] = true
	}

	want := make([]int64, 0, len(live))
	for p := range live {
		want = append(want, p)
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	var asc []int64
	tree.Ascend(func(l *PriceLevel) bool {
		asc = append(asc, l.Price)
		return true
	})
	if len(asc) != len(want) {
		t.Fatalf("ascend visited %d levels, want %d", len(asc), len(want))
	}
	for i := range want {
		if asc[i] != want[i] {
			t.Fatalf("ascend[%d] = %d, want %d", i, asc[i], want[i])
		}
	}

	var desc []int64
	tree.Descend(func(l *PriceLevel) bool {
		desc = append(desc, l.Price)
		return true
	})
	for i := range desc {
		if desc[i] != want[len(want)-1-i] {
			t.Fatalf("descend[%d] = %d, want %d", i, desc[i], want[len(want)-1-i])
		}
	}
	if tree.Len() != len(want) {
		t.Errorf("Len = %d, want %d", tree.Len(), len(want))
	}
	checkRedBlack(t, tree)
}

// checkRedBlack asserts the red-black invariants: black root, no red node
// with a red child, equal black height on every path.
func checkRedBlack(t *testing.T, tree *RBTree) {
	t.Helper()
	if tree.root.color != black {
		t.Fatal("root is red")
	}
	var height func(n *rbNode) int
	height = func(n *rbNode) int {
		if n == tree.nil {
			return 1
		}
		if n.color == red && (n.left.color == red || n.right.color == red) {
			t.Fatalf("red node %d has a red child", n.key)
		}
		l, r := height(n.left), height(n.right)
		if l != r {
			t.Fatalf("black height mismatch under %d: %d vs %d", n.key, l, r)
		}
		if n.color == black {
			return l + 1
		}
		return l
	}
	height(tree.root)
}
