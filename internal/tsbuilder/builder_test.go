package tsbuilder

import (
	"reflect"
	"testing"
)

func TestUpdateOrderings(t *testing.T) {
	b := NewBuilder(4)
	root := b.AddNode(10, false) // id 0
	_ = root
	err := b.Update(UpdateBatch{
		NumNewNodes: 2, // ids 1, 2
		Age:         5,
		Edges: []Edge{
			{Left: 0, Right: 2, Parent: 0, Child: 1},
			{Left: 2, Right: 4, Parent: 0, Child: 2},
		},
	}, RewriteOptions{})
	if err != nil {
		t.Fatalf("Update() unexpected error: %v", err)
	}
	if b.NumNodes() != 3 || b.NumEdges() != 2 {
		t.Fatalf("got %d nodes, %d edges; want 3, 2", b.NumNodes(), b.NumEdges())
	}
	ins := b.InsertionOrder()
	rem := b.RemovalOrder()
	if len(ins) != 2 || len(rem) != 2 {
		t.Fatalf("orderings have wrong length: ins=%v rem=%v", ins, rem)
	}
	// both edges share parent time, so insertion order follows ascending left.
	if b.Edges()[ins[0]].Left != 0 || b.Edges()[ins[1]].Left != 2 {
		t.Errorf("insertion order not sorted by left: %v", ins)
	}
	if b.Edges()[rem[0]].Right != 2 || b.Edges()[rem[1]].Right != 4 {
		t.Errorf("removal order not sorted by right: %v", rem)
	}
}

func TestUpdateRejectsBadInterval(t *testing.T) {
	b := NewBuilder(4)
	b.AddNode(1, false)
	b.AddNode(0, true)
	err := b.Update(UpdateBatch{
		Edges: []Edge{{Left: 3, Right: 1, Parent: 0, Child: 1}},
	}, RewriteOptions{})
	if err == nil {
		t.Fatal("Update() expected error for left >= right, got nil")
	}
}

func TestBreakPolytomies(t *testing.T) {
	// parent 0 has two distinct intervals; one of them ([0,2)) has 3 children
	// sharing it, so it must be factored through a new node.
	b := NewBuilder(4)
	b.AddNode(10, false) // parent 0
	b.AddNode(1, true)   // child 1
	b.AddNode(1, true)   // child 2
	b.AddNode(1, true)   // child 3
	b.AddNode(1, true)   // child 4
	err := b.Update(UpdateBatch{
		Edges: []Edge{
			{Left: 0, Right: 2, Parent: 0, Child: 1},
			{Left: 0, Right: 2, Parent: 0, Child: 2},
			{Left: 0, Right: 2, Parent: 0, Child: 3},
			{Left: 2, Right: 4, Parent: 0, Child: 4},
		},
	}, RewriteOptions{BreakPolytomies: true})
	if err != nil {
		t.Fatalf("Update() unexpected error: %v", err)
	}
	if b.NumNodes() != 6 {
		t.Fatalf("got %d nodes, want 6 (5 original + 1 polytomy node)", b.NumNodes())
	}
	newNode := int32(5)
	countToNew := 0
	foundConnector := false
	for _, e := range b.Edges() {
		if e.Child == newNode && e.Parent == 0 {
			foundConnector = true
			if e.Left != 0 || e.Right != 2 {
				t.Errorf("connector edge interval = [%d,%d), want [0,2)", e.Left, e.Right)
			}
		}
		if e.Parent == newNode {
			countToNew++
		}
	}
	if !foundConnector {
		t.Error("expected a connector edge (0 -> new node) over [0,2)")
	}
	if countToNew != 3 {
		t.Errorf("got %d edges redirected to new node, want 3", countToNew)
	}
	// each child's own interval (the only edge it has in this fixture) must
	// survive the rewrite untouched.
	assertCoverage(t, b, 1, 0, 2)
	assertCoverage(t, b, 4, 2, 4)
}

func TestReplaceSharedRecombinations(t *testing.T) {
	// children 1 and 2 both inherit segment [0,2) from parent 10 and
	// segment [2,4) from parent 11, in that contiguous order: a shared
	// recombination chain factorable through one new node.
	b := NewBuilder(4)
	for i := 0; i < 2; i++ {
		b.AddNode(20, false) // ids 0, 1 (unused placeholders to keep ids tidy)
	}
	p10 := b.AddNode(10, false) // id 2
	p11 := b.AddNode(11, false) // id 3
	c1 := b.AddNode(1, true)    // id 4
	c2 := b.AddNode(1, true)    // id 5
	err := b.Update(UpdateBatch{
		Edges: []Edge{
			{Left: 0, Right: 2, Parent: p10, Child: c1},
			{Left: 2, Right: 4, Parent: p11, Child: c1},
			{Left: 0, Right: 2, Parent: p10, Child: c2},
			{Left: 2, Right: 4, Parent: p11, Child: c2},
		},
	}, RewriteOptions{ReplaceRecombinations: true})
	if err != nil {
		t.Fatalf("Update() unexpected error: %v", err)
	}
	if b.NumNodes() != 7 {
		t.Fatalf("got %d nodes, want 7 (6 original + 1 factored node)", b.NumNodes())
	}
	newNode := int32(6)
	var toC1, toC2 bool
	var segLeft, segRight int
	for _, e := range b.Edges() {
		if e.Parent == newNode && e.Child == c1 {
			toC1 = true
			segLeft, segRight = e.Left, e.Right
		}
		if e.Parent == newNode && e.Child == c2 {
			toC2 = true
		}
	}
	if !toC1 || !toC2 {
		t.Fatalf("expected factored node to connect to both c1 and c2")
	}
	if segLeft != 0 || segRight != 4 {
		t.Errorf("factored edge span = [%d,%d), want [0,4)", segLeft, segRight)
	}
	assertCoverage(t, b, c1, 0, 4)
	assertCoverage(t, b, c2, 0, 4)
}

// assertCoverage checks that the union of edge intervals with child = c
// is exactly [from, to) and pairwise disjoint.
func assertCoverage(t *testing.T, b *Builder, c int32, from, to int) {
	t.Helper()
	var ivs []interval
	for _, e := range b.Edges() {
		if e.Child == c {
			ivs = append(ivs, interval{e.Left, e.Right})
		}
	}
	covered := make([]bool, to)
	for _, iv := range ivs {
		for l := iv.left; l < iv.right; l++ {
			if covered[l] {
				t.Fatalf("child %d: site %d covered by overlapping intervals %v", c, l, ivs)
			}
			covered[l] = true
		}
	}
	for l := from; l < to; l++ {
		if !covered[l] {
			t.Fatalf("child %d: site %d not covered by any interval %v", c, l, ivs)
		}
	}
}

func TestDumpMutationsSortedBySite(t *testing.T) {
	b := NewBuilder(3)
	b.AddNode(1, false)
	if err := b.Update(UpdateBatch{
		Mutations: []Mutation{{Site: 2, Node: 0}, {Site: 0, Node: 0}, {Site: 1, Node: 0}},
	}, RewriteOptions{}); err != nil {
		t.Fatalf("Update() unexpected error: %v", err)
	}
	got := b.DumpMutations()
	want := []Mutation{
		{Site: 0, Node: 0, Derived: '1', Parent: -1},
		{Site: 1, Node: 0, Derived: '1', Parent: -1},
		{Site: 2, Node: 0, Derived: '1', Parent: -1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DumpMutations() = %v, want %v", got, want)
	}
}
