package tsbuilder

// Node is a tree-sequence node: an integer id (its index), a time, and
// whether it participates in the final simplified output as a sample.
type Node struct {
	Time     float64
	IsSample bool
}

// Edge is a half-open genomic interval [Left, Right) of site indices
// connecting Parent to Child. Marked is never set by this package: the
// shared-recombination rewrite drops the edges it replaces from the edge
// slice instead, so dumped edges always carry Marked = false.
type Edge struct {
	Left, Right   int
	Parent, Child int32
	Marked        bool
}

// Mutation is a (Site, Node, Derived) triple. Parent is the index, in the
// final dumped mutation table, of the mutation this one is chained from (-1
// if it has none): a back-mutation's parent is the site's primary mutation,
// a recurrent mutation has no parent. Callers building an UpdateBatch never
// set Parent themselves; DumpMutations computes it.
type Mutation struct {
	Site    int
	Node    int32
	Derived byte // '0' or '1'
	Parent  int32
}

// EdgeInput and MutationInput are the shapes the matcher and driver hand to
// Update; they are identical to Edge/Mutation but named separately so the
// batch-insertion call site reads as "what I'm contributing", not "what
// Update stores".
type EdgeInput = Edge
type MutationInput = Mutation
