package graph

import (
	"fmt"

	"github.com/piprate/teamkeep/internal/crypto"
)

// Resolver linearizes two concurrent branches (spec.md §4.C). It must be
// pure and deterministic: given the same two branches it always returns the
// same merged order.
type Resolver func(branchA, branchB []Link) ([]Link, error)

// TrivialResolver sorts the two branches by a deterministic hash of their
// first payload and concatenates them, so ordering across independent runs
// matches bit-for-bit regardless of which branch a caller labels "A".
func TrivialResolver(branchA, branchB []Link) ([]Link, error) {
	keyOf := func(branch []Link) string {
		if len(branch) == 0 {
			return ""
		}
		return crypto.Encode(crypto.Hash("DETERMINISTIC_SORT", branch[0].Payload))
	}
	if keyOf(branchA) > keyOf(branchB) {
		branchA, branchB = branchB, branchA
	}
	out := make([]Link, 0, len(branchA)+len(branchB))
	out = append(out, branchA...)
	out = append(out, branchB...)
	return out, nil
}

// GetSequence linearizes the graph from root to head (or the optional
// subrange [from, to]) into a deterministic, merge-link-free order, per the
// algorithm in spec.md §4.C:
//  1. walk backward from the subrange head via Prev;
//  2. on a merge link, find the two joined branches' nearest common
//     predecessor p;
//  3. if p precedes the caller's root, the root is on one branch only —
//     recurse on that branch alone;
//  4. otherwise sequence each branch from p (exclusive) to its head;
//  5. call resolver(branchA, branchB), then continue the walk from p,
//     concatenating walk(p) ++ [p] ++ merged (++ [head] at the outer call);
//  6. drop merge links from the final output.
func GetSequence(g *Graph, resolver Resolver, from, to string) ([]Link, error) {
	if resolver == nil {
		resolver = TrivialResolver
	}
	if from == "" {
		from = g.Root
	}
	if to == "" {
		to = g.Head
	}

	seq, err := sequenceTo(g, resolver, from, to)
	if err != nil {
		return nil, err
	}

	out := make([]Link, 0, len(seq))
	for _, l := range seq {
		if l.Kind != KindMerge {
			out = append(out, l)
		}
	}
	return out, nil
}

// sequenceTo returns the walk from root (inclusive) to hash (inclusive) in
// causal order. Merge links are not included: each is replaced by the
// resolved links of the two branches it joins.
func sequenceTo(g *Graph, resolver Resolver, root, hash string) ([]Link, error) {
	l, ok := g.Links[hash]
	if !ok {
		return nil, fmt.Errorf("graph: link %s not found", hash)
	}

	if hash == root {
		return []Link{l}, nil
	}

	switch l.Kind {
	case KindRoot:
		// reached a different root than the caller's subrange root while
		// walking backward: the subrange root was never on this path.
		return []Link{l}, nil

	case KindLink:
		prefix, err := sequenceTo(g, resolver, root, l.Prev)
		if err != nil {
			return nil, err
		}
		return append(prefix, l), nil

	case KindMerge:
		headA, headB := l.Body[0], l.Body[1]
		p, err := g.GetCommonPredecessor([]string{headA, headB})
		if err != nil {
			return nil, err
		}

		if g.IsPredecessor(root, p) || root == p {
			// the caller's root precedes the split point: both branches
			// are in scope, sequence each from p (exclusive) to its head.
			branchA, err := sequenceFromExclusive(g, resolver, p, headA)
			if err != nil {
				return nil, err
			}
			branchB, err := sequenceFromExclusive(g, resolver, p, headB)
			if err != nil {
				return nil, err
			}

			merged, err := resolver(branchA, branchB)
			if err != nil {
				return nil, err
			}

			prefix, err := sequenceTo(g, resolver, root, p)
			if err != nil {
				return nil, err
			}

			out := append([]Link{}, prefix...)
			out = append(out, merged...)
			return out, nil
		}

		// the caller's root is strictly after p: it is on exactly one of
		// the two branches. Recurse only on that branch.
		if g.IsPredecessor(root, headA) || root == headA {
			return sequenceTo(g, resolver, root, headA)
		}
		return sequenceTo(g, resolver, root, headB)
	}

	return nil, fmt.Errorf("graph: unknown link kind %q", l.Kind)
}

// sequenceFromExclusive sequences the branch from p (exclusive) to head
// (inclusive), dropping merge links along the way but preserving the
// merge-internal linearization recursively.
func sequenceFromExclusive(g *Graph, resolver Resolver, p, head string) ([]Link, error) {
	full, err := sequenceTo(g, resolver, p, head)
	if err != nil {
		return nil, err
	}
	// full includes p itself at index 0 (sequenceTo's base case); drop it.
	if len(full) > 0 && hashOf(full[0]) == p {
		full = full[1:]
	}
	return full, nil
}

func hashOf(l Link) string {
	h, err := l.Hash()
	if err != nil {
		return ""
	}
	return h
}
