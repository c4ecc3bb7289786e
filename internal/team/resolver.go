package team

import "github.com/piprate/teamkeep/internal/graph"

// NewMembershipResolver builds the merge resolver spec.md §4.C describes:
// on top of the trivial deterministic order, a link authored by a member
// one branch removed is dropped from the other branch before the two
// branches are concatenated, and two admins concurrently removing each
// other is resolved by dropping the removal authored by whichever admin
// sorts lower (this design's fix for the Open Question in spec.md §9 — see
// DESIGN.md).
func NewMembershipResolver() graph.Resolver {
	return func(branchA, branchB []graph.Link) ([]graph.Link, error) {
		branchA, branchB = resolveMutualRemovals(branchA, branchB)

		removedByA := removalTargets(branchA)
		removedByB := removalTargets(branchB)

		filteredA := dropWritesByAuthors(branchA, removedByB)
		filteredB := dropWritesByAuthors(branchB, removedByA)

		return graph.TrivialResolver(filteredA, filteredB)
	}
}

// removalTargets returns the set of usernames any REMOVE_MEMBER link in
// branch targets, ignoring links that fail to decode as an action (a
// malformed link is not this resolver's problem — Fold will reject it).
func removalTargets(branch []graph.Link) map[string]bool {
	targets := map[string]bool{}
	for _, l := range branch {
		a, err := decodeAction(l.Payload)
		if err != nil || a.Type != ActionRemoveMember {
			continue
		}
		var body RemoveMemberAction
		if err := a.decode(&body); err != nil {
			continue
		}
		targets[body.UserName] = true
	}
	return targets
}

// dropWritesByAuthors removes every link in branch authored by a username
// in removed.
func dropWritesByAuthors(branch []graph.Link, removed map[string]bool) []graph.Link {
	if len(removed) == 0 {
		return branch
	}
	out := make([]graph.Link, 0, len(branch))
	for _, l := range branch {
		if removed[l.UserName] {
			continue
		}
		out = append(out, l)
	}
	return out
}

// resolveMutualRemovals detects u1 removing u2 in branchA while u2 removes
// u1 in branchB (or vice versa) and drops the REMOVE_MEMBER link authored
// by whichever of u1, u2 sorts lower lexicographically, leaving the other
// branch's removal to stand.
func resolveMutualRemovals(branchA, branchB []graph.Link) ([]graph.Link, []graph.Link) {
	for i, la := range branchA {
		ta, okA := removalAuthorAndTarget(la)
		if !okA {
			continue
		}
		for j, lb := range branchB {
			tb, okB := removalAuthorAndTarget(lb)
			if !okB {
				continue
			}
			if ta.author == tb.target && ta.target == tb.author {
				loser := ta.author
				if tb.author < loser {
					loser = tb.author
				}
				if loser == ta.author {
					return removeAt(branchA, i), branchB
				}
				return branchA, removeAt(branchB, j)
			}
		}
	}
	return branchA, branchB
}

type removalEdge struct {
	author string
	target string
}

func removalAuthorAndTarget(l graph.Link) (removalEdge, bool) {
	a, err := decodeAction(l.Payload)
	if err != nil || a.Type != ActionRemoveMember {
		return removalEdge{}, false
	}
	var body RemoveMemberAction
	if err := a.decode(&body); err != nil {
		return removalEdge{}, false
	}
	return removalEdge{author: l.UserName, target: body.UserName}, true
}

func removeAt(links []graph.Link, i int) []graph.Link {
	out := make([]graph.Link, 0, len(links)-1)
	out = append(out, links[:i]...)
	out = append(out, links[i+1:]...)
	return out
}
