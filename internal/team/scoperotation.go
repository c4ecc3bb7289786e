package team

import "github.com/piprate/teamkeep/internal/keyset"

// scopesToRotate computes { T : T is reachable from compromised via the
// lockbox "recipient holds contents" relation, including compromised
// itself } (spec.md §4.D "scopesToRotate"). It is the same fixpoint
// iteration keyset.Keyring.Expand runs to open lockboxes, run here over
// public (scope,name,generation) identities instead of secret keysets,
// since the reducer never holds secrets.
func scopesToRotate(compromised keyset.ID, lockboxes []keyset.Lockbox) map[keyset.ID]bool {
	reached := map[keyset.ID]bool{compromised: true}
	for {
		progressed := false
		for _, lb := range lockboxes {
			rcptID := keyset.ID{Scope: lb.Recipient.Scope, Name: lb.Recipient.Name, Generation: lb.Recipient.Generation}
			contentsID := keyset.ID{Scope: lb.Contents.Scope, Name: lb.Contents.Name, Generation: lb.Contents.Generation}
			if reached[rcptID] && !reached[contentsID] {
				reached[contentsID] = true
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return reached
}

// downstreamScopes returns scopesToRotate's result with compromised itself
// removed: per spec.md invariant I7, new lockboxes are posted "for every
// remaining holder" of a rotated scope — the removed/rotated principal
// itself is never such a holder, so its own entry needs no covering
// lockbox even though its generation notionally advances too.
func downstreamScopes(compromised keyset.ID, lockboxes []keyset.Lockbox) map[keyset.ID]bool {
	toRotate := scopesToRotate(compromised, lockboxes)
	delete(toRotate, compromised)
	return toRotate
}

// requireRotationCoverage checks that newLockboxes, posted alongside a
// removal or key change, addresses every scope in toRotate at the
// generation immediately following the one it rotates away from — it does
// not re-derive the secret keysets (the reducer never holds secrets), only
// that the bookkeeping the action asserts is internally consistent.
func requireRotationCoverage(toRotate map[keyset.ID]bool, newLockboxes []keyset.Lockbox) error {
	covered := map[keyset.ID]bool{}
	for _, lb := range newLockboxes {
		prevID := keyset.ID{Scope: lb.Contents.Scope, Name: lb.Contents.Name, Generation: lb.Contents.Generation - 1}
		if toRotate[prevID] {
			covered[prevID] = true
		}
	}
	for id := range toRotate {
		if !covered[id] {
			return ErrProtocolViolation
		}
	}
	return nil
}
