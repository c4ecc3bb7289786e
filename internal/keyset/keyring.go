package keyset

import "errors"

// ErrNotFound is returned when a requested (scope, name) is not reachable
// from a keyring.
var ErrNotFound = errors.New("keyset: not found in keyring")

// Keyring is the set of keysets (with secrets) a principal can open,
// indexed by (scope, name, generation).
type Keyring struct {
	keysets map[ID]Keyset
}

// NewKeyring seeds a keyring with a principal's own keyset (its device or
// member keyset, which must carry secrets).
func NewKeyring(own Keyset) *Keyring {
	kr := &Keyring{keysets: map[ID]Keyset{}}
	kr.keysets[own.ID()] = own
	return kr
}

// Add inserts a keyset (with secrets) directly, used when a keyset is
// recovered by some means other than Expand (e.g. loaded from storage).
func (kr *Keyring) Add(ks Keyset) {
	kr.keysets[ks.ID()] = ks
}

// Has reports whether the keyring already holds secrets for id.
func (kr *Keyring) Has(id ID) bool {
	_, ok := kr.keysets[id]
	return ok
}

// Get returns the keyset at id, if the keyring holds it.
func (kr *Keyring) Get(id ID) (Keyset, error) {
	ks, ok := kr.keysets[id]
	if !ok {
		return Keyset{}, ErrNotFound
	}
	return ks, nil
}

// GetLatest returns the highest-generation keyset for (scope, name) the
// keyring holds.
func (kr *Keyring) GetLatest(scope Scope, name string) (Keyset, error) {
	var best *Keyset
	for id, ks := range kr.keysets {
		if id.Scope != scope || id.Name != name {
			continue
		}
		k := ks
		if best == nil || k.Generation > best.Generation {
			best = &k
		}
	}
	if best == nil {
		return Keyset{}, ErrNotFound
	}
	return *best, nil
}

// All returns every keyset currently held, for iteration/expansion.
func (kr *Keyring) All() []Keyset {
	out := make([]Keyset, 0, len(kr.keysets))
	for _, ks := range kr.keysets {
		out = append(out, ks)
	}
	return out
}

// Expand grows the keyring to a fixpoint over the given set of lockboxes:
// for each lockbox whose recipient matches a keyset already in the keyring,
// it is opened and its contents added, and the process repeats until no
// lockbox yields a new keyset (spec.md §4.B). It returns the number of
// newly recovered keysets.
func (kr *Keyring) Expand(lockboxes []Lockbox) int {
	total := 0
	for {
		progressed := false
		for _, lb := range lockboxes {
			rcptID := ID{Scope: lb.Recipient.Scope, Name: lb.Recipient.Name, Generation: lb.Recipient.Generation}
			contentsID := ID{Scope: lb.Contents.Scope, Name: lb.Contents.Name, Generation: lb.Contents.Generation}

			if kr.Has(contentsID) {
				continue
			}

			holder, ok := kr.keysets[rcptID]
			if !ok {
				continue
			}
			secret, err := holder.EncryptionSecretKey()
			if err != nil {
				continue
			}
			opened, err := OpenLockbox(lb, secret)
			if err != nil {
				continue
			}
			kr.keysets[contentsID] = opened
			progressed = true
			total++
		}
		if !progressed {
			break
		}
	}
	return total
}
