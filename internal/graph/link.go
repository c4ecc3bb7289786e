// Package graph implements the append-only, hash-linked signature DAG
// described in spec.md §3/§4.C: root links, signed non-root links, and
// unsigned content-addressed merge links, plus a deterministic topological
// linearization under a pluggable resolver.
package graph

import (
	"encoding/json"
	"time"

	"github.com/piprate/teamkeep/internal/crypto"
)

// Kind distinguishes the three link shapes spec.md §3 defines.
type Kind string

const (
	KindRoot  Kind = "ROOT"
	KindLink  Kind = "LINK"
	KindMerge Kind = "MERGE"
)

// RootContext carries the founding member's public signing key so the root
// link — and the first non-root link after it — can be verified before any
// team state has been reduced.
type RootContext struct {
	UserName         string `json:"userName"`
	DeviceID         string `json:"deviceId"`
	SigningPublicKey string `json:"signingPublicKey"`
}

// Link is one entry in the graph. Exactly one of the three shapes applies,
// selected by Kind:
//   - KindRoot: Payload, Timestamp, UserName, Signature, Context are set; Prev/Body are empty.
//   - KindLink: Prev, Payload, Timestamp, UserName, Signature are set; Body/Context are empty.
//   - KindMerge: Body holds the two branch heads being joined, hash-sorted; everything else is empty.
//
// Payload is opaque to this package — it is the caller's serialized action,
// so that graph has no dependency on the team package that interprets it.
type Link struct {
	Kind      Kind            `json:"type"`
	Prev      string          `json:"prev,omitempty"`
	Body      []string        `json:"body,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	UserName  string          `json:"userName,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Context   *RootContext    `json:"context,omitempty"`
}

// signableBytes returns the canonical bytes a link's signature is computed
// over: every field except Signature itself.
func (l Link) signableBytes() ([]byte, error) {
	cp := l
	cp.Signature = ""
	return json.Marshal(cp)
}

// Hash returns the content address of l: a domain-tagged hash over the
// link's full canonical form (including its signature, so the hash
// uniquely identifies one signed link — spec.md §3 "hash(link) uniquely
// identifies it").
func (l Link) Hash() (string, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return "", err
	}
	return crypto.Encode(crypto.Hash("link", b)), nil
}

// mergeBody returns the hash-sorted pair [a, b] a merge link's Body holds,
// so that merging A-then-B and B-then-A produce the identical link.
func mergeBody(a, b string) []string {
	if a <= b {
		return []string{a, b}
	}
	return []string{b, a}
}

// NewRoot builds a root link signed by the founding device's signing key.
func NewRoot(payload []byte, userName string, ctx RootContext, sign func([]byte) []byte) (Link, error) {
	l := Link{
		Kind:      KindRoot,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
		UserName:  userName,
		Context:   &ctx,
	}
	b, err := l.signableBytes()
	if err != nil {
		return Link{}, err
	}
	l.Signature = crypto.Encode(sign(b))
	return l, nil
}

// NewLink builds a non-root link whose Prev is head, signed by the
// author's current device signing key.
func NewLink(prev string, payload []byte, userName string, sign func([]byte) []byte) (Link, error) {
	l := Link{
		Kind:      KindLink,
		Prev:      prev,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
		UserName:  userName,
	}
	b, err := l.signableBytes()
	if err != nil {
		return Link{}, err
	}
	l.Signature = crypto.Encode(sign(b))
	return l, nil
}

// NewMerge builds the unsigned merge link joining branch heads a and b.
func NewMerge(a, b string) Link {
	return Link{Kind: KindMerge, Body: mergeBody(a, b)}
}

// VerifySignature checks l's signature against the author's public signing
// key, using l's own canonical bytes (minus Signature).
func VerifySignature(l Link, publicKey func() ([]byte, error)) (bool, error) {
	if l.Kind == KindMerge {
		return true, nil // merge links are unsigned by construction
	}
	pub, err := publicKey()
	if err != nil {
		return false, err
	}
	sig, err := crypto.Decode(l.Signature)
	if err != nil {
		return false, err
	}
	b, err := l.signableBytes()
	if err != nil {
		return false, err
	}
	return crypto.Verify(b, sig, pub), nil
}
