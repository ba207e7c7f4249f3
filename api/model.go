// Package api defines the data model and wire encodings shared between
// nodes on the network.
package api

import (
	"time"

	"github.com/kevinburke/nacl"
)

// SupportedVersions lists the wire protocol versions this node speaks,
// advertised in every party info exchange.
var SupportedVersions = []string{"1.0", "2.0"}

// PrivacyMode describes the visibility rules attached to a payload.
type PrivacyMode int

const (
	StandardPrivate PrivacyMode = iota
	PartyProtection
	PrivateStateValidation
	MandatoryRecipients
)

// Party identifies a remote node by its canonical URL. LastContacted is
// mutable metadata and takes no part in identity.
type Party struct {
	Url           string
	LastContacted time.Time
}

// Recipient is the claim that the node at Url owns the private key for Key.
type Recipient struct {
	Key nacl.Key
	Url string
}

// NodeInfo is an immutable snapshot of one node's view of the network. A
// fresh instance is built for every store or read cycle; instances are
// never mutated after construction.
type NodeInfo struct {
	Url                  string
	Recipients           []Recipient
	Parties              []Party
	SupportedApiVersions []string
}

// FindRecipient returns the recipient entry for the given key, if present.
func (n NodeInfo) FindRecipient(key nacl.Key) (Recipient, bool) {
	for _, r := range n.Recipients {
		if *r.Key == *key {
			return r, true
		}
	}
	return Recipient{}, false
}

// EncryptedPayload is the unit of propagation between nodes. RecipientBoxes
// and RecipientKeys are positionally aligned: the box at index i only
// decrypts for the key at index i. Values are treated as immutable; all
// edits go through WithRecipient, which copies.
type EncryptedPayload struct {
	Sender               nacl.Key
	CipherText           []byte
	Nonce                nacl.Nonce
	RecipientBoxes       [][]byte
	RecipientNonce       nacl.Nonce
	RecipientKeys        []nacl.Key
	PrivacyMode          PrivacyMode
	AffectedTransactions map[string][]byte
	ExecHash             []byte
	PrivacyGroupId       []byte
}

// WithRecipient returns a copy of the payload extended with one more
// recipient key and its box. The receiver is left untouched so that the
// cipher text hash of the stored record stays trustworthy.
func (ep EncryptedPayload) WithRecipient(key nacl.Key, box []byte) EncryptedPayload {
	extended := ep

	extended.RecipientKeys = make([]nacl.Key, len(ep.RecipientKeys), len(ep.RecipientKeys)+1)
	copy(extended.RecipientKeys, ep.RecipientKeys)
	extended.RecipientKeys = append(extended.RecipientKeys, key)

	extended.RecipientBoxes = make([][]byte, len(ep.RecipientBoxes), len(ep.RecipientBoxes)+1)
	copy(extended.RecipientBoxes, ep.RecipientBoxes)
	extended.RecipientBoxes = append(extended.RecipientBoxes, box)

	return extended
}

// HasRecipient reports whether key already appears in the payload's
// recipient list.
func (ep EncryptedPayload) HasRecipient(key nacl.Key) bool {
	for _, k := range ep.RecipientKeys {
		if *k == *key {
			return true
		}
	}
	return false
}
