package transaction

import (
	"bytes"
	"encoding/hex"
	"sync"

	"github.com/kevinburke/nacl"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kestrelmesh/kestrel/api"
	"github.com/kestrelmesh/kestrel/enclave"
	"github.com/kestrelmesh/kestrel/utils"
)

// PayloadMismatchError is the consistency violation raised when a
// re-delivered payload decrypts to different content than the stored copy
// with the same hash. The stored record is left untouched.
type PayloadMismatchError struct {
	Hash string
}

func (e *PayloadMismatchError) Error() string {
	return "payload content for transaction " + e.Hash + " does not match the stored copy"
}

// ResendManager reconciles an incoming message whose sender key is one of
// this node's own keys against the locally stored copy, merging recipient
// sets or creating a new record.
type ResendManager struct {
	store   *Store
	enclave enclave.Enclave

	// reconciliation is serialized per transaction hash so unrelated
	// transactions do not contend
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewResendManager(store *Store, enc enclave.Enclave) *ResendManager {
	return &ResendManager{
		store:   store,
		enclave: enc,
		locks:   make(map[string]*sync.Mutex),
	}
}

// AcceptOwnMessage reconciles a re-delivered message into storage. The
// payload's sender key must be one of the enclave's own keys and the
// payload must decrypt cleanly; either violation is an invalid argument
// and nothing is persisted.
func (m *ResendManager) AcceptOwnMessage(payload api.EncryptedPayload) error {
	// tamper check before anything else
	decrypted, err := m.enclave.UnencryptTransaction(payload, nil)
	if err != nil {
		return errors.Wrap(err, "invalid payload, unable to decrypt")
	}

	hash := HashFor(payload)
	hexHash := hex.EncodeToString(hash)

	if !m.ownsKey(payload.Sender) {
		return errors.Errorf(
			"message %s does not have one of the node's own keys as sender", hexHash)
	}

	lock := m.lockFor(hexHash)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.Retrieve(hash)
	if err == ErrNotFound {
		return m.storeNewRecord(payload, hash, hexHash)
	} else if err != nil {
		return err
	}

	return m.mergeRecipient(existing, payload, decrypted, hexHash)
}

// storeNewRecord persists a message this node has no copy of, first
// ensuring the sender's own key appears among the recipients so the node
// can decrypt its own record later.
func (m *ResendManager) storeNewRecord(
	payload api.EncryptedPayload, hash []byte, hexHash string) error {

	rebuilt := payload
	if !payload.HasRecipient(payload.Sender) {
		box, err := m.enclave.CreateRecipientBox(payload, payload.Sender)
		if err != nil {
			return errors.Wrap(err, "unable to create sender recipient box")
		}
		rebuilt = payload.WithRecipient(payload.Sender, box)
	}

	log.WithField("hash", hexHash).Debug("Storing new own message")

	return m.store.Save(&EncryptedTransaction{
		Hash:           hash,
		EncodedPayload: api.EncodePayload(rebuilt),
	})
}

// mergeRecipient extends an existing record with the incoming payload's
// first recipient, after proving both copies carry the same content.
func (m *ResendManager) mergeRecipient(
	existing *EncryptedTransaction,
	payload api.EncryptedPayload,
	decrypted []byte,
	hexHash string) error {

	if len(payload.RecipientKeys) == 0 || len(payload.RecipientBoxes) == 0 {
		return errors.Errorf("message %s carries no recipient to merge", hexHash)
	}

	stored, err := api.DecodePayload(existing.EncodedPayload)
	if err != nil {
		return errors.Wrapf(err, "stored payload for %s is unreadable", hexHash)
	}

	incomingKey := payload.RecipientKeys[0]
	if stored.HasRecipient(incomingKey) {
		// duplicate delivery
		log.WithField("hash", hexHash).Debug("Recipient already present, nothing to do")
		return nil
	}

	// defence against hash collision or tampering: both copies must carry
	// the same content before the recipient lists are merged
	storedDecrypted, err := m.enclave.UnencryptTransaction(stored, nil)
	if err != nil {
		return errors.Wrapf(err, "stored payload for %s is undecryptable", hexHash)
	}

	if !bytes.Equal(decrypted, storedDecrypted) ||
		!bytes.Equal(payload.CipherText, stored.CipherText) {
		return &PayloadMismatchError{Hash: hexHash}
	}

	merged := stored.WithRecipient(incomingKey, payload.RecipientBoxes[0])

	log.WithFields(log.Fields{
		"hash": hexHash, "recipient": utils.EncodeKey(incomingKey),
	}).Debug("Extending stored message with new recipient")

	existing.EncodedPayload = api.EncodePayload(merged)
	return m.store.Save(existing)
}

func (m *ResendManager) ownsKey(key nacl.Key) bool {
	if key == nil {
		return false
	}
	for _, owned := range m.enclave.PublicKeys() {
		if *owned == *key {
			return true
		}
	}
	return false
}

func (m *ResendManager) lockFor(hexHash string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[hexHash]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[hexHash] = lock
	}
	return lock
}
