// Package enclave performs all payload encryption and decryption for the
// node. Nothing outside this package touches key material.
package enclave

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/kevinburke/nacl"
	"github.com/kevinburke/nacl/box"
	"github.com/kevinburke/nacl/secretbox"
	"github.com/pkg/errors"

	"github.com/kestrelmesh/kestrel/api"
	"github.com/kestrelmesh/kestrel/utils"
)

// Enclave is the cryptographic collaborator consumed by the party info
// validator and the resend manager.
type Enclave interface {
	// EncryptPayload encrypts message from sender to the given recipients,
	// producing one recipient box per recipient.
	EncryptPayload(message []byte, sender nacl.Key, recipients []nacl.Key) (api.EncryptedPayload, error)
	// UnencryptTransaction decrypts a payload this node is either the
	// sender or a recipient of. providedKey selects the recipient key to
	// decrypt with when this node did not send the payload; it may be nil
	// when the sender key is one of our own.
	UnencryptTransaction(payload api.EncryptedPayload, providedKey nacl.Key) ([]byte, error)
	// CreateRecipientBox seals the payload's master key for one additional
	// recipient. The payload's sender must be one of our own keys.
	CreateRecipientBox(payload api.EncryptedPayload, recipient nacl.Key) ([]byte, error)
	// PublicKeys lists the public keys this enclave holds private keys for.
	PublicKeys() []nacl.Key
	// DefaultPublicKey is the key used when a caller does not specify one.
	DefaultPublicKey() nacl.Key
}

// SecureEnclave is the NaCl-backed Enclave implementation.
type SecureEnclave struct {
	pubKeys    []nacl.Key
	privKeys   []nacl.Key
	selfPubKey nacl.Key
	// sender -> recipient -> precomputed shared key
	keyCache map[[nacl.KeySize]byte]map[[nacl.KeySize]byte]nacl.Key
}

// New creates a SecureEnclave from already loaded key pairs.
//
// Shared keys between a specific sender and recipient are computed once per
// unique pair and cached. Payloads addressed only to ourselves are sealed
// against a generated ephemeral key, since box.Seal cannot operate on a key
// pair we hold both halves of.
func New(pubKeys, privKeys []nacl.Key) (*SecureEnclave, error) {
	if len(pubKeys) == 0 || len(pubKeys) != len(privKeys) {
		return nil, errors.New("enclave requires matching public and private key lists")
	}

	enc := &SecureEnclave{
		pubKeys:    pubKeys,
		privKeys:   privKeys,
		selfPubKey: nacl.NewKey(),
		keyCache:   make(map[[nacl.KeySize]byte]map[[nacl.KeySize]byte]nacl.Key),
	}

	for _, pubKey := range enc.pubKeys {
		enc.resolveSharedKey(enc.privKeys[0], pubKey, enc.selfPubKey)
	}

	return enc, nil
}

// NewFromFiles loads key pairs from the on-disk key file formats: base64
// public keys and JSON-wrapped private keys.
func NewFromFiles(pubKeyFiles, privKeyFiles []string) (*SecureEnclave, error) {
	pubKeys, err := loadPubKeys(pubKeyFiles)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load public key files %s", pubKeyFiles)
	}

	privKeys, err := loadPrivKeys(privKeyFiles)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load private key files %s", privKeyFiles)
	}

	return New(pubKeys, privKeys)
}

func (s *SecureEnclave) PublicKeys() []nacl.Key {
	keys := make([]nacl.Key, len(s.pubKeys))
	copy(keys, s.pubKeys)
	return keys
}

func (s *SecureEnclave) DefaultPublicKey() nacl.Key {
	return s.pubKeys[0]
}

func (s *SecureEnclave) EncryptPayload(
	message []byte, sender nacl.Key, recipients []nacl.Key) (api.EncryptedPayload, error) {

	senderPrivKey, err := s.resolvePrivateKey(sender)
	if err != nil {
		return api.EncryptedPayload{}, err
	}

	nonce := nacl.NewNonce()
	masterKey := nacl.NewKey()
	recipientNonce := nacl.NewNonce()

	sealedMessage := secretbox.Seal([]byte{}, message, nonce, masterKey)

	epl := api.EncryptedPayload{
		Sender:         sender,
		CipherText:     sealedMessage,
		Nonce:          nonce,
		RecipientNonce: recipientNonce,
		RecipientBoxes: make([][]byte, len(recipients)),
		RecipientKeys:  make([]nacl.Key, len(recipients)),
	}

	for i, recipient := range recipients {
		if bytes.Equal((*recipient)[:], (*sender)[:]) {
			return api.EncryptedPayload{}, fmt.Errorf(
				"sender %s cannot be a recipient of its own payload", utils.EncodeKey(sender))
		}

		sharedKey := s.resolveSharedKey(senderPrivKey, sender, recipient)
		epl.RecipientBoxes[i] = sealPayload(recipientNonce, masterKey, sharedKey)
		epl.RecipientKeys[i] = recipient
	}

	if len(recipients) == 0 {
		// addressed only to ourselves
		sharedKey := s.resolveSharedKey(senderPrivKey, sender, s.selfPubKey)
		epl.RecipientBoxes = [][]byte{sealPayload(recipientNonce, masterKey, sharedKey)}
	}

	return epl, nil
}

func (s *SecureEnclave) UnencryptTransaction(
	payload api.EncryptedPayload, providedKey nacl.Key) ([]byte, error) {

	var ourPubKey, otherPubKey nacl.Key

	if s.holdsKey(payload.Sender) {
		// a payload that originated with us
		ourPubKey = payload.Sender
		if len(payload.RecipientKeys) > 0 {
			otherPubKey = payload.RecipientKeys[0]
		} else {
			otherPubKey = s.selfPubKey
		}
	} else {
		// a payload pushed to us by the sender
		ourPubKey = providedKey
		if ourPubKey == nil {
			ourPubKey = s.DefaultPublicKey()
		}
		otherPubKey = payload.Sender
	}

	ourPrivKey, err := s.resolvePrivateKey(ourPubKey)
	if err != nil {
		return nil, err
	}

	if len(payload.RecipientBoxes) == 0 {
		return nil, errors.New("payload carries no recipient boxes")
	}

	// the cache may have been dropped by a restart, recompute if needed
	sharedKey := s.resolveSharedKey(ourPrivKey, ourPubKey, otherPubKey)

	masterKey := new([nacl.KeySize]byte)
	_, ok := secretbox.Open(masterKey[:0], payload.RecipientBoxes[0], payload.RecipientNonce, sharedKey)
	if !ok {
		return nil, errors.New("unable to open master key secret box")
	}

	var message []byte
	message, ok = secretbox.Open(message[:0], payload.CipherText, payload.Nonce, masterKey)
	if !ok {
		return nil, errors.New("unable to open payload secret box")
	}

	return message, nil
}

func (s *SecureEnclave) CreateRecipientBox(
	payload api.EncryptedPayload, recipient nacl.Key) ([]byte, error) {

	senderPrivKey, err := s.resolvePrivateKey(payload.Sender)
	if err != nil {
		return nil, err
	}

	var otherPubKey nacl.Key
	if len(payload.RecipientKeys) > 0 {
		otherPubKey = payload.RecipientKeys[0]
	} else {
		otherPubKey = s.selfPubKey
	}

	if len(payload.RecipientBoxes) == 0 {
		return nil, errors.New("payload carries no recipient boxes")
	}

	existingShared := s.resolveSharedKey(senderPrivKey, payload.Sender, otherPubKey)

	masterKey := new([nacl.KeySize]byte)
	_, ok := secretbox.Open(masterKey[:0], payload.RecipientBoxes[0], payload.RecipientNonce, existingShared)
	if !ok {
		return nil, errors.New("unable to recover master key for new recipient box")
	}

	sharedKey := s.resolveSharedKey(senderPrivKey, payload.Sender, recipient)
	return sealPayload(payload.RecipientNonce, masterKey, sharedKey), nil
}

func (s *SecureEnclave) resolveSharedKey(
	senderPrivKey, senderPubKey, recipientPubKey nacl.Key) nacl.Key {

	senderCache, ok := s.keyCache[*senderPubKey]
	if !ok {
		senderCache = make(map[[nacl.KeySize]byte]nacl.Key)
		s.keyCache[*senderPubKey] = senderCache
	}

	sharedKey, ok := senderCache[*recipientPubKey]
	if !ok {
		sharedKey = box.Precompute(recipientPubKey, senderPrivKey)
		senderCache[*recipientPubKey] = sharedKey
	}

	return sharedKey
}

func (s *SecureEnclave) resolvePrivateKey(publicKey nacl.Key) (nacl.Key, error) {
	if publicKey == nil {
		return nil, errors.New("no public key provided")
	}
	for i, key := range s.pubKeys {
		if bytes.Equal((*publicKey)[:], (*key)[:]) {
			return s.privKeys[i], nil
		}
	}
	return nil, fmt.Errorf("unable to find private key for public key: %s",
		hex.EncodeToString((*publicKey)[:]))
}

func (s *SecureEnclave) holdsKey(publicKey nacl.Key) bool {
	if publicKey == nil {
		return false
	}
	for _, key := range s.pubKeys {
		if bytes.Equal((*publicKey)[:], (*key)[:]) {
			return true
		}
	}
	return false
}

func sealPayload(
	recipientNonce nacl.Nonce,
	masterKey nacl.Key,
	sharedKey nacl.Key) []byte {

	return box.SealAfterPrecomputation(
		[]byte{},
		(*masterKey)[:],
		recipientNonce,
		sharedKey)
}

func loadPubKeys(pubKeyFiles []string) ([]nacl.Key, error) {
	return loadKeys(
		pubKeyFiles,
		func(s string) (string, error) {
			src, err := ioutil.ReadFile(s)
			if err != nil {
				return "", err
			}
			return string(src), nil
		})
}

func loadPrivKeys(privKeyFiles []string) ([]nacl.Key, error) {
	return loadKeys(
		privKeyFiles,
		func(s string) (string, error) {
			var privateKey api.PrivateKey
			src, err := ioutil.ReadFile(s)
			if err != nil {
				return "", err
			}
			err = json.Unmarshal(src, &privateKey)
			if err != nil {
				return "", err
			}

			return privateKey.Data.Bytes, nil
		})
}

func loadKeys(
	keyFiles []string, f func(string) (string, error)) ([]nacl.Key, error) {
	keys := make([]nacl.Key, len(keyFiles))

	for i, keyFile := range keyFiles {
		data, err := f(keyFile)
		if err != nil {
			return nil, err
		}
		var key nacl.Key
		key, err = utils.LoadBase64Key(
			strings.TrimSuffix(data, "\n"))
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}

	return keys, nil
}

// DoKeyGeneration generates a new key pair, writing the public key to
// keyFile.pub and the private key to keyFile.key.
func DoKeyGeneration(keyFile string) error {
	pubKey, privKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("error creating keys: %v", err)
	}
	err = utils.CreateDirForFile(keyFile)
	if err != nil {
		return fmt.Errorf("invalid destination specified: %s, error: %v",
			filepath.Dir(keyFile), err)
	}

	b64PubKey := base64.StdEncoding.EncodeToString((*pubKey)[:])
	b64PrivKey := base64.StdEncoding.EncodeToString((*privKey)[:])

	err = ioutil.WriteFile(keyFile+".pub", []byte(b64PubKey), 0600)
	if err != nil {
		return fmt.Errorf("unable to write public key: %s, error: %v", keyFile, err)
	}

	jsonKey := api.PrivateKey{
		Type: "unlocked",
		Data: api.PrivateKeyBytes{
			Bytes: b64PrivKey,
		},
	}

	var encoded []byte
	encoded, err = json.Marshal(jsonKey)
	if err != nil {
		return fmt.Errorf("unable to encode private key: %v, error: %v", jsonKey, err)
	}

	err = ioutil.WriteFile(keyFile+".key", encoded, 0600)
	if err != nil {
		return fmt.Errorf("unable to write private key: %s, error: %v", keyFile, err)
	}
	return nil
}
