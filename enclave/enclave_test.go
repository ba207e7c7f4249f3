package enclave

import (
	"bytes"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/kevinburke/nacl"
	"github.com/kevinburke/nacl/box"
)

var message = []byte("Test message")

func generateKeyPair(t *testing.T) (nacl.Key, nacl.Key) {
	t.Helper()
	pubKey, privKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return pubKey, privKey
}

func newEnclave(t *testing.T, pubKey, privKey nacl.Key) *SecureEnclave {
	t.Helper()
	enc, err := New([]nacl.Key{pubKey}, []nacl.Key{privKey})
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

func TestEncryptAndUnencrypt(t *testing.T) {
	senderPub, senderPriv := generateKeyPair(t)
	recipientPub, recipientPriv := generateKeyPair(t)

	sender := newEnclave(t, senderPub, senderPriv)
	recipient := newEnclave(t, recipientPub, recipientPriv)

	payload, err := sender.EncryptPayload(message, senderPub, []nacl.Key{recipientPub})
	if err != nil {
		t.Fatal(err)
	}

	returned, err := recipient.UnencryptTransaction(payload, recipientPub)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(message, returned) {
		t.Errorf(
			"Decrypted message is not the same as original:\n"+
				"Original: %v\nDecrypted: %v",
			message, returned)
	}

	// the sender can always open its own payload
	returned, err = sender.UnencryptTransaction(payload, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(message, returned) {
		t.Errorf("Sender could not recover its own message: %v", returned)
	}
}

func TestEncryptSelfAddressed(t *testing.T) {
	pub, priv := generateKeyPair(t)
	enc := newEnclave(t, pub, priv)

	payload, err := enc.EncryptPayload(message, pub, []nacl.Key{})
	if err != nil {
		t.Fatal(err)
	}
	if len(payload.RecipientBoxes) != 1 {
		t.Fatalf("Self-addressed payload has %d boxes, expected 1", len(payload.RecipientBoxes))
	}

	returned, err := enc.UnencryptTransaction(payload, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(message, returned) {
		t.Errorf("Self-addressed message did not round trip: %v", returned)
	}
}

func TestEncryptRejectsSenderAsRecipient(t *testing.T) {
	pub, priv := generateKeyPair(t)
	enc := newEnclave(t, pub, priv)

	if _, err := enc.EncryptPayload(message, pub, []nacl.Key{pub}); err == nil {
		t.Error("Expected encrypting to the sender's own key to fail")
	}
}

func TestCreateRecipientBox(t *testing.T) {
	senderPub, senderPriv := generateKeyPair(t)
	firstPub, _ := generateKeyPair(t)
	newPub, newPriv := generateKeyPair(t)

	sender := newEnclave(t, senderPub, senderPriv)
	newcomer := newEnclave(t, newPub, newPriv)

	payload, err := sender.EncryptPayload(message, senderPub, []nacl.Key{firstPub})
	if err != nil {
		t.Fatal(err)
	}

	newBox, err := sender.CreateRecipientBox(payload, newPub)
	if err != nil {
		t.Fatal(err)
	}

	// single-box copy as it would be pushed to the new recipient
	pushed := payload
	pushed.RecipientBoxes = [][]byte{newBox}
	pushed.RecipientKeys = []nacl.Key{newPub}

	returned, err := newcomer.UnencryptTransaction(pushed, newPub)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(message, returned) {
		t.Errorf("New recipient could not recover the message: %v", returned)
	}
}

func TestUnencryptWrongKey(t *testing.T) {
	senderPub, senderPriv := generateKeyPair(t)
	recipientPub, _ := generateKeyPair(t)
	otherPub, otherPriv := generateKeyPair(t)

	sender := newEnclave(t, senderPub, senderPriv)
	other := newEnclave(t, otherPub, otherPriv)

	payload, err := sender.EncryptPayload(message, senderPub, []nacl.Key{recipientPub})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := other.UnencryptTransaction(payload, otherPub); err == nil {
		t.Error("Expected decryption with a non-recipient key to fail")
	}
}

func TestKeyGenerationRoundTrip(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "node")

	if err := DoKeyGeneration(keyFile); err != nil {
		t.Fatal(err)
	}

	enc, err := NewFromFiles(
		[]string{keyFile + ".pub"}, []string{keyFile + ".key"})
	if err != nil {
		t.Fatal(err)
	}

	payload, err := enc.EncryptPayload(message, enc.DefaultPublicKey(), []nacl.Key{})
	if err != nil {
		t.Fatal(err)
	}
	returned, err := enc.UnencryptTransaction(payload, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(message, returned) {
		t.Errorf("Generated key pair did not round trip a message")
	}
}

func TestLoadedKeysMatchGeneratedPair(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "node")
	if err := DoKeyGeneration(keyFile); err != nil {
		t.Fatal(err)
	}

	keys, err := loadPubKeys([]string{keyFile + ".pub"})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] == nil {
		t.Fatalf("Loaded keys: %v", keys)
	}

	privKeys, err := loadPrivKeys([]string{keyFile + ".key"})
	if err != nil {
		t.Fatal(err)
	}
	if len(privKeys) != 1 {
		t.Fatalf("Loaded private keys: %d", len(privKeys))
	}
}
