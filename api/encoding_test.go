package api

import (
	"reflect"
	"testing"

	"github.com/kevinburke/nacl"
)

func TestEncodePayload(t *testing.T) {
	key1 := nacl.NewKey()
	key2 := nacl.NewKey()

	epl := EncryptedPayload{
		Sender:         nacl.NewKey(),
		CipherText:     []byte("C1ph3r T3xt"),
		Nonce:          nacl.NewNonce(),
		RecipientBoxes: [][]byte{[]byte("B0x1"), []byte("B0x2")},
		RecipientNonce: nacl.NewNonce(),
		RecipientKeys:  []nacl.Key{key1, key2},
		PrivacyMode:    PartyProtection,
		AffectedTransactions: map[string][]byte{
			"deadbeef": []byte("s3cur1ty h4sh"),
		},
		ExecHash:       []byte("3x3c h4sh"),
		PrivacyGroupId: []byte("gr0up1d"),
	}

	encoded := EncodePayload(epl)
	decoded, err := DecodePayload(encoded)

	if err != nil {
		t.Fatalf("Unable to decode payload: %v", err)
	}

	if !reflect.DeepEqual(epl, decoded) {
		t.Errorf("Decoded payload: %v does not match input %v", decoded, epl)
	}
}

func TestEncodePayloadWithoutRecipientKeys(t *testing.T) {
	// the shape propagated to a recipient: a single box and no key list
	epl := EncryptedPayload{
		Sender:         nacl.NewKey(),
		CipherText:     []byte("C1ph3r T3xt"),
		Nonce:          nacl.NewNonce(),
		RecipientBoxes: [][]byte{[]byte("B0x1")},
		RecipientNonce: nacl.NewNonce(),
		RecipientKeys:  []nacl.Key{},
	}

	encoded := EncodePayload(epl)
	decoded, err := DecodePayload(encoded)

	if err != nil {
		t.Fatalf("Unable to decode payload: %v", err)
	}

	if !reflect.DeepEqual(epl.CipherText, decoded.CipherText) {
		t.Errorf("Decoded cipher text: %v does not match input %v",
			decoded.CipherText, epl.CipherText)
	}

	if len(decoded.RecipientKeys) != 0 {
		t.Errorf("Decoded payload has %d recipient keys, expected none",
			len(decoded.RecipientKeys))
	}
}

func TestDecodePayloadMisaligned(t *testing.T) {
	epl := EncryptedPayload{
		Sender:         nacl.NewKey(),
		CipherText:     []byte("C1ph3r T3xt"),
		Nonce:          nacl.NewNonce(),
		RecipientBoxes: [][]byte{[]byte("B0x1"), []byte("B0x2")},
		RecipientNonce: nacl.NewNonce(),
		RecipientKeys:  []nacl.Key{nacl.NewKey()},
	}

	_, err := DecodePayload(EncodePayload(epl))
	if err == nil {
		t.Errorf("Expected misaligned payload to be rejected")
	}
}

func TestDecodePayloadTruncated(t *testing.T) {
	epl := EncryptedPayload{
		Sender:         nacl.NewKey(),
		CipherText:     []byte("C1ph3r T3xt"),
		Nonce:          nacl.NewNonce(),
		RecipientBoxes: [][]byte{[]byte("B0x1")},
		RecipientNonce: nacl.NewNonce(),
	}

	encoded := EncodePayload(epl)
	_, err := DecodePayload(encoded[:len(encoded)/2])
	if err == nil {
		t.Errorf("Expected truncated payload to be rejected")
	}
}

func TestEncodePayloadBatch(t *testing.T) {
	payloads := []EncryptedPayload{
		{
			Sender:               nacl.NewKey(),
			CipherText:           []byte("C1ph3r T3xt1"),
			Nonce:                nacl.NewNonce(),
			RecipientBoxes:       [][]byte{[]byte("B0x1")},
			RecipientNonce:       nacl.NewNonce(),
			RecipientKeys:        []nacl.Key{nacl.NewKey()},
			AffectedTransactions: map[string][]byte{},
		},
		{
			Sender:               nacl.NewKey(),
			CipherText:           []byte("C1ph3r T3xt2"),
			Nonce:                nacl.NewNonce(),
			RecipientBoxes:       [][]byte{[]byte("B0x2")},
			RecipientNonce:       nacl.NewNonce(),
			RecipientKeys:        []nacl.Key{nacl.NewKey()},
			AffectedTransactions: map[string][]byte{},
		},
	}

	encoded := EncodePayloadBatch(payloads)
	decoded, err := DecodePayloadBatch(encoded)

	if err != nil {
		t.Fatalf("Unable to decode payload batch: %v", err)
	}

	if !reflect.DeepEqual(payloads, decoded) {
		t.Errorf("Decoded batch: %v does not match input %v", decoded, payloads)
	}
}

func TestEncodePartyInfo(t *testing.T) {
	info := NodeInfo{
		Url: "https://127.0.0.4:9004/",
		Recipients: []Recipient{
			{Key: nacl.NewKey(), Url: "https://127.0.0.1:9001/"},
			{Key: nacl.NewKey(), Url: "https://127.0.0.2:9002/"},
			{Key: nacl.NewKey(), Url: "https://127.0.0.3:9003/"},
		},
		Parties: []Party{
			{Url: "https://127.0.0.1:9001/"},
			{Url: "https://127.0.0.2:9002/"},
			{Url: "https://127.0.0.3:9003/"},
		},
		SupportedApiVersions: []string{"1.0", "2.0"},
	}

	encoded := EncodePartyInfo(info)
	decoded, err := DecodePartyInfo(encoded)

	if err != nil {
		t.Fatalf("Unable to decode party info: %v", err)
	}

	if !reflect.DeepEqual(info, decoded) {
		t.Errorf("Decoded partyInfo: %v does not match input %v", decoded, info)
	}
}

func TestWithRecipientCopies(t *testing.T) {
	original := EncryptedPayload{
		Sender:         nacl.NewKey(),
		CipherText:     []byte("C1ph3r T3xt"),
		Nonce:          nacl.NewNonce(),
		RecipientBoxes: [][]byte{[]byte("B0x1")},
		RecipientNonce: nacl.NewNonce(),
		RecipientKeys:  []nacl.Key{nacl.NewKey()},
	}

	extended := original.WithRecipient(nacl.NewKey(), []byte("B0x2"))

	if len(original.RecipientKeys) != 1 || len(original.RecipientBoxes) != 1 {
		t.Errorf("Original payload was mutated: %v", original)
	}

	if len(extended.RecipientKeys) != 2 || len(extended.RecipientBoxes) != 2 {
		t.Errorf("Extended payload has wrong recipient count: %v", extended)
	}
}
