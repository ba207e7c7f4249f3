package api

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/kevinburke/nacl"

	"github.com/kestrelmesh/kestrel/utils"
)

// PayloadCodecVersion identifies the binary layout produced by
// EncodePayload. Stored alongside durable records so older encodings can be
// recognised later.
const PayloadCodecVersion = 2

// EncodePayload serializes an EncryptedPayload using the length-prefixed
// binary format shared by all nodes.
func EncodePayload(ep EncryptedPayload) []byte {
	// constant fields are 216 bytes
	encoded := make([]byte, 512)

	offset := 0
	encoded, offset = writeSlice((*ep.Sender)[:], encoded, offset)
	encoded, offset = writeSlice(ep.CipherText, encoded, offset)
	encoded, offset = writeSlice((*ep.Nonce)[:], encoded, offset)
	encoded, offset = writeSliceOfSlice(ep.RecipientBoxes, encoded, offset)
	encoded, offset = writeSlice((*ep.RecipientNonce)[:], encoded, offset)

	keys := make([][]byte, len(ep.RecipientKeys))
	for i, key := range ep.RecipientKeys {
		keys[i] = (*key)[:]
	}
	encoded, offset = writeSliceOfSlice(keys, encoded, offset)

	encoded, offset = writeInt(int(ep.PrivacyMode), encoded, offset)

	hashes := make([]string, 0, len(ep.AffectedTransactions))
	for hash := range ep.AffectedTransactions {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)

	encoded, offset = writeInt(len(hashes), encoded, offset)
	for _, hash := range hashes {
		pair := [][]byte{
			[]byte(hash),
			ep.AffectedTransactions[hash],
		}
		encoded, offset = writeSliceOfSlice(pair, encoded, offset)
	}

	encoded, offset = writeSlice(ep.ExecHash, encoded, offset)
	encoded, offset = writeSlice(ep.PrivacyGroupId, encoded, offset)

	return encoded[:offset]
}

// DecodePayload is the inverse of EncodePayload.
func DecodePayload(encoded []byte) (ep EncryptedPayload, err error) {
	ep = EncryptedPayload{
		Sender:         new([nacl.KeySize]byte),
		Nonce:          new([nacl.NonceSize]byte),
		RecipientNonce: new([nacl.NonceSize]byte),
	}

	// truncated input shows up as a slice bounds failure in the readers,
	// there is no point unwinding field by field
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed payload: %v", r)
		}
	}()

	offset := 0
	offset = readSliceToArray(encoded, offset, (*ep.Sender)[:])
	ep.CipherText, offset = readSlice(encoded, offset)
	offset = readSliceToArray(encoded, offset, (*ep.Nonce)[:])
	ep.RecipientBoxes, offset = readSliceOfSlice(encoded, offset)
	offset = readSliceToArray(encoded, offset, (*ep.RecipientNonce)[:])

	var keys [][]byte
	keys, offset = readSliceOfSlice(encoded, offset)
	ep.RecipientKeys = make([]nacl.Key, len(keys))
	for i, raw := range keys {
		key, err := utils.ToKey(raw)
		if err != nil {
			return ep, err
		}
		ep.RecipientKeys[i] = key
	}

	if len(ep.RecipientBoxes) != len(ep.RecipientKeys) && len(ep.RecipientKeys) != 0 {
		return ep, fmt.Errorf(
			"misaligned payload: %d recipient boxes for %d keys",
			len(ep.RecipientBoxes), len(ep.RecipientKeys))
	}

	mode := readInt(encoded[offset:])
	offset += 8
	ep.PrivacyMode = PrivacyMode(mode)

	size := readInt(encoded[offset:])
	offset += 8
	ep.AffectedTransactions = make(map[string][]byte, size)
	for i := 0; i < size; i++ {
		var pair [][]byte
		pair, offset = readSliceOfSlice(encoded, offset)
		ep.AffectedTransactions[string(pair[0])] = pair[1]
	}

	ep.ExecHash, offset = readSlice(encoded, offset)
	ep.PrivacyGroupId, offset = readSlice(encoded, offset)

	// absent optional fields decode as nil, not zero-length
	if len(ep.ExecHash) == 0 {
		ep.ExecHash = nil
	}
	if len(ep.PrivacyGroupId) == 0 {
		ep.PrivacyGroupId = nil
	}

	return ep, nil
}

// EncodePayloadBatch serializes several payloads into one body for bulk
// catch-up transfers.
func EncodePayloadBatch(payloads []EncryptedPayload) []byte {
	encoded := make([]byte, 512)

	offset := 0
	encoded, offset = writeInt(len(payloads), encoded, offset)
	for _, payload := range payloads {
		encoded, offset = writeSlice(EncodePayload(payload), encoded, offset)
	}
	return encoded[:offset]
}

// DecodePayloadBatch is the inverse of EncodePayloadBatch.
func DecodePayloadBatch(encoded []byte) (payloads []EncryptedPayload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed payload batch: %v", r)
		}
	}()

	offset := 0
	size := readInt(encoded[offset:])
	offset += 8

	payloads = make([]EncryptedPayload, 0, size)
	for i := 0; i < size; i++ {
		var single []byte
		single, offset = readSlice(encoded, offset)
		payload, err := DecodePayload(single)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// EncodePartyInfo serializes a NodeInfo snapshot for the party info sync
// round. Only identity is carried; last-contacted timestamps are local
// metadata.
func EncodePartyInfo(info NodeInfo) []byte {
	encoded := make([]byte, 256)

	offset := 0
	encoded, offset = writeSlice([]byte(info.Url), encoded, offset)

	encoded, offset = writeInt(len(info.Recipients), encoded, offset)
	for _, recipient := range info.Recipients {
		pair := [][]byte{
			(*recipient.Key)[:],
			[]byte(recipient.Url),
		}
		encoded, offset = writeSliceOfSlice(pair, encoded, offset)
	}

	parties := make([][]byte, len(info.Parties))
	for i, party := range info.Parties {
		parties[i] = []byte(party.Url)
	}
	encoded, offset = writeSliceOfSlice(parties, encoded, offset)

	versions := make([][]byte, len(info.SupportedApiVersions))
	for i, version := range info.SupportedApiVersions {
		versions[i] = []byte(version)
	}
	encoded, offset = writeSliceOfSlice(versions, encoded, offset)

	return encoded[:offset]
}

// DecodePartyInfo is the inverse of EncodePartyInfo.
func DecodePartyInfo(encoded []byte) (info NodeInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed party info: %v", r)
		}
	}()

	offset := 0
	url, offset := readSlice(encoded, offset)
	info.Url = string(url)

	size := readInt(encoded[offset:])
	offset += 8

	info.Recipients = make([]Recipient, 0, size)
	for i := 0; i < size; i++ {
		var pair [][]byte
		pair, offset = readSliceOfSlice(encoded, offset)
		key, err := utils.ToKey(pair[0])
		if err != nil {
			return info, err
		}
		info.Recipients = append(info.Recipients, Recipient{
			Key: key,
			Url: string(pair[1]),
		})
	}

	parties, offset := readSliceOfSlice(encoded, offset)
	info.Parties = make([]Party, len(parties))
	for i, party := range parties {
		info.Parties[i] = Party{Url: string(party)}
	}

	if offset < len(encoded) {
		versions, _ := readSliceOfSlice(encoded, offset)
		info.SupportedApiVersions = make([]string, len(versions))
		for i, version := range versions {
			info.SupportedApiVersions[i] = string(version)
		}
	}

	return info, nil
}

func writeInt(v int, dest []byte, offset int) ([]byte, int) {
	dest = confirmCapacity(dest, offset, 8)
	binary.BigEndian.PutUint64(dest[offset:], uint64(v))
	return dest, offset + 8
}

func confirmCapacity(dest []byte, offset, required int) []byte {
	length := len(dest)
	if length-offset < required {
		var newLength int
		if required > length {
			newLength = utils.NextPowerOf2(required)
		} else {
			newLength = length
		}
		return append(dest, make([]byte, newLength)...)
	}
	return dest
}

func readInt(src []byte) int {
	return int(binary.BigEndian.Uint64(src))
}

func writeSlice(src []byte, dest []byte, offset int) ([]byte, int) {
	length := len(src)
	dest, offset = writeInt(length, dest, offset)

	dest = confirmCapacity(dest, offset, length)
	copy(dest[offset:], src)
	return dest, offset + length
}

func readSliceToArray(src []byte, offset int, dest []byte) int {
	length := readInt(src[offset : offset+8])
	offset += 8
	copy(dest, src[offset:offset+length])
	offset += length
	return offset
}

func readSlice(src []byte, offset int) ([]byte, int) {
	length := readInt(src[offset : offset+8])
	offset += 8
	return src[offset : offset+length], offset + length
}

func writeSliceOfSlice(src [][]byte, dest []byte, offset int) ([]byte, int) {
	length := len(src)
	dest, offset = writeInt(length, dest, offset)

	for _, b := range src {
		dest, offset = writeSlice(b, dest, offset)
	}

	return dest, offset
}

func readSliceOfSlice(src []byte, offset int) ([][]byte, int) {
	arraySize := readInt(src[offset : offset+8])
	offset += 8

	result := make([][]byte, arraySize)
	for i := 0; i < arraySize; i++ {
		length := readInt(src[offset : offset+8])
		offset += 8
		result[i] = append(
			result[i], src[offset:offset+length]...)
		offset += length
	}
	return result, offset
}
