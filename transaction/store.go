// Package transaction owns the durable encrypted transaction records and
// the reconciliation of re-delivered messages.
package transaction

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/kestrelmesh/kestrel/api"
	"github.com/kestrelmesh/kestrel/storage"
	"github.com/kestrelmesh/kestrel/utils"
)

// ErrNotFound is returned when no transaction exists for a hash.
var ErrNotFound = errors.New("transaction not found")

// EncryptedTransaction is a durable record keyed by the content address of
// its cipher text. The hash is immutable once computed; the encoded
// payload may be rewritten only to add recipients, never to change the
// sender or cipher text.
type EncryptedTransaction struct {
	Hash           []byte
	EncodedPayload []byte
	CodecVersion   int
	Timestamp      time.Time
}

// Store persists encrypted transactions in a key-value datastore.
type Store struct {
	db storage.DataStore
}

func NewStore(db storage.DataStore) *Store {
	return &Store{db: db}
}

// Save writes the record under its hash, stamping the codec version and,
// when unset, the timestamp.
func (s *Store) Save(et *EncryptedTransaction) error {
	if et.CodecVersion == 0 {
		et.CodecVersion = api.PayloadCodecVersion
	}
	if et.Timestamp.IsZero() {
		et.Timestamp = time.Now()
	}

	record := encodeRecord(et)
	return s.db.Write(&et.Hash, &record)
}

// Retrieve loads the record for the given hash, or ErrNotFound.
func (s *Store) Retrieve(hash []byte) (*EncryptedTransaction, error) {
	record, err := s.db.Read(&hash)
	if err == storage.ErrNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	et, err := decodeRecord(*record)
	if err != nil {
		return nil, err
	}
	et.Hash = hash
	return et, nil
}

// Delete removes the record for the given hash.
func (s *Store) Delete(hash []byte) error {
	return s.db.Delete(&hash)
}

// ReadAll invokes f for every stored transaction. Records that fail to
// decode are skipped.
func (s *Store) ReadAll(f func(et *EncryptedTransaction)) error {
	return s.db.ReadAll(func(key, value *[]byte) {
		et, err := decodeRecord(*value)
		if err != nil {
			return
		}
		et.Hash = append([]byte{}, *key...)
		f(et)
	})
}

// HashFor computes the content address for a payload's cipher text.
func HashFor(payload api.EncryptedPayload) []byte {
	return utils.Sha3Hash(payload.CipherText)
}

func encodeRecord(et *EncryptedTransaction) []byte {
	record := make([]byte, 16+len(et.EncodedPayload))
	binary.BigEndian.PutUint64(record[0:], uint64(et.CodecVersion))
	binary.BigEndian.PutUint64(record[8:], uint64(et.Timestamp.Unix()))
	copy(record[16:], et.EncodedPayload)
	return record
}

func decodeRecord(record []byte) (*EncryptedTransaction, error) {
	if len(record) < 16 {
		return nil, errors.New("transaction record too short")
	}
	return &EncryptedTransaction{
		CodecVersion:   int(binary.BigEndian.Uint64(record[0:])),
		Timestamp:      time.Unix(int64(binary.BigEndian.Uint64(record[8:])), 0),
		EncodedPayload: append([]byte{}, record[16:]...),
	}, nil
}
