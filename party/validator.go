package party

import (
	"time"

	"github.com/google/uuid"
	"github.com/kevinburke/nacl"
	log "github.com/sirupsen/logrus"

	"github.com/kestrelmesh/kestrel/api"
	"github.com/kestrelmesh/kestrel/enclave"
	"github.com/kestrelmesh/kestrel/utils"
)

// DefaultValidationTimeout bounds the network round trip of a single
// challenge. A recipient that does not answer in time is treated as
// invalid, not retried.
const DefaultValidationTimeout = 30 * time.Second

// DecodeFunc performs the network round trip of a validation challenge:
// it delivers the encrypted challenge to the recipient's claimed URL and
// returns the plaintext the remote node decrypted it to.
type DecodeFunc func(recipient api.Recipient, encrypted []byte) (string, error)

// ValidationOutcome is the explicit result of validating one recipient.
type ValidationOutcome struct {
	Recipient api.Recipient
	Valid     bool
	Reason    string
}

// Validator proves that a claimed recipient URL actually controls the
// private key for the public key it advertises, by round-tripping a random
// challenge encrypted solely to that key.
type Validator struct {
	enclave  enclave.Enclave
	timeout  time.Duration
	generate func() string
}

func NewValidator(enc enclave.Enclave) *Validator {
	return &Validator{
		enclave:  enc,
		timeout:  DefaultValidationTimeout,
		generate: uuid.NewString,
	}
}

// ValidateAndFetchValidRecipients filters the recipients of an incoming
// snapshot down to those that pass the challenge. Only recipients claiming
// the sender's own URL are challenged; the rest are hearsay and dropped.
// Any failure during encryption or decoding counts as an invalid
// recipient. Callers decide what an empty result means for the update as a
// whole.
func (v *Validator) ValidateAndFetchValidRecipients(
	info api.NodeInfo, decode DecodeFunc) []api.Recipient {

	senderUrl := utils.MustNormalizeURL(info.Url)

	valid := make([]api.Recipient, 0, len(info.Recipients))
	for _, recipient := range info.Recipients {
		if utils.MustNormalizeURL(recipient.Url) != senderUrl {
			continue
		}

		outcome := v.validateRecipient(recipient, decode)
		if outcome.Valid {
			valid = append(valid, recipient)
		} else {
			log.WithFields(log.Fields{
				"url": recipient.Url, "key": utils.EncodeKey(recipient.Key),
			}).Warnf("Recipient failed key validation: %s", outcome.Reason)
		}
	}

	return valid
}

func (v *Validator) validateRecipient(
	recipient api.Recipient, decode DecodeFunc) ValidationOutcome {

	challenge := v.generate()

	epl, err := v.enclave.EncryptPayload(
		[]byte(challenge), v.enclave.DefaultPublicKey(), []nacl.Key{recipient.Key})
	if err != nil {
		return ValidationOutcome{Recipient: recipient, Reason: "unable to encrypt challenge: " + err.Error()}
	}

	encoded := api.EncodePayload(epl)

	type decodeResult struct {
		plain string
		err   error
	}
	results := make(chan decodeResult, 1)
	go func() {
		plain, err := decode(recipient, encoded)
		results <- decodeResult{plain: plain, err: err}
	}()

	select {
	case result := <-results:
		if result.err != nil {
			return ValidationOutcome{Recipient: recipient, Reason: "challenge delivery failed: " + result.err.Error()}
		}
		if result.plain != challenge {
			return ValidationOutcome{Recipient: recipient, Reason: "challenge response mismatch"}
		}
		return ValidationOutcome{Recipient: recipient, Valid: true}
	case <-time.After(v.timeout):
		return ValidationOutcome{Recipient: recipient, Reason: "challenge timed out"}
	}
}
