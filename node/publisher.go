package node

import (
	"fmt"

	"github.com/kevinburke/nacl"
	log "github.com/sirupsen/logrus"

	"github.com/kestrelmesh/kestrel/api"
	"github.com/kestrelmesh/kestrel/party"
	"github.com/kestrelmesh/kestrel/utils"
)

// PublishError is the hard failure raised when a payload could not be
// delivered, including the case of an empty acknowledgement. The publisher
// performs no retries; the caller owns retry policy.
type PublishError struct {
	Url    string
	Reason string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("unable to push payload to %s: %s", e.Url, e.Reason)
}

// Publisher pushes encrypted payloads to remote nodes, resolved either by
// URL or by recipient public key via the party info store.
type Publisher struct {
	client *Client
	store  *party.Store
}

func NewPublisher(client *Client, store *party.Store) *Publisher {
	return &Publisher{client: client, store: store}
}

// Publish synchronously pushes one payload to the node at targetUrl.
func (p *Publisher) Publish(payload api.EncryptedPayload, targetUrl string) error {
	encoded := api.EncodePayload(payload)

	ack, err := p.client.PushPayload(encoded, targetUrl)
	if err != nil {
		return &PublishError{Url: targetUrl, Reason: err.Error()}
	}
	if len(ack) == 0 {
		return &PublishError{Url: targetUrl, Reason: "empty acknowledgement"}
	}

	log.WithFields(log.Fields{
		"url": targetUrl, "ack": string(ack),
	}).Debug("Published payload")
	return nil
}

// PublishToKey resolves the recipient key to its claimed URL and pushes
// the payload there. An unknown key surfaces as a KeyNotFoundError, which
// is distinct from delivery failure.
func (p *Publisher) PublishToKey(payload api.EncryptedPayload, key nacl.Key) error {
	recipient, err := p.store.FindRecipientByKey(key)
	if err != nil {
		return err
	}
	return p.Publish(payload, recipient.Url)
}

// PublishBatch pushes several payloads to targetUrl in a single exchange,
// used for bulk catch-up transfers.
func (p *Publisher) PublishBatch(payloads []api.EncryptedPayload, targetUrl string) error {
	encoded := api.EncodePayloadBatch(payloads)

	ack, err := p.client.PushPayloadBatch(encoded, targetUrl)
	if err != nil {
		return &PublishError{Url: targetUrl, Reason: err.Error()}
	}
	if len(ack) == 0 {
		return &PublishError{Url: targetUrl, Reason: "empty acknowledgement"}
	}

	log.WithFields(log.Fields{
		"url": targetUrl, "count": len(payloads),
	}).Debug("Published payload batch")
	return nil
}

// Requester asks remote nodes to resend transactions, driven by the sync
// loop after a restart or when a key is added.
type Requester struct {
	client *Client
	store  *party.Store
}

func NewRequester(client *Client, store *party.Store) *Requester {
	return &Requester{client: client, store: store}
}

// RequestAll asks every known party other than self to resend all
// transactions held for the given recipient key. Failures are isolated per
// party and reported together.
func (r *Requester) RequestAll(key nacl.Key) error {
	info := r.store.Get()
	self := utils.MustNormalizeURL(info.Url)

	var failed int
	for _, p := range info.Parties {
		url := utils.MustNormalizeURL(p.Url)
		if url == self {
			continue
		}
		if err := r.client.RequestAllResend(key, url); err != nil {
			log.WithField("url", url).Debugf("Resend request failed: %v", err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("resend request failed for %d parties", failed)
	}
	return nil
}
