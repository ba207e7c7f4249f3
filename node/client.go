// Package node holds the outbound side of node-to-node communication:
// the HTTP client, payload publishers and the transaction requester.
package node

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/kevinburke/nacl"
	"github.com/pkg/errors"

	"github.com/kestrelmesh/kestrel/api"
	"github.com/kestrelmesh/kestrel/utils"
)

// Client performs the raw HTTP exchanges with a remote node. It applies no
// retry policy; retry belongs to the periodic sync loop.
type Client struct {
	http utils.HttpClient
}

func NewClient(httpClient utils.HttpClient) *Client {
	return &Client{http: httpClient}
}

// PushPayload delivers an encoded payload to the target node, returning
// the acknowledgement body.
func (c *Client) PushPayload(encoded []byte, url string) ([]byte, error) {
	return c.post(url, "/push", "application/octet-stream", encoded)
}

// PushPayloadBatch delivers a batch body to the target node.
func (c *Client) PushPayloadBatch(encoded []byte, url string) ([]byte, error) {
	return c.post(url, "/pushBatch", "application/octet-stream", encoded)
}

// PublishPartyInfo pushes an encoded party info snapshot to the target
// node.
func (c *Client) PublishPartyInfo(encoded []byte, url string) error {
	_, err := c.post(url, "/partyinfo", "application/octet-stream", encoded)
	return err
}

// DecodeChallenge asks the node claiming recipient's URL to decrypt a
// validation challenge and returns the plaintext it answers with. Used as
// the party info validator's decode callback.
func (c *Client) DecodeChallenge(recipient api.Recipient, encrypted []byte) (string, error) {
	body, err := c.post(recipient.Url, "/partyinfo/validate", "application/octet-stream", encrypted)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// RequestAllResend asks the node at url to push back every transaction it
// holds for the given recipient key.
func (c *Client) RequestAllResend(key nacl.Key, url string) error {
	request := api.ResendRequest{
		Type:      "all",
		PublicKey: utils.EncodeKey(key),
	}

	encoded, err := json.Marshal(request)
	if err != nil {
		return err
	}

	_, err = c.post(url, "/resend", "application/json", encoded)
	return err
}

func (c *Client) post(baseUrl, path, contentType string, body []byte) ([]byte, error) {
	target, err := utils.BuildUrl(baseUrl, path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest("POST", target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	ack, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf(
			"%s responded with status %d: %s", target, resp.StatusCode, string(ack))
	}

	return ack, nil
}
