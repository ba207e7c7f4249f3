// Package server exposes the node's HTTP surfaces: the public peer-to-peer
// endpoints and the IPC-only endpoints used by the local client.
package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/kevinburke/nacl"
	log "github.com/sirupsen/logrus"

	"github.com/kestrelmesh/kestrel/api"
	"github.com/kestrelmesh/kestrel/enclave"
	"github.com/kestrelmesh/kestrel/node"
	"github.com/kestrelmesh/kestrel/party"
	"github.com/kestrelmesh/kestrel/transaction"
	"github.com/kestrelmesh/kestrel/utils"
)

const (
	upCheck           = "/upcheck"
	version           = "/version"
	push              = "/push"
	pushBatch         = "/pushBatch"
	resend            = "/resend"
	partyInfo         = "/partyinfo"
	partyInfoValidate = "/partyinfo/validate"
	send              = "/send"
	receive           = "/receive"
	deletePath        = "/delete"

	upCheckResponse = "I'm up!"
	apiVersion      = "1.0"

	validateNack = "NACK"
)

// Transport identifies a wire binding for the peer-to-peer surface. The
// set is closed and selected explicitly at startup.
type Transport int

const (
	TransportREST Transport = iota
)

// TransactionManager wires the HTTP handlers to the discovery and
// reconciliation services.
type TransactionManager struct {
	Enclave   enclave.Enclave
	Service   *party.Service
	Validator *party.Validator
	// DecodeChallenge performs the challenge round trip for inbound party
	// info validation. Nil disables challenge validation of updates.
	DecodeChallenge party.DecodeFunc
	Resend          *transaction.ResendManager
	TxStore         *transaction.Store
	Publisher       *node.Publisher
	PartyStore      *party.Store
}

// NewHandler builds the public peer-to-peer handler for the selected
// transport.
func NewHandler(t Transport, tm *TransactionManager) (http.Handler, error) {
	switch t {
	case TransportREST:
		mux := http.NewServeMux()
		mux.HandleFunc(upCheck, tm.upcheck)
		mux.HandleFunc(version, tm.version)
		mux.HandleFunc(push, tm.push)
		mux.HandleFunc(pushBatch, tm.pushBatch)
		mux.HandleFunc(resend, tm.resend)
		mux.HandleFunc(partyInfo, tm.partyInfo)
		mux.HandleFunc(partyInfoValidate, tm.partyInfoValidate)
		return mux, nil
	default:
		return nil, fmt.Errorf("unsupported transport: %d", t)
	}
}

// NewIpcHandler builds the handler for the unix-socket surface, restricted
// to the local transaction submission endpoints.
func NewIpcHandler(tm *TransactionManager) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(upCheck, tm.upcheck)
	mux.HandleFunc(send, tm.send)
	mux.HandleFunc(receive, tm.receive)
	mux.HandleFunc(deletePath, tm.delete)
	return mux
}

func (s *TransactionManager) upcheck(w http.ResponseWriter, req *http.Request) {
	fmt.Fprint(w, upCheckResponse)
}

func (s *TransactionManager) version(w http.ResponseWriter, req *http.Request) {
	fmt.Fprint(w, apiVersion)
}

// push accepts an encoded payload propagated by another node. When the
// sender key is one of our own the payload is reconciled by the resend
// manager, otherwise it is stored as-is. The content hash is echoed as the
// acknowledgement.
func (s *TransactionManager) push(w http.ResponseWriter, req *http.Request) {
	encoded, err := ioutil.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		invalidBody(w, req, err)
		return
	}

	payload, err := api.DecodePayload(encoded)
	if err != nil {
		invalidBody(w, req, err)
		return
	}

	hash := transaction.HashFor(payload)

	if s.ownSender(payload) {
		if err := s.Resend.AcceptOwnMessage(payload); err != nil {
			log.Warnf("Rejected own message push: %v", err)
			badRequest(w, err)
			return
		}
	} else {
		err = s.TxStore.Save(&transaction.EncryptedTransaction{
			Hash:           hash,
			EncodedPayload: encoded,
		})
		if err != nil {
			serverError(w, err)
			return
		}
	}

	fmt.Fprint(w, base64.StdEncoding.EncodeToString(hash))
}

func (s *TransactionManager) pushBatch(w http.ResponseWriter, req *http.Request) {
	encoded, err := ioutil.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		invalidBody(w, req, err)
		return
	}

	payloads, err := api.DecodePayloadBatch(encoded)
	if err != nil {
		invalidBody(w, req, err)
		return
	}

	for _, payload := range payloads {
		hash := transaction.HashFor(payload)
		if s.ownSender(payload) {
			if err := s.Resend.AcceptOwnMessage(payload); err != nil {
				log.Warnf("Rejected own message in batch: %v", err)
				badRequest(w, err)
				return
			}
			continue
		}
		err = s.TxStore.Save(&transaction.EncryptedTransaction{
			Hash:           hash,
			EncodedPayload: api.EncodePayload(payload),
		})
		if err != nil {
			serverError(w, err)
			return
		}
	}

	fmt.Fprintf(w, "%d", len(payloads))
}

// resend replays stored transactions back to the requesting party. An
// "all" request batch-publishes every transaction held for the given
// recipient key; an "individual" request returns a single encoded payload.
func (s *TransactionManager) resend(w http.ResponseWriter, req *http.Request) {
	var resendReq api.ResendRequest
	if err := json.NewDecoder(req.Body).Decode(&resendReq); err != nil {
		req.Body.Close()
		invalidBody(w, req, err)
		return
	}

	switch resendReq.Type {
	case "all":
		key, err := utils.LoadBase64Key(resendReq.PublicKey)
		if err != nil {
			badRequest(w, err)
			return
		}
		if err := s.resendAllFor(key); err != nil {
			serverError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	case "individual":
		hash, err := base64.StdEncoding.DecodeString(resendReq.Key)
		if err != nil {
			badRequest(w, err)
			return
		}
		et, err := s.TxStore.Retrieve(hash)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, "Transaction %s not found\n", resendReq.Key)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(et.EncodedPayload)
	default:
		badRequest(w, fmt.Errorf("unknown resend type: %s", resendReq.Type))
	}
}

// resendAllFor batch-publishes every stored transaction the given key was
// a recipient of back to the node hosting that key.
func (s *TransactionManager) resendAllFor(key nacl.Key) error {
	recipient, err := s.PartyStore.FindRecipientByKey(key)
	if err != nil {
		return err
	}

	var outgoing []api.EncryptedPayload
	err = s.TxStore.ReadAll(func(et *transaction.EncryptedTransaction) {
		payload, err := api.DecodePayload(et.EncodedPayload)
		if err != nil {
			return
		}
		for i, recipientKey := range payload.RecipientKeys {
			if *recipientKey == *key {
				single := payload
				single.RecipientBoxes = [][]byte{payload.RecipientBoxes[i]}
				single.RecipientKeys = []nacl.Key{recipientKey}
				outgoing = append(outgoing, single)
				break
			}
		}
	})
	if err != nil {
		return err
	}

	if len(outgoing) == 0 {
		return nil
	}
	return s.Publisher.PublishBatch(outgoing, recipient.Url)
}

// partyInfo merges an inbound snapshot. Recipients are challenge-validated
// first when a decode callback is wired; the node's own snapshot is
// returned in the response.
func (s *TransactionManager) partyInfo(w http.ResponseWriter, req *http.Request) {
	encoded, err := ioutil.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		invalidBody(w, req, err)
		return
	}

	incoming, err := api.DecodePartyInfo(encoded)
	if err != nil {
		invalidBody(w, req, err)
		return
	}

	if s.DecodeChallenge != nil {
		validated := s.Validator.ValidateAndFetchValidRecipients(incoming, s.DecodeChallenge)
		if len(incoming.Recipients) > 0 && len(validated) == 0 {
			log.WithField("url", incoming.Url).Warn(
				"No recipient of inbound party info update passed key validation")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		incoming.Recipients = validated
	}

	updated, err := s.Service.UpdatePartyInfo(incoming)
	if err != nil {
		log.WithField("url", incoming.Url).Warnf("Rejected party info update: %v", err)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintln(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(api.EncodePartyInfo(updated))
}

// partyInfoValidate answers a key-ownership challenge: the body is a
// payload encrypted solely to one of this node's keys and the response is
// the decrypted plaintext, or NACK when it cannot be opened.
func (s *TransactionManager) partyInfoValidate(w http.ResponseWriter, req *http.Request) {
	encoded, err := ioutil.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		invalidBody(w, req, err)
		return
	}

	payload, err := api.DecodePayload(encoded)
	if err != nil {
		invalidBody(w, req, err)
		return
	}

	var provided nacl.Key
	if len(payload.RecipientKeys) > 0 {
		provided = payload.RecipientKeys[0]
	}

	plain, err := s.Enclave.UnencryptTransaction(payload, provided)
	if err != nil {
		log.Debugf("Unable to answer validation challenge: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, validateNack)
		return
	}

	w.Write(plain)
}

// send encrypts a payload for the given recipients, stores it locally and
// pushes one single-box copy to each recipient.
func (s *TransactionManager) send(w http.ResponseWriter, req *http.Request) {
	var sendReq api.SendRequest
	if err := json.NewDecoder(req.Body).Decode(&sendReq); err != nil {
		req.Body.Close()
		invalidBody(w, req, err)
		return
	}

	message, err := base64.StdEncoding.DecodeString(sendReq.Payload)
	if err != nil {
		badRequest(w, err)
		return
	}

	sender := s.Enclave.DefaultPublicKey()
	if sendReq.From != "" {
		sender, err = utils.LoadBase64Key(sendReq.From)
		if err != nil {
			badRequest(w, err)
			return
		}
	}

	recipients := make([]nacl.Key, 0, len(sendReq.To))
	for _, to := range sendReq.To {
		key, err := utils.LoadBase64Key(to)
		if err != nil {
			badRequest(w, err)
			return
		}
		recipients = append(recipients, key)
	}

	payload, err := s.Enclave.EncryptPayload(message, sender, recipients)
	if err != nil {
		serverError(w, err)
		return
	}

	hash := transaction.HashFor(payload)
	err = s.TxStore.Save(&transaction.EncryptedTransaction{
		Hash:           hash,
		EncodedPayload: api.EncodePayload(payload),
	})
	if err != nil {
		serverError(w, err)
		return
	}

	for i, recipient := range payload.RecipientKeys {
		single := payload
		single.RecipientBoxes = [][]byte{payload.RecipientBoxes[i]}
		single.RecipientKeys = []nacl.Key{recipient}
		if err := s.Publisher.PublishToKey(single, recipient); err != nil {
			// surfaced but not fatal to the send, the sync loop catches up
			log.Warnf("Unable to publish payload to recipient: %v", err)
		}
	}

	response := api.SendResponse{Key: base64.StdEncoding.EncodeToString(hash)}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// receive decrypts and returns a stored payload by hash.
func (s *TransactionManager) receive(w http.ResponseWriter, req *http.Request) {
	var receiveReq api.ReceiveRequest
	if err := json.NewDecoder(req.Body).Decode(&receiveReq); err != nil {
		req.Body.Close()
		invalidBody(w, req, err)
		return
	}

	hash, err := base64.StdEncoding.DecodeString(receiveReq.Key)
	if err != nil {
		badRequest(w, err)
		return
	}

	et, err := s.TxStore.Retrieve(hash)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Transaction %s not found\n", receiveReq.Key)
		return
	}

	payload, err := api.DecodePayload(et.EncodedPayload)
	if err != nil {
		serverError(w, err)
		return
	}

	var to nacl.Key
	if receiveReq.To != "" {
		to, err = utils.LoadBase64Key(receiveReq.To)
		if err != nil {
			badRequest(w, err)
			return
		}
	}

	plain, err := s.Enclave.UnencryptTransaction(payload, to)
	if err != nil {
		serverError(w, err)
		return
	}

	response := api.ReceiveResponse{Payload: base64.StdEncoding.EncodeToString(plain)}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *TransactionManager) delete(w http.ResponseWriter, req *http.Request) {
	var deleteReq api.DeleteRequest
	if err := json.NewDecoder(req.Body).Decode(&deleteReq); err != nil {
		req.Body.Close()
		invalidBody(w, req, err)
		return
	}

	hash, err := base64.StdEncoding.DecodeString(deleteReq.Key)
	if err != nil {
		badRequest(w, err)
		return
	}

	if err := s.TxStore.Delete(hash); err != nil {
		serverError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *TransactionManager) ownSender(payload api.EncryptedPayload) bool {
	if payload.Sender == nil {
		return false
	}
	for _, key := range s.Enclave.PublicKeys() {
		if bytes.Equal((*key)[:], (*payload.Sender)[:]) {
			return true
		}
	}
	return false
}

func invalidBody(w http.ResponseWriter, req *http.Request, err error) {
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, "Invalid request: %s, %v\n", req.URL, err)
}

func badRequest(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, "Invalid request: %v\n", err)
}

func serverError(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprintf(w, "Request failed: %v\n", err)
}
