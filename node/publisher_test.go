package node

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kevinburke/nacl"

	"github.com/kestrelmesh/kestrel/api"
	"github.com/kestrelmesh/kestrel/party"
)

func newTestStore(advertisedUrl string) *party.Store {
	return party.NewStore(advertisedUrl, party.NewExclusionCache(time.Minute))
}

func newPublisherAgainst(handler http.Handler) (*Publisher, *httptest.Server) {
	srv := httptest.NewServer(handler)
	publisher := NewPublisher(NewClient(srv.Client()), newTestStore(srv.URL))
	return publisher, srv
}

func TestPublishAcknowledged(t *testing.T) {
	var gotPath string
	var gotBody []byte
	publisher, srv := newPublisherAgainst(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotBody, _ = ioutil.ReadAll(r.Body)
			w.Write([]byte("ack"))
		}))
	defer srv.Close()

	payload := api.EncryptedPayload{
		Sender:         nacl.NewKey(),
		CipherText:     []byte("C1ph3r T3xt"),
		Nonce:          nacl.NewNonce(),
		RecipientBoxes: [][]byte{[]byte("B0x")},
		RecipientNonce: nacl.NewNonce(),
	}

	if err := publisher.Publish(payload, srv.URL); err != nil {
		t.Fatal(err)
	}

	if gotPath != "/push" {
		t.Errorf("Request path: %s, expected /push", gotPath)
	}
	if len(gotBody) == 0 {
		t.Errorf("Push body was empty")
	}
}

func TestPublishEmptyAck(t *testing.T) {
	publisher, srv := newPublisherAgainst(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			// a 200 with no body is not an acknowledgement
		}))
	defer srv.Close()

	err := publisher.Publish(api.EncryptedPayload{
		Sender: nacl.NewKey(), CipherText: []byte("C1ph3r T3xt"),
		Nonce: nacl.NewNonce(), RecipientNonce: nacl.NewNonce(),
	}, srv.URL)

	if _, ok := err.(*PublishError); !ok {
		t.Fatalf("Expected PublishError, got %v", err)
	}
}

func TestPublishNon200(t *testing.T) {
	publisher, srv := newPublisherAgainst(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no thanks", http.StatusInternalServerError)
		}))
	defer srv.Close()

	err := publisher.Publish(api.EncryptedPayload{
		Sender: nacl.NewKey(), CipherText: []byte("C1ph3r T3xt"),
		Nonce: nacl.NewNonce(), RecipientNonce: nacl.NewNonce(),
	}, srv.URL)

	if _, ok := err.(*PublishError); !ok {
		t.Fatalf("Expected PublishError, got %v", err)
	}
}

func TestPublishToKeyResolvesUrl(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ack"))
		}))
	defer srv.Close()

	recipientKey := nacl.NewKey()
	store := newTestStore("http://localhost:9001")
	store.Store(api.NodeInfo{
		Url:        srv.URL,
		Recipients: []api.Recipient{{Key: recipientKey, Url: srv.URL}},
	})

	publisher := NewPublisher(NewClient(srv.Client()), store)

	err := publisher.PublishToKey(api.EncryptedPayload{
		Sender: nacl.NewKey(), CipherText: []byte("C1ph3r T3xt"),
		Nonce: nacl.NewNonce(), RecipientNonce: nacl.NewNonce(),
	}, recipientKey)
	if err != nil {
		t.Fatal(err)
	}
}

func TestPublishToUnknownKey(t *testing.T) {
	publisher := NewPublisher(
		NewClient(http.DefaultClient), newTestStore("http://localhost:9001"))

	err := publisher.PublishToKey(api.EncryptedPayload{}, nacl.NewKey())
	if _, ok := err.(*party.KeyNotFoundError); !ok {
		t.Fatalf("Expected KeyNotFoundError, got %v", err)
	}
}

func TestPublishBatch(t *testing.T) {
	var gotPath string
	publisher, srv := newPublisherAgainst(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.Write([]byte("ack"))
		}))
	defer srv.Close()

	payloads := []api.EncryptedPayload{
		{Sender: nacl.NewKey(), CipherText: []byte("0n3"),
			Nonce: nacl.NewNonce(), RecipientNonce: nacl.NewNonce()},
		{Sender: nacl.NewKey(), CipherText: []byte("Tw0"),
			Nonce: nacl.NewNonce(), RecipientNonce: nacl.NewNonce()},
	}

	if err := publisher.PublishBatch(payloads, srv.URL); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/pushBatch" {
		t.Errorf("Request path: %s, expected /pushBatch", gotPath)
	}
}

func TestRequestAllSkipsSelfAndIsolatesFailures(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	good := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits++
			mu.Unlock()
			w.Write([]byte("ok"))
		}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusServiceUnavailable)
		}))
	defer bad.Close()

	store := newTestStore("http://localhost:9001")
	store.Store(api.NodeInfo{
		Url: good.URL,
		Parties: []api.Party{
			{Url: good.URL}, {Url: bad.URL}, {Url: "http://localhost:9001"},
		},
	})

	requester := NewRequester(NewClient(good.Client()), store)

	err := requester.RequestAll(nacl.NewKey())
	if err == nil {
		t.Fatal("Expected an error reporting the failed party")
	}
	if hits != 1 {
		t.Errorf("Good party contacted %d times, expected 1", hits)
	}
}
