package party

import (
	"errors"
	"sync"
	"testing"
)

type MockPartyInfoPublisher struct {
	mu      sync.Mutex
	pushed  []string
	failing map[string]bool
}

func (m *MockPartyInfoPublisher) PublishPartyInfo(encoded []byte, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[url] {
		return errors.New("connection refused")
	}
	m.pushed = append(m.pushed, url)
	return nil
}

func TestPollerPushesToAllPartiesExceptSelf(t *testing.T) {
	service, store := newTestService(ServiceConfig{
		AdvertisedUrl: "http://localhost:9001",
		Peers:         []string{"http://localhost:9002", "http://localhost:9003"},
	})
	service.PopulateStore()

	publisher := &MockPartyInfoPublisher{}
	NewPoller(service, publisher).Run()

	if len(publisher.pushed) != 2 {
		t.Errorf("Pushed to %d parties, expected 2: %v", len(publisher.pushed), publisher.pushed)
	}
	for _, url := range publisher.pushed {
		if url == store.AdvertisedUrl() {
			t.Errorf("Poller pushed to its own url")
		}
	}
}

func TestPollerIsolatesFailures(t *testing.T) {
	service, _ := newTestService(ServiceConfig{
		AdvertisedUrl: "http://localhost:9001",
		Peers:         []string{"http://localhost:9002", "http://localhost:9003"},
	})
	service.PopulateStore()

	publisher := &MockPartyInfoPublisher{
		failing: map[string]bool{"http://localhost:9002/": true},
	}
	NewPoller(service, publisher).Run()

	if len(publisher.pushed) != 1 {
		t.Errorf("Pushed to %d parties, expected the non-failing one: %v",
			len(publisher.pushed), publisher.pushed)
	}
	if len(publisher.pushed) == 1 && publisher.pushed[0] != "http://localhost:9003/" {
		t.Errorf("Pushed to %s, expected http://localhost:9003/", publisher.pushed[0])
	}
}
