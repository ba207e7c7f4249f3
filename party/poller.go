package party

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/kestrelmesh/kestrel/api"
	"github.com/kestrelmesh/kestrel/utils"
)

// PartyInfoPublisher pushes an encoded party info snapshot to one remote
// node.
type PartyInfoPublisher interface {
	PublishPartyInfo(encoded []byte, url string) error
}

// Poller broadcasts this node's current snapshot to every known party.
// Run is designed to be invoked on a fixed schedule by an external ticker
// loop; eventual consistency across the network depends on every node
// running it repeatedly.
type Poller struct {
	service   *Service
	publisher PartyInfoPublisher
}

func NewPoller(service *Service, publisher PartyInfoPublisher) *Poller {
	return &Poller{service: service, publisher: publisher}
}

// Run reads the current snapshot, serializes it once, and pushes it to
// every known party other than self. Each per-party push is isolated: a
// failure is logged and does not abort delivery to the other parties.
func (p *Poller) Run() {
	log.Debug("Started party info polling round")

	info := p.service.GetPartyInfo()
	encoded := api.EncodePartyInfo(info)

	self := utils.MustNormalizeURL(info.Url)

	var wg sync.WaitGroup
	for _, party := range info.Parties {
		url := utils.MustNormalizeURL(party.Url)
		if url == self {
			continue
		}

		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			if err := p.publisher.PublishPartyInfo(encoded, url); err != nil {
				// expected during normal operation, the next round retries
				log.WithField("url", url).Debugf("Unable to send party info: %v", err)
			}
		}(url)
	}
	wg.Wait()

	log.Debug("Finished party info polling round")
}
