package party

import (
	"github.com/kevinburke/nacl"
	log "github.com/sirupsen/logrus"

	"github.com/kestrelmesh/kestrel/api"
	"github.com/kestrelmesh/kestrel/enclave"
	"github.com/kestrelmesh/kestrel/utils"
)

// ServiceConfig carries the discovery policy switches for a Service.
type ServiceConfig struct {
	AdvertisedUrl string
	// Peers is the statically configured peer list.
	Peers []string
	// AutoDiscoveryDisabled restricts updates to the configured peers and
	// filters each peer down to the keys it vouches for itself.
	AutoDiscoveryDisabled bool
	// RemoteKeyValidationDisabled falls back to a soft warning when a known
	// key is re-advertised under a different URL, instead of relying on the
	// challenge protocol. Kept configurable for migration compatibility.
	RemoteKeyValidationDisabled bool
}

// Service orchestrates the party info store: seeding at startup, the
// inbound update policy, and key re-synchronization with the enclave.
type Service struct {
	store   *Store
	enclave enclave.Enclave
	config  ServiceConfig
	checker KnownPeerChecker
}

func NewService(store *Store, enc enclave.Enclave, config ServiceConfig) *Service {
	return &Service{
		store:   store,
		enclave: enc,
		config:  config,
		checker: NewKnownPeerChecker(config.Peers),
	}
}

// PopulateStore seeds the store from static configuration: the configured
// peer URLs plus this node's own enclave keys under its advertised URL.
func (s *Service) PopulateStore() {
	advertisedUrl := utils.MustNormalizeURL(s.config.AdvertisedUrl)

	parties := make([]api.Party, 0, len(s.config.Peers))
	for _, peer := range s.config.Peers {
		parties = append(parties, api.Party{Url: utils.MustNormalizeURL(peer)})
	}

	recipients := make([]api.Recipient, 0)
	for _, key := range s.enclave.PublicKeys() {
		recipients = append(recipients, api.Recipient{Key: key, Url: advertisedUrl})
	}

	s.store.Store(api.NodeInfo{
		Url:        advertisedUrl,
		Recipients: recipients,
		Parties:    parties,
	})
}

// GetPartyInfo returns the current snapshot.
func (s *Service) GetPartyInfo() api.NodeInfo {
	return s.store.Get()
}

// UpdatePartyInfo applies an inbound snapshot under the configured
// discovery policy and returns this node's resulting snapshot. A rejected
// update returns an AutoDiscoveryDisabledError and changes nothing.
func (s *Service) UpdatePartyInfo(incoming api.NodeInfo) (api.NodeInfo, error) {
	if s.config.RemoteKeyValidationDisabled {
		if moved, key := s.keysMovedUrl(incoming); moved {
			log.WithField("key", key).Warn(
				"Attempt is being made to update existing key with a new url, terminating party info update")
			return s.store.Get(), nil
		}
	}

	if !s.config.AutoDiscoveryDisabled {
		// fully permissive network, accept everything
		s.store.Store(incoming)
		return s.store.Get(), nil
	}

	incomingUrl := utils.MustNormalizeURL(incoming.Url)

	if !s.checker.IsKnown(incomingUrl) {
		return api.NodeInfo{}, &AutoDiscoveryDisabledError{Url: incoming.Url}
	}

	// a node may only vouch for its own keys
	ownRecipients := make([]api.Recipient, 0, len(incoming.Recipients))
	for _, recipient := range incoming.Recipients {
		if utils.MustNormalizeURL(recipient.Url) == incomingUrl {
			ownRecipients = append(ownRecipients, recipient)
		}
	}

	parties := make([]api.Party, 0, len(s.config.Peers))
	for _, peer := range s.config.Peers {
		parties = append(parties, api.Party{Url: utils.MustNormalizeURL(peer)})
	}

	s.store.Store(api.NodeInfo{
		Url:        incomingUrl,
		Recipients: ownRecipients,
		Parties:    parties,
	})

	return s.store.Get(), nil
}

// RemoveRecipient drops the recipient hosted at the given URL and returns
// the resulting snapshot.
func (s *Service) RemoveRecipient(url string) api.NodeInfo {
	return s.store.RemoveRecipient(url)
}

// SyncKeys re-reads the owned keys from the enclave and re-stores them
// under this node's advertised URL. The enclave may restart independently
// of this process, so its key set can drift from the store's.
func (s *Service) SyncKeys() {
	advertisedUrl := utils.MustNormalizeURL(s.config.AdvertisedUrl)

	recipients := make([]api.Recipient, 0)
	for _, key := range s.enclave.PublicKeys() {
		recipients = append(recipients, api.Recipient{Key: key, Url: advertisedUrl})
	}

	s.store.Store(api.NodeInfo{
		Url:        advertisedUrl,
		Recipients: recipients,
	})
}

// keysMovedUrl reports whether the incoming snapshot claims a key the
// store already knows under a different URL.
func (s *Service) keysMovedUrl(incoming api.NodeInfo) (bool, string) {
	existing := s.store.Get()

	known := make(map[[nacl.KeySize]byte]string, len(existing.Recipients))
	for _, recipient := range existing.Recipients {
		known[*recipient.Key] = utils.MustNormalizeURL(recipient.Url)
	}

	for _, recipient := range incoming.Recipients {
		if url, ok := known[*recipient.Key]; ok {
			if url != utils.MustNormalizeURL(recipient.Url) {
				return true, utils.EncodeKey(recipient.Key)
			}
		}
	}
	return false, ""
}
