// Package party maintains each node's view of the network: which other
// nodes exist and which public keys they own.
package party

import (
	"sync"
	"time"

	"github.com/kevinburke/nacl"
	log "github.com/sirupsen/logrus"

	"github.com/kestrelmesh/kestrel/api"
	"github.com/kestrelmesh/kestrel/utils"
)

// Store is the in-process registry of known parties and recipient keys.
// All reads and merges are linearized by a single mutex; callers always see
// a fully merged or not-yet-merged snapshot, never a partial merge.
type Store struct {
	mu sync.Mutex

	advertisedUrl string
	recipients    map[[nacl.KeySize]byte]api.Recipient
	parties       map[string]api.Party
	exclusions    *ExclusionCache
}

func NewStore(advertisedUrl string, exclusions *ExclusionCache) *Store {
	normalized := utils.MustNormalizeURL(advertisedUrl)
	s := &Store{
		advertisedUrl: normalized,
		recipients:    make(map[[nacl.KeySize]byte]api.Recipient),
		parties:       make(map[string]api.Party),
		exclusions:    exclusions,
	}
	s.parties[normalized] = api.Party{Url: normalized}
	return s
}

// Get returns an immutable snapshot of the current network view.
func (s *Store) Get() api.NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Store merges an incoming snapshot into the registry. Every incoming
// recipient overwrites the existing entry for its public key, every
// incoming party is unioned in, and the sender's own party entry has its
// last-contacted time bumped to now.
func (s *Store) Store(incoming api.NodeInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	senderUrl := utils.MustNormalizeURL(incoming.Url)

	if recovered, ok := s.exclusions.Include(senderUrl); ok {
		s.recipients[*recovered.Key] = recovered
		s.parties[utils.MustNormalizeURL(recovered.Url)] = api.Party{Url: utils.MustNormalizeURL(recovered.Url)}
	}

	excludedUrls := make(map[string]bool)
	for _, recipient := range incoming.Recipients {
		recipientUrl := utils.MustNormalizeURL(recipient.Url)
		if s.exclusions.IsExcluded(recipient) {
			log.WithField("url", recipientUrl).Info("Recipient is excluded, assumed offline")
			delete(s.parties, recipientUrl)
			delete(s.recipients, *recipient.Key)
			excludedUrls[recipientUrl] = true
			continue
		}
		s.recipients[*recipient.Key] = api.Recipient{Key: recipient.Key, Url: recipientUrl}
	}

	for _, party := range incoming.Parties {
		partyUrl := utils.MustNormalizeURL(party.Url)
		if excludedUrls[partyUrl] {
			continue
		}
		if _, ok := s.parties[partyUrl]; !ok {
			s.parties[partyUrl] = api.Party{Url: partyUrl}
		}
	}

	// the sender has been seen just now
	s.parties[senderUrl] = api.Party{Url: senderUrl, LastContacted: time.Now()}
}

// RemoveRecipient drops the recipient hosted at the given URL, along with
// its party entry, and excludes it from future merges until the exclusion
// expires. The post-removal snapshot is returned.
func (s *Store) RemoveRecipient(url string) api.NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := utils.MustNormalizeURL(url)
	for keyBytes, recipient := range s.recipients {
		if recipient.Url == normalized {
			s.exclusions.Exclude(recipient)
			delete(s.recipients, keyBytes)
			delete(s.parties, normalized)
			log.WithField("url", normalized).Info("Removed recipient from party info store")
			break
		}
	}

	return s.snapshot()
}

// FindRecipientByKey resolves a public key to its claimed URL, returning a
// KeyNotFoundError when the key is unknown.
func (s *Store) FindRecipientByKey(key nacl.Key) (api.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recipient, ok := s.recipients[*key]
	if !ok {
		log.WithField("key", utils.EncodeKey(key)).Warn("No recipient found for key")
		return api.Recipient{}, &KeyNotFoundError{Key: utils.EncodeKey(key)}
	}
	return recipient, nil
}

// AdvertisedUrl is this node's own canonical URL.
func (s *Store) AdvertisedUrl() string {
	return s.advertisedUrl
}

// snapshot builds a fresh NodeInfo; callers must hold the lock.
func (s *Store) snapshot() api.NodeInfo {
	recipients := make([]api.Recipient, 0, len(s.recipients))
	for _, recipient := range s.recipients {
		recipients = append(recipients, recipient)
	}

	parties := make([]api.Party, 0, len(s.parties))
	for _, party := range s.parties {
		parties = append(parties, party)
	}

	return api.NodeInfo{
		Url:                  s.advertisedUrl,
		Recipients:           recipients,
		Parties:              parties,
		SupportedApiVersions: api.SupportedVersions,
	}
}
