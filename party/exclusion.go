package party

import (
	"time"

	"github.com/ReneKroon/ttlcache/v2"

	"github.com/kestrelmesh/kestrel/api"
	"github.com/kestrelmesh/kestrel/utils"
)

// DefaultExclusionTTL is how long a removed recipient stays excluded from
// merges and outbound publishing before it is allowed back in.
const DefaultExclusionTTL = 10 * time.Minute

// ExclusionCache holds recipients that are temporarily excluded from the
// network view, keyed by their normalized URL. Entries age out after the
// TTL so that a node which comes back online is eventually rediscovered.
type ExclusionCache struct {
	cache *ttlcache.Cache
}

func NewExclusionCache(ttl time.Duration) *ExclusionCache {
	cache := ttlcache.NewCache()
	cache.SetTTL(ttl)
	cache.SkipTTLExtensionOnHit(true)
	return &ExclusionCache{cache: cache}
}

// Exclude marks the recipient as offline.
func (e *ExclusionCache) Exclude(recipient api.Recipient) {
	e.cache.Set(utils.MustNormalizeURL(recipient.Url), recipient)
}

// Include lifts the exclusion for the given URL, returning the previously
// excluded recipient if there was one.
func (e *ExclusionCache) Include(url string) (api.Recipient, bool) {
	normalized := utils.MustNormalizeURL(url)
	value, err := e.cache.Get(normalized)
	if err != nil {
		return api.Recipient{}, false
	}
	e.cache.Remove(normalized)
	return value.(api.Recipient), true
}

// IsExcluded reports whether the recipient's URL is currently excluded.
func (e *ExclusionCache) IsExcluded(recipient api.Recipient) bool {
	_, err := e.cache.Get(utils.MustNormalizeURL(recipient.Url))
	return err == nil
}

func (e *ExclusionCache) Close() {
	e.cache.Close()
}
