package party

import (
	"net/url"
	"strings"

	"github.com/kestrelmesh/kestrel/utils"
)

// KnownPeerChecker decides whether an inbound URL matches the statically
// configured peer list. localhost and its loopback addresses are treated as
// aliases of each other, since peers frequently advertise one while being
// configured as the other.
type KnownPeerChecker struct {
	peers []string
}

func NewKnownPeerChecker(peers []string) KnownPeerChecker {
	normalized := make([]string, 0, len(peers))
	for _, peer := range peers {
		normalized = append(normalized, utils.MustNormalizeURL(peer))
	}
	return KnownPeerChecker{peers: normalized}
}

// IsKnown reports whether rawUrl matches one of the configured peers.
func (k KnownPeerChecker) IsKnown(rawUrl string) bool {
	candidate, err := utils.NormalizeURL(rawUrl)
	if err != nil {
		return false
	}

	for _, peer := range k.peers {
		if strings.HasPrefix(candidate, peer) {
			return true
		}
		if sameHostAliased(candidate, peer) {
			return true
		}
	}
	return false
}

func sameHostAliased(a, b string) bool {
	parsedA, errA := url.Parse(a)
	parsedB, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}

	if parsedA.Scheme != parsedB.Scheme || parsedA.Port() != parsedB.Port() {
		return false
	}
	return isLoopback(parsedA.Hostname()) && isLoopback(parsedB.Hostname())
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
