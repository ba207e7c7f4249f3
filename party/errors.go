package party

import "fmt"

// KeyNotFoundError is returned when a recipient public key has no entry in
// the store. It is distinct from transport failures so callers can tell
// "peer unreachable" apart from "key unknown".
type KeyNotFoundError struct {
	Key string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("recipient key %s not found", e.Key)
}

// AutoDiscoveryDisabledError is the security rejection raised when a node
// outside the configured peer list attempts a party info update while
// auto-discovery is off. No state is changed when it is returned.
type AutoDiscoveryDisabledError struct {
	Url string
}

func (e *AutoDiscoveryDisabledError) Error() string {
	return fmt.Sprintf("peer %s not found in known peer list", e.Url)
}
