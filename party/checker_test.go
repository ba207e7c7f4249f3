package party

import "testing"

func TestKnownPeerChecker(t *testing.T) {
	checker := NewKnownPeerChecker([]string{
		"https://a.example:9001",
		"http://localhost:9002",
	})

	known := []string{
		"https://a.example:9001",
		"https://a.example:9001/",
		"HTTPS://A.EXAMPLE:9001/",
		"http://localhost:9002/",
		"http://127.0.0.1:9002/",
	}
	for _, url := range known {
		if !checker.IsKnown(url) {
			t.Errorf("Url %s should match the peer list", url)
		}
	}

	unknown := []string{
		"https://b.example:9001/",
		"https://a.example:9999/",
		"http://127.0.0.1:9003/",
		"not a url",
	}
	for _, url := range unknown {
		if checker.IsKnown(url) {
			t.Errorf("Url %s should not match the peer list", url)
		}
	}
}
