package listing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Listing is a single marketplace search result, normalized across sites.
// Listings are produced fresh on every scan pass and discarded after they have
// been evaluated; only their identity digest is retained (in the ledger).
type Listing struct {
	Site      string   `json:"site"`
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	ImageURLs []string `json:"image_urls,omitempty"`
}

// identityHexLen is the number of hex characters kept from the SHA-256 digest.
// 96 bits keeps cross-site collisions negligible while keeping ledger entries
// short enough to store tens of thousands of them cheaply.
const identityHexLen = 24

// Identity derives the dedup key for a listing from its site tag and canonical
// URL. The same (site, url) pair always yields the same identity.
func Identity(site, url string) string {
	sum := sha256.Sum256([]byte(site + "|" + url))
	return hex.EncodeToString(sum[:])[:identityHexLen]
}

// ID returns the listing's dedup identity.
func (l Listing) ID() string {
	return Identity(l.Site, l.URL)
}

// maxTitleLen bounds listing titles; marketplace cards occasionally inline an
// entire description blob into the anchor text.
const maxTitleLen = 140

// CleanTitle collapses whitespace runs and bounds the title length.
func CleanTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > maxTitleLen {
		return string(runes[:maxTitleLen])
	}
	return s
}
