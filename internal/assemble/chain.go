package assemble

import (
	"fmt"
	"sync"

	"github.com/marketfeed/rtcore/internal/recache"
	"github.com/marketfeed/rtcore/internal/schema"
)

// ChainLinkNextFID is the well-known field id carrying the next
// link's ticker name; an empty string marks the final link, per
// spec §3.9's chain record layout.
const ChainLinkNextFID = 1

// ChainFirstConstituentFID is the first of a contiguous run of
// constituent-name fields on each link record.
const ChainFirstConstituentFID = 2

// Chain walks a linked sequence of records (a constituent list split
// across several fixed-size link records, the classic "chain"
// instrument) and reassembles it into one ordered constituent list.
// Unlike ByteStream, a Chain's links are separate cached Records
// addressed by ticker name, not fields within a single record.
type Chain struct {
	mu           sync.Mutex
	maxLinkLen   int
	firstTicker  string
	constituents []string
}

// NewChain starts a chain walk rooted at firstTicker, the ticker of
// the chain's first link record. maxLinkLen bounds how many
// constituent-name fields one link record carries.
func NewChain(firstTicker string, maxLinkLen int) *Chain {
	return &Chain{firstTicker: firstTicker, maxLinkLen: maxLinkLen}
}

// Walk reassembles the chain by following NEXT_LR pointers through
// cache, starting at c.firstTicker. It returns the full ordered
// constituent list, or an error if a link is not yet cached (the
// caller should retry once that link's image arrives).
func (c *Chain) Walk(service string, cache *recache.Cache) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.constituents = c.constituents[:0]
	ticker := c.firstTicker
	seen := map[string]bool{}

	for ticker != "" {
		if seen[ticker] {
			return nil, fmt.Errorf("assemble: chain loop detected at link %q", ticker)
		}
		seen[ticker] = true

		rec, ok := cache.Lookup(service, ticker)
		if !ok {
			return nil, fmt.Errorf("assemble: chain link %q/%q not yet cached", service, ticker)
		}

		for i := 0; i < c.maxLinkLen; i++ {
			f, ok := rec.Get(ChainFirstConstituentFID + i)
			if !ok {
				continue
			}
			name := f.AsString()
			if name == "" {
				continue
			}
			c.constituents = append(c.constituents, name)
		}

		next, ok := rec.Get(ChainLinkNextFID)
		if !ok {
			break
		}
		ticker = next.AsString()
	}

	out := make([]string, len(c.constituents))
	copy(out, c.constituents)
	return out, nil
}

// BuildLinkFields lays out one link record's fields for publishing: a
// next-link-ticker field followed by up to maxLinkLen constituent
// names. nextTicker is "" for the final link.
func BuildLinkFields(names []string, nextTicker string) []schema.Field {
	fields := make([]schema.Field, 0, len(names)+1)
	fields = append(fields, schema.NewString(ChainLinkNextFID, nextTicker))
	for i, name := range names {
		fields = append(fields, schema.NewString(ChainFirstConstituentFID+i, name))
	}
	return fields
}
