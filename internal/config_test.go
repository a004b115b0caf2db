package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRelays(t *testing.T) {
	saved := Configuration.Nostr
	t.Cleanup(func() { Configuration.Nostr = saved })

	Configuration.Nostr.ProfileRelays = nil
	Configuration.Nostr.ReceiptRelays = nil
	checkNostrConfiguration()

	assert.ElementsMatch(t, []string{
		"wss://relay.nostr.band",
		"wss://purplepag.es",
		"wss://relay.damus.io",
		"wss://nostr.wine",
	}, Configuration.Nostr.ProfileRelays)
	assert.ElementsMatch(t, []string{
		"wss://relay.nostr.band",
		"wss://relay.damus.io",
		"wss://nos.lol",
	}, Configuration.Nostr.ReceiptRelays)

	Configuration.Nostr.ProfileRelays[0] = "wss://changed.example"
	assert.Equal(t, "wss://relay.nostr.band", defaultProfileRelays[0])
}
