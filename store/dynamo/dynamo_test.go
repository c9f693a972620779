package dynamo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageQueryKeepsNewestWindow(t *testing.T) {
	input := buildSKPrefixQuery("VeloraChat", "CONV#alice#bob", "MSG#", false, maxMessagesPerConversation)

	// Descending over the UUIDv7 sort key, so the limit trims the oldest
	// messages and a long thread still surfaces its newest ones.
	assert.False(t, *input.ScanIndexForward)
	assert.EqualValues(t, maxMessagesPerConversation, *input.Limit)
}

func TestMessagesFromNewestFirst_Chronological(t *testing.T) {
	newestFirst := []dynamoMessage{
		{SK: "MSG#m3", SenderId: "alice", Timestamp: 3000},
		{SK: "MSG#m2", SenderId: "bob", Timestamp: 2000},
		{SK: "MSG#m1", SenderId: "alice", Timestamp: 1000},
	}

	messages := messagesFromNewestFirst(newestFirst)

	assert.Len(t, messages, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{messages[0].Id, messages[1].Id, messages[2].Id})
	assert.Equal(t, []int64{1000, 2000, 3000}, []int64{messages[0].Timestamp, messages[1].Timestamp, messages[2].Timestamp})
}
