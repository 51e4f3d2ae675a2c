package bus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAssignsIdentity(t *testing.T) {
	b := New(10)

	e := b.Publish("acme", "scheduler", "local_action", map[string]interface{}{"n": 1})
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.TS.IsZero())
	assert.Equal(t, 1, b.Len())
}

func TestQueryFiltersAndOrders(t *testing.T) {
	b := New(10)
	b.Publish("acme", "scheduler", "local_action", nil)
	b.Publish("globex", "autoheal", "escalation", nil)
	b.Publish("acme", "autoheal", "escalation", nil)

	acme := b.Query("acme", "", "", 0)
	require.Len(t, acme, 2)
	// Newest first.
	assert.Equal(t, "escalation", acme[0].Type)
	assert.Equal(t, "local_action", acme[1].Type)

	escalations := b.Query("", "autoheal", "escalation", 0)
	assert.Len(t, escalations, 2)

	limited := b.Query("", "", "", 1)
	require.Len(t, limited, 1)
	assert.Equal(t, "acme", limited[0].Tenant)
}

func TestRingEvictsOldest(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Publish("acme", "test", fmt.Sprintf("e%d", i), nil)
	}

	assert.Equal(t, 3, b.Len())
	events := b.Query("", "", "", 0)
	require.Len(t, events, 3)
	assert.Equal(t, "e4", events[0].Type)
	assert.Equal(t, "e2", events[2].Type)
}
