package watchers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
	"github.com/gotrs-io/gotrs-ingest/internal/repository/memory"
)

func active(emails ...string) []models.Watcher {
	out := make([]models.Watcher, 0, len(emails))
	for _, e := range emails {
		out = append(out, models.Watcher{Email: e, IsActive: true})
	}
	return out
}

func TestAggregateUnionMinusExclude(t *testing.T) {
	set := models.WatcherSet{
		TenantGlobal: active("a", "b"),
		AccountLevel: active("b", "c"),
		EntityLevel:  []models.EntityWatcher{{Email: "c"}, {Email: "d"}},
	}
	assert.Equal(t, []string{"a", "b", "c"}, Aggregate(set, []string{"d"}))
}

func TestAggregateHonoursFlags(t *testing.T) {
	no, yes := false, true
	set := models.WatcherSet{
		TenantGlobal: []models.Watcher{{Email: "off", IsActive: false}, {Email: "on", IsActive: true}},
		EntityLevel: []models.EntityWatcher{
			{Email: "muted", Notify: &no},
			{Email: "loud", Notify: &yes},
			{Email: "unset"},
		},
	}
	assert.Equal(t, []string{"on", "loud", "unset"}, Aggregate(set, nil))
}

func TestAggregateIsCaseSensitive(t *testing.T) {
	set := models.WatcherSet{TenantGlobal: active("Boss@Acme.test")}
	assert.Equal(t, []string{"Boss@Acme.test"}, Aggregate(set, []string{"boss@acme.test"}))
}

func TestAggregatorBCC(t *testing.T) {
	store := memory.NewStore()
	store.SetTenantWatchers("t1", active("a", "b"))
	store.SetAccountWatchers("acc", active("b", "c"))

	agg := NewAggregator(store)
	got, err := agg.BCC(context.Background(), Request{
		TenantID:       "t1",
		AccountID:      "acc",
		EntityWatchers: []models.EntityWatcher{{Email: "c"}, {Email: "d"}, {Email: "e"}},
		Recipients:     []string{"a"},
		Cc:             []string{"e"},
		ExcludeEmails:  []string{"d"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, got)

	got, err = agg.BCC(context.Background(), Request{TenantID: "t1", AccountID: "acc", AccountWatchers: []models.Watcher{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got, "an explicit empty account list is not reloaded")
}
