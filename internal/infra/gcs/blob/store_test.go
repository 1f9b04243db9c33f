package blob

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"

	"github.com/lloydmeta/datahub/internal/domain/blob"
)

func Test_partitionRules(t *testing.T) {
	ours := storage.LifecycleRule{
		Action:    storage.LifecycleAction{Type: storage.DeleteAction},
		Condition: storage.LifecycleCondition{AgeInDays: 3, MatchesPrefix: []string{"orders/"}},
	}
	downgrade := storage.LifecycleRule{
		Action: storage.LifecycleAction{
			Type:         storage.SetStorageClassAction,
			StorageClass: "NEARLINE",
		},
		Condition: storage.LifecycleCondition{AgeInDays: 30},
	}
	wholeBucket := storage.LifecycleRule{
		Action:    storage.LifecycleAction{Type: storage.DeleteAction},
		Condition: storage.LifecycleCondition{AgeInDays: 365},
	}

	owned, foreign := partitionRules([]storage.LifecycleRule{ours, downgrade, wholeBucket})
	assert.Equal(t, []blob.RetentionRule{{ID: "orders", Prefix: "orders/", ExpirationDays: 3, Enabled: true}}, owned)
	assert.Equal(t, []storage.LifecycleRule{downgrade, wholeBucket}, foreign)
}

func Test_partitionRules_empty(t *testing.T) {
	owned, foreign := partitionRules(nil)
	assert.NotNil(t, owned)
	assert.Empty(t, owned)
	assert.Empty(t, foreign)
}

func Test_toLifecycleRule_roundTrip(t *testing.T) {
	rule := blob.RetentionRule{ID: "orders", Prefix: "orders/", ExpirationDays: 11, Enabled: true}
	back, ok := fromLifecycleRule(toLifecycleRule(rule))
	assert.True(t, ok)
	assert.Equal(t, rule, back)
}
