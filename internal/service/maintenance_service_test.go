package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/topic-registry-api/internal/models"
	appErrors "github.com/noah-isme/topic-registry-api/pkg/errors"
	"github.com/noah-isme/topic-registry-api/pkg/realtime"
)

func TestSweepSwapsRejectsBrokenPairings(t *testing.T) {
	store := newFakeStore()
	seedClass(store)
	store.addTopic("t1", "c1", 3, models.ApprovalApproved)
	store.addTopic("t2", "c1", 3, models.ApprovalApproved)
	store.addGroup("g1", "c1", strPtr("t1"), "s1", "s2")
	store.addGroup("g2", "c1", strPtr("t2"), "s3")
	store.addGroup("g3", "c1", nil, "s4")
	store.swaps["sw-broken"] = models.SwapRequest{ID: "sw-broken", TopicID: "t2", RequestingGroupID: "g1", RequestedGroupID: "g2", Status: models.SwapPending}
	store.swaps["sw-valid"] = models.SwapRequest{ID: "sw-valid", TopicID: "t1", RequestingGroupID: "g2", RequestedGroupID: "g1", Status: models.SwapPending}

	// g2 lost its topic without going through the workflow.
	g2 := store.groups["g2"]
	g2.TopicID = nil
	store.groups["g2"] = g2

	notifier := &notifierSpy{}
	publisher := &publisherSpy{}
	recorder := &recorderSpy{}
	svc := NewMaintenanceService(fakeSwaps{store}, fakeGroups{store}, notifier, publisher, recorder, zap.NewNop())

	rejected, err := svc.SweepSwaps(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(rejected))
	for _, r := range rejected {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"sw-broken", "sw-valid"}, ids)
	assert.Equal(t, models.SwapRejected, store.swaps["sw-broken"].Status)
	assert.Equal(t, []string{"s1", "s1", "s2", "s2", "s3", "s3"}, notifier.recipients(models.NotificationSwapRejected))
	assert.Contains(t, publisher.tables(), realtime.TableSwapRequests)
	assert.Equal(t, []error{nil}, recorder.outcomes[opMaintenanceSweep])
}

func TestSweepSwapsLeavesValidRequests(t *testing.T) {
	store := newFakeStore()
	seedClass(store)
	store.addTopic("t1", "c1", 3, models.ApprovalApproved)
	store.addTopic("t2", "c1", 3, models.ApprovalApproved)
	store.addGroup("g1", "c1", strPtr("t1"), "s1")
	store.addGroup("g2", "c1", strPtr("t2"), "s2")
	store.swaps["sw-1"] = models.SwapRequest{ID: "sw-1", TopicID: "t2", RequestingGroupID: "g1", RequestedGroupID: "g2", Status: models.SwapPending}

	notifier := &notifierSpy{}
	svc := NewMaintenanceService(fakeSwaps{store}, fakeGroups{store}, notifier, nil, nil, nil)

	rejected, err := svc.SweepSwaps(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rejected)
	assert.Equal(t, models.SwapPending, store.swaps["sw-1"].Status)
	assert.Empty(t, notifier.kinds())
}

func TestPruneGroupsDeletesMemberlessGroups(t *testing.T) {
	store := newFakeStore()
	seedClass(store)
	store.addGroup("g1", "c1", nil, "s1")
	store.addGroup("g-empty", "c1", nil)

	recorder := &recorderSpy{}
	svc := NewMaintenanceService(fakeSwaps{store}, fakeGroups{store}, nil, nil, recorder, nil)

	removed, err := svc.PruneGroups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Contains(t, store.groups, "g1")
	assert.NotContains(t, store.groups, "g-empty")
	assert.Equal(t, []error{nil}, recorder.outcomes[opMaintenancePrune])
}

type failingSweeper struct{ err error }

func (f failingSweeper) RejectStale(ctx context.Context) ([]models.SwapRequest, error) {
	return nil, f.err
}

func TestSweepSwapsWrapsStoreFailure(t *testing.T) {
	store := newFakeStore()
	boom := errors.New("connection refused")
	svc := NewMaintenanceService(failingSweeper{err: boom}, fakeGroups{store}, nil, nil, nil, nil)

	_, err := svc.SweepSwaps(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}
