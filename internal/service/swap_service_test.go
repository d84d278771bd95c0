package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/topic-registry-api/internal/dto"
	"github.com/noah-isme/topic-registry-api/internal/models"
	appErrors "github.com/noah-isme/topic-registry-api/pkg/errors"
)

// newSwapFixture seeds g1 (s1, s2) holding t1 and g2 (s3) holding t2 in class c1.
func newSwapFixture(t *testing.T) (*SwapService, *fakeStore, *notifierSpy) {
	t.Helper()
	store := newFakeStore()
	seedClass(store)
	store.addTopic("t1", "c1", 3, models.ApprovalApproved)
	store.addTopic("t2", "c1", 3, models.ApprovalApproved)
	store.addTopic("t3", "c1", 3, models.ApprovalApproved)
	store.addGroup("g1", "c1", strPtr("t1"), "s1", "s2")
	store.addGroup("g2", "c1", strPtr("t2"), "s3")
	notifications := &notifierSpy{}
	svc := NewSwapService(fakeSwaps{store}, fakeGroups{store}, fakeClasses{store}, notifications, &publisherSpy{}, &recorderSpy{}, nil, zap.NewNop())
	return svc, store, notifications
}

func requestG1ToG2(t *testing.T, svc *SwapService) *dto.SwapRequestItem {
	t.Helper()
	item, err := svc.RequestSwap(context.Background(), dto.CreateSwapRequest{RequestingGroupID: "g1", RequestedGroupID: "g2"}, student("s1"))
	require.NoError(t, err)
	return item
}

func TestSwapServiceRequestSwap(t *testing.T) {
	svc, store, notifications := newSwapFixture(t)

	item := requestG1ToG2(t, svc)
	assert.Equal(t, "t2", item.TopicID)
	assert.Equal(t, models.SwapPending, item.Status)
	assert.Equal(t, dto.SwapOutgoing, item.Direction)
	require.NotNil(t, item.RequestingTopicID)
	assert.Equal(t, "t1", *item.RequestingTopicID)
	assert.Equal(t, []string{"s3"}, notifications.recipients(models.NotificationSwapRequested))

	_, err := svc.RequestSwap(context.Background(), dto.CreateSwapRequest{RequestingGroupID: "g1", RequestedGroupID: "g2"}, student("s2"))
	assert.Equal(t, appErrors.ErrDuplicateSwapRequest.Code, appErrors.FromError(err).Code)
	assert.Len(t, store.swaps, 1)
}

func TestSwapServiceRequestSwapPreconditions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(store *fakeStore)
		req   dto.CreateSwapRequest
		actor *models.JWTClaims
		code  string
	}{
		{
			name:  "actor outside requesting group",
			req:   dto.CreateSwapRequest{RequestingGroupID: "g1", RequestedGroupID: "g2"},
			actor: student("s3"),
			code:  appErrors.ErrNotGroupMember.Code,
		},
		{
			name:  "same group",
			req:   dto.CreateSwapRequest{RequestingGroupID: "g1", RequestedGroupID: "g1"},
			actor: student("s1"),
			code:  appErrors.ErrValidation.Code,
		},
		{
			name:  "requested group without topic",
			setup: func(store *fakeStore) { store.addGroup("g3", "c1", nil, "s4") },
			req:   dto.CreateSwapRequest{RequestingGroupID: "g1", RequestedGroupID: "g3"},
			actor: student("s1"),
			code:  appErrors.ErrNoTopicHeld.Code,
		},
		{
			name:  "requesting group without topic",
			setup: func(store *fakeStore) { store.addGroup("g3", "c1", nil, "s4") },
			req:   dto.CreateSwapRequest{RequestingGroupID: "g3", RequestedGroupID: "g2"},
			actor: student("s4"),
			code:  appErrors.ErrNoTopicHeld.Code,
		},
		{
			name:  "different classes",
			setup: func(store *fakeStore) { store.addGroup("g3", "c2", strPtr("t3"), "s4") },
			req:   dto.CreateSwapRequest{RequestingGroupID: "g1", RequestedGroupID: "g3"},
			actor: student("s1"),
			code:  appErrors.ErrClassMismatch.Code,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, _ := newSwapFixture(t)
			if tc.setup != nil {
				tc.setup(store)
			}
			_, err := svc.RequestSwap(context.Background(), tc.req, tc.actor)
			require.Error(t, err)
			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
			assert.Empty(t, store.swaps)
		})
	}
}

func TestSwapServiceApproveExchangesTopics(t *testing.T) {
	svc, store, notifications := newSwapFixture(t)
	store.addGroup("g3", "c1", strPtr("t3"), "s4")
	item := requestG1ToG2(t, svc)
	other, err := svc.RequestSwap(context.Background(), dto.CreateSwapRequest{RequestingGroupID: "g3", RequestedGroupID: "g1"}, student("s4"))
	require.NoError(t, err)

	approved, err := svc.ApproveSwap(context.Background(), item.ID, student("s3"))
	require.NoError(t, err)

	assert.Equal(t, models.SwapApproved, approved.Status)
	assert.Equal(t, "t2", *store.groups["g1"].TopicID)
	assert.Equal(t, "t1", *store.groups["g2"].TopicID)
	assert.Equal(t, models.SwapRejected, store.swaps[other.ID].Status)
	assert.Equal(t, []string{"s1", "s2", "s3"}, notifications.recipients(models.NotificationSwapApproved))
	assert.Contains(t, notifications.recipients(models.NotificationSwapRejected), "s4")
}

func TestSwapServiceApproveThenCancelIsNotPending(t *testing.T) {
	svc, _, _ := newSwapFixture(t)
	item := requestG1ToG2(t, svc)
	ctx := context.Background()

	_, err := svc.ApproveSwap(ctx, item.ID, lecturer("lec1"))
	require.NoError(t, err)

	err = svc.CancelSwap(ctx, item.ID, student("s1"))
	assert.Equal(t, appErrors.ErrNotPending.Code, appErrors.FromError(err).Code)

	_, err = svc.ApproveSwap(ctx, item.ID, lecturer("lec1"))
	assert.Equal(t, appErrors.ErrNotPending.Code, appErrors.FromError(err).Code)
}

func TestSwapServiceApproveStale(t *testing.T) {
	svc, store, notifications := newSwapFixture(t)
	item := requestG1ToG2(t, svc)

	g2 := store.groups["g2"]
	g2.TopicID = strPtr("t3")
	store.groups["g2"] = g2

	_, err := svc.ApproveSwap(context.Background(), item.ID, student("s3"))
	assert.Equal(t, appErrors.ErrSwapStale.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.SwapRejected, store.swaps[item.ID].Status)
	assert.Equal(t, "t1", *store.groups["g1"].TopicID)
	assert.Equal(t, []string{"s1", "s2"}, notifications.recipients(models.NotificationSwapRejected))
}

func TestSwapServiceApproveAuthorization(t *testing.T) {
	svc, store, _ := newSwapFixture(t)
	item := requestG1ToG2(t, svc)
	ctx := context.Background()

	_, err := svc.ApproveSwap(ctx, item.ID, student("s1"))
	assert.Equal(t, appErrors.ErrNotGroupMember.Code, appErrors.FromError(err).Code)

	_, err = svc.ApproveSwap(ctx, item.ID, lecturer("lec2"))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.SwapPending, store.swaps[item.ID].Status)
}

func TestSwapServiceRejectAndCancel(t *testing.T) {
	svc, store, notifications := newSwapFixture(t)
	ctx := context.Background()
	item := requestG1ToG2(t, svc)

	rejected, err := svc.RejectSwap(ctx, item.ID, student("s3"))
	require.NoError(t, err)
	assert.Equal(t, models.SwapRejected, rejected.Status)
	assert.Equal(t, []string{"s1", "s2", "s3"}, notifications.recipients(models.NotificationSwapRejected))
	assert.Equal(t, "t1", *store.groups["g1"].TopicID)

	second := requestG1ToG2(t, svc)
	err = svc.CancelSwap(ctx, second.ID, student("s3"))
	assert.Equal(t, appErrors.ErrNotGroupMember.Code, appErrors.FromError(err).Code)
	require.NoError(t, svc.CancelSwap(ctx, second.ID, student("s2")))
	_, exists := store.swaps[second.ID]
	assert.False(t, exists)
}

func TestSwapServiceListAndMarkRead(t *testing.T) {
	svc, store, _ := newSwapFixture(t)
	ctx := context.Background()
	item := requestG1ToG2(t, svc)

	incoming, err := svc.ListSwapRequests(ctx, "g2", student("s3"))
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, dto.SwapIncoming, incoming[0].Direction)

	_, err = svc.ListSwapRequests(ctx, "g2", student("s1"))
	assert.Equal(t, appErrors.ErrNotGroupMember.Code, appErrors.FromError(err).Code)

	err = svc.MarkRead(ctx, item.ID, student("s1"))
	assert.Equal(t, appErrors.ErrNotGroupMember.Code, appErrors.FromError(err).Code)
	require.NoError(t, svc.MarkRead(ctx, item.ID, student("s3")))
	assert.True(t, store.swaps[item.ID].IsRead)
}
