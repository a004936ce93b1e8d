package services_test

import (
	"testing"

	"github.com/dukex/montracker/pkg/events"
	"github.com/dukex/montracker/pkg/mocks"
	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func changedEvent(actionID, modelID int64) *events.ModelStatusChanged {
	return &events.ModelStatusChanged{
		BaseEvent: events.NewBaseEvent(events.ModelStatusChangedEvent, actionID, 1),
		ModelID:   modelID,
		From:      models.StatusWaiting,
		To:        models.StatusFinished,
	}
}

func TestNotifications_RecentNewestFirst(t *testing.T) {
	n := services.NewNotifications(3)
	ctx := t.Context()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, n.Handle(ctx, changedEvent(1, i)))
	}

	recent := n.Recent(0, 0)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(5), recent[0].ModelID)
	assert.Equal(t, int64(4), recent[1].ModelID)
	assert.Equal(t, int64(3), recent[2].ModelID)

	assert.Len(t, n.Recent(0, 2), 2)
}

func TestNotifications_FilterByAction(t *testing.T) {
	n := services.NewNotifications(0)
	ctx := t.Context()

	assert.Empty(t, n.Recent(0, 10))

	require.NoError(t, n.Handle(ctx, changedEvent(1, 10)))
	require.NoError(t, n.Handle(ctx, changedEvent(2, 20)))
	require.NoError(t, n.Handle(ctx, changedEvent(1, 11)))

	recent := n.Recent(1, 10)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(11), recent[0].ModelID)
	assert.Equal(t, int64(10), recent[1].ModelID)
}

func TestNotifications_RejectsOtherEvents(t *testing.T) {
	n := services.NewNotifications(1)

	err := n.Handle(t.Context(), &events.AnalysisDeleted{})
	assert.Error(t, err)
	assert.Empty(t, n.Recent(0, 0))
}

func TestNotifications_Register(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Handle", events.ModelStatusChangedEvent, mock.Anything).Return(nil).Once()

	require.NoError(t, services.NewNotifications(1).Register(bus))
	bus.AssertExpectations(t)
}
