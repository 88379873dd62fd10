package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/realtime"
)

// NotifierMock is a testify mock of realtime.Notifier.
type NotifierMock struct {
	mock.Mock
}

var _ realtime.Notifier = (*NotifierMock)(nil)

func (m *NotifierMock) Emit(ctx context.Context, ev realtime.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

// EventNamed matches an Event by name.
func EventNamed(name model.RealtimeEvent) interface{} {
	return mock.MatchedBy(func(ev realtime.Event) bool { return ev.Name == name })
}
