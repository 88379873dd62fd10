package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/ai"
)

// CompleterMock is a testify mock of ai.Completer.
type CompleterMock struct {
	mock.Mock
}

var _ ai.Completer = (*CompleterMock)(nil)

func (m *CompleterMock) Complete(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}
