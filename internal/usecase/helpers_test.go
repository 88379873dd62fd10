package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	realtimemock "gitlab.com/timkado/api/daisi-conversation-router/internal/realtime/mock"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

const testCompany = "acme"

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx := tenant.WithCompanyID(context.Background(), testCompany)
	return logger.WithLogger(ctx, zaptest.NewLogger(t))
}

// quietNotifier accepts every event.
func quietNotifier() *realtimemock.NotifierMock {
	n := new(realtimemock.NotifierMock)
	n.On("Emit", mock.Anything, mock.Anything).Return(nil).Maybe()
	return n
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }
