package mock

import (
	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/ingestion"
)

// ConsumerMock stands in for the JetStream consumer in processor tests.
type ConsumerMock struct {
	mock.Mock
}

var _ ingestion.ConsumerInterface = (*ConsumerMock)(nil)

func (m *ConsumerMock) Setup() error { return m.Called().Error(0) }

func (m *ConsumerMock) Start() error { return m.Called().Error(0) }

func (m *ConsumerMock) Stop() { m.Called() }
