package mock

import (
	"context"

	"github.com/sfreiberg/gotwilio"
	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/channel"
)

// TransportMock is a testify mock of channel.Transport.
type TransportMock struct {
	mock.Mock
}

var _ channel.Transport = (*TransportMock)(nil)

func (m *TransportMock) Send(ctx context.Context, req channel.SendRequest) (channel.SendResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(channel.SendResult), args.Error(1)
}

// PublisherMock is a testify mock of channel.Publisher.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(subject string, data []byte, headers map[string]string) error {
	args := m.Called(subject, data, headers)
	return args.Error(0)
}

// TwilioClientMock is a testify mock of channel.TwilioClient.
type TwilioClientMock struct {
	mock.Mock
}

func (m *TwilioClientMock) SendSMS(from, to, body, statusCallback, applicationSid string) (*gotwilio.SmsResponse, *gotwilio.Exception, error) {
	args := m.Called(from, to, body, statusCallback, applicationSid)
	var resp *gotwilio.SmsResponse
	if r := args.Get(0); r != nil {
		resp = r.(*gotwilio.SmsResponse)
	}
	var exc *gotwilio.Exception
	if e := args.Get(1); e != nil {
		exc = e.(*gotwilio.Exception)
	}
	return resp, exc, args.Error(2)
}
