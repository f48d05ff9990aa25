package mocks

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the mqtt.Client type.
type MockClient struct {
	mock.Mock
}

// NewMockClient creates a new instance of MockClient. It registers a cleanup
// function to assert the mocks expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockClient) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockClient) IsConnectionOpen() bool {
	return m.Called().Bool(0)
}

func (m *MockClient) Connect() mqtt.Token {
	return tokenAt(m.Called(), 0)
}

func (m *MockClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return tokenAt(m.Called(topic, qos, retained, payload), 0)
}

func (m *MockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return tokenAt(m.Called(topic, qos, callback), 0)
}

func (m *MockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return tokenAt(m.Called(filters, callback), 0)
}

func (m *MockClient) Unsubscribe(topics ...string) mqtt.Token {
	return tokenAt(m.Called(topics), 0)
}

func (m *MockClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockClient) OptionsReader() mqtt.ClientOptionsReader {
	return m.Called().Get(0).(mqtt.ClientOptionsReader)
}

func tokenAt(args mock.Arguments, i int) mqtt.Token {
	if tok, ok := args.Get(i).(mqtt.Token); ok {
		return tok
	}
	return nil
}

// MockToken is a mock type for the mqtt.Token type.
type MockToken struct {
	mock.Mock
}

// NewMockToken creates a new instance of MockToken. It registers a cleanup
// function to assert the mocks expectations.
func NewMockToken(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockToken {
	m := &MockToken{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockToken) Wait() bool {
	return m.Called().Bool(0)
}

func (m *MockToken) WaitTimeout(d time.Duration) bool {
	return m.Called(d).Bool(0)
}

func (m *MockToken) Done() <-chan struct{} {
	ret := m.Called().Get(0)
	switch ch := ret.(type) {
	case chan struct{}:
		return ch
	case <-chan struct{}:
		return ch
	}
	return nil
}

func (m *MockToken) Error() error {
	return m.Called().Error(0)
}
