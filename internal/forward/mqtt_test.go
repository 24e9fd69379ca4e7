package forward

import (
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"nmea-relay/internal/channel"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

// fakeClient implements the parts of mqtt.Client the publisher uses.
type fakeClient struct {
	mqtt.Client

	token        *fakeToken
	published    []published
	qos          byte
	handlers     map[string]mqtt.MessageHandler
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{token: &fakeToken{}, handlers: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.qos = qos
	c.published = append(c.published, published{topic: topic, payload: string(payload.([]byte))})
	return c.token
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.handlers[topic] = cb
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func (c *fakeClient) deliver(topic, payload string) {
	c.handlers[topic](c, &fakeMessage{topic: topic, payload: []byte(payload)})
}

func TestMQTTPublisher_Publish(t *testing.T) {
	c := newFakeClient()
	p := NewMQTTPublisher(c, 1, time.Second, zerolog.Nop())

	require.NoError(t, p.Publish("nmea/raw", []byte("$GPGGA,1")))
	require.Equal(t, []published{{"nmea/raw", "$GPGGA,1"}}, c.published)
	require.Equal(t, byte(1), c.qos)

	require.NoError(t, p.Close())
	require.True(t, c.disconnected)
}

func TestMQTTPublisher_PublishErrors(t *testing.T) {
	c := newFakeClient()
	p := NewMQTTPublisher(c, 0, time.Second, zerolog.Nop())

	c.token = &fakeToken{timeout: true}
	require.ErrorIs(t, p.Publish("t", []byte("x")), ErrTimeout)

	boom := errors.New("not connected")
	c.token = &fakeToken{err: boom}
	require.ErrorIs(t, p.Publish("t", []byte("x")), boom)
}

func TestMQTTPublisher_SubscribeOutboundFeedsQueue(t *testing.T) {
	c := newFakeClient()
	p := NewMQTTPublisher(c, 0, time.Second, zerolog.Nop())
	up := channel.New[string]("up", 2)

	require.NoError(t, p.SubscribeOutbound("nmea/out", up.Push))
	c.deliver("nmea/out", "$GPXTE,A,A,0.67,L,N\r\n")
	c.deliver("nmea/out", "$GPAPB,1\r\n\r\n$GPBWC,2\n")

	// The queue holds two; the third sentence is dropped.
	require.Equal(t, []string{"$GPXTE,A,A,0.67,L,N", "$GPAPB,1"}, up.Drain())
}

func TestMQTTPublisher_SubscribeError(t *testing.T) {
	c := newFakeClient()
	c.token = &fakeToken{err: errors.New("not authorized")}
	p := NewMQTTPublisher(c, 0, time.Second, zerolog.Nop())

	err := p.SubscribeOutbound("nmea/out", func(string) bool { return true })
	require.Error(t, err)
	require.Contains(t, err.Error(), "subscribe nmea/out")
}

func TestSplitSentences(t *testing.T) {
	require.Equal(t, []string{"$A,1", "$B,2"}, splitSentences(" $A,1\r\n\n$B,2 "))
	require.Empty(t, splitSentences("\r\n"))
}
