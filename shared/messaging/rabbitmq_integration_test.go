//go:build integration

package messaging_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"novel-workflow/shared/messaging"
)

type RabbitMQTestSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	conn      *amqp.Connection
	publisher messaging.EventPublisher
	logger    *zap.Logger
}

func (s *RabbitMQTestSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()

	var err error
	s.container, err = rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").WithStartupTimeout(2*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start rabbitmq container")

	url, err := s.container.AmqpURL(s.ctx)
	require.NoError(s.T(), err)
	s.conn, err = messaging.Connect(url, 5, time.Second, s.logger)
	require.NoError(s.T(), err)

	ch, err := s.conn.Channel()
	require.NoError(s.T(), err)
	require.NoError(s.T(), messaging.DeclareTopology(ch, messaging.TopologyConfig{
		MaxEventAge:   time.Hour,
		DeliveryLimit: 3,
	}, s.logger))
	require.NoError(s.T(), ch.Close())

	s.publisher, err = messaging.NewRabbitMQEventPublisher(s.conn, messaging.PublisherConfig{AppID: "integration-test"}, s.logger)
	require.NoError(s.T(), err)
}

func (s *RabbitMQTestSuite) TearDownSuite() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func imageEnvelope() messaging.Envelope {
	return messaging.NewEnvelope(messaging.SourceEpisode, messaging.ImageGenerationRequested{
		EventMeta:     messaging.NewEventMeta(),
		UserID:        "user-1",
		StoryID:       uuid.New(),
		EpisodeID:     uuid.New(),
		EpisodeNumber: 1,
		RequestID:     uuid.New(),
		AspectRatio:   "2:3",
	})
}

func (s *RabbitMQTestSuite) runConsumer(route string, handler messaging.HandlerFunc) context.CancelFunc {
	ctx, cancel := context.WithCancel(s.ctx)
	consumer := messaging.NewConsumer(s.conn, messaging.ConsumerConfig{
		Queue:          messaging.QueueName(route),
		ReconnectDelay: 100 * time.Millisecond,
	}, handler, s.logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = consumer.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *RabbitMQTestSuite) TestFailedHandlerDeadLettersAndReplayRedelivers() {
	route := messaging.DetailImageGenerationRequested.Route()
	env := imageEnvelope()
	want := env.Detail.(messaging.ImageGenerationRequested).EpisodeID

	var failures atomic.Int32
	stop := s.runConsumer(route, func(ctx context.Context, got messaging.Envelope) error {
		failures.Add(1)
		return errors.New("generator unavailable")
	})
	s.Require().NoError(s.publisher.Publish(s.ctx, env))

	ch, err := s.conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	var letters []messaging.DeadLetter
	s.Require().Eventually(func() bool {
		letters, err = messaging.PeekDeadLetters(ch, route, 10)
		return err == nil && len(letters) == 1
	}, 15*time.Second, 200*time.Millisecond)
	stop()

	s.Equal(int32(1), failures.Load(), "handler error must not requeue the event")
	s.Equal(messaging.DetailImageGenerationRequested, letters[0].DetailType)
	s.Equal(messaging.SourceEpisode, letters[0].Source)
	s.Equal("rejected", letters[0].Reason)

	// Peek returns messages to the DLQ.
	again, err := messaging.PeekDeadLetters(ch, route, 10)
	s.Require().NoError(err)
	s.Len(again, 1)

	delivered := make(chan messaging.Envelope, 1)
	stop = s.runConsumer(route, func(ctx context.Context, got messaging.Envelope) error {
		delivered <- got
		return nil
	})
	defer stop()

	replayed, err := messaging.ReplayDeadLetters(s.ctx, ch, route, 10, s.publisher, s.logger)
	s.Require().NoError(err)
	s.Equal(1, replayed)

	select {
	case got := <-delivered:
		detail, ok := got.Detail.(messaging.ImageGenerationRequested)
		s.Require().True(ok)
		s.Equal(want, detail.EpisodeID)
	case <-time.After(15 * time.Second):
		s.Fail("replayed event was not delivered")
	}

	left, err := messaging.PeekDeadLetters(ch, route, 10)
	s.Require().NoError(err)
	s.Empty(left)
}

func (s *RabbitMQTestSuite) TestPublishBatchRoutesEachDetailType() {
	route := messaging.DetailImageGenerationRequested.Route()
	received := make(chan messaging.Envelope, 2)
	stop := s.runConsumer(route, func(ctx context.Context, got messaging.Envelope) error {
		received <- got
		return nil
	})
	defer stop()

	s.Require().NoError(s.publisher.PublishBatch(s.ctx, []messaging.Envelope{imageEnvelope(), imageEnvelope()}))

	for i := 0; i < 2; i++ {
		select {
		case got := <-received:
			s.Equal(messaging.DetailImageGenerationRequested, got.DetailType)
		case <-time.After(15 * time.Second):
			s.Fail("batch event was not delivered", "index %d", i)
		}
	}
}

func TestRabbitMQIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RabbitMQTestSuite))
}
