package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
)

type fakeSession struct {
	ctx context.Context

	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "test-member" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

func (s *fakeSession) markedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "scan-tasks" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func taskMessage(t *testing.T, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	data, err := posture.Task{
		Kind:       posture.TaskKindScanResource,
		JobID:      uuid.New(),
		ResourceID: "proj-1",
	}.Encode()
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "scan-tasks", Offset: offset, Value: data}
}

func newClaimHandler(handler posture.TaskHandler) *taskClaimHandler {
	return &taskClaimHandler{
		handler: handler,
		logger:  logger.New(io.Discard, logger.LevelDebug, "kafka-test", nil),
		tracer:  noop.NewTracerProvider().Tracer("test"),
	}
}

func TestConsumeClaimMarksHandledMessages(t *testing.T) {
	t.Parallel()

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- taskMessage(t, 4)
	claim.messages <- taskMessage(t, 5)
	close(claim.messages)

	sess := &fakeSession{ctx: context.Background()}
	h := newClaimHandler(func(context.Context, posture.Task) error { return nil })

	require.NoError(t, h.ConsumeClaim(sess, claim))
	assert.Equal(t, []int64{4, 5}, sess.markedOffsets())
}

// A failed delivery must end the claim with its offset unmarked. Consuming
// onward would let auto-commit advance past the failure and the task would
// never come back.
func TestConsumeClaimHandlerFailureEndsClaimUnmarked(t *testing.T) {
	t.Parallel()

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- taskMessage(t, 5)
	claim.messages <- taskMessage(t, 6)
	close(claim.messages)

	sess := &fakeSession{ctx: context.Background()}
	handlerErr := errors.New("store unavailable")
	h := newClaimHandler(func(context.Context, posture.Task) error { return handlerErr })

	err := h.ConsumeClaim(sess, claim)
	require.ErrorIs(t, err, handlerErr)

	assert.Empty(t, sess.markedOffsets(), "a failed offset must stay uncommitted")
	assert.Len(t, claim.messages, 1, "nothing past the failure may be consumed")
}

func TestConsumeClaimDropsUndecodablePayload(t *testing.T) {
	t.Parallel()

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "scan-tasks", Offset: 9, Value: []byte("not json")}
	claim.messages <- taskMessage(t, 10)
	close(claim.messages)

	sess := &fakeSession{ctx: context.Background()}
	var handled int
	h := newClaimHandler(func(context.Context, posture.Task) error {
		handled++
		return nil
	})

	require.NoError(t, h.ConsumeClaim(sess, claim))
	assert.Equal(t, 1, handled, "garbage payloads never reach the handler")
	assert.Equal(t, []int64{9, 10}, sess.markedOffsets(), "a poison payload is committed away, not retried")
}
