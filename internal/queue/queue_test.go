package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hemalyze/hemalyze/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupQueue(t *testing.T) *queue.RedisQueue {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	q, err := queue.NewRedisQueue("redis://"+host+":"+port.Port(), "analysis")
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	return q
}

func testMessage() queue.Message {
	return queue.Message{
		TaskID:     uuid.New(),
		AnalysisID: uuid.New(),
		ReportPath: "data/uploads/report.pdf",
		Query:      "cholesterol",
	}
}

func TestMessage_Roundtrip(t *testing.T) {
	msg := testMessage()

	raw, err := queue.EncodeMessage(msg)
	require.NoError(t, err)

	got, err := queue.DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestDecodeMessage_Invalid(t *testing.T) {
	_, err := queue.DecodeMessage("not json")
	assert.Error(t, err)

	// valid JSON but missing ids
	_, err = queue.DecodeMessage(`{"query":"q"}`)
	assert.Error(t, err)
}

func TestEnqueueClaimAck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := setupQueue(t)
	ctx := context.Background()
	msg := testMessage()

	require.NoError(t, q.Enqueue(ctx, msg))

	d, err := q.ClaimBlocking(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, msg.AnalysisID, d.AnalysisID)
	assert.Equal(t, msg.Query, d.Query)

	require.NoError(t, q.Ack(ctx, d))

	// acked task never comes back, even after a reaper pass
	moved, err := q.RequeueStale(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), moved)

	_, err = q.ClaimBlocking(ctx, 100*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestClaimBlocking_EmptyTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := setupQueue(t)

	_, err := q.ClaimBlocking(context.Background(), 100*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestRequeueStale_RecoversUnacked(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q := setupQueue(t)
	ctx := context.Background()
	msg := testMessage()

	require.NoError(t, q.Enqueue(ctx, msg))

	// claim without ack, simulating a dead worker
	_, err := q.ClaimBlocking(ctx, time.Second)
	require.NoError(t, err)

	moved, err := q.RequeueStale(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	d, err := q.ClaimBlocking(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, msg.TaskID, d.TaskID)
}
