package visualiser

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/tracking.stimulator/internal/host"
	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
)

func startTestPublisher(t *testing.T, cfg Config, st StatusFunc) (*Publisher, *Client) {
	t.Helper()
	monitoring.SetLogger(nil)

	lis := bufconn.Listen(1 << 20)
	p := NewPublisher(cfg, st)
	require.NoError(t, p.Serve(lis))
	t.Cleanup(p.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return p, NewClient(conn)
}

func positionEvent(id int, x float32) tracking.Event {
	return tracking.Event{
		Kind:         tracking.EventPosition,
		SampleNumber: 2048,
		SourceID:     id,
		Source:       "cam",
		Port:         27020,
		Address:      "/red",
		Color:        tracking.Blue,
		Timestamp:    68,
		Position:     tracking.Position{X: x, Y: 0.5, Width: 0.1, Height: 0.2},
	}
}

func TestStreamEvents(t *testing.T) {
	p, client := startTestPublisher(t, Config{MaxClients: 2}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.StreamEvents(ctx, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Stats().Clients == 1 }, 2*time.Second, 5*time.Millisecond)

	b := tracking.Block{FirstSample: 2048, NumSamples: 1024, SampleRate: 30000}
	b.Events = append(b.Events, positionEvent(1, 0.25))
	b.AddTTL(3, 2, true, 0)
	require.NoError(t, p.HandleBatch(ctx, host.Batch{Block: b}))

	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "position", msg.Fields["kind"].GetStringValue())
	assert.Equal(t, 1.0, msg.Fields["source_id"].GetNumberValue())
	assert.Equal(t, "blue", msg.Fields["color"].GetStringValue())
	assert.InDelta(t, 0.25, msg.Fields["x"].GetNumberValue(), 1e-6)
	assert.Equal(t, 68.0, msg.Fields["timestamp"].GetNumberValue())

	msg, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ttl", msg.Fields["kind"].GetStringValue())
	assert.Equal(t, 2051.0, msg.Fields["sample_number"].GetNumberValue())
	assert.True(t, msg.Fields["state"].GetBoolValue())

	assert.Equal(t, uint64(2), p.Stats().Published)
}

func TestStreamEventsFilter(t *testing.T) {
	p, client := startTestPublisher(t, Config{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := structpb.NewStruct(map[string]interface{}{
		"kinds":     []interface{}{"position"},
		"source_id": 2,
	})
	require.NoError(t, err)
	stream, err := client.StreamEvents(ctx, req)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Stats().Clients == 1 }, 2*time.Second, 5*time.Millisecond)

	b := tracking.Block{}
	b.AddTTL(0, 0, true, 0)
	b.Events = append(b.Events, positionEvent(1, 0.1), positionEvent(2, 0.2))
	require.NoError(t, p.HandleBatch(ctx, host.Batch{Block: b}))

	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, 2.0, msg.Fields["source_id"].GetNumberValue())
}

func TestClientLimit(t *testing.T) {
	p, client := startTestPublisher(t, Config{MaxClients: 1}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.StreamEvents(ctx, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Stats().Clients == 1 }, 2*time.Second, 5*time.Millisecond)

	second, err := client.StreamEvents(ctx, nil)
	require.NoError(t, err)
	_, err = second.Recv()
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestGetStatus(t *testing.T) {
	_, client := startTestPublisher(t, Config{}, func() interface{} {
		return map[string]interface{}{"acquiring": true, "sources": []string{"left"}}
	})
	st, err := client.GetStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Fields["acquiring"].GetBoolValue())
	assert.Equal(t, "left", st.Fields["sources"].GetListValue().GetValues()[0].GetStringValue())
}

func TestPublishWhenStoppedIsNoop(t *testing.T) {
	p := NewPublisher(Config{}, nil)
	p.Publish(positionEvent(1, 0.5))
	assert.Zero(t, p.Stats().Published)
	p.Stop()
}

func TestStopEndsStreams(t *testing.T) {
	p, client := startTestPublisher(t, Config{}, nil)
	stream, err := client.StreamEvents(context.Background(), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Stats().Clients == 1 }, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	_, err = stream.Recv()
	assert.Error(t, err)
	assert.False(t, p.Stats().Running)
}
