package visualiser

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/tracking.stimulator/internal/tracking"
)

const ServiceName = "tracking.v1.Tracker"

const (
	getStatusMethod    = "/" + ServiceName + "/GetStatus"
	streamEventsMethod = "/" + ServiceName + "/StreamEvents"
)

// TrackerServer is the server API of the Tracker service.
type TrackerServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// StreamEvents streams events matching the request filter:
	// {"kinds": ["position", "ttl"], "source_id": 2}. Both keys are optional.
	StreamEvents(*structpb.Struct, grpc.ServerStream) error
}

var _ TrackerServer = (*Publisher)(nil)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TrackerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamEvents", Handler: streamEventsHandler, ServerStreams: true},
	},
	Metadata: "tracking/v1/tracker.proto",
}

func getStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackerServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getStatusMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TrackerServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func streamEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TrackerServer).StreamEvents(in, stream)
}

// GetStatus serves the status snapshot as a Struct.
func (p *Publisher) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if p.status == nil {
		return out, nil
	}
	data, err := json.Marshal(p.status())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "status is not an object: %v", err)
	}
	return out, nil
}

// StreamEvents registers the caller as a client until it disconnects or the
// publisher stops.
func (p *Publisher) StreamEvents(req *structpb.Struct, stream grpc.ServerStream) error {
	c, err := p.addClient(parseFilter(req))
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer p.removeClient(c.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case msg := <-c.ch:
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

type filter struct {
	kinds    map[string]bool
	sourceID int
}

func parseFilter(req *structpb.Struct) filter {
	var f filter
	if req == nil {
		return f
	}
	if v, ok := req.Fields["kinds"]; ok {
		for _, k := range v.GetListValue().GetValues() {
			if f.kinds == nil {
				f.kinds = make(map[string]bool)
			}
			f.kinds[k.GetStringValue()] = true
		}
	}
	if v, ok := req.Fields["source_id"]; ok {
		f.sourceID = int(v.GetNumberValue())
	}
	return f
}

func (f filter) match(msg *structpb.Struct) bool {
	kind := msg.Fields["kind"].GetStringValue()
	if f.kinds != nil && !f.kinds[kind] {
		return false
	}
	if f.sourceID > 0 && kind == tracking.EventPosition.String() {
		return int(msg.Fields["source_id"].GetNumberValue()) == f.sourceID
	}
	return true
}

func eventToStruct(e tracking.Event) (*structpb.Struct, error) {
	m := map[string]interface{}{
		"kind":          e.Kind.String(),
		"sample_number": e.SampleNumber,
	}
	switch e.Kind {
	case tracking.EventTTL:
		m["channel"] = e.Channel
		m["state"] = e.State
		m["region"] = e.Region
		if e.SourceID > 0 {
			m["source_id"] = e.SourceID
		}
	case tracking.EventPosition:
		m["source_id"] = e.SourceID
		m["source"] = e.Source
		m["port"] = e.Port
		m["address"] = e.Address
		m["color"] = e.Color.String()
		m["timestamp"] = e.Timestamp
		m["x"] = float64(e.Position.X)
		m["y"] = float64(e.Position.Y)
		m["width"] = float64(e.Position.Width)
		m["height"] = float64(e.Position.Height)
	}
	return structpb.NewStruct(m)
}

// Client is a minimal Tracker client.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getStatusMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// EventStream receives streamed events.
type EventStream struct {
	grpc.ClientStream
}

func (s *EventStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// StreamEvents opens an event stream. req may be nil for every event.
func (c *Client) StreamEvents(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], streamEventsMethod, opts...)
	if err != nil {
		return nil, err
	}
	if req == nil {
		req = &structpb.Struct{}
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream}, nil
}
