// Package grpc provides the remote dataset surface: dataset creation,
// streamed row ingestion, and record lookup. The service is assembled by
// hand over protobuf well-known types, so there is no generated code and
// no codegen step in the build.
package grpc

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/apache/arrow/go/v7/arrow/ipc"
	"github.com/apache/arrow/go/v7/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/datashed/datashed/internal/catalog"
	dserrors "github.com/datashed/datashed/internal/errors"
	"github.com/datashed/datashed/internal/server"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "datashed.v1.DatasetService"

// WriteTokenHeader is the metadata key carrying the write token on Write
// streams.
const WriteTokenHeader = "x-write-token"

// DatasetServiceServer is the server-side interface of the DatasetService.
//
// Create takes a dataset draft ({name, description?, favorite?, tags?}) and
// returns {uid, write_token}. Write consumes a client stream of BytesValue
// messages that together form one Arrow IPC stream, authorized by the write
// token in the request metadata, and finishes the dataset when the stream
// ends. Get takes {uid} and returns the catalog record.
type DatasetServiceServer interface {
	Create(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Write(stream grpc.ServerStream) error
}

// DatasetServiceDesc is the service descriptor for a hand-assembled
// registration. Unary messages are structpb.Struct; the Write stream
// carries wrapperspb.BytesValue chunks.
var DatasetServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DatasetServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Create", Handler: createHandler},
		{MethodName: "Get", Handler: getHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Write", Handler: writeHandler, ClientStreams: true},
	},
}

// RegisterDatasetServer registers the dataset service implementation.
func RegisterDatasetServer(reg grpc.ServiceRegistrar, srv DatasetServiceServer) {
	reg.RegisterService(&DatasetServiceDesc, srv)
}

func createHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DatasetServiceServer).Create(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Create"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DatasetServiceServer).Create(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DatasetServiceServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Get"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DatasetServiceServer).Get(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func writeHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(DatasetServiceServer).Write(stream)
}

// DatasetServer implements DatasetServiceServer over a workspace server.
type DatasetServer struct {
	srv *server.Server
	mem memory.Allocator
}

// NewDatasetServer creates a gRPC dataset server.
func NewDatasetServer(srv *server.Server) *DatasetServer {
	return &DatasetServer{srv: srv, mem: memory.NewGoAllocator()}
}

var _ DatasetServiceServer = (*DatasetServer)(nil)

// Create opens a new dataset and returns its uid and write token.
func (s *DatasetServer) Create(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	draft, err := draftFromStruct(req)
	if err != nil {
		return nil, err
	}

	dw, err := s.srv.CreateDataset(ctx, draft)
	if err != nil {
		return nil, statusFromError(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"uid":         dw.UID().String(),
		"write_token": dw.Lease(),
	})
}

// Get looks up a dataset record by uid.
func (s *DatasetServer) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uid := req.GetFields()["uid"].GetStringValue()
	if uid == "" {
		return nil, status.Error(codes.InvalidArgument, "uid is required")
	}

	record, err := s.srv.GetDataset(ctx, uid)
	if err != nil {
		return nil, statusFromError(err)
	}
	return recordStruct(record)
}

// Write consumes one Arrow IPC stream, split into BytesValue messages, and
// appends every record batch to the dataset named by the write token. The
// dataset is finished when the client closes the stream and the final
// catalog record is returned. Any failure aborts the dataset.
func (s *DatasetServer) Write(stream grpc.ServerStream) error {
	token, err := extractWriteToken(stream.Context())
	if err != nil {
		return err
	}
	dw, err := s.srv.ClaimWriter(token)
	if err != nil {
		return statusFromError(err)
	}

	pr, pw := io.Pipe()
	decoded := make(chan error, 1)
	go func() {
		err := s.appendRecords(dw, pr)
		// Unblock the receive loop if it is still feeding the pipe.
		pr.CloseWithError(err)
		decoded <- err
	}()

	for {
		msg := new(wrapperspb.BytesValue)
		err := stream.RecvMsg(msg)
		if err == io.EOF {
			break
		}
		if err != nil {
			pw.CloseWithError(err)
			<-decoded
			s.abortAfterError(dw)
			return err
		}
		if _, err := pw.Write(msg.GetValue()); err != nil {
			// The decode side failed; its error is authoritative.
			break
		}
	}
	pw.Close()

	if err := <-decoded; err != nil {
		s.abortAfterError(dw)
		return statusFromError(err)
	}

	record, err := dw.Finish(stream.Context())
	if err != nil {
		return statusFromError(err)
	}
	resp, err := recordStruct(record)
	if err != nil {
		return err
	}
	return stream.SendMsg(resp)
}

// appendRecords decodes the IPC stream from pr and appends each record.
func (s *DatasetServer) appendRecords(dw *server.DatasetWriter, pr *io.PipeReader) error {
	rdr, err := ipc.NewReader(pr, ipc.WithAllocator(s.mem))
	if err != nil {
		return dserrors.New(dserrors.KindType, dserrors.CodeBadIPCStream,
			fmt.Sprintf("grpc: malformed record stream: %v", err))
	}
	defer rdr.Release()

	for rdr.Next() {
		if err := dw.WriteRecord(rdr.Record()); err != nil {
			return err
		}
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return dserrors.New(dserrors.KindType, dserrors.CodeBadIPCStream,
			fmt.Sprintf("grpc: malformed record stream: %v", err))
	}
	return nil
}

func (s *DatasetServer) abortAfterError(dw *server.DatasetWriter) {
	if err := dw.Abort(context.Background()); err != nil {
		log.Printf("[WARN] grpc: failed to abort dataset %s: %v", dw.UID(), err)
	}
}

func draftFromStruct(req *structpb.Struct) (catalog.Draft, error) {
	fields := req.GetFields()

	draft := catalog.Draft{
		Name:        fields["name"].GetStringValue(),
		Description: fields["description"].GetStringValue(),
		Favorite:    fields["favorite"].GetBoolValue(),
	}
	if draft.Name == "" {
		return catalog.Draft{}, status.Error(codes.InvalidArgument, "name is required")
	}
	for _, v := range fields["tags"].GetListValue().GetValues() {
		tag := v.GetStringValue()
		if tag == "" {
			return catalog.Draft{}, status.Error(codes.InvalidArgument, "tags must be non-empty strings")
		}
		draft.Tags = append(draft.Tags, tag)
	}
	return draft, nil
}

func recordStruct(record *catalog.Record) (*structpb.Struct, error) {
	tags := make([]interface{}, len(record.Tags))
	for i, t := range record.Tags {
		tags[i] = t
	}
	fields := map[string]interface{}{
		"id":          record.ID,
		"uid":         record.UID,
		"name":        record.Name,
		"description": record.Description,
		"favorite":    record.Favorite,
		"status":      record.Status,
		"tags":        tags,
		"row_count":   record.RowCount,
		"chunk_count": record.ChunkCount,
		"created_at":  record.CreatedAt.Format(time.RFC3339Nano),
	}
	if record.CompletedAt != nil {
		fields["completed_at"] = record.CompletedAt.Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(fields)
}

// extractWriteToken pulls the write token out of the request metadata.
func extractWriteToken(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if tokens := md.Get(WriteTokenHeader); len(tokens) > 0 && tokens[0] != "" {
			return tokens[0], nil
		}
	}
	return "", status.Errorf(codes.InvalidArgument, "%s metadata is required", WriteTokenHeader)
}

// statusFromError maps a workspace error onto a gRPC status.
func statusFromError(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch dserrors.GetKind(err) {
	case dserrors.KindNotFound:
		code = codes.NotFound
	case dserrors.KindAlreadyExists:
		code = codes.AlreadyExists
	case dserrors.KindInvalidLease:
		code = codes.FailedPrecondition
	case dserrors.KindSchemaMismatch, dserrors.KindSchemaInference, dserrors.KindType:
		code = codes.InvalidArgument
	case dserrors.KindServerStopped:
		code = codes.Unavailable
	case dserrors.KindCorrupt:
		code = codes.DataLoss
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
