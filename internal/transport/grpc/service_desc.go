package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "philbox.scheduling.v1.SchedulingService"

// SchedulingServiceServer is the server API registered under ServiceName.
type SchedulingServiceServer interface {
	CreateSlot(context.Context, *CreateSlotRequest) (*SlotResponse, error)
	CreateRecurringSlots(context.Context, *CreateRecurringSlotsRequest) (*CreateRecurringSlotsResponse, error)
	ListSlots(context.Context, *ListSlotsRequest) (*ListSlotsResponse, error)
	GetSlot(context.Context, *SlotIDRequest) (*SlotResponse, error)
	UpdateSlot(context.Context, *UpdateSlotRequest) (*SlotResponse, error)
	DeleteSlot(context.Context, *SlotIDRequest) (*DeleteSlotResponse, error)
	MarkSlotUnavailable(context.Context, *SlotIDRequest) (*SlotResponse, error)
	GetCalendarView(context.Context, *CalendarViewRequest) (*CalendarViewResponse, error)
	CreateAppointmentRequest(context.Context, *CreateAppointmentRequestRequest) (*RequestResponse, error)
	ListRequests(context.Context, *ListRequestsRequest) (*ListRequestsResponse, error)
	ListAcceptedAppointments(context.Context, *ListRequestsRequest) (*ListRequestsResponse, error)
	GetRequest(context.Context, *RequestIDRequest) (*RequestResponse, error)
	AcceptRequest(context.Context, *AcceptRequestRequest) (*RequestResponse, error)
	RejectRequest(context.Context, *RejectRequestRequest) (*RequestResponse, error)
	CancelRequest(context.Context, *CancelRequestRequest) (*RequestResponse, error)
}

var _ SchedulingServiceServer = (*SchedulingServer)(nil)

func unaryMethod[Req, Resp any](name string, call func(SchedulingServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(SchedulingServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var SchedulingServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateSlot", SchedulingServiceServer.CreateSlot),
		unaryMethod("CreateRecurringSlots", SchedulingServiceServer.CreateRecurringSlots),
		unaryMethod("ListSlots", SchedulingServiceServer.ListSlots),
		unaryMethod("GetSlot", SchedulingServiceServer.GetSlot),
		unaryMethod("UpdateSlot", SchedulingServiceServer.UpdateSlot),
		unaryMethod("DeleteSlot", SchedulingServiceServer.DeleteSlot),
		unaryMethod("MarkSlotUnavailable", SchedulingServiceServer.MarkSlotUnavailable),
		unaryMethod("GetCalendarView", SchedulingServiceServer.GetCalendarView),
		unaryMethod("CreateAppointmentRequest", SchedulingServiceServer.CreateAppointmentRequest),
		unaryMethod("ListRequests", SchedulingServiceServer.ListRequests),
		unaryMethod("ListAcceptedAppointments", SchedulingServiceServer.ListAcceptedAppointments),
		unaryMethod("GetRequest", SchedulingServiceServer.GetRequest),
		unaryMethod("AcceptRequest", SchedulingServiceServer.AcceptRequest),
		unaryMethod("RejectRequest", SchedulingServiceServer.RejectRequest),
		unaryMethod("CancelRequest", SchedulingServiceServer.CancelRequest),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "philbox/scheduling/v1/scheduling.proto",
}

func RegisterSchedulingServiceServer(s grpc.ServiceRegistrar, srv SchedulingServiceServer) {
	s.RegisterService(&SchedulingServiceDesc, srv)
}
