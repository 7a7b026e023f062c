package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName = "booking.v1.BookingService"

	methodGetAvailability   = "/" + serviceName + "/GetAvailability"
	methodCreateAppointment = "/" + serviceName + "/CreateAppointment"
	methodListAppointments  = "/" + serviceName + "/ListAppointments"
	methodCancelAppointment = "/" + serviceName + "/CancelAppointment"
)

type BookingServiceServer interface {
	GetAvailability(ctx context.Context, req *GetAvailabilityRequest) (*GetAvailabilityResponse, error)
	CreateAppointment(ctx context.Context, req *CreateAppointmentRequest) (*CreateAppointmentResponse, error)
	ListAppointments(ctx context.Context, req *ListAppointmentsRequest) (*ListAppointmentsResponse, error)
	CancelAppointment(ctx context.Context, req *CancelAppointmentRequest) (*CancelAppointmentResponse, error)
}

func RegisterBookingServiceServer(s grpc.ServiceRegistrar, srv BookingServiceServer) {
	s.RegisterService(&bookingServiceDesc, srv)
}

var bookingServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAvailability", Handler: getAvailabilityHandler},
		{MethodName: "CreateAppointment", Handler: createAppointmentHandler},
		{MethodName: "ListAppointments", Handler: listAppointmentsHandler},
		{MethodName: "CancelAppointment", Handler: cancelAppointmentHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "booking/v1/booking.json",
}

func getAvailabilityHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetAvailabilityRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BookingServiceServer).GetAvailability(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetAvailability}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BookingServiceServer).GetAvailability(ctx, req.(*GetAvailabilityRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func createAppointmentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateAppointmentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BookingServiceServer).CreateAppointment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCreateAppointment}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BookingServiceServer).CreateAppointment(ctx, req.(*CreateAppointmentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listAppointmentsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListAppointmentsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BookingServiceServer).ListAppointments(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListAppointments}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BookingServiceServer).ListAppointments(ctx, req.(*ListAppointmentsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func cancelAppointmentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CancelAppointmentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BookingServiceServer).CancelAppointment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCancelAppointment}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BookingServiceServer).CancelAppointment(ctx, req.(*CancelAppointmentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// BookingServiceClient calls the booking service over a connection using the
// JSON codec.
type BookingServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewBookingServiceClient(cc grpc.ClientConnInterface) *BookingServiceClient {
	return &BookingServiceClient{cc: cc}
}

func (c *BookingServiceClient) GetAvailability(ctx context.Context, in *GetAvailabilityRequest, opts ...grpc.CallOption) (*GetAvailabilityResponse, error) {
	out := new(GetAvailabilityResponse)
	if err := c.invoke(ctx, methodGetAvailability, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BookingServiceClient) CreateAppointment(ctx context.Context, in *CreateAppointmentRequest, opts ...grpc.CallOption) (*CreateAppointmentResponse, error) {
	out := new(CreateAppointmentResponse)
	if err := c.invoke(ctx, methodCreateAppointment, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BookingServiceClient) ListAppointments(ctx context.Context, in *ListAppointmentsRequest, opts ...grpc.CallOption) (*ListAppointmentsResponse, error) {
	out := new(ListAppointmentsResponse)
	if err := c.invoke(ctx, methodListAppointments, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BookingServiceClient) CancelAppointment(ctx context.Context, in *CancelAppointmentRequest, opts ...grpc.CallOption) (*CancelAppointmentResponse, error) {
	out := new(CancelAppointmentResponse)
	if err := c.invoke(ctx, methodCancelAppointment, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BookingServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}
