package creditsv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	CreditService_ServiceName = "credits.v1.CreditService"

	CreditService_OpenAccount_FullMethodName     = "/credits.v1.CreditService/OpenAccount"
	CreditService_GetBalance_FullMethodName      = "/credits.v1.CreditService/GetBalance"
	CreditService_GetHistory_FullMethodName      = "/credits.v1.CreditService/GetHistory"
	CreditService_Deduct_FullMethodName          = "/credits.v1.CreditService/Deduct"
	CreditService_Refund_FullMethodName          = "/credits.v1.CreditService/Refund"
	CreditService_RefundFailedJob_FullMethodName = "/credits.v1.CreditService/RefundFailedJob"
	CreditService_Grant_FullMethodName           = "/credits.v1.CreditService/Grant"
	CreditService_FindUsage_FullMethodName       = "/credits.v1.CreditService/FindUsage"
	CreditService_FindRefund_FullMethodName      = "/credits.v1.CreditService/FindRefund"
	CreditService_VerifyAccount_FullMethodName   = "/credits.v1.CreditService/VerifyAccount"
)

// CreditServiceClient is the client API for the credits ledger.
type CreditServiceClient interface {
	OpenAccount(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error)
	GetBalance(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error)
	GetHistory(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error)
	Deduct(ctx context.Context, in *ChargeRequest, opts ...grpc.CallOption) (*DeductResponse, error)
	Refund(ctx context.Context, in *ChargeRequest, opts ...grpc.CallOption) (*RefundResponse, error)
	RefundFailedJob(ctx context.Context, in *RefundFailedJobRequest, opts ...grpc.CallOption) (*RefundResponse, error)
	Grant(ctx context.Context, in *GrantRequest, opts ...grpc.CallOption) (*GrantResponse, error)
	FindUsage(ctx context.Context, in *JobTransactionRequest, opts ...grpc.CallOption) (*JobTransactionResponse, error)
	FindRefund(ctx context.Context, in *JobTransactionRequest, opts ...grpc.CallOption) (*JobTransactionResponse, error)
	VerifyAccount(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error)
}

type creditServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewCreditServiceClient returns a client that always speaks the JSON content-subtype.
func NewCreditServiceClient(cc grpc.ClientConnInterface) CreditServiceClient {
	return &creditServiceClient{cc: cc}
}

func (client *creditServiceClient) OpenAccount(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	out := new(BalanceResponse)
	if err := client.invoke(ctx, CreditService_OpenAccount_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (client *creditServiceClient) GetBalance(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	out := new(BalanceResponse)
	if err := client.invoke(ctx, CreditService_GetBalance_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (client *creditServiceClient) GetHistory(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	out := new(HistoryResponse)
	if err := client.invoke(ctx, CreditService_GetHistory_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (client *creditServiceClient) Deduct(ctx context.Context, in *ChargeRequest, opts ...grpc.CallOption) (*DeductResponse, error) {
	out := new(DeductResponse)
	if err := client.invoke(ctx, CreditService_Deduct_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (client *creditServiceClient) Refund(ctx context.Context, in *ChargeRequest, opts ...grpc.CallOption) (*RefundResponse, error) {
	out := new(RefundResponse)
	if err := client.invoke(ctx, CreditService_Refund_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (client *creditServiceClient) RefundFailedJob(ctx context.Context, in *RefundFailedJobRequest, opts ...grpc.CallOption) (*RefundResponse, error) {
	out := new(RefundResponse)
	if err := client.invoke(ctx, CreditService_RefundFailedJob_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (client *creditServiceClient) Grant(ctx context.Context, in *GrantRequest, opts ...grpc.CallOption) (*GrantResponse, error) {
	out := new(GrantResponse)
	if err := client.invoke(ctx, CreditService_Grant_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (client *creditServiceClient) FindUsage(ctx context.Context, in *JobTransactionRequest, opts ...grpc.CallOption) (*JobTransactionResponse, error) {
	out := new(JobTransactionResponse)
	if err := client.invoke(ctx, CreditService_FindUsage_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (client *creditServiceClient) FindRefund(ctx context.Context, in *JobTransactionRequest, opts ...grpc.CallOption) (*JobTransactionResponse, error) {
	out := new(JobTransactionResponse)
	if err := client.invoke(ctx, CreditService_FindRefund_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (client *creditServiceClient) VerifyAccount(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	out := new(BalanceResponse)
	if err := client.invoke(ctx, CreditService_VerifyAccount_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (client *creditServiceClient) invoke(ctx context.Context, method string, in any, out any, opts []grpc.CallOption) error {
	callOptions := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return client.cc.Invoke(ctx, method, in, out, callOptions...)
}

// CreditServiceServer is the server API for the credits ledger.
type CreditServiceServer interface {
	OpenAccount(context.Context, *BalanceRequest) (*BalanceResponse, error)
	GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error)
	GetHistory(context.Context, *HistoryRequest) (*HistoryResponse, error)
	Deduct(context.Context, *ChargeRequest) (*DeductResponse, error)
	Refund(context.Context, *ChargeRequest) (*RefundResponse, error)
	RefundFailedJob(context.Context, *RefundFailedJobRequest) (*RefundResponse, error)
	Grant(context.Context, *GrantRequest) (*GrantResponse, error)
	FindUsage(context.Context, *JobTransactionRequest) (*JobTransactionResponse, error)
	FindRefund(context.Context, *JobTransactionRequest) (*JobTransactionResponse, error)
	VerifyAccount(context.Context, *BalanceRequest) (*BalanceResponse, error)
}

// UnimplementedCreditServiceServer answers every method with codes.Unimplemented.
type UnimplementedCreditServiceServer struct{}

func (UnimplementedCreditServiceServer) OpenAccount(context.Context, *BalanceRequest) (*BalanceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method OpenAccount not implemented")
}

func (UnimplementedCreditServiceServer) GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBalance not implemented")
}

func (UnimplementedCreditServiceServer) GetHistory(context.Context, *HistoryRequest) (*HistoryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetHistory not implemented")
}

func (UnimplementedCreditServiceServer) Deduct(context.Context, *ChargeRequest) (*DeductResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Deduct not implemented")
}

func (UnimplementedCreditServiceServer) Refund(context.Context, *ChargeRequest) (*RefundResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Refund not implemented")
}

func (UnimplementedCreditServiceServer) RefundFailedJob(context.Context, *RefundFailedJobRequest) (*RefundResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RefundFailedJob not implemented")
}

func (UnimplementedCreditServiceServer) Grant(context.Context, *GrantRequest) (*GrantResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Grant not implemented")
}

func (UnimplementedCreditServiceServer) FindUsage(context.Context, *JobTransactionRequest) (*JobTransactionResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method FindUsage not implemented")
}

func (UnimplementedCreditServiceServer) FindRefund(context.Context, *JobTransactionRequest) (*JobTransactionResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method FindRefund not implemented")
}

func (UnimplementedCreditServiceServer) VerifyAccount(context.Context, *BalanceRequest) (*BalanceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method VerifyAccount not implemented")
}

// RegisterCreditServiceServer attaches srv to a gRPC server.
func RegisterCreditServiceServer(registrar grpc.ServiceRegistrar, srv CreditServiceServer) {
	registrar.RegisterService(&CreditService_ServiceDesc, srv)
}

// methodHandler matches the Handler field of grpc.MethodDesc.
type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unaryHandler[Request any, Response any](fullMethod string, call func(CreditServiceServer, context.Context, *Request) (*Response, error)) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(Request)
		if err := dec(request); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CreditServiceServer), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CreditServiceServer), ctx, req.(*Request))
		}
		return interceptor(ctx, request, info, handler)
	}
}

// CreditService_ServiceDesc describes credits.v1.CreditService for grpc.Server.RegisterService.
var CreditService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: CreditService_ServiceName,
	HandlerType: (*CreditServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenAccount", Handler: unaryHandler(CreditService_OpenAccount_FullMethodName, CreditServiceServer.OpenAccount)},
		{MethodName: "GetBalance", Handler: unaryHandler(CreditService_GetBalance_FullMethodName, CreditServiceServer.GetBalance)},
		{MethodName: "GetHistory", Handler: unaryHandler(CreditService_GetHistory_FullMethodName, CreditServiceServer.GetHistory)},
		{MethodName: "Deduct", Handler: unaryHandler(CreditService_Deduct_FullMethodName, CreditServiceServer.Deduct)},
		{MethodName: "Refund", Handler: unaryHandler(CreditService_Refund_FullMethodName, CreditServiceServer.Refund)},
		{MethodName: "RefundFailedJob", Handler: unaryHandler(CreditService_RefundFailedJob_FullMethodName, CreditServiceServer.RefundFailedJob)},
		{MethodName: "Grant", Handler: unaryHandler(CreditService_Grant_FullMethodName, CreditServiceServer.Grant)},
		{MethodName: "FindUsage", Handler: unaryHandler(CreditService_FindUsage_FullMethodName, CreditServiceServer.FindUsage)},
		{MethodName: "FindRefund", Handler: unaryHandler(CreditService_FindRefund_FullMethodName, CreditServiceServer.FindRefund)},
		{MethodName: "VerifyAccount", Handler: unaryHandler(CreditService_VerifyAccount_FullMethodName, CreditServiceServer.VerifyAccount)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "credits/v1/credits.json",
}
