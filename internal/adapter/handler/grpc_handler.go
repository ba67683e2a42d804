package handler

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/core/service"
	"github.com/rl1809/saleszy/internal/metrics"
)

const (
	ServiceName = "saleszy.v1.CoreService"

	// BusinessIDHeader carries the calling business on every request.
	BusinessIDHeader = "x-business-id"
	errorCodeTrailer = "x-error-code"

	jsonCodecName = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets the service run without generated protobuf types. Clients
// select it with grpc.CallContentSubtype("json").
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

// CoreServer is the gRPC surface of the core.
type CoreServer interface {
	RecordSale(context.Context, *RecordSaleRequest) (*RecordSaleResponse, error)
	GetSale(context.Context, *GetSaleRequest) (*Sale, error)
	ListSales(context.Context, *ListSalesRequest) (*ListSalesResponse, error)
	GetStockLevel(context.Context, *StockLevelRequest) (*StockLevel, error)
	AdjustStock(context.Context, *AdjustStockRequest) (*StockLevel, error)
	SetStock(context.Context, *SetStockRequest) (*StockLevel, error)
	LowStock(context.Context, *LowStockRequest) (*LowStockResponse, error)
	GetReport(context.Context, *ReportRequest) (*ReportResponse, error)
	GetTrend(context.Context, *TrendRequest) (*TrendResponse, error)
	GetEntitlements(context.Context, *EntitlementsRequest) (*EntitlementsResponse, error)
	GetProfitRanking(context.Context, *InsightRequest) (*ProfitRankingResponse, error)
	GetStockPrediction(context.Context, *InsightRequest) (*StockPredictionResponse, error)
	GetInsights(context.Context, *InsightRequest) (*InsightsResponse, error)
	GetRiskReport(context.Context, *RiskRequest) (*RiskReportResponse, error)
}

func unary[Req, Resp any](name string, call func(CoreServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CoreServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(CoreServer), ctx, req.(*Req))
			})
		},
	}
}

var coreServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RecordSale", CoreServer.RecordSale),
		unary("GetSale", CoreServer.GetSale),
		unary("ListSales", CoreServer.ListSales),
		unary("GetStockLevel", CoreServer.GetStockLevel),
		unary("AdjustStock", CoreServer.AdjustStock),
		unary("SetStock", CoreServer.SetStock),
		unary("LowStock", CoreServer.LowStock),
		unary("GetReport", CoreServer.GetReport),
		unary("GetTrend", CoreServer.GetTrend),
		unary("GetEntitlements", CoreServer.GetEntitlements),
		unary("GetProfitRanking", CoreServer.GetProfitRanking),
		unary("GetStockPrediction", CoreServer.GetStockPrediction),
		unary("GetInsights", CoreServer.GetInsights),
		unary("GetRiskReport", CoreServer.GetRiskReport),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "saleszy/v1/core.proto",
}

type GRPCHandler struct {
	core *service.Core
}

var _ CoreServer = (*GRPCHandler)(nil)

func NewGRPCHandler(core *service.Core) *GRPCHandler {
	return &GRPCHandler{core: core}
}

func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&coreServiceDesc, h)
}

func (h *GRPCHandler) RecordSale(ctx context.Context, req *RecordSaleRequest) (*RecordSaleResponse, error) {
	businessID, err := businessFromContext(ctx)
	if err != nil {
		return nil, err
	}
	res, err := h.core.Sales.RecordSale(ctx, domain.SaleRequest{
		BusinessID: businessID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		RequestID:  req.RequestID,
	})
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &RecordSaleResponse{
		Sale:           saleMessage(res.Sale),
		RemainingStock: res.RemainingStock,
		Replayed:       res.Replayed,
	}, nil
}

func (h *GRPCHandler) GetSale(ctx context.Context, req *GetSaleRequest) (*Sale, error) {
	businessID, err := businessFromContext(ctx)
	if err != nil {
		return nil, err
	}
	sale, err := h.core.Sales.GetSale(ctx, businessID, req.SaleID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	msg := saleMessage(sale)
	return &msg, nil
}

func (h *GRPCHandler) ListSales(ctx context.Context, req *ListSalesRequest) (*ListSalesResponse, error) {
	businessID, err := businessFromContext(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := h.core.Sales.ListSales(ctx, businessID, req.Limit, req.Offset)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &ListSalesResponse{Sales: salesMessage(sales)}, nil
}

func (h *GRPCHandler) GetStockLevel(ctx context.Context, req *StockLevelRequest) (*StockLevel, error) {
	businessID, err := businessFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return h.stockLevel(ctx, businessID, req.ProductID)
}

func (h *GRPCHandler) AdjustStock(ctx context.Context, req *AdjustStockRequest) (*StockLevel, error) {
	businessID, err := businessFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := h.core.Ledger.Adjust(ctx, businessID, req.ProductID, req.Delta); err != nil {
		return nil, toStatus(ctx, err)
	}
	return h.stockLevel(ctx, businessID, req.ProductID)
}

func (h *GRPCHandler) SetStock(ctx context.Context, req *SetStockRequest) (*StockLevel, error) {
	businessID, err := businessFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.core.Ledger.Set(ctx, businessID, req.ProductID, req.Quantity, req.LowStockThreshold); err != nil {
		return nil, toStatus(ctx, err)
	}
	return h.stockLevel(ctx, businessID, req.ProductID)
}

func (h *GRPCHandler) stockLevel(ctx context.Context, businessID, productID string) (*StockLevel, error) {
	lvl, err := h.core.Ledger.Peek(ctx, businessID, productID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	msg := stockMessage(lvl)
	return &msg, nil
}

func (h *GRPCHandler) LowStock(ctx context.Context, _ *LowStockRequest) (*LowStockResponse, error) {
	businessID, err := businessFromContext(ctx)
	if err != nil {
		return nil, err
	}
	levels, err := h.core.Ledger.LowStock(ctx, businessID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	resp := &LowStockResponse{Items: make([]StockLevel, 0, len(levels))}
	for _, l := range levels {
		resp.Items = append(resp.Items, stockMessage(l))
	}
	return resp, nil
}

func (h *GRPCHandler) GetReport(ctx context.Context, req *ReportRequest) (*ReportResponse, error) {
	businessID, err := businessFromContext(ctx)
	if err != nil {
		return nil, err
	}
	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	anchor, err := reportAnchor(ctx, h.core, businessID, req.Date)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	rep, err := h.core.GetReport(ctx, businessID, tier, anchor)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return reportMessage(rep), nil
}

// reportAnchor parses the report date. An empty date means today in the
// business's time zone.
func reportAnchor(ctx context.Context, core *service.Core, businessID, date string) (time.Time, error) {
	if strings.TrimSpace(date) != "" {
		return parseReportDate(date)
	}
	scope, err := core.Tenants.Resolve(ctx, businessID)
	if err != nil {
		return time.Time{}, err
	}
	return core.Clock.Now().In(scope.Location), nil
}

func (h *GRPCHandler) GetTrend(ctx context.Context, req *TrendRequest) (*TrendResponse, error) {
	businessID, err := businessFromContext(ctx)
	if err != nil {
		return nil, err
	}
	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	points, err := h.core.Reports.Trend(ctx, businessID, tier)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	resp := &TrendResponse{Points: make([]TrendPoint, 0, len(points))}
	for _, p := range points {
		resp.Points = append(resp.Points, TrendPoint{
			Date:    p.Date.Format(time.DateOnly),
			Revenue: p.Revenue,
			Profit:  p.Profit,
		})
	}
	return resp, nil
}

func (h *GRPCHandler) GetEntitlements(ctx context.Context, _ *EntitlementsRequest) (*EntitlementsResponse, error) {
	businessID, err := businessFromContext(ctx)
	if err != nil {
		return nil, err
	}
	statuses, err := h.core.EntitlementStatuses(ctx, businessID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	resp := &EntitlementsResponse{Entitlements: make([]Entitlement, 0, len(statuses))}
	for _, st := range statuses {
		resp.Entitlements = append(resp.Entitlements, Entitlement{
			Tier:          string(st.Tier),
			Active:        st.Active,
			UnlockedUntil: st.UnlockedUntil,
			PaymentRef:    st.PaymentRef,
		})
	}
	return resp, nil
}

// insightCall resolves the caller and tier shared by the tiered insight
// methods.
func insightCall[T any](ctx context.Context, tier string, get func(context.Context, string, domain.Tier) (T, error)) (T, error) {
	var zero T
	businessID, err := businessFromContext(ctx)
	if err != nil {
		return zero, err
	}
	t, err := domain.ParseInsightTier(tier)
	if err != nil {
		return zero, toStatus(ctx, err)
	}
	out, err := get(ctx, businessID, t)
	if err != nil {
		return zero, toStatus(ctx, err)
	}
	return out, nil
}

func (h *GRPCHandler) GetProfitRanking(ctx context.Context, req *InsightRequest) (*ProfitRankingResponse, error) {
	r, err := insightCall(ctx, req.Tier, h.core.Reports.ProfitRanking)
	if err != nil {
		return nil, err
	}
	return profitRankingMessage(r), nil
}

func (h *GRPCHandler) GetStockPrediction(ctx context.Context, req *InsightRequest) (*StockPredictionResponse, error) {
	p, err := insightCall(ctx, req.Tier, h.core.Reports.StockPrediction)
	if err != nil {
		return nil, err
	}
	return stockPredictionMessage(p), nil
}

func (h *GRPCHandler) GetInsights(ctx context.Context, req *InsightRequest) (*InsightsResponse, error) {
	in, err := insightCall(ctx, req.Tier, h.core.Reports.Insights)
	if err != nil {
		return nil, err
	}
	return insightsMessage(in), nil
}

func (h *GRPCHandler) GetRiskReport(ctx context.Context, req *RiskRequest) (*RiskReportResponse, error) {
	businessID, err := businessFromContext(ctx)
	if err != nil {
		return nil, err
	}
	rep, err := h.core.Reports.RiskMonitor(ctx, businessID, req.LookbackDays)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return riskMessage(rep), nil
}

func businessFromContext(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	for _, v := range md.Get(BusinessIDHeader) {
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
	}
	return "", status.Errorf(codes.Unauthenticated, "missing %s metadata", BusinessIDHeader)
}

// toStatus converts a core error to a gRPC status and names the domain error
// in the trailer. Unknown errors are logged and hidden from the caller.
func toStatus(ctx context.Context, err error) error {
	ec, known := classify(err)
	_ = grpc.SetTrailer(ctx, metadata.Pairs(errorCodeTrailer, ec.name))
	if !known {
		log.Error().Err(err).Msg("grpc call failed")
		return status.Error(ec.grpcCode, "internal error")
	}
	return status.Error(ec.grpcCode, err.Error())
}

// UnaryLoggingInterceptor logs and counts every unary call.
func UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		ev := log.Debug()
		if code == codes.Internal || code == codes.Unknown {
			ev = log.Error().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")
		metrics.GRPCRequestsTotal.WithLabelValues(info.FullMethod, code.String()).Inc()
		return resp, err
	}
}
