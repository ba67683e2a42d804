package handler

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// CoreClient calls the core service over a gRPC connection. Errors the server
// classified come back wrapping the matching domain error, so callers can use
// errors.Is exactly as they would in-process.
type CoreClient struct {
	cc grpc.ClientConnInterface
}

func NewCoreClient(cc grpc.ClientConnInterface) *CoreClient {
	return &CoreClient{cc: cc}
}

func (c *CoreClient) RecordSale(ctx context.Context, businessID string, req *RecordSaleRequest) (*RecordSaleResponse, error) {
	out := new(RecordSaleResponse)
	return out, c.invoke(ctx, businessID, "RecordSale", req, out)
}

func (c *CoreClient) GetSale(ctx context.Context, businessID, saleID string) (*Sale, error) {
	out := new(Sale)
	return out, c.invoke(ctx, businessID, "GetSale", &GetSaleRequest{SaleID: saleID}, out)
}

func (c *CoreClient) ListSales(ctx context.Context, businessID string, req *ListSalesRequest) (*ListSalesResponse, error) {
	out := new(ListSalesResponse)
	return out, c.invoke(ctx, businessID, "ListSales", req, out)
}

func (c *CoreClient) GetStockLevel(ctx context.Context, businessID, productID string) (*StockLevel, error) {
	out := new(StockLevel)
	return out, c.invoke(ctx, businessID, "GetStockLevel", &StockLevelRequest{ProductID: productID}, out)
}

func (c *CoreClient) AdjustStock(ctx context.Context, businessID string, req *AdjustStockRequest) (*StockLevel, error) {
	out := new(StockLevel)
	return out, c.invoke(ctx, businessID, "AdjustStock", req, out)
}

func (c *CoreClient) SetStock(ctx context.Context, businessID string, req *SetStockRequest) (*StockLevel, error) {
	out := new(StockLevel)
	return out, c.invoke(ctx, businessID, "SetStock", req, out)
}

func (c *CoreClient) LowStock(ctx context.Context, businessID string) (*LowStockResponse, error) {
	out := new(LowStockResponse)
	return out, c.invoke(ctx, businessID, "LowStock", &LowStockRequest{}, out)
}

func (c *CoreClient) GetReport(ctx context.Context, businessID string, req *ReportRequest) (*ReportResponse, error) {
	out := new(ReportResponse)
	return out, c.invoke(ctx, businessID, "GetReport", req, out)
}

func (c *CoreClient) GetTrend(ctx context.Context, businessID, tier string) (*TrendResponse, error) {
	out := new(TrendResponse)
	return out, c.invoke(ctx, businessID, "GetTrend", &TrendRequest{Tier: tier}, out)
}

func (c *CoreClient) GetEntitlements(ctx context.Context, businessID string) (*EntitlementsResponse, error) {
	out := new(EntitlementsResponse)
	return out, c.invoke(ctx, businessID, "GetEntitlements", &EntitlementsRequest{}, out)
}

func (c *CoreClient) GetProfitRanking(ctx context.Context, businessID, tier string) (*ProfitRankingResponse, error) {
	out := new(ProfitRankingResponse)
	return out, c.invoke(ctx, businessID, "GetProfitRanking", &InsightRequest{Tier: tier}, out)
}

func (c *CoreClient) GetStockPrediction(ctx context.Context, businessID, tier string) (*StockPredictionResponse, error) {
	out := new(StockPredictionResponse)
	return out, c.invoke(ctx, businessID, "GetStockPrediction", &InsightRequest{Tier: tier}, out)
}

func (c *CoreClient) GetInsights(ctx context.Context, businessID, tier string) (*InsightsResponse, error) {
	out := new(InsightsResponse)
	return out, c.invoke(ctx, businessID, "GetInsights", &InsightRequest{Tier: tier}, out)
}

func (c *CoreClient) GetRiskReport(ctx context.Context, businessID string, lookbackDays int) (*RiskReportResponse, error) {
	out := new(RiskReportResponse)
	return out, c.invoke(ctx, businessID, "GetRiskReport", &RiskRequest{LookbackDays: lookbackDays}, out)
}

func (c *CoreClient) invoke(ctx context.Context, businessID, method string, in, out any) error {
	ctx = metadata.AppendToOutgoingContext(ctx, BusinessIDHeader, businessID)
	var trailer metadata.MD
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out,
		grpc.CallContentSubtype(jsonCodecName),
		grpc.Trailer(&trailer),
	)
	return fromStatus(err, trailer)
}

func fromStatus(err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}
	names := trailer.Get(errorCodeTrailer)
	if len(names) == 0 {
		return err
	}
	ec, ok := errorByName(names[0])
	if !ok {
		return err
	}
	return fmt.Errorf("%w: %s", ec.err, status.Convert(err).Message())
}
