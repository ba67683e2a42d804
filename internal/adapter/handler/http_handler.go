package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/core/service"
)

const (
	// BusinessIDHTTPHeader names the calling business on /v1 routes.
	BusinessIDHTTPHeader = "X-Business-ID"

	maxWebhookBytes = 1 << 20
	maxRequestBytes = 64 << 10
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPHandler struct {
	core  *service.Core
	ready Pinger
}

// NewHTTPHandler builds the HTTP surface. ready may be nil, in which case
// /ready always succeeds.
func NewHTTPHandler(core *service.Core, ready Pinger) *HTTPHandler {
	return &HTTPHandler{core: core, ready: ready}
}

// Routes returns the full HTTP handler, access logging included.
func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /ready", h.ReadyCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /webhooks/paystack", h.PaystackWebhook)

	mux.HandleFunc("POST /v1/sales", h.RecordSale)
	mux.HandleFunc("GET /v1/sales", h.ListSales)
	mux.HandleFunc("GET /v1/sales/{id}", h.GetSale)
	mux.HandleFunc("GET /v1/stock/{product}", h.GetStock)
	mux.HandleFunc("PUT /v1/stock/{product}", h.SetStock)
	mux.HandleFunc("POST /v1/stock/{product}/adjust", h.AdjustStock)
	mux.HandleFunc("GET /v1/low-stock", h.LowStock)
	mux.HandleFunc("GET /v1/reports/{tier}", h.GetReport)
	mux.HandleFunc("GET /v1/entitlements", h.GetEntitlements)
	mux.HandleFunc("GET /v1/insights/risk", h.GetRiskReport)
	mux.HandleFunc("GET /v1/insights/{tier}/profit-ranking", h.GetProfitRanking)
	mux.HandleFunc("GET /v1/insights/{tier}/stock-prediction", h.GetStockPrediction)
	mux.HandleFunc("GET /v1/insights/{tier}/summary", h.GetInsights)
	return AccessLog(mux)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready.Ping(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// PaystackWebhook ingests a payment provider delivery. Rejections answer with
// a 4xx so the provider stops retrying; storage failures answer 500 so it
// redelivers.
func (h *HTTPHandler) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, WebhookResponse{Status: "rejected", Reason: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, WebhookResponse{Status: "rejected", Reason: "unreadable body"})
		return
	}

	res, err := h.core.IngestPaymentWebhook(r.Context(), body, r.Header.Get(service.SignatureHeader))
	if err != nil {
		if service.IsRejection(err) {
			ec, _ := classify(err)
			writeJSON(w, ec.httpStatus, WebhookResponse{Status: "rejected", EventID: res.EventID, Reason: res.Reason})
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Str("event_id", res.EventID).Msg("webhook processing failed")
		writeJSON(w, http.StatusInternalServerError, WebhookResponse{Status: "error", EventID: res.EventID})
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{
		Status:        string(res.Outcome),
		EventID:       res.EventID,
		UnlockedUntil: res.UnlockedUntil,
	})
}

func (h *HTTPHandler) RecordSale(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}

	var req RecordSaleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "INVALID_PAYLOAD", Message: "invalid request body"})
		return
	}

	res, err := h.core.Sales.RecordSale(r.Context(), domain.SaleRequest{
		BusinessID: businessID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		RequestID:  req.RequestID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, RecordSaleResponse{
		Sale:           saleMessage(res.Sale),
		RemainingStock: res.RemainingStock,
		Replayed:       res.Replayed,
	})
}

func (h *HTTPHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	sales, err := h.core.Sales.ListSales(r.Context(), businessID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListSalesResponse{Sales: salesMessage(sales)})
}

func (h *HTTPHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	sale, err := h.core.Sales.GetSale(r.Context(), businessID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saleMessage(sale))
}

func (h *HTTPHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	h.writeStock(w, r, businessID, r.PathValue("product"))
}

func (h *HTTPHandler) SetStock(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	var req SetStockRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "INVALID_PAYLOAD", Message: "invalid request body"})
		return
	}
	productID := r.PathValue("product")
	if err := h.core.Ledger.Set(r.Context(), businessID, productID, req.Quantity, req.LowStockThreshold); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeStock(w, r, businessID, productID)
}

func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	var req AdjustStockRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "INVALID_PAYLOAD", Message: "invalid request body"})
		return
	}
	productID := r.PathValue("product")
	if _, err := h.core.Ledger.Adjust(r.Context(), businessID, productID, req.Delta); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeStock(w, r, businessID, productID)
}

func (h *HTTPHandler) writeStock(w http.ResponseWriter, r *http.Request, businessID, productID string) {
	lvl, err := h.core.Ledger.Peek(r.Context(), businessID, productID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockMessage(lvl))
}

// LowStock lists products at or under their threshold.
func (h *HTTPHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	levels, err := h.core.Ledger.LowStock(r.Context(), businessID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := LowStockResponse{Items: make([]StockLevel, 0, len(levels))}
	for _, l := range levels {
		resp.Items = append(resp.Items, stockMessage(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	tier, err := domain.ParseTier(r.PathValue("tier"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	anchor, err := reportAnchor(r.Context(), h.core, businessID, r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := h.core.GetReport(r.Context(), businessID, tier, anchor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reportMessage(rep))
}

func (h *HTTPHandler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	statuses, err := h.core.EntitlementStatuses(r.Context(), businessID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := EntitlementsResponse{Entitlements: make([]Entitlement, 0, len(statuses))}
	for _, st := range statuses {
		resp.Entitlements = append(resp.Entitlements, Entitlement{
			Tier:          string(st.Tier),
			Active:        st.Active,
			UnlockedUntil: st.UnlockedUntil,
			PaymentRef:    st.PaymentRef,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// insightRequest resolves the caller and the {tier} path value. It writes
// the error response itself when either is missing or invalid.
func insightRequest(w http.ResponseWriter, r *http.Request) (string, domain.Tier, bool) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return "", "", false
	}
	tier, err := domain.ParseInsightTier(r.PathValue("tier"))
	if err != nil {
		writeError(w, r, err)
		return "", "", false
	}
	return businessID, tier, true
}

func (h *HTTPHandler) GetProfitRanking(w http.ResponseWriter, r *http.Request) {
	businessID, tier, ok := insightRequest(w, r)
	if !ok {
		return
	}
	ranking, err := h.core.Reports.ProfitRanking(r.Context(), businessID, tier)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profitRankingMessage(ranking))
}

func (h *HTTPHandler) GetStockPrediction(w http.ResponseWriter, r *http.Request) {
	businessID, tier, ok := insightRequest(w, r)
	if !ok {
		return
	}
	pred, err := h.core.Reports.StockPrediction(r.Context(), businessID, tier)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockPredictionMessage(pred))
}

func (h *HTTPHandler) GetInsights(w http.ResponseWriter, r *http.Request) {
	businessID, tier, ok := insightRequest(w, r)
	if !ok {
		return
	}
	in, err := h.core.Reports.Insights(r.Context(), businessID, tier)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, insightsMessage(in))
}

// GetRiskReport takes an optional ?days= lookback.
func (h *HTTPHandler) GetRiskReport(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: days %q is not a number", domain.ErrInvalidWindow, v))
			return
		}
		days = n
	}
	rep, err := h.core.Reports.RiskMonitor(r.Context(), businessID, days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, riskMessage(rep))
}

func requireBusiness(w http.ResponseWriter, r *http.Request) (string, bool) {
	businessID := strings.TrimSpace(r.Header.Get(BusinessIDHTTPHeader))
	if businessID == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: "MISSING_BUSINESS", Message: "missing " + BusinessIDHTTPHeader + " header"})
		return "", false
	}
	return businessID, true
}

// writeError maps a core error to its status. Unclassified errors are logged
// and reported as a bare internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ec, known := classify(err)
	msg := err.Error()
	if !known {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, ec.httpStatus, ErrorResponse{Code: ec.name, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
