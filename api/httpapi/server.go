// Package httpapi is the REST surface of the order book. Authentication
// happens upstream; the authenticated caller arrives in the X-User-ID
// header.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"fundbook/domain/orderbook"
	"fundbook/infra/identity"
	"fundbook/service"
)

const callerHeader = "X-User-ID"

// Server serves the order book HTTP API.
type Server struct {
	svc      *service.OrderService
	identity identity.Resolver
	log      *zap.Logger
}

func NewServer(svc *service.OrderService, ids identity.Resolver, log *zap.Logger) *Server {
	return &Server{svc: svc, identity: ids, log: log.Named("http")}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /orders", s.handleSubmit)
	mux.HandleFunc("GET /orders", s.handleList)
	mux.HandleFunc("GET /orders/matching-probability", s.handleProbability)
	mux.HandleFunc("GET /orders/reservations", s.handleReservations)
	mux.HandleFunc("GET /orders/reconciliation", s.handleReconciliation)
	mux.HandleFunc("GET /orders/{id}", s.handleGet)
	mux.HandleFunc("DELETE /orders/{id}", s.handleCancel)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.String("caller", r.Header.Get(callerHeader)),
			zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encoding JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps service errors onto status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var v *service.ValidationError
	switch {
	case errors.As(err, &v):
		if errors.Is(err, identity.ErrNoWallet) {
			s.writeError(w, http.StatusUnauthorized, v.Error())
			return
		}
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: v.Error(), Field: v.Field})
	case errors.Is(err, service.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func caller(r *http.Request) string {
	return r.Header.Get(callerHeader)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if caller(r) == "" {
		s.writeError(w, http.StatusUnauthorized, "missing "+callerHeader)
		return
	}
	var body submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	req := service.SubmitRequest{
		Side:          body.Side,
		Instrument:    body.Instrument,
		TokenAmount:   int64(body.TokenAmount),
		PricePerToken: int64(body.PricePerToken),
		Nonce:         body.Nonce,
	}
	if body.Deadline != nil {
		req.Deadline = *body.Deadline
	}

	res, err := s.svc.Submit(r.Context(), req, caller(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, submitResponse{
		OrderID:      res.Order.ID,
		Status:       res.Status.String(),
		Message:      res.Message,
		Order:        toOrderJSON(res.Order),
		CounterOrder: toOrderJSON(res.Counter),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := service.ListFilter{Instrument: q.Get("instrument")}
	if side := q.Get("side"); side != "" {
		parsed, err := orderbook.ParseSide(side)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: "side"})
			return
		}
		f.Side = parsed
	}

	orders, err := s.svc.List(f)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]*orderJSON, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderJSON(o))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Get(r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toOrderJSON(o))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if caller(r) == "" {
		s.writeError(w, http.StatusUnauthorized, "missing "+callerHeader)
		return
	}
	res, err := s.svc.Cancel(r.Context(), r.PathValue("id"), caller(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	switch res.Reason {
	case service.CancelNotFound:
		status = http.StatusNotFound
	case service.CancelNotMaker:
		status = http.StatusForbidden
	case service.CancelNotPending:
		status = http.StatusConflict
	}
	resp := cancelResponse{
		OrderID:   res.OrderID,
		Cancelled: res.Cancelled,
		Reason:    string(res.Reason),
		Message:   res.Message,
	}
	if res.Status != 0 {
		resp.Status = res.Status.String()
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleProbability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hours := 24
	if v := q.Get("periodHours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "periodHours must be an integer", Field: "periodHours"})
			return
		}
		hours = n
	}

	p, err := s.svc.MatchingProbability(q.Get("instrument"), hours)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, probabilityResponse{
		Instrument:  p.Instrument,
		PeriodHours: p.PeriodHours,
		Probability: p.Probability,
		BuyVolume:   Amount(p.BuyVolume),
		SellVolume:  Amount(p.SellVolume),
		BuyOrders:   p.BuyOrders,
		SellOrders:  p.SellOrders,
	})
}

// handleReservations reports the wallet query parameter, or the caller's
// own wallet when it is absent.
func (s *Server) handleReservations(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		resolved, err := s.identity.Resolve(r.Context(), caller(r))
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		wallet = resolved
	}

	res, err := s.svc.Reservations(wallet)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	tokens := make(map[string]Amount, len(res.Tokens))
	for k, v := range res.Tokens {
		tokens[k] = Amount(v)
	}
	s.writeJSON(w, http.StatusOK, reservationsResponse{
		Wallet:       res.Wallet,
		CashNotional: Amount(res.CashNotional),
		Tokens:       tokens,
		OpenBuys:     res.OpenBuys,
		OpenSells:    res.OpenSells,
	})
}

func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	stuck, err := s.svc.StuckSettlements()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]stuckJSON, 0, len(stuck))
	for _, st := range stuck {
		out = append(out, toStuckJSON(st))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
