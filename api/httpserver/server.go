// Package httpserver is the REST surface over the order service.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"chainbook/domain/book"
	"chainbook/service"
)

type Server struct {
	svc    *service.Service
	log    *logrus.Entry
	router *mux.Router
}

func New(svc *service.Service, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		svc: svc,
		log: log.WithField("component", "http"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/markets", s.handleCreateMarket).Methods(http.MethodPost)
	r.HandleFunc("/markets", s.handleListMarkets).Methods(http.MethodGet)
	r.HandleFunc("/markets/{id}/book", s.handleViewBook).Methods(http.MethodGet)
	r.HandleFunc("/markets/{id}/book/orders", s.handleViewBookOrders).Methods(http.MethodGet)
	r.HandleFunc("/markets/{id}/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	r.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete)
	r.HandleFunc("/accounts/{owner}/deposit", s.handleDeposit).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router = r
	return s
}

func (s *Server) Router() http.Handler {
	return s.router
}

// ---------------- handlers ----------------

type createMarketRequest struct {
	Base       string `json:"base"`
	Quote      string `json:"quote"`
	Controller string `json:"controller"`
}

func (s *Server) handleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, book.ErrInvalidArgument)
		return
	}
	m, err := s.svc.CreateMarket(req.Base, req.Quote, req.Controller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Markets())
}

type submitOrderRequest struct {
	MarketID uint64 `json:"market_id"`
	Owner    string `json:"owner"`
	Side     string `json:"side"` // "bid" | "ask"
	Type     string `json:"type"` // "limit" (default) | "market"
	Price    int64  `json:"price"`
	MaxPrice int64  `json:"max_price"`
	Amount   int64  `json:"amount"`
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, book.ErrInvalidArgument)
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		s.writeError(w, err)
		return
	}
	isBuy := side == book.Bid

	var res book.SubmitResult
	switch req.Type {
	case "", "limit":
		res, err = s.svc.SubmitLimitOrder(req.MarketID, req.Owner, isBuy, req.Price, req.Amount)
	case "market":
		res, err = s.svc.SubmitMarketOrder(req.MarketID, req.Owner, isBuy, req.MaxPrice, req.Amount)
	default:
		err = book.ErrInvalidArgument
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, book.ErrInvalidArgument)
		return
	}
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		s.writeError(w, book.ErrInvalidArgument)
		return
	}
	removed, err := s.svc.CancelOrder(id, owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) handleViewBook(w http.ResponseWriter, r *http.Request) {
	marketID, side, err := bookParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	levels, err := s.svc.ViewBook(marketID, side)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, levels)
}

func (s *Server) handleViewBookOrders(w http.ResponseWriter, r *http.Request) {
	marketID, side, err := bookParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.svc.ViewBookOrders(marketID, side)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	marketID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, book.ErrInvalidArgument)
		return
	}
	snap, err := s.svc.BookSnapshot(marketID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

type depositRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, book.ErrInvalidArgument)
		return
	}
	if err := s.svc.Deposit(mux.Vars(r)["owner"], req.Asset, req.Amount); err != nil {
		s.writeError(w, book.ErrInvalidArgument)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------- helpers ----------------

func bookParams(r *http.Request) (uint64, book.Side, error) {
	marketID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, 0, book.ErrInvalidArgument
	}
	side, err := parseSide(r.URL.Query().Get("side"))
	if err != nil {
		return 0, 0, err
	}
	return marketID, side, nil
}

func parseSide(s string) (book.Side, error) {
	switch s {
	case "bid", "buy":
		return book.Bid, nil
	case "ask", "sell":
		return book.Ask, nil
	default:
		return 0, book.ErrInvalidArgument
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, book.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, book.ErrMarketNotFound):
		status = http.StatusNotFound
	case errors.Is(err, book.ErrDuplicateMarket):
		status = http.StatusConflict
	case errors.Is(err, book.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, book.ErrStepBudget):
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
