package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bendikrb/energidataservice/pkg/dataset"
	"github.com/bendikrb/energidataservice/pkg/optimizer"
	"github.com/bendikrb/energidataservice/pkg/types"
)

const (
	defaultPeriodLength = 4
	defaultPeriodBefore = "06:45:00"
)

type pricesResponse struct {
	Prices types.PriceSeries     `json:"prices"`
	Stats  optimizer.SeriesStats `json:"stats"`
}

func (s *Server) handlePricesToday(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prices, err := s.dataset.Today(ctx)
	if errors.Is(err, dataset.ErrNoData) {
		// cold start: try one on-demand fetch before giving up
		s.dataset.Fetch(ctx)
		prices, err = s.dataset.Today(ctx)
	}
	if err != nil {
		writeJSONError(w, "no price data available", http.StatusNotFound)
		return
	}
	s.writePrices(w, prices)
}

func (s *Server) handlePricesTomorrow(w http.ResponseWriter, r *http.Request) {
	prices, err := s.dataset.Tomorrow(r.Context())
	if err != nil {
		writeJSONError(w, "tomorrow's prices are not available yet", http.StatusNotFound)
		return
	}
	s.writePrices(w, prices)
}

func (s *Server) writePrices(w http.ResponseWriter, prices types.PriceSeries) {
	stats, err := optimizer.Stats(prices, s.dataset.Decimals())
	if err != nil {
		writeJSONError(w, "no price data available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(pricesResponse{Prices: prices, Stats: stats}); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.dataset.Status()); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handlePeriods(w http.ResponseWriter, r *http.Request) {
	length := defaultPeriodLength
	if v := r.URL.Query().Get("length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSONError(w, "length must be a positive integer", http.StatusBadRequest)
			return
		}
		length = n
	}

	before := defaultPeriodBefore
	if v := r.URL.Query().Get("before"); v != "" {
		if _, err := time.Parse("15:04:05", v); err != nil {
			writeJSONError(w, fmt.Sprintf("invalid before time %q, want HH:MM:SS", v), http.StatusBadRequest)
			return
		}
		before = v
	}

	periods, err := s.dataset.OptimalPeriods(length, before)
	if errors.Is(err, dataset.ErrNoData) || errors.Is(err, optimizer.ErrInsufficientData) {
		writeJSONError(w, "not enough price data for the requested window", http.StatusNotFound)
		return
	} else if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(periods); err != nil {
		panic(http.ErrAbortHandler)
	}
}
