package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crowdfund/settlement-node/settlementClient/metrics"
)

// setupRoutes configures all HTTP routes for the API server
func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/programs", s.handlePrograms).Methods(http.MethodGet)
	v1.HandleFunc("/settlements", s.handleSettlements).Methods(http.MethodGet)
	v1.HandleFunc("/settlements/{signature}", s.handleSettlement).Methods(http.MethodGet)
	v1.HandleFunc("/deals/{id}", s.handleDealHistory).Methods(http.MethodGet)
	v1.HandleFunc("/quote/fill", s.handleFillQuote).Methods(http.MethodGet)
	v1.HandleFunc("/addresses/campaign", s.handleCampaignAddresses).Methods(http.MethodGet)

	return metrics.InstrumentHandler(router)
}
