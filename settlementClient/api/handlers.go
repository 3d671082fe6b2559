package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/crowdfund/settlement-node/settlementClient/chains/svm"
	"github.com/crowdfund/settlement-node/settlementClient/db"
	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
	"github.com/crowdfund/settlement-node/settlementClient/fees"
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handlePrograms handles GET /api/v1/programs
func (s *Server) handlePrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := s.programs.Get(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	fetched := programs.FetchedAt
	writeJSON(w, http.StatusOK, QueryResponse{
		Data: ProgramsView{
			Campaign:   programs.Campaign.String(),
			DealEscrow: programs.DealEscrow.String(),
			Treasury:   programs.Treasury.String(),
			Cluster:    programs.Cluster,
			RPCURL:     programs.RPCURL,
		},
		LastFetched: &fetched,
	})
}

// handleSettlements handles GET /api/v1/settlements?project=<id>&limit=<n>
func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	records, err := s.store.ListSettlements(r.URL.Query().Get("project"), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Data: records})
}

// handleSettlement handles GET /api/v1/settlements/{signature}
func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	signature := mux.Vars(r)["signature"]
	record, err := s.store.GetSettlement(signature)
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "settlement " + signature + " not found"})
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Data: record})
}

// handleDealHistory handles GET /api/v1/deals/{id}
func (s *Server) handleDealHistory(w http.ResponseWriter, r *http.Request) {
	dealID := mux.Vars(r)["id"]
	history, err := s.store.DealHistory(dealID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(history) == 0 {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "deal " + dealID + " not found"})
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Data: history})
}

// handleFillQuote handles GET /api/v1/quote/fill?raised=<sol>&goal=<sol>&fee=<fraction>
func (s *Server) handleFillQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("raised") == "" || q.Get("goal") == "" || q.Get("fee") == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "raised, goal and fee parameters are required"})
		return
	}
	raised, err := fees.ParseAmount(q.Get("raised"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	goal, err := fees.ParseAmount(q.Get("goal"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	rate, err := decimal.NewFromString(q.Get("fee"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "fee must be a decimal fraction"})
		return
	}

	calc, err := fees.NewCalculator(rate, s.tolerance, s.precision)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	gross, err := calc.FillToGoal(raised, goal)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	lamports, err := fees.ToLamports(gross)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Data: FillQuote{
		Gross:    gross.String(),
		Net:      calc.NetAmount(gross).String(),
		Fee:      calc.FeeAmount(gross).String(),
		Lamports: lamports,
	}})
}

// handleCampaignAddresses handles GET /api/v1/addresses/campaign?creator=<key>&campaign_id=<id>
func (s *Server) handleCampaignAddresses(w http.ResponseWriter, r *http.Request) {
	creatorParam := r.URL.Query().Get("creator")
	campaignID := r.URL.Query().Get("campaign_id")
	if creatorParam == "" || campaignID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "creator and campaign_id parameters are required"})
		return
	}
	creator, err := solana.PublicKeyFromBase58(creatorParam)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "creator is not a valid address"})
		return
	}

	programs, err := s.programs.Get(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	campaign, err := svm.DeriveCampaign(programs.Campaign, creator, campaignID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	vault, err := svm.DeriveCampaignVault(programs.Campaign, campaign.Address)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Data: CampaignAddresses{
		Campaign: campaign.Address.String(),
		Vault:    vault.Address.String(),
		Bump:     campaign.Bump,
	}})
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("query failed")
	}
	resp := ErrorResponse{Error: serrors.UserMessage(err)}
	var se *serrors.SettlementError
	if serrors.As(err, &se) {
		resp.Code = string(se.Code)
		if se.Code == serrors.ErrCodeValidation || se.Code == serrors.ErrCodeConfig {
			resp.Error = se.Message
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
