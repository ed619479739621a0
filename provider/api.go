package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-ftso-provider/calculator"
	"github.com/rony4d/go-ftso-provider/inter"
	"github.com/rony4d/go-ftso-provider/inter/fsp"
	"github.com/rony4d/go-ftso-provider/ledger"
	"github.com/rony4d/go-ftso-provider/metrics"
	"github.com/rony4d/go-ftso-provider/registry"
	"github.com/rony4d/go-ftso-provider/rewards"
)

// Backend is the set of operations the API serves. *Service implements it.
type Backend interface {
	GetCommitData(ctx context.Context, round inter.VotingRoundID, submitAddress common.Address) (inter.CommitData, error)
	GetRevealData(ctx context.Context, round inter.VotingRoundID) (inter.RevealData, error)
	GetResultData(ctx context.Context, round inter.VotingRoundID) (*ResultData, error)
	GetRewardClaimsWithProof(ctx context.Context, id inter.RewardEpochID, beneficiary common.Address) ([]rewards.ClaimWithProof, error)
}

// Handler provides the HTTP handlers of the provider API.
type Handler struct {
	backend    Backend
	protocolID uint8
	log        logrus.FieldLogger
}

// NewHandler creates an API handler. Commit and reveal payloads are wrapped
// in payload messages of protocolID.
func NewHandler(backend Backend, protocolID uint8, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{backend: backend, protocolID: protocolID, log: log.WithField("module", "api")}
}

// RegisterRoutes registers all provider routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Use(h.instrument)

	// Voting
	r.HandleFunc("/commit/{votingRoundId:[0-9]+}/{submitAddress}", h.handleCommit).Methods("GET")
	r.HandleFunc("/reveal/{votingRoundId:[0-9]+}", h.handleReveal).Methods("GET")

	// Results and rewards
	r.HandleFunc("/result/{votingRoundId:[0-9]+}", h.handleResult).Methods("GET")
	r.HandleFunc("/result/{votingRoundId:[0-9]+}/full", h.handleFullResult).Methods("GET")
	r.HandleFunc("/rewards/{rewardEpochId:[0-9]+}/{beneficiary}", h.handleRewards).Methods("GET")

	// Health and metrics
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Response types

// PayloadResponse carries an encoded payload message ready to be appended
// to submit1 or submit2 calldata.
type PayloadResponse struct {
	Status string        `json:"status"`
	Data   hexutil.Bytes `json:"data"`
}

// ResultResponse is the signed part of a round result.
type ResultResponse struct {
	Status         string              `json:"status"`
	VotingRoundID  inter.VotingRoundID `json:"votingRoundId"`
	MerkleRoot     common.Hash         `json:"merkleRoot"`
	IsSecureRandom bool                `json:"isSecureRandom"`
}

// FullResultResponse adds the medians and the random to the result.
type FullResultResponse struct {
	ResultResponse
	Random  calculator.RandomResult              `json:"random"`
	Medians []calculator.MedianCalculationResult `json:"medians"`
}

// RewardsResponse lists the claims of a beneficiary.
type RewardsResponse struct {
	Status string                   `json:"status"`
	Data   []rewards.ClaimWithProof `json:"data"`
}

// ErrorResponse is returned by every failed request.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	round, ok := h.votingRound(w, r)
	if !ok {
		return
	}
	submit := mux.Vars(r)["submitAddress"]
	if !common.IsHexAddress(submit) {
		h.respondError(w, r, http.StatusBadRequest, errors.New("invalid submit address"))
		return
	}
	commit, err := h.backend.GetCommitData(r.Context(), round, common.HexToAddress(submit))
	if err != nil {
		h.respondError(w, r, statusFor(err), err)
		return
	}
	h.respondPayload(w, r, round, commit.Encode())
}

func (h *Handler) handleReveal(w http.ResponseWriter, r *http.Request) {
	round, ok := h.votingRound(w, r)
	if !ok {
		return
	}
	reveal, err := h.backend.GetRevealData(r.Context(), round)
	if err != nil {
		h.respondError(w, r, statusFor(err), err)
		return
	}
	h.respondPayload(w, r, round, reveal.Encode())
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	res, ok := h.result(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, r, http.StatusOK, resultResponse(res))
}

func (h *Handler) handleFullResult(w http.ResponseWriter, r *http.Request) {
	res, ok := h.result(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, r, http.StatusOK, FullResultResponse{
		ResultResponse: resultResponse(res),
		Random:         res.Result.Random,
		Medians:        res.Result.Medians,
	})
}

func (h *Handler) handleRewards(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["rewardEpochId"], 10, 24)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, errors.New("invalid reward epoch id"))
		return
	}
	if !common.IsHexAddress(vars["beneficiary"]) {
		h.respondError(w, r, http.StatusBadRequest, errors.New("invalid beneficiary address"))
		return
	}
	claims, err := h.backend.GetRewardClaimsWithProof(r.Context(), inter.RewardEpochID(id), common.HexToAddress(vars["beneficiary"]))
	if err != nil {
		h.respondError(w, r, statusFor(err), err)
		return
	}
	if claims == nil {
		claims = []rewards.ClaimWithProof{}
	}
	h.respondJSON(w, r, http.StatusOK, RewardsResponse{Status: ledger.OK.String(), Data: claims})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

// Helper functions

func (h *Handler) votingRound(w http.ResponseWriter, r *http.Request) (inter.VotingRoundID, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["votingRoundId"], 10, 32)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, errors.New("invalid voting round id"))
		return 0, false
	}
	return inter.VotingRoundID(id), true
}

func (h *Handler) result(w http.ResponseWriter, r *http.Request) (*ResultData, bool) {
	round, ok := h.votingRound(w, r)
	if !ok {
		return nil, false
	}
	res, err := h.backend.GetResultData(r.Context(), round)
	if err != nil {
		h.respondError(w, r, statusFor(err), err)
		return nil, false
	}
	return res, true
}

func resultResponse(res *ResultData) ResultResponse {
	return ResultResponse{
		Status:         res.Status.String(),
		VotingRoundID:  res.Result.VotingRoundID,
		MerkleRoot:     res.Result.MerkleRoot,
		IsSecureRandom: res.Result.Random.IsSecure,
	}
}

func (h *Handler) respondPayload(w http.ResponseWriter, r *http.Request, round inter.VotingRoundID, payload []byte) {
	msg, err := fsp.PayloadMessage{ProtocolID: h.protocolID, VotingRoundID: round, Payload: payload}.Encode()
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, PayloadResponse{Status: ledger.OK.String(), Data: msg})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotReady), errors.Is(err, rewards.ErrDataNotAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNoReveal), errors.Is(err, registry.ErrEpochNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.WithField("path", r.URL.Path).WithError(err).Warn("Failed to write response")
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, status int, err error) {
	resp := ErrorResponse{Status: "ERROR", Error: err.Error()}
	switch status {
	case http.StatusServiceUnavailable:
		resp.Status = ledger.NotOK.String()
	case http.StatusInternalServerError:
		h.log.WithFields(logrus.Fields{
			"path":      r.URL.Path,
			"requestId": w.Header().Get(requestIDHeader),
		}).WithError(err).Error("Request failed")
	}
	h.respondJSON(w, r, status, resp)
}

const requestIDHeader = "X-Request-Id"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument tags every request with an id and records its latency and status.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		h.log.WithFields(logrus.Fields{
			"requestId": id,
			"method":    r.Method,
			"route":     route,
			"status":    rec.status,
			"elapsed":   elapsed,
		}).Debug("Served request")
	})
}
