package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"basilisk/crypto"
	"basilisk/native/jobs"
	"basilisk/observability"
)

const (
	codeJobsInvalidParams = -32021
	codeJobsNotFound      = -32022
	codeJobsForbidden     = -32023
	codeJobsConflict      = -32024
	codeJobsInternal      = -32025
)

type jobsInitializeParams struct {
	Admin      string `json:"admin"`
	Arbitrator string `json:"arbitrator"`
}

type jobsUpdateConfigParams struct {
	Caller        string `json:"caller"`
	NewArbitrator string `json:"newArbitrator,omitempty"`
	NewAdmin      string `json:"newAdmin,omitempty"`
}

type jobsCreateParams struct {
	Requester    string `json:"requester"`
	JobID        string `json:"jobId,omitempty"`
	Token        string `json:"token"`
	Amount       uint64 `json:"amount"`
	Description  string `json:"description"`
	DeadlineDays uint8  `json:"deadlineDays"`
}

type jobsActorParams struct {
	Caller string `json:"caller"`
	JobID  string `json:"jobId"`
}

type jobsSubmitParams struct {
	Caller string `json:"caller"`
	JobID  string `json:"jobId"`
	URL    string `json:"url"`
	Notes  string `json:"notes,omitempty"`
}

type jobsApproveParams struct {
	Caller string `json:"caller"`
	JobID  string `json:"jobId"`
	Rating uint8  `json:"rating"`
}

type jobsRejectParams struct {
	Caller string `json:"caller"`
	JobID  string `json:"jobId"`
	Reason string `json:"reason"`
}

type jobsResolveParams struct {
	Caller   string `json:"caller"`
	JobID    string `json:"jobId"`
	AgentPct uint8  `json:"agentPct"`
}

type jobsIDParams struct {
	JobID string `json:"jobId"`
}

type jobsBalanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

type configJSON struct {
	Admin      string `json:"admin"`
	Arbitrator string `json:"arbitrator"`
}

type jobJSON struct {
	JobID       string  `json:"jobId"`
	Requester   string  `json:"requester"`
	Agent       *string `json:"agent,omitempty"`
	Token       string  `json:"token"`
	Amount      uint64  `json:"amount"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	CreatedAt   int64   `json:"createdAt"`
	Deadline    int64   `json:"deadline"`
	Deliverable string  `json:"deliverable,omitempty"`
	Disputed    bool    `json:"disputed"`
	Rating      *uint8  `json:"rating,omitempty"`
}

func formatConfig(cfg *jobs.ProgramConfig) configJSON {
	return configJSON{
		Admin:      crypto.MustNewAddress(crypto.BSKPrefix, cfg.Admin[:]).String(),
		Arbitrator: crypto.MustNewAddress(crypto.BSKPrefix, cfg.Arbitrator[:]).String(),
	}
}

func formatJob(job *jobs.Job) jobJSON {
	out := jobJSON{
		JobID:       job.JobID,
		Requester:   crypto.MustNewAddress(crypto.BSKPrefix, job.Requester[:]).String(),
		Token:       job.Token,
		Amount:      job.Amount,
		Description: job.Description,
		Status:      job.Status.String(),
		CreatedAt:   job.CreatedAt,
		Deadline:    job.Deadline,
		Deliverable: job.Deliverable,
		Disputed:    job.Disputed,
	}
	if job.Agent != ([20]byte{}) {
		agent := crypto.MustNewAddress(crypto.BSKPrefix, job.Agent[:]).String()
		out.Agent = &agent
	}
	if job.Rating > 0 {
		rating := job.Rating
		out.Rating = &rating
	}
	return out
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handleJobsInitialize(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params jobsInitializeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	admin, err := parseBech32Address(params.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	arbitrator, err := parseBech32Address(params.Arbitrator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	cfg, err := s.node.JobsInitialize(admin, arbitrator)
	if err != nil {
		writeJobsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatConfig(cfg))
}

func (s *Server) handleJobsUpdateConfig(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params jobsUpdateConfigParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	var newArbitrator, newAdmin *[20]byte
	if strings.TrimSpace(params.NewArbitrator) != "" {
		addr, err := parseBech32Address(params.NewArbitrator)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
			return
		}
		newArbitrator = &addr
	}
	if strings.TrimSpace(params.NewAdmin) != "" {
		addr, err := parseBech32Address(params.NewAdmin)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
			return
		}
		newAdmin = &addr
	}
	cfg, err := s.node.JobsUpdateConfig(caller, newArbitrator, newAdmin)
	if err != nil {
		writeJobsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatConfig(cfg))
}

func (s *Server) handleJobsCreate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params jobsCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	requester, err := parseBech32Address(params.Requester)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	jobID := strings.TrimSpace(params.JobID)
	if jobID == "" {
		jobID = uuid.NewString()
	}
	job, err := s.node.JobsCreate(requester, jobID, params.Token, params.Amount, params.Description, params.DeadlineDays)
	if err != nil {
		writeJobsError(w, req.ID, err)
		return
	}
	observability.JobsMetrics().RecordTransition(job.Status.String())
	observability.JobsMetrics().RecordEscrow(job.Token, "deposit", job.Amount)
	writeResult(w, req.ID, formatJob(job))
}

func (s *Server) handleJobsAccept(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleActorTransition(w, req, func(caller [20]byte, jobID string) (*jobs.Job, error) {
		return s.node.JobsAccept(caller, jobID)
	})
}

func (s *Server) handleJobsSubmit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params jobsSubmitParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	job, err := s.node.JobsSubmit(caller, params.JobID, params.URL, params.Notes)
	if err != nil {
		writeJobsError(w, req.ID, err)
		return
	}
	observability.JobsMetrics().RecordTransition(job.Status.String())
	writeResult(w, req.ID, formatJob(job))
}

func (s *Server) handleJobsApprove(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params jobsApproveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	job, err := s.node.JobsApprove(caller, params.JobID, params.Rating)
	if err != nil {
		writeJobsError(w, req.ID, err)
		return
	}
	observability.JobsMetrics().RecordTransition(job.Status.String())
	observability.JobsMetrics().RecordEscrow(job.Token, "release", job.Amount)
	writeResult(w, req.ID, formatJob(job))
}

func (s *Server) handleJobsReject(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params jobsRejectParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	job, err := s.node.JobsReject(caller, params.JobID, params.Reason)
	if err != nil {
		writeJobsError(w, req.ID, err)
		return
	}
	observability.JobsMetrics().RecordTransition(job.Status.String())
	writeResult(w, req.ID, formatJob(job))
}

func (s *Server) handleJobsCancel(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleActorTransition(w, req, func(caller [20]byte, jobID string) (*jobs.Job, error) {
		job, err := s.node.JobsCancel(caller, jobID)
		if err != nil {
			return nil, err
		}
		observability.JobsMetrics().RecordEscrow(job.Token, "release", job.Amount)
		return job, nil
	})
}

func (s *Server) handleJobsResolve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params jobsResolveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	job, err := s.node.JobsResolve(caller, params.JobID, params.AgentPct)
	if err != nil {
		writeJobsError(w, req.ID, err)
		return
	}
	observability.JobsMetrics().RecordTransition(job.Status.String())
	observability.JobsMetrics().RecordEscrow(job.Token, "release", job.Amount)
	writeResult(w, req.ID, formatJob(job))
}

func (s *Server) handleActorTransition(w http.ResponseWriter, req *RPCRequest, fn func([20]byte, string) (*jobs.Job, error)) {
	var params jobsActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	job, err := fn(caller, params.JobID)
	if err != nil {
		writeJobsError(w, req.ID, err)
		return
	}
	observability.JobsMetrics().RecordTransition(job.Status.String())
	writeResult(w, req.ID, formatJob(job))
}

func (s *Server) handleJobsGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params jobsIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	job, err := s.node.JobsGet(params.JobID)
	if err != nil {
		writeJobsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatJob(job))
}

func (s *Server) handleJobsConfig(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	cfg, err := s.node.JobsConfig()
	if err != nil {
		writeJobsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatConfig(cfg))
}

func (s *Server) handleJobsVault(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params jobsIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.JobsVaultBalance(params.JobID)
	if err != nil {
		writeJobsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"jobId": strings.TrimSpace(params.JobID), "balance": balance.String()})
}

func (s *Server) handleJobsBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params jobsBalanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	token, err := jobs.NormalizeToken(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeJobsInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.Balance(addr, token)
	if err != nil {
		writeJobsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"address": crypto.MustNewAddress(crypto.BSKPrefix, addr[:]).String(),
		"token":   token,
		"balance": balance.String(),
	})
}

func writeJobsError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeJobsInternal
	message := "internal_error"
	switch {
	case errors.Is(err, jobs.ErrJobNotFound) || errors.Is(err, jobs.ErrNotInitialized):
		status = http.StatusNotFound
		code = codeJobsNotFound
		message = "not_found"
	case errors.Is(err, jobs.ErrUnauthorized) ||
		errors.Is(err, jobs.ErrUnauthorizedArbitrator):
		status = http.StatusForbidden
		code = codeJobsForbidden
		message = "forbidden"
	case errors.Is(err, jobs.ErrJobNotOpen) ||
		errors.Is(err, jobs.ErrJobAlreadyTaken) ||
		errors.Is(err, jobs.ErrInvalidStatus) ||
		errors.Is(err, jobs.ErrCannotCancel) ||
		errors.Is(err, jobs.ErrNotDisputed) ||
		errors.Is(err, jobs.ErrDeadlineExpired) ||
		errors.Is(err, jobs.ErrJobExists) ||
		errors.Is(err, jobs.ErrAlreadyInitialized) ||
		errors.Is(err, jobs.ErrInsufficientFunds):
		status = http.StatusConflict
		code = codeJobsConflict
		message = "conflict"
	case errors.Is(err, jobs.ErrJobIDRequired) ||
		errors.Is(err, jobs.ErrJobIDTooLong) ||
		errors.Is(err, jobs.ErrDescriptionTooLong) ||
		errors.Is(err, jobs.ErrDeliverableTooLong) ||
		errors.Is(err, jobs.ErrZeroAmount) ||
		errors.Is(err, jobs.ErrInvalidPercentage) ||
		errors.Is(err, jobs.ErrInvalidRating) ||
		errors.Is(err, jobs.ErrInvalidToken) ||
		errors.Is(err, jobs.ErrOverflow):
		status = http.StatusBadRequest
		code = codeJobsInvalidParams
		message = "invalid_params"
	}
	writeError(w, status, id, code, message, err.Error())
}
