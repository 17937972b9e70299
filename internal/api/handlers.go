package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/tillpoint/internal/common"
	"github.com/Veraticus/tillpoint/internal/model"
	"github.com/Veraticus/tillpoint/internal/monitor"
)

// Terminal handlers

func (s *Server) handleListTerminals(c *gin.Context) {
	terminals, err := s.store.ListTerminals(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	for i := range terminals {
		terminals[i].SealedAPIKey = ""
	}
	c.JSON(http.StatusOK, gin.H{"terminals": terminals})
}

func (s *Server) handleSaveTerminal(c *gin.Context) {
	var cfg model.TerminalConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "Invalid terminal configuration: "+err.Error())
		return
	}
	// Only the store seals keys.
	cfg.SealedAPIKey = ""

	saved, err := s.store.SaveTerminal(c.Request.Context(), cfg)
	if err != nil {
		s.renderError(c, err)
		return
	}
	saved.SealedAPIKey = ""
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleDeleteTerminal(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	busy := s.terminalID == id && s.current != nil && s.current.Active()
	s.mu.Unlock()
	if busy {
		s.renderError(c, common.NewClassifiedError(common.CodeSystemStateInconsistent,
			"Terminal has a transaction in progress", common.WithTerminal(id)))
		return
	}

	if err := s.store.DeleteTerminal(c.Request.Context(), id); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type healthResponse struct {
	Status  *model.StatusResponse `json:"status,omitempty"`
	Error   *errorBody            `json:"error,omitempty"`
	Message string                `json:"message"`
	Success bool                  `json:"success"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	client, err := s.newClient(ctx, id)
	if err != nil {
		s.renderError(c, err)
		return
	}

	result := client.HealthCheck(ctx, s.healthTimeout)
	resp := healthResponse{Success: result.Success, Status: result.Status, Message: result.Message}

	connection := model.StatusOffline
	var seen time.Time
	if result.Success {
		connection = result.Status.ConnectionStatus()
		seen = time.Now()
	} else {
		resp.Error = &errorBody{
			Code:        result.Error.Code,
			Severity:    result.Error.Severity,
			Message:     result.Error.Message,
			Retryable:   result.Error.Retryable,
			Reconfigure: result.Error.NeedsReconfiguration(),
		}
	}
	if err := s.store.RecordHealth(ctx, id, connection, seen); err != nil {
		s.logger.Warn("Failed to record terminal health", "terminal", id, "error", err)
	}

	c.JSON(http.StatusOK, resp)
}

// Discovery

type scanRequest struct {
	Range string `json:"range"`
}

func (s *Server) handleScan(c *gin.Context) {
	var req scanRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid scan request: "+err.Error())
			return
		}
	}

	scanRange := req.Range
	if scanRange == "" {
		local, ok := s.localRange()
		if !ok {
			badRequest(c, "No scan range given and no local network detected")
			return
		}
		scanRange = local
	}

	found := s.scanner.Scan(c.Request.Context(), scanRange, nil)
	c.JSON(http.StatusOK, gin.H{
		"range":     scanRange,
		"terminals": found,
	})
}

// Transactions

type paymentRequest struct {
	Metadata              map[string]any `json:"metadata"`
	Currency              string         `json:"currency"`
	Reference             string         `json:"reference"`
	Description           string         `json:"description"`
	OriginalTransactionID string         `json:"originalTransactionId"`
	Amount                int64          `json:"amount"`
}

type transactionResponse struct {
	Status     model.TransactionStatus `json:"status"`
	TerminalID string                  `json:"terminalId"`
}

func (s *Server) handleSale(c *gin.Context) {
	s.startTransaction(c, model.KindSale)
}

func (s *Server) handleRefund(c *gin.Context) {
	s.startTransaction(c, model.KindRefund)
}

func (s *Server) startTransaction(c *gin.Context, kind model.TransactionKind) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid payment request: "+err.Error())
		return
	}

	s.mu.Lock()
	if s.starting || (s.current != nil && s.current.Active()) {
		s.mu.Unlock()
		s.renderError(c, common.NewClassifiedError(common.CodeSystemStateInconsistent,
			"A transaction is already in progress", common.WithTerminal(s.terminalID)))
		return
	}
	s.starting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	client, err := s.newClient(ctx, id)
	if err != nil {
		s.renderError(c, err)
		return
	}

	mon := monitor.New(client,
		monitor.WithPollInterval(s.pollInterval),
		monitor.WithLogger(s.logger.With("terminal", id)),
		monitor.WithListener(func(status model.TransactionStatus) {
			s.logger.Info("Transaction update",
				"terminal", id,
				"transaction", status.TransactionID,
				"state", status.State,
				"progress", status.Progress)
		}),
	)

	opts := monitor.PaymentOptions{
		Metadata:    req.Metadata,
		Reference:   req.Reference,
		Description: req.Description,
	}
	if kind == model.KindRefund {
		_, err = mon.InitiateRefund(ctx, req.Amount, req.Currency, req.OriginalTransactionID, opts)
	} else {
		_, err = mon.Initiate(ctx, req.Amount, req.Currency, opts)
	}
	if err != nil {
		s.renderError(c, err)
		return
	}

	s.mu.Lock()
	if s.current != nil {
		s.current.Reset()
	}
	s.current = mon
	s.terminalID = id
	s.mu.Unlock()

	status, _ := mon.Status()
	c.JSON(http.StatusAccepted, transactionResponse{TerminalID: id, Status: status})
}

func (s *Server) handleTransactionStatus(c *gin.Context) {
	s.mu.Lock()
	mon, id := s.current, s.terminalID
	s.mu.Unlock()

	if mon != nil {
		if status, ok := mon.Status(); ok {
			c.JSON(http.StatusOK, transactionResponse{TerminalID: id, Status: status})
			return
		}
	}
	c.JSON(http.StatusNotFound, errorBody{
		Code:     common.CodeSystemStateInconsistent,
		Severity: common.SeverityLow,
		Message:  "No transaction is being tracked",
	})
}

func (s *Server) handleCancel(c *gin.Context) {
	s.mu.Lock()
	mon, id := s.current, s.terminalID
	s.mu.Unlock()

	if mon == nil || !mon.Cancel(c.Request.Context()) {
		s.renderError(c, common.NewClassifiedError(common.CodeSystemStateInconsistent,
			"No transaction in progress to cancel"))
		return
	}

	status, _ := mon.Status()
	c.JSON(http.StatusOK, transactionResponse{TerminalID: id, Status: status})
}

func (s *Server) handleReset(c *gin.Context) {
	s.mu.Lock()
	if s.current != nil {
		s.current.Reset()
	}
	s.current = nil
	s.terminalID = ""
	s.mu.Unlock()

	c.Status(http.StatusNoContent)
}
