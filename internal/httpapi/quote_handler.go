package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"extract_gateway/internal/logging"
	"extract_gateway/internal/middleware"
	"extract_gateway/internal/models"
	"extract_gateway/internal/quote"
	"extract_gateway/internal/utils"

	"github.com/google/uuid"
)

// maxQuoteRequestBytes caps the quote request body. Batches are described
// by metadata only, so even the largest legitimate request is small.
const maxQuoteRequestBytes = 1 << 20

// quoteRequest is the body of POST /quote.
type quoteRequest struct {
	SessionID string                 `json:"sessionId"`
	Files     []quote.FileDescriptor `json:"files"`
	Ops       quote.Ops              `json:"ops"`
}

// handleCreateQuote prices a batch and returns a time-bound quote.
func (d *Dependencies) handleCreateQuote(w http.ResponseWriter, r *http.Request) {
	// 1. Validate request method
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// 2. Parse request body
	var req quoteRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxQuoteRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// 3. Attach a session for progress viewers when the client did not
	// bring one
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	// 4. Price the batch under the caller's tier
	tier := middleware.TierFromContext(r.Context())
	q, err := d.Engine.CreateQuote(r.Context(), req.SessionID, req.Files, req.Ops, tier)
	if err != nil {
		d.logger.Error("quote creation failed", "session_id", req.SessionID, "error", err.Error())
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to create quote")
		return
	}

	d.recordQuoteEvent(logging.EventQuoteCreated, q, tier, utils.ClientIP(r))

	// 5. Respond with the quote payload
	utils.RespondWithJSON(w, http.StatusOK, q)
}

// handleQuoteByID serves GET /quote/{id} and POST /quote/{id}/consume.
func (d *Dependencies) handleQuoteByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/quote/")

	if quoteID, ok := strings.CutSuffix(rest, "/consume"); ok {
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		d.consumeQuote(w, r, quoteID)
		return
	}

	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		utils.RespondWithError(w, http.StatusNotFound, "quote not found or expired")
		return
	}

	q, err := d.Engine.GetQuote(r.Context(), rest)
	if err != nil {
		if errors.Is(err, quote.ErrQuoteNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "quote not found or expired")
			return
		}
		d.logger.Error("quote lookup failed", "quote_id", rest, "error", err.Error())
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to fetch quote")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, q)
}

// consumeQuote claims a quote for processing. A quote can be claimed at
// most once; later attempts see a 404 like any other missing quote.
func (d *Dependencies) consumeQuote(w http.ResponseWriter, r *http.Request, quoteID string) {
	q, err := d.Engine.ConsumeQuote(r.Context(), quoteID)
	if err != nil {
		if errors.Is(err, quote.ErrQuoteNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "quote not found or expired")
			return
		}
		d.logger.Error("quote consumption failed", "quote_id", quoteID, "error", err.Error())
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to consume quote")
		return
	}

	d.recordQuoteEvent(logging.EventQuoteConsumed, q, middleware.TierFromContext(r.Context()), utils.ClientIP(r))

	utils.RespondWithJSON(w, http.StatusOK, q)
}

func (d *Dependencies) recordQuoteEvent(event string, q *models.Quote, tier models.AccessTier, clientIP string) {
	accepted := 0
	for _, pf := range q.Body.PerFile {
		if pf.Accepted {
			accepted++
		}
	}
	if err := d.Events.Enqueue(&logging.QuoteEvent{
		Event:         event,
		QuoteID:       q.QuoteID,
		SessionID:     q.SessionID,
		Tier:          tier.String(),
		FileCount:     len(q.Body.PerFile),
		AcceptedFiles: accepted,
		CreditsTotal:  q.CreditsTotal,
		ClientIP:      clientIP,
	}); err != nil {
		d.logger.Warn("failed to record quote event", "event", event, "quote_id", q.QuoteID, "error", err.Error())
	}
}
