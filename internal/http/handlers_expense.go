package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"divvy/internal/core"
	"divvy/internal/ledger"
)

type shareRequest struct {
	ParticipantID int64 `json:"participant_id"`
	// An omitted weight defaults to 1, the equal-split case. An explicit
	// zero is rejected like any other non-positive weight.
	Weight decimal.NullDecimal `json:"weight,omitempty"`
}

type expenseRequest struct {
	PayerID int64 `json:"payer_id"`
	// Amount is a decimal string; both "12.34" and "12,34" are accepted.
	Amount       string         `json:"amount"`
	Currency     string         `json:"currency"`
	Participants []shareRequest `json:"participants"`
	Category     string         `json:"category,omitempty"`
	// SpentAt accepts RFC 3339 or a bare date; empty means now.
	SpentAt string `json:"spent_at,omitempty"`
}

type shareResponse struct {
	ParticipantID int64           `json:"participant_id"`
	Weight        decimal.Decimal `json:"weight"`
}

type expenseResponse struct {
	ID            int64           `json:"id"`
	LedgerID      int64           `json:"ledger_id"`
	PayerID       int64           `json:"payer_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	AmountBase    decimal.Decimal `json:"amount_base"`
	FxRate        decimal.Decimal `json:"fx_rate"`
	FxApproximate bool            `json:"fx_approximate"`
	Category      string          `json:"category,omitempty"`
	SpentAt       time.Time       `json:"spent_at"`
	Status        string          `json:"status"`
	Shares        []shareResponse `json:"shares"`
	CreatedAt     time.Time       `json:"created_at"`
}

func newExpenseResponse(e core.Expense) expenseResponse {
	shares := make([]shareResponse, 0, len(e.Snapshot))
	for _, sh := range e.Snapshot {
		shares = append(shares, shareResponse{ParticipantID: sh.ParticipantID, Weight: sh.Weight})
	}
	return expenseResponse{
		ID:            e.ID,
		LedgerID:      e.LedgerID,
		PayerID:       e.PayerID,
		Amount:        e.OriginalAmount,
		Currency:      e.OriginalCurrency.String(),
		AmountBase:    e.AmountInBase,
		FxRate:        e.FxRate,
		FxApproximate: e.FxApproximate,
		Category:      e.Category,
		SpentAt:       e.SpentAt,
		Status:        string(e.Status),
		Shares:        shares,
		CreatedAt:     e.CreatedAt,
	}
}

// awaitingRateResponse is the 202 body for an expense parked until its
// exchange rate can be resolved.
type awaitingRateResponse struct {
	Status   string `json:"status"`
	DraftKey string `json:"draft_key"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req expenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	currency, ok := core.NormalizeCurrency(req.Currency)
	if !ok {
		badRequest(w, "unrecognized currency "+strconv.Quote(req.Currency))
		return
	}
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var spentAt time.Time
	if req.SpentAt != "" {
		spentAt, _, err = parseTimeParam(req.SpentAt)
		if err != nil {
			badRequest(w, "invalid spent_at "+strconv.Quote(req.SpentAt))
			return
		}
	}

	shares := make([]core.Share, 0, len(req.Participants))
	for _, sh := range req.Participants {
		weight := decimal.NewFromInt(1)
		if sh.Weight.Valid {
			weight = sh.Weight.Decimal
		}
		shares = append(shares, core.Share{ParticipantID: sh.ParticipantID, Weight: weight})
	}

	draft := core.ExpenseDraft{
		PayerID:      req.PayerID,
		Amount:       amount,
		Currency:     currency,
		Participants: shares,
		Category:     req.Category,
		SpentAt:      spentAt,
	}

	e, err := s.svc.AddExpense(r.Context(), id, draft)
	if err != nil {
		var awaiting *ledger.AwaitingRateError
		if errors.As(err, &awaiting) {
			writeJSON(w, http.StatusAccepted, awaitingRateResponse{
				Status:   "awaiting_rate",
				DraftKey: awaiting.DraftKey,
				From:     awaiting.From.String(),
				To:       awaiting.To.String(),
			})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newExpenseResponse(e))
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	includeVoid := false
	if v := r.URL.Query().Get("include_void"); v != "" {
		includeVoid, err = strconv.ParseBool(v)
		if err != nil {
			badRequest(w, "invalid include_void "+strconv.Quote(v))
			return
		}
	}

	expenses, err := s.svc.Expenses(r.Context(), id, window, includeVoid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, newExpenseResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVoidExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	expenseID, err := pathID(r, "expenseID")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.svc.VoidExpense(r.Context(), id, expenseID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
