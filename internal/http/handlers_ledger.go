package http

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"divvy/internal/core"
)

type createLedgerRequest struct {
	Title        string `json:"title"`
	BaseCurrency string `json:"base_currency"`
}

type ledgerResponse struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	BaseCurrency string    `json:"base_currency"`
	CreatedAt    time.Time `json:"created_at"`
}

func newLedgerResponse(l core.Ledger) ledgerResponse {
	return ledgerResponse{
		ID:           l.ID,
		Title:        l.Title,
		BaseCurrency: l.BaseCurrency.String(),
		CreatedAt:    l.CreatedAt,
	}
}

func (s *Server) handleCreateLedger(w http.ResponseWriter, r *http.Request) {
	var req createLedgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	base, ok := core.NormalizeCurrency(req.BaseCurrency)
	if !ok {
		badRequest(w, "unrecognized base currency "+strconv.Quote(req.BaseCurrency))
		return
	}

	l, err := s.svc.CreateLedger(r.Context(), req.Title, base)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLedgerResponse(l))
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	l, err := s.svc.Ledger(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLedgerResponse(l))
}

type setCurrencyRequest struct {
	BaseCurrency string `json:"base_currency"`
}

func (s *Server) handleSetBaseCurrency(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req setCurrencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	base, ok := core.NormalizeCurrency(req.BaseCurrency)
	if !ok {
		badRequest(w, "unrecognized base currency "+strconv.Quote(req.BaseCurrency))
		return
	}
	if err := s.svc.SetBaseCurrency(r.Context(), id, base); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type participantRequest struct {
	// ID is optional; zero lets the store assign the next free positive
	// identity. Ignored for virtual participants.
	ID          int64           `json:"id,omitempty"`
	DisplayName string          `json:"display_name"`
	Weight      decimal.Decimal `json:"weight,omitempty"`
	Virtual     bool            `json:"virtual,omitempty"`
}

type participantResponse struct {
	ID          int64           `json:"id"`
	DisplayName string          `json:"display_name"`
	Weight      decimal.Decimal `json:"weight"`
	Virtual     bool            `json:"virtual"`
}

func newParticipantResponse(p core.Participant) participantResponse {
	return participantResponse{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Weight:      p.Weight,
		Virtual:     p.Virtual,
	}
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}

	var created core.Participant
	if req.Virtual {
		created, err = s.svc.AddVirtualParticipant(r.Context(), id, req.DisplayName)
	} else {
		created, err = s.svc.AddParticipant(r.Context(), core.Participant{
			ID:          req.ID,
			LedgerID:    id,
			DisplayName: req.DisplayName,
			Weight:      req.Weight,
		})
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newParticipantResponse(created))
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	members, err := s.svc.Participants(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]participantResponse, 0, len(members))
	for _, p := range members {
		out = append(out, newParticipantResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

type balanceEntry struct {
	ParticipantID int64           `json:"participant_id"`
	Amount        decimal.Decimal `json:"amount"`
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
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
	balances, err := s.svc.Balances(r.Context(), id, window)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ids := make([]int64, 0, len(balances))
	for pid := range balances {
		ids = append(ids, pid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]balanceEntry, 0, len(ids))
	for _, pid := range ids {
		out = append(out, balanceEntry{ParticipantID: pid, Amount: balances[pid]})
	}
	writeJSON(w, http.StatusOK, out)
}

type transferResponse struct {
	From   int64           `json:"from"`
	To     int64           `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	plan, err := s.svc.Settlement(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]transferResponse, 0, len(plan))
	for _, t := range plan {
		out = append(out, transferResponse{From: t.From, To: t.To, Amount: t.Amount})
	}
	writeJSON(w, http.StatusOK, out)
}

type categoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
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
	totals, err := s.svc.Stats(r.Context(), id, window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]categoryTotal, 0, len(totals))
	for _, ct := range totals {
		out = append(out, categoryTotal{Category: ct.Name, Total: ct.Amount})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	expenses, err := s.svc.Expenses(r.Context(), id, core.Window{}, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	members, err := s.svc.Participants(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	names := make(map[int64]string, len(members))
	for _, p := range members {
		names[p.ID] = p.DisplayName
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("ledger-%d-expenses.csv", id)))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"date", "payer", "category", "amount", "currency", "amount_base", "approximate", "shares"})
	for _, e := range expenses {
		payer := names[e.PayerID]
		if payer == "" {
			payer = "#" + strconv.FormatInt(e.PayerID, 10)
		}
		approx := ""
		if e.FxApproximate {
			approx = "~"
		}
		_ = cw.Write([]string{
			e.SpentAt.UTC().Format("2006-01-02"),
			payer,
			e.Category,
			e.OriginalAmount.String(),
			e.OriginalCurrency.String(),
			e.AmountInBase.String(),
			approx,
			formatShares(e.Snapshot),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		// Headers are already out; all we can do is record it.
		slog.ErrorContext(r.Context(), "CSV export write failed", "ledger_id", id, "error", err)
	}
}

// formatShares renders a weight snapshot as "id:weight" pairs.
func formatShares(ws core.WeightSnapshot) string {
	parts := make([]string, 0, len(ws))
	for _, sh := range ws {
		parts = append(parts, fmt.Sprintf("%d:%s", sh.ParticipantID, sh.Weight.String()))
	}
	return strings.Join(parts, " ")
}

// pathID parses the named path segment as a numeric identifier.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

// parseTimeParam accepts RFC 3339 timestamps and bare dates. The boolean
// reports the date-only form.
func parseTimeParam(v string) (time.Time, bool, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, false, err
}

// parseWindow reads the optional from/to query bounds. A date-only "to"
// covers the whole day it names.
func parseWindow(r *http.Request) (core.Window, error) {
	var window core.Window
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, _, err := parseTimeParam(v)
		if err != nil {
			return core.Window{}, fmt.Errorf("invalid from %q", v)
		}
		window.From = t
	}
	if v := q.Get("to"); v != "" {
		t, dateOnly, err := parseTimeParam(v)
		if err != nil {
			return core.Window{}, fmt.Errorf("invalid to %q", v)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		window.To = t
	}
	return window, nil
}
