package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"kasa/internal/core"
	"kasa/internal/log"
	"kasa/internal/services"
)

type monthResponse struct {
	Composite core.MonthlySnapshot `json:"composite"`
	Totals    core.MonthTotals     `json:"totals"`
}

type editResponse struct {
	services.EditResult
	Totals core.MonthTotals `json:"totals"`
	// ID is set when an item was added.
	ID string `json:"id,omitempty"`
}

// recordResponse is a user record without its password fields.
type recordResponse struct {
	Username            string                          `json:"username"`
	CreatedAt           time.Time                       `json:"createdAt"`
	GlobalIncomes       []core.StoredMoneyItem          `json:"globalIncomes"`
	GlobalSubscriptions []core.StoredMoneyItem          `json:"globalSubscriptions"`
	GlobalInstallments  []core.StoredInstallment        `json:"globalInstallments"`
	Months              map[string]core.MonthlySnapshot `json:"months"`
}

func (s *Server) handleListMonths(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFromContext(r.Context())
	selected := sanitizeInput(r.URL.Query().Get("selected"))

	months, err := s.ledger.AvailableMonths(r.Context(), username, selected)
	if err != nil {
		writeError(w, r, "list_months", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"months": months})
}

func (s *Server) handleViewMonth(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFromContext(r.Context())
	month, err := monthParam(r)
	if err != nil {
		writeError(w, r, log.OpView, err)
		return
	}

	composite, err := s.ledger.ViewMonth(r.Context(), username, month)
	if err != nil {
		writeError(w, r, log.OpView, err)
		return
	}
	s.appMetrics.monthViews.Add(1)
	JSON(w, http.StatusOK, monthResponse{Composite: composite, Totals: core.SnapshotTotals(composite)})
}

func (s *Server) handleEditMonth(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFromContext(r.Context())
	month, err := monthParam(r)
	if err != nil {
		writeError(w, r, log.OpEdit, err)
		return
	}

	req, err := ParseEditRequest(r)
	if err != nil {
		writeBodyError(w, err)
		return
	}
	if req.Next.MonthKey != "" && req.Next.MonthKey != month {
		UnprocessableEntityError("next.monthKey does not match the month in the path").Write(w)
		return
	}

	res, err := s.ledger.EditMonth(r.Context(), username, month, req.Previous, req.Next)
	if err != nil {
		writeError(w, r, log.OpEdit, err)
		return
	}
	s.appMetrics.monthEdits.Add(1)
	s.logEdit(r, username, month, res)
	JSON(w, http.StatusOK, editResponse{EditResult: res, Totals: core.SnapshotTotals(res.Composite)})
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFromContext(r.Context())
	month, err := monthParam(r)
	if err != nil {
		writeError(w, r, log.OpAddItem, err)
		return
	}
	kind := strings.ToLower(r.PathValue("kind"))
	switch kind {
	case services.KindIncome, services.KindSubscription, services.KindExpense, services.KindInstallment:
	default:
		writeError(w, r, log.OpAddItem, fmt.Errorf("%w: %q", services.ErrInvalidItemKind, kind))
		return
	}

	in, err := ParseItemInput(r, kind)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	res, id, err := s.ledger.AddItem(r.Context(), username, month, kind, in)
	if err != nil {
		writeError(w, r, log.OpAddItem, err)
		return
	}
	s.appMetrics.itemsAdded.Add(1)
	s.logEdit(r, username, month, res)
	JSON(w, http.StatusCreated, editResponse{EditResult: res, Totals: core.SnapshotTotals(res.Composite), ID: id})
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFromContext(r.Context())
	month, err := monthParam(r)
	if err != nil {
		writeError(w, r, log.OpRemove, err)
		return
	}
	kind := strings.ToLower(r.PathValue("kind"))
	id := r.PathValue("id")

	res, err := s.ledger.RemoveItem(r.Context(), username, month, kind, id)
	if err != nil {
		writeError(w, r, log.OpRemove, err)
		return
	}
	s.appMetrics.itemsRemoved.Add(1)
	s.logEdit(r, username, month, res)
	JSON(w, http.StatusOK, editResponse{EditResult: res, Totals: core.SnapshotTotals(res.Composite)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFromContext(r.Context())
	totals, err := s.ledger.History(r.Context(), username)
	if err != nil {
		writeError(w, r, log.OpHistory, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"history": totals})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFromContext(r.Context())
	user, err := s.ledger.Record(r.Context(), username)
	if err != nil {
		writeError(w, r, "record", err)
		return
	}
	JSON(w, http.StatusOK, recordResponse{
		Username:            user.Username,
		CreatedAt:           user.CreatedAt,
		GlobalIncomes:       user.GlobalIncomes,
		GlobalSubscriptions: user.GlobalSubscriptions,
		GlobalInstallments:  user.GlobalInstallments,
		Months:              user.Months,
	})
}

func (s *Server) logEdit(r *http.Request, username, month string, res services.EditResult) {
	added, removed := res.Changes.Counts()
	s.events.LogMonthEdited(r.Context(), username, month, added, removed)
}

// writeBodyError answers a request whose body could not be decoded.
// Validation failures found while decoding keep their 422.
func writeBodyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		UnprocessableEntityError(err.Error()).Write(w)
	case errors.Is(err, errBodyTooLarge):
		ErrorResponse(http.StatusRequestEntityTooLarge, err.Error()).Write(w)
	default:
		BadRequestError("invalid request body").Write(w)
	}
}
