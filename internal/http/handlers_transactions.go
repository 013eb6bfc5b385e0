package http

import (
	"net/http"

	"recurrent/internal/log"

	"github.com/go-chi/chi/v5"
)

type createTransactionResponse struct {
	Transaction *occurrenceJSON  `json:"transaction,omitempty"`
	Template    *templateJSON    `json:"template,omitempty"`
	Occurrences []occurrenceJSON `json:"occurrences,omitempty"`
}

type updateTransactionResponse struct {
	Transaction occurrenceJSON `json:"transaction"`
	Split       *splitJSON     `json:"split,omitempty"`
}

type deleteTransactionResponse struct {
	Transaction occurrenceJSON `json:"transaction"`
	Stopped     *stopJSON      `json:"stopped,omitempty"`
}

// handleCreateTransaction records a one-off transaction or, with isRecurring,
// declares a template and returns the occurrences generated for it.
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(r)
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	var req transactionRequest
	if err := decodeJSON(r, w, &req); err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	payload, err := req.toPayload(s.loc, s.today())
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}

	res, err := s.engine.Transactions.CreateTransaction(r.Context(), kind, payload)
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}

	var out createTransactionResponse
	if res.Occurrence != nil {
		o := toOccurrenceJSON(*res.Occurrence)
		out.Transaction = &o
	}
	if res.Template != nil {
		t := toTemplateJSON(*res.Template)
		out.Template = &t
		out.Occurrences = toOccurrencesJSON(res.Occurrences)
	}
	NewJSONResponse().Status(http.StatusCreated).Data(out).Write(w)
}

// handleUpdateTransaction edits one occurrence; applyToFuture=true splits the
// series at it so the edit carries forward.
func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(r)
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	applyToFuture, err := parseBoolQuery(r.URL.Query(), "applyToFuture")
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	var req updateRequest
	if err := decodeJSON(r, w, &req); err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	patch, err := req.toPatch(s.loc)
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}

	res, err := s.engine.Transactions.UpdateTransaction(r.Context(), kind, chi.URLParam(r, "id"), patch, applyToFuture)
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}

	out := updateTransactionResponse{Transaction: toOccurrenceJSON(res.Occurrence)}
	if res.Split != nil {
		split := toSplitJSON(*res.Split)
		out.Split = &split
	}
	NewJSONResponse().Data(out).Write(w)
}

// handleDeleteTransaction deletes one occurrence; deleteFuture=true also stops
// its series from that date on.
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(r)
	if err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	deleteFuture, err := parseBoolQuery(r.URL.Query(), "deleteFuture")
	if err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}

	res, err := s.engine.Transactions.DeleteTransaction(r.Context(), kind, chi.URLParam(r, "id"), deleteFuture)
	if err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}

	out := deleteTransactionResponse{Transaction: toOccurrenceJSON(res.Occurrence)}
	if res.Stopped != nil {
		stopped := toStopJSON(*res.Stopped)
		out.Stopped = &stopped
	}
	NewJSONResponse().Data(out).Write(w)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseOccurrenceFilter(r.URL.Query(), s.loc)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	occs, err := s.engine.Transactions.ListOccurrences(r.Context(), filter)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Data(map[string]any{"transactions": toOccurrencesJSON(occs)}).Write(w)
}
