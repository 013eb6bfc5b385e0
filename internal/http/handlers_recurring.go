package http

import (
	"net/http"
	"strings"

	"recurrent/internal/core"
	"recurrent/internal/log"

	"github.com/go-chi/chi/v5"
)

const defaultUpcomingCount = 5

func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTemplateFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	views, err := s.engine.Transactions.GetRecurringTransactions(r.Context(), filter)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}

	out := make([]recurringJSON, 0, len(views))
	for _, v := range views {
		out = append(out, toRecurringJSON(v))
	}
	NewJSONResponse().Data(map[string]any{"recurring": out}).Write(w)
}

func (s *Server) handleGetRecurring(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Transactions.GetRecurringTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Data(toRecurringJSON(view)).Write(w)
}

// handleEditRecurring changes a template from its next ungenerated date on.
func (s *Server) handleEditRecurring(w http.ResponseWriter, r *http.Request) {
	var req templateEditRequest
	if err := decodeJSON(r, w, &req); err != nil {
		s.fail(w, r, log.OpSplit, err)
		return
	}
	scope, patch, err := req.toPatch(s.loc)
	if err != nil {
		s.fail(w, r, log.OpSplit, err)
		return
	}

	res, err := s.engine.Templates.Edit(r.Context(), chi.URLParam(r, "id"), patch, scope)
	if err != nil {
		s.fail(w, r, log.OpSplit, err)
		return
	}
	NewJSONResponse().Data(toSplitJSON(res)).Write(w)
}

// handleDeleteRecurring removes a template with all of its occurrences.
func (s *Server) handleDeleteRecurring(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.Resolver.DeleteSeries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Data(map[string]any{"deleted": n}).Write(w)
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	count, err := parseIntQuery(r.URL.Query(), "count", defaultUpcomingCount)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	upcoming, err := s.engine.Templates.Preview(r.Context(), chi.URLParam(r, "id"), count)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}

	out := make([]upcomingJSON, 0, len(upcoming))
	for _, u := range upcoming {
		out = append(out, upcomingJSON{Date: u.Date.String(), Amount: u.Amount, Estimated: u.Estimated})
	}
	NewJSONResponse().Data(map[string]any{"upcoming": out}).Write(w)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	t, err := s.engine.Templates.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, log.OpPause, err)
		return
	}
	NewJSONResponse().Data(map[string]any{"template": toTemplateJSON(t)}).Write(w)
}

// handleResume reactivates a paused template and returns what was caught up.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	t, occs, err := s.engine.Templates.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, log.OpResume, err)
		return
	}
	NewJSONResponse().Data(map[string]any{
		"template":    toTemplateJSON(t),
		"occurrences": toOccurrencesJSON(occs),
	}).Write(w)
}

// handleStop ends a series the day before ?from=, today when absent.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	from, err := parseOptionalDay("from", r.URL.Query().Get("from"), s.loc)
	if err != nil {
		s.fail(w, r, log.OpStop, err)
		return
	}
	var cutoff core.Day
	if from != nil {
		cutoff = *from
	}

	res, err := s.engine.Templates.Stop(r.Context(), chi.URLParam(r, "id"), cutoff)
	if err != nil {
		s.fail(w, r, log.OpStop, err)
		return
	}
	NewJSONResponse().Data(toStopJSON(res)).Write(w)
}

// handleSkip tombstones ?date= so it is never generated.
func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	day, err := parseRequiredDay("date", r.URL.Query().Get("date"), s.loc)
	if err != nil {
		s.fail(w, r, log.OpSkip, err)
		return
	}

	skipped, err := s.engine.Resolver.SkipDate(r.Context(), chi.URLParam(r, "id"), day)
	if err != nil {
		s.fail(w, r, log.OpSkip, err)
		return
	}
	NewJSONResponse().Data(map[string]any{"date": day.String(), "skipped": skipped}).Write(w)
}

// handleGenerate runs a scheduler pass now. With ?templateId= it generates a
// single template through ?through= (today when absent, capped at the
// template's horizon) instead.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if id := strings.TrimSpace(q.Get("templateId")); id != "" {
		through, err := parseOptionalDay("through", q.Get("through"), s.loc)
		if err != nil {
			s.fail(w, r, log.OpGenerate, err)
			return
		}
		horizon := s.today()
		if through != nil {
			horizon = *through
		}

		res, err := s.engine.Generator.GenerateThrough(r.Context(), id, horizon)
		if err != nil {
			s.fail(w, r, log.OpGenerate, err)
			return
		}
		NewJSONResponse().Data(map[string]any{
			"template":  toTemplateJSON(res.Template),
			"generated": toOccurrencesJSON(res.Created),
		}).Write(w)
		return
	}

	report, err := s.engine.Scheduler.RunOnce(r.Context(), s.now())
	if err != nil {
		s.fail(w, r, log.OpGenerate, err)
		return
	}
	status := http.StatusOK
	if report.Failed > 0 {
		status = http.StatusInternalServerError
	}
	NewJSONResponse().Status(status).Data(toRunReportJSON(report)).Write(w)
}
