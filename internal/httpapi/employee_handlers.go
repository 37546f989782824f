package httpapi

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"rhgestor.org/internal/apperr"
	"rhgestor.org/internal/audit"
	"rhgestor.org/internal/auth"
	"rhgestor.org/internal/export"
	"rhgestor.org/internal/hr"
)

// Query keys with a fixed meaning; every other key is an attribute filter.
var listControlKeys = map[string]struct{}{"search": {}, "page": {}, "limit": {}}

type employeeData struct {
	Employee any `json:"employee"`
}

type employeeUpdateData struct {
	Employee       hr.Employee `json:"employee"`
	HistoryEntries int         `json:"historyEntries"`
}

type historyData struct {
	History []hr.HistoryEntry `json:"history"`
}

func employeeQuery(r *http.Request, paged bool) (hr.EmployeeQuery, error) {
	values := r.URL.Query()
	q := hr.EmployeeQuery{Search: values.Get("search")}
	for key, vals := range values {
		if _, ok := listControlKeys[key]; ok || len(vals) == 0 {
			continue
		}
		if q.Filters == nil {
			q.Filters = map[string]string{}
		}
		q.Filters[key] = vals[0]
	}
	if !paged {
		return q, nil
	}
	page, err := queryInt(r, "page")
	if err != nil {
		return q, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return q, err
	}
	q.Page, q.Limit = page, limit
	return q, nil
}

func (a *API) handleCreateEmployee(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.require(w, r, auth.Perm(auth.ResourceEmployee, auth.ActionCreate)); !ok {
		return
	}
	var in hr.EmployeeInput
	if err := decodeJSON(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	e, err := a.svc.Employees.Create(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, employeeData{Employee: e})
}

func (a *API) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	q, err := employeeQuery(r, true)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	page, err := a.svc.Employees.List(r.Context(), q)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeList(w, http.StatusOK, len(page.Employees), page)
}

func (a *API) handleGetEmployee(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	detail, err := a.svc.Employees.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, employeeData{Employee: detail})
}

func (a *API) handleUpdateEmployee(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.require(w, r, auth.Perm(auth.ResourceEmployee, auth.ActionEdit))
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var in hr.EmployeeInput
	if err := decodeJSON(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	e, entries, err := a.svc.Employees.Update(r.Context(), id, in, actor.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if len(entries) > 0 {
		fields := make([]string, 0, len(entries))
		for _, en := range entries {
			fields = append(fields, en.Field)
		}
		_ = audit.LogEvent(r.Context(), a.logger, "employee.updated",
			zap.Int64("employee_id", id),
			zap.Strings("fields", fields),
		)
	}
	writeData(w, http.StatusOK, employeeUpdateData{Employee: e, HistoryEntries: len(entries)})
}

func (a *API) handleDeleteEmployee(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.require(w, r, auth.Perm(auth.ResourceEmployee, auth.ActionDelete)); !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.svc.Employees.Delete(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "employee.deleted", zap.Int64("employee_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleEmployeeHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rows, err := a.svc.Employees.History(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeList(w, http.StatusOK, len(rows), historyData{History: rows})
}

// handleExportEmployees renders the filtered list into a buffer first so a
// rendering failure can still produce a JSON error.
func (a *API) handleExportEmployees(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(mux.Vars(r)["format"])
	if err != nil {
		a.fail(w, r, apperr.Invalid("%s", err.Error()))
		return
	}
	q, err := employeeQuery(r, false)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rows, err := a.svc.Employees.ExportRows(r.Context(), q)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if len(rows) == 0 {
		a.fail(w, r, apperr.NotFound("no employees match the export filters"))
		return
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, format, rows); err != nil {
		a.fail(w, r, err)
		return
	}
	attachment(w, format.ContentType(), format.Filename(a.now()))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
