package hr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"rhgestor.org/internal/apperr"
	"rhgestor.org/internal/audit"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

var conflictMessages = map[string]string{
	"registrationNumber": "registration number already registered",
	"cpf":                "CPF already registered",
	"rg":                 "RG already registered",
	"institutionalEmail": "institutional email already registered",
}

// EmployeeService manages personnel records and their change history.
type EmployeeService struct {
	store       EmployeeStore
	documents   DocumentStore
	annotations AnnotationStore
	recorder    *audit.Recorder
}

// EmployeeOption configures an EmployeeService.
type EmployeeOption func(*employeeConfig)

type employeeConfig struct {
	recorderOpts []audit.RecorderOption
}

// WithHistoryObserver reports history rows written per update.
func WithHistoryObserver(fn func(entity string, rows int)) EmployeeOption {
	return func(c *employeeConfig) {
		c.recorderOpts = append(c.recorderOpts, audit.WithObserver(fn))
	}
}

// WithEmployeeClock overrides the history timestamp source.
func WithEmployeeClock(fn func() time.Time) EmployeeOption {
	return func(c *employeeConfig) {
		c.recorderOpts = append(c.recorderOpts, audit.WithRecorderClock(fn))
	}
}

func NewEmployeeService(store EmployeeStore, documents DocumentStore, annotations AnnotationStore, opts ...EmployeeOption) *EmployeeService {
	cfg := employeeConfig{recorderOpts: []audit.RecorderOption{audit.WithSkippedFields("updatedAt", "createdAt", "id")}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &EmployeeService{
		store:       store,
		documents:   documents,
		annotations: annotations,
		recorder:    audit.NewRecorder("employee", EmployeeFields, cfg.recorderOpts...),
	}
}

// Create validates and stores a new employee.
func (s *EmployeeService) Create(ctx context.Context, in EmployeeInput) (Employee, error) {
	if in.FunctionalStatus == nil {
		status := DefaultFunctionalStatus
		in.FunctionalStatus = &status
	}
	in.normalize()
	if err := in.validate(true); err != nil {
		return Employee{}, err
	}
	var e Employee
	in.applyTo(&e)
	if err := s.checkUnique(ctx, e, 0); err != nil {
		return Employee{}, err
	}
	if err := s.store.CreateEmployee(ctx, &e); err != nil {
		return Employee{}, err
	}
	return e, nil
}

// Get returns the employee with its documents and annotations.
func (s *EmployeeService) Get(ctx context.Context, id int64) (EmployeeDetail, error) {
	e, err := s.employee(ctx, id)
	if err != nil {
		return EmployeeDetail{}, err
	}
	detail := EmployeeDetail{Employee: e, Documents: []Document{}, Annotations: []Annotation{}}
	if s.documents != nil {
		docs, err := s.documents.ListDocuments(ctx, DocumentQuery{EmployeeID: id})
		if err != nil {
			return EmployeeDetail{}, err
		}
		if docs != nil {
			detail.Documents = docs
		}
	}
	if s.annotations != nil {
		notes, err := s.annotations.ListAnnotations(ctx, AnnotationQuery{EmployeeID: id})
		if err != nil {
			return EmployeeDetail{}, err
		}
		if notes != nil {
			detail.Annotations = notes
		}
	}
	return detail, nil
}

// List returns one page of employees ordered by name.
func (s *EmployeeService) List(ctx context.Context, q EmployeeQuery) (EmployeePage, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return EmployeePage{}, err
	}
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.Limit <= 0:
		q.Limit = defaultPageSize
	case q.Limit > maxPageSize:
		q.Limit = maxPageSize
	}
	rows, total, err := s.store.ListEmployees(ctx, q)
	if err != nil {
		return EmployeePage{}, err
	}
	if rows == nil {
		rows = []Employee{}
	}
	return EmployeePage{
		Employees:   rows,
		TotalItems:  total,
		TotalPages:  (total + q.Limit - 1) / q.Limit,
		CurrentPage: q.Page,
	}, nil
}

// ExportRows returns every employee matching the query, ignoring paging.
func (s *EmployeeService) ExportRows(ctx context.Context, q EmployeeQuery) ([]Employee, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, err
	}
	q.Page, q.Limit = 0, 0
	rows, _, err := s.store.ListEmployees(ctx, q)
	return rows, err
}

// Update applies a partial update and records one history row per changed
// attribute in the same transaction. An update that changes nothing writes
// nothing and returns the current record.
func (s *EmployeeService) Update(ctx context.Context, id int64, in EmployeeInput, actorID int64) (Employee, []audit.Entry, error) {
	if err := audit.RequireActor(actorID); err != nil {
		return Employee{}, nil, err
	}
	in.normalize()
	if err := in.validate(false); err != nil {
		return Employee{}, nil, err
	}
	var candidate Employee
	in.applyTo(&candidate)
	if err := s.checkUnique(ctx, candidate, id); err != nil {
		return Employee{}, nil, err
	}

	var (
		out     Employee
		entries []audit.Entry
	)
	err := s.store.WithEmployeeTx(ctx, func(tx EmployeeTx) error {
		current, err := tx.LockEmployee(ctx, id)
		if err != nil {
			return notFoundEmployee(err, id)
		}
		next := current
		in.applyTo(&next)
		if len(audit.Diff(current.Snapshot(), next.Snapshot(), EmployeeFields)) == 0 {
			out = current
			return nil
		}
		if err := tx.SaveEmployee(ctx, &next); err != nil {
			return err
		}
		entries, err = s.recorder.Record(ctx, tx, id, current.Snapshot(), next.Snapshot(), actorID)
		if err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Employee{}, nil, err
	}
	return out, entries, nil
}

// Delete removes the employee; dependent rows cascade in storage.
func (s *EmployeeService) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteEmployee(ctx, id); err != nil {
		return notFoundEmployee(err, id)
	}
	return nil
}

// History lists the employee's change rows, newest first.
func (s *EmployeeService) History(ctx context.Context, id int64) ([]HistoryEntry, error) {
	if _, err := s.employee(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.store.EmployeeHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []HistoryEntry{}
	}
	return rows, nil
}

// Exists reports apperr.ErrNotFound for unknown employees.
func (s *EmployeeService) Exists(ctx context.Context, id int64) error {
	_, err := s.employee(ctx, id)
	return err
}

func (s *EmployeeService) employee(ctx context.Context, id int64) (Employee, error) {
	e, err := s.store.Employee(ctx, id)
	if err != nil {
		return Employee{}, notFoundEmployee(err, id)
	}
	return e, nil
}

func (s *EmployeeService) checkUnique(ctx context.Context, e Employee, excludeID int64) error {
	keys, err := s.store.EmployeeConflicts(ctx, e, excludeID)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	msg, ok := conflictMessages[keys[0]]
	if !ok {
		msg = keys[0] + " already registered"
	}
	return apperr.Conflict("%s", msg)
}

func normalizeQuery(q EmployeeQuery) (EmployeeQuery, error) {
	q.Search = strings.TrimSpace(q.Search)
	if len(q.Filters) == 0 {
		return q, nil
	}
	filters := make(map[string]string, len(q.Filters))
	var v apperr.ValidationError
	for k, val := range q.Filters {
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}
		if !slices.Contains(EmployeeFilterKeys, k) {
			v.Add(k, fmt.Sprintf("%s is not a supported filter", k))
			continue
		}
		filters[k] = val
	}
	if err := v.Err(); err != nil {
		return q, err
	}
	q.Filters = filters
	return q, nil
}

func notFoundEmployee(err error, id int64) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.NotFound("employee %d not found", id)
	}
	return err
}
