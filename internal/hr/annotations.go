package hr

import (
	"context"
	"errors"
	"strings"
	"time"

	"rhgestor.org/internal/apperr"
	"rhgestor.org/internal/audit"
	"rhgestor.org/internal/textfmt"
	"rhgestor.org/internal/validation"
)

// AnnotationService manages employee annotations. Every edit stores the full
// prior title, content and category before the change is applied.
type AnnotationService struct {
	store     AnnotationStore
	employees EmployeeStore
	now       func() time.Time
}

// AnnotationOption configures an AnnotationService.
type AnnotationOption func(*AnnotationService)

// WithAnnotationClock overrides time source (useful for tests).
func WithAnnotationClock(fn func() time.Time) AnnotationOption {
	return func(s *AnnotationService) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewAnnotationService(store AnnotationStore, employees EmployeeStore, opts ...AnnotationOption) *AnnotationService {
	s := &AnnotationService{store: store, employees: employees, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create attaches a note to an employee on behalf of actorID.
func (s *AnnotationService) Create(ctx context.Context, employeeID, actorID int64, in AnnotationInput) (Annotation, error) {
	if err := audit.RequireActor(actorID); err != nil {
		return Annotation{}, err
	}
	in.normalize()
	// Blank category and date fall back to defaults on create.
	if in.Category != nil && *in.Category == "" {
		in.Category = nil
	}
	if in.AnnotationDate != nil && *in.AnnotationDate == "" {
		in.AnnotationDate = nil
	}
	if err := in.validate(true); err != nil {
		return Annotation{}, err
	}
	if _, err := s.employees.Employee(ctx, employeeID); err != nil {
		return Annotation{}, notFoundEmployee(err, employeeID)
	}
	a := Annotation{
		EmployeeID:     employeeID,
		Title:          *in.Title,
		Content:        *in.Content,
		Category:       DefaultAnnotationCategory,
		AnnotationDate: s.now().UTC().Format(time.DateOnly),
		ResponsibleID:  actorID,
	}
	if in.Category != nil {
		a.Category = *in.Category
	}
	if in.AnnotationDate != nil {
		a.AnnotationDate = *in.AnnotationDate
	}
	if err := s.store.CreateAnnotation(ctx, &a); err != nil {
		return Annotation{}, err
	}
	return a, nil
}

// List returns annotations matching q, newest first, with their edit history.
func (s *AnnotationService) List(ctx context.Context, q AnnotationQuery) ([]Annotation, error) {
	q.Search = strings.TrimSpace(q.Search)
	if q.EmployeeID > 0 {
		if _, err := s.employees.Employee(ctx, q.EmployeeID); err != nil {
			return nil, notFoundEmployee(err, q.EmployeeID)
		}
	}
	rows, err := s.store.ListAnnotations(ctx, q)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Annotation{}
	}
	return rows, nil
}

// Update snapshots the current annotation into its history and then applies in.
// The snapshot and the change commit together.
func (s *AnnotationService) Update(ctx context.Context, employeeID, annotationID, actorID int64, in AnnotationInput) (Annotation, error) {
	if err := audit.RequireActor(actorID); err != nil {
		return Annotation{}, err
	}
	in.normalize()
	if err := in.validate(false); err != nil {
		return Annotation{}, err
	}
	var out Annotation
	err := s.store.WithAnnotationTx(ctx, func(tx AnnotationTx) error {
		current, err := tx.LockAnnotation(ctx, annotationID)
		if err != nil {
			return notFoundAnnotation(err, annotationID)
		}
		if employeeID > 0 && current.EmployeeID != employeeID {
			return apperr.NotFound("annotation %d not found", annotationID)
		}
		if err := tx.InsertAnnotationHistory(ctx, &AnnotationHistory{
			AnnotationID: current.ID,
			OldTitle:     current.Title,
			OldContent:   current.Content,
			OldCategory:  current.Category,
			EditedByID:   actorID,
			EditedAt:     s.now().UTC(),
		}); err != nil {
			return err
		}
		next := current
		if in.Title != nil {
			next.Title = *in.Title
		}
		if in.Content != nil {
			next.Content = *in.Content
		}
		if in.Category != nil {
			next.Category = *in.Category
		}
		if in.AnnotationDate != nil {
			next.AnnotationDate = *in.AnnotationDate
		}
		if err := tx.SaveAnnotation(ctx, &next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Annotation{}, err
	}
	return out, nil
}

// Delete removes an annotation that belongs to employeeID.
func (s *AnnotationService) Delete(ctx context.Context, employeeID, annotationID int64) error {
	current, err := s.store.Annotation(ctx, annotationID)
	if err != nil {
		return notFoundAnnotation(err, annotationID)
	}
	if employeeID > 0 && current.EmployeeID != employeeID {
		return apperr.NotFound("annotation %d not found", annotationID)
	}
	if err := s.store.DeleteAnnotation(ctx, annotationID); err != nil {
		return notFoundAnnotation(err, annotationID)
	}
	return nil
}

func (in *AnnotationInput) normalize() {
	if in.Title != nil {
		*in.Title = textfmt.EnforceCase(strings.TrimSpace(*in.Title))
	}
	if in.Content != nil {
		*in.Content = strings.TrimSpace(*in.Content)
	}
	if in.Category != nil {
		*in.Category = strings.TrimSpace(*in.Category)
	}
	if in.AnnotationDate != nil {
		*in.AnnotationDate = strings.TrimSpace(*in.AnnotationDate)
	}
}

func (in *AnnotationInput) validate(creating bool) error {
	return validation.Struct(in, creating)
}

func notFoundAnnotation(err error, id int64) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.NotFound("annotation %d not found", id)
	}
	return err
}
