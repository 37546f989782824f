package hr

import (
	"context"
	"io"

	"rhgestor.org/internal/audit"
)

// EmployeeStore persists employees and their history.
// Lookups return apperr.ErrNotFound when nothing matches.
type EmployeeStore interface {
	CreateEmployee(ctx context.Context, e *Employee) error
	Employee(ctx context.Context, id int64) (Employee, error)
	// ListEmployees returns one page and the total match count. Limit <= 0 returns every match.
	ListEmployees(ctx context.Context, q EmployeeQuery) ([]Employee, int, error)
	DeleteEmployee(ctx context.Context, id int64) error
	EmployeeHistory(ctx context.Context, employeeID int64) ([]HistoryEntry, error)
	// EmployeeConflicts returns the keys of unique attributes of e already held
	// by an employee other than excludeID. Empty attributes are not checked.
	EmployeeConflicts(ctx context.Context, e Employee, excludeID int64) ([]string, error)
	WithEmployeeTx(ctx context.Context, fn func(EmployeeTx) error) error
}

// EmployeeTx is the transactional view used by tracked updates.
type EmployeeTx interface {
	LockEmployee(ctx context.Context, id int64) (Employee, error)
	SaveEmployee(ctx context.Context, e *Employee) error
	audit.HistoryWriter
}

// AnnotationStore persists annotations and their snapshot history.
type AnnotationStore interface {
	CreateAnnotation(ctx context.Context, a *Annotation) error
	Annotation(ctx context.Context, id int64) (Annotation, error)
	// ListAnnotations returns matches newest first, each with its history.
	ListAnnotations(ctx context.Context, q AnnotationQuery) ([]Annotation, error)
	DeleteAnnotation(ctx context.Context, id int64) error
	WithAnnotationTx(ctx context.Context, fn func(AnnotationTx) error) error
}

// AnnotationTx is the transactional view used by annotation edits.
type AnnotationTx interface {
	LockAnnotation(ctx context.Context, id int64) (Annotation, error)
	InsertAnnotationHistory(ctx context.Context, h *AnnotationHistory) error
	SaveAnnotation(ctx context.Context, a *Annotation) error
}

// DocumentStore persists document metadata.
type DocumentStore interface {
	CreateDocuments(ctx context.Context, docs []Document) ([]Document, error)
	Document(ctx context.Context, id int64) (Document, error)
	// ListDocuments returns matches newest first.
	ListDocuments(ctx context.Context, q DocumentQuery) ([]Document, error)
	DeleteDocument(ctx context.Context, id int64) error
}

// SettingsStore persists settings.
type SettingsStore interface {
	UpsertSetting(ctx context.Context, s *Setting) (created bool, err error)
	Setting(ctx context.Context, key string) (Setting, error)
	ListSettings(ctx context.Context) ([]Setting, error)
	DeleteSetting(ctx context.Context, key string) error
}

// FileStorage stores document bodies.
type FileStorage interface {
	Save(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	Remove(ctx context.Context, path string) error
}
