package hr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"rhgestor.org/internal/apperr"
	"rhgestor.org/internal/audit"
	"rhgestor.org/internal/ids"
)

// DocumentService stores employee files and their metadata.
type DocumentService struct {
	store     DocumentStore
	employees EmployeeStore
	files     FileStorage
	settings  *SettingsService
	logger    *zap.Logger
	now       func() time.Time
}

// DocumentOption configures a DocumentService.
type DocumentOption func(*DocumentService)

func WithDocumentLogger(l *zap.Logger) DocumentOption {
	return func(s *DocumentService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDocumentClock overrides time source (useful for tests).
func WithDocumentClock(fn func() time.Time) DocumentOption {
	return func(s *DocumentService) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewDocumentService(store DocumentStore, employees EmployeeStore, files FileStorage, settings *SettingsService, opts ...DocumentOption) *DocumentService {
	s := &DocumentService{
		store:     store,
		employees: employees,
		files:     files,
		settings:  settings,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the upload limits currently in force.
func (s *DocumentService) Policy(ctx context.Context) (UploadPolicy, error) {
	return s.settings.UploadPolicy(ctx)
}

// Upload validates every file against the upload policy, stores the bodies
// and records one document row per file. Nothing is recorded unless every
// file passes. Stored bodies are removed again if the rows cannot be written.
func (s *DocumentService) Upload(ctx context.Context, employeeID, actorID int64, uploads []Upload) ([]Document, error) {
	if err := audit.RequireActor(actorID); err != nil {
		return nil, err
	}
	if _, err := s.employees.Employee(ctx, employeeID); err != nil {
		return nil, notFoundEmployee(err, employeeID)
	}
	policy, err := s.Policy(ctx)
	if err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, apperr.Invalid("no files were uploaded")
	}
	if len(uploads) > policy.MaxFiles {
		return nil, apperr.Invalid("at most %d files can be uploaded at once", policy.MaxFiles)
	}
	var v apperr.ValidationError
	for i, u := range uploads {
		field := fmt.Sprintf("documents[%d]", i)
		if !policy.Allows(u.Filename, u.ContentType) {
			v.Add(field, fmt.Sprintf("file type not allowed: %s", u.Filename))
			continue
		}
		if u.Size > policy.MaxFileSize {
			v.Add(field, fmt.Sprintf("%s exceeds the %d byte limit", u.Filename, policy.MaxFileSize))
		}
		if strings.TrimSpace(u.DocumentType) == "" {
			v.Add(field, "documentType is required")
		}
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	uploadedAt := s.now().UTC()
	docs := make([]Document, 0, len(uploads))
	var stored []string
	for _, u := range uploads {
		key := documentKey(employeeID, u.Filename)
		path, err := s.files.Save(ctx, key, u.ContentType, u.Body)
		if err != nil {
			s.discard(ctx, stored)
			return nil, fmt.Errorf("store %s: %w", u.Filename, err)
		}
		stored = append(stored, path)
		docs = append(docs, Document{
			EmployeeID:   employeeID,
			DocumentType: strings.TrimSpace(u.DocumentType),
			Description:  strings.TrimSpace(u.Description),
			FilePath:     path,
			UploadedByID: actorID,
			UploadedAt:   uploadedAt,
		})
	}
	created, err := s.store.CreateDocuments(ctx, docs)
	if err != nil {
		s.discard(ctx, stored)
		return nil, err
	}
	return created, nil
}

// List returns documents matching q, newest first.
func (s *DocumentService) List(ctx context.Context, q DocumentQuery) ([]Document, error) {
	q.Search = strings.TrimSpace(q.Search)
	if q.EmployeeID > 0 {
		if _, err := s.employees.Employee(ctx, q.EmployeeID); err != nil {
			return nil, notFoundEmployee(err, q.EmployeeID)
		}
	}
	rows, err := s.store.ListDocuments(ctx, q)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Document{}
	}
	return rows, nil
}

// Delete removes the stored file and the document row. A file that cannot be
// removed is logged and the row is deleted anyway.
func (s *DocumentService) Delete(ctx context.Context, employeeID, documentID int64) error {
	doc, err := s.store.Document(ctx, documentID)
	if err != nil {
		return notFoundDocument(err, documentID)
	}
	if employeeID > 0 && doc.EmployeeID != employeeID {
		return apperr.NotFound("document %d not found", documentID)
	}
	if err := s.files.Remove(ctx, doc.FilePath); err != nil {
		s.logger.Warn("document file removal failed",
			zap.Int64("document_id", documentID),
			zap.String("path", doc.FilePath),
			zap.Error(err),
		)
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return notFoundDocument(err, documentID)
	}
	return nil
}

func (s *DocumentService) discard(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := s.files.Remove(ctx, p); err != nil {
			s.logger.Warn("discard stored file", zap.String("path", p), zap.Error(err))
		}
	}
}

// documentKey places a file under its employee's prefix with a unique name
// that keeps the original extension.
func documentKey(employeeID int64, filename string) string {
	return ids.Key(fmt.Sprintf("documents/employee_%d", employeeID), filename)
}

func notFoundDocument(err error, id int64) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.NotFound("document %d not found", id)
	}
	return err
}
