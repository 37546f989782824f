package hr

import (
	"encoding/json"
	"io"
	"time"
)

// AnnotationCategories are the allowed annotation categories.
var AnnotationCategories = []string{"Informativo", "Advertência", "Comunicação", "Elogio", "Outros"}

const DefaultAnnotationCategory = "Informativo"

// EmployeeRef is the short employee projection embedded in search results.
type EmployeeRef struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
}

// Annotation is a free-text note about an employee.
type Annotation struct {
	ID             int64               `json:"id"`
	EmployeeID     int64               `json:"employeeId"`
	Title          string              `json:"title"`
	Content        string              `json:"content"`
	AnnotationDate string              `json:"annotationDate"`
	ResponsibleID  int64               `json:"responsibleId"`
	Category       string              `json:"category"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	Employee       *EmployeeRef        `json:"employee,omitempty"`
	History        []AnnotationHistory `json:"history,omitempty"`
}

// AnnotationHistory is the full prior state of an annotation before one edit.
type AnnotationHistory struct {
	ID           int64     `json:"id"`
	AnnotationID int64     `json:"annotationId"`
	OldTitle     string    `json:"oldTitle"`
	OldContent   string    `json:"oldContent"`
	OldCategory  string    `json:"oldCategory"`
	EditedByID   int64     `json:"editedById"`
	EditedAt     time.Time `json:"editedAt"`
}

// AnnotationInput carries create or update attributes; nil means absent.
type AnnotationInput struct {
	Title          *string `json:"title" validate:"omitnil,min=1" create:"required"`
	Content        *string `json:"content" validate:"omitnil,min=1" create:"required"`
	AnnotationDate *string `json:"annotationDate" validate:"omitnil,min=1,datetime=2006-01-02"`
	Category       *string `json:"category" validate:"omitnil,min=1,category"`
}

// AnnotationQuery filters annotations. Zero values match everything.
type AnnotationQuery struct {
	EmployeeID int64
	Search     string
}

// Document is an uploaded file attached to an employee.
type Document struct {
	ID           int64        `json:"id"`
	EmployeeID   int64        `json:"employeeId"`
	DocumentType string       `json:"documentType"`
	Description  string       `json:"description"`
	FilePath     string       `json:"filePath"`
	UploadedByID int64        `json:"uploadedById"`
	UploadedAt   time.Time    `json:"uploadedAt"`
	Employee     *EmployeeRef `json:"employee,omitempty"`
}

// DocumentQuery filters documents. Zero values match everything.
type DocumentQuery struct {
	EmployeeID int64
	Search     string
}

// Upload is one incoming file.
type Upload struct {
	Filename     string
	ContentType  string
	Size         int64
	Body         io.Reader
	DocumentType string
	Description  string
}

// Setting is a key/value configuration entry. Value holds arbitrary JSON.
type Setting struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}
