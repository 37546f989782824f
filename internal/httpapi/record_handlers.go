package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"rhgestor.org/internal/apperr"
	"rhgestor.org/internal/audit"
	"rhgestor.org/internal/auth"
	"rhgestor.org/internal/hr"
)

const (
	documentsField     = "documents"
	multipartMemory    = 8 << 20
	multipartOverhead  = 1 << 20
	documentTypeField  = "documentType"
	documentDescrField = "description"
)

type annotationData struct {
	Annotation hr.Annotation `json:"annotation"`
}

type annotationsData struct {
	Annotations []hr.Annotation `json:"annotations"`
}

type documentsData struct {
	Documents []hr.Document `json:"documents"`
}

type settingData struct {
	Setting hr.Setting `json:"setting"`
}

type settingsData struct {
	Settings []hr.Setting `json:"settings"`
}

type upsertSettingRequest struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	Description string          `json:"description"`
}

// recordScope resolves the employee a nested route names, or the optional
// employeeId filter on the search routes.
func recordScope(r *http.Request) (int64, error) {
	if _, ok := mux.Vars(r)["employeeId"]; ok {
		return pathID(r, "employeeId")
	}
	return queryID(r, "employeeId")
}

// --- annotations ---

func (a *API) handleCreateAnnotation(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.require(w, r, auth.Perm(auth.ResourceAnnotation, auth.ActionCreate))
	if !ok {
		return
	}
	employeeID, err := pathID(r, "employeeId")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var in hr.AnnotationInput
	if err := decodeJSON(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	note, err := a.svc.Annotations.Create(r.Context(), employeeID, actor.ID, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, annotationData{Annotation: note})
}

func (a *API) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	employeeID, err := recordScope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	notes, err := a.svc.Annotations.List(r.Context(), hr.AnnotationQuery{
		EmployeeID: employeeID,
		Search:     r.URL.Query().Get("search"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeList(w, http.StatusOK, len(notes), annotationsData{Annotations: notes})
}

func (a *API) handleUpdateAnnotation(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.require(w, r, auth.Perm(auth.ResourceAnnotation, auth.ActionEdit))
	if !ok {
		return
	}
	employeeID, err := pathID(r, "employeeId")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	annotationID, err := pathID(r, "annotationId")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var in hr.AnnotationInput
	if err := decodeJSON(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	note, err := a.svc.Annotations.Update(r.Context(), employeeID, annotationID, actor.ID, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, annotationData{Annotation: note})
}

func (a *API) handleDeleteAnnotation(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.require(w, r, auth.Perm(auth.ResourceAnnotation, auth.ActionDelete)); !ok {
		return
	}
	employeeID, err := pathID(r, "employeeId")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	annotationID, err := pathID(r, "annotationId")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.svc.Annotations.Delete(r.Context(), employeeID, annotationID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- documents ---

func (a *API) handleUploadDocuments(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.require(w, r, auth.Perm(auth.ResourceDocument, auth.ActionCreate))
	if !ok {
		return
	}
	employeeID, err := pathID(r, "employeeId")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	policy, err := a.svc.Documents.Policy(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(policy.MaxFiles)*policy.MaxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			a.fail(w, r, apperr.Invalid("upload exceeds %d bytes", maxErr.Limit))
			return
		}
		a.fail(w, r, apperr.Invalid("invalid multipart body: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	uploads, closeAll, err := collectUploads(r.MultipartForm)
	defer closeAll()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	docs, err := a.svc.Documents.Upload(r.Context(), employeeID, actor.ID, uploads)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "document.uploaded",
		zap.Int64("employee_id", employeeID),
		zap.Int("files", len(docs)),
	)
	writeList(w, http.StatusCreated, len(docs), documentsData{Documents: docs})
}

// collectUploads opens every file under the documents field. Each file takes
// documentType[i] and description[i] when indexed, the i-th repeated value
// when one is given per file, and the single shared value otherwise.
func collectUploads(form *multipart.Form) ([]hr.Upload, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	headers := form.File[documentsField]
	uploads := make([]hr.Upload, 0, len(headers))
	for i, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("open upload %s: %w", fh.Filename, err)
		}
		opened = append(opened, f)
		uploads = append(uploads, hr.Upload{
			Filename:     fh.Filename,
			ContentType:  fh.Header.Get("Content-Type"),
			Size:         fh.Size,
			Body:         f,
			DocumentType: formValueAt(form, documentTypeField, i, len(headers)),
			Description:  formValueAt(form, documentDescrField, i, len(headers)),
		})
	}
	return uploads, closeAll, nil
}

func formValueAt(form *multipart.Form, name string, i, n int) string {
	if v := form.Value[fmt.Sprintf("%s[%d]", name, i)]; len(v) > 0 {
		return v[0]
	}
	vals := form.Value[name]
	switch {
	case len(vals) == 0:
		return ""
	case len(vals) == n:
		return vals[i]
	default:
		return vals[0]
	}
}

func (a *API) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	employeeID, err := recordScope(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	docs, err := a.svc.Documents.List(r.Context(), hr.DocumentQuery{
		EmployeeID: employeeID,
		Search:     r.URL.Query().Get("search"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeList(w, http.StatusOK, len(docs), documentsData{Documents: docs})
}

func (a *API) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.require(w, r, auth.Perm(auth.ResourceDocument, auth.ActionDelete)); !ok {
		return
	}
	employeeID, err := pathID(r, "employeeId")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	documentID, err := pathID(r, "documentId")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.svc.Documents.Delete(r.Context(), employeeID, documentID); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "document.deleted",
		zap.Int64("employee_id", employeeID),
		zap.Int64("document_id", documentID),
	)
	w.WriteHeader(http.StatusNoContent)
}

// --- settings ---

func (a *API) handleListSettings(w http.ResponseWriter, r *http.Request) {
	rows, err := a.svc.Settings.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeList(w, http.StatusOK, len(rows), settingsData{Settings: rows})
}

func (a *API) handleUpsertSetting(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.require(w, r, auth.Perm(auth.ResourceSettings, auth.ActionEdit)); !ok {
		return
	}
	var req upsertSettingRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	st, created, err := a.svc.Settings.Upsert(r.Context(), req.Key, req.Value, req.Description)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	_ = audit.LogEvent(r.Context(), a.logger, "setting.saved",
		zap.String("key", st.Key),
		zap.Bool("created", created),
	)
	writeData(w, code, settingData{Setting: st})
}

func (a *API) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Settings.Get(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, settingData{Setting: st})
}

func (a *API) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.require(w, r, auth.Perm(auth.ResourceSettings, auth.ActionDelete)); !ok {
		return
	}
	key := mux.Vars(r)["key"]
	if err := a.svc.Settings.Delete(r.Context(), key); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "setting.deleted", zap.String("key", key))
	w.WriteHeader(http.StatusNoContent)
}
