package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"rhgestor.org/internal/apperr"
	"rhgestor.org/internal/auth"
	"rhgestor.org/internal/hr"
	"rhgestor.org/internal/storage"
	"rhgestor.org/internal/store/memory"
)

const (
	adminLogin    = "admin"
	adminPassword = "admin-secret"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *memory.Store
}

type envelope struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Token   string              `json:"token"`
	Results *int                `json:"results"`
	Data    json.RawMessage     `json:"data"`
	Errors  []apperr.FieldError `json:"errors"`
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := memory.New()
	tokens, err := auth.NewTokenService("test-secret", auth.WithTokenTTL(time.Hour))
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	accounts := auth.NewAccountService(store, tokens)
	if _, err := accounts.EnsureBootstrapAdmin(context.Background(), auth.BootstrapAdmin{
		Login:    adminLogin,
		Email:    "admin@admin.com",
		Password: adminPassword,
	}); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	files, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}
	settings := hr.NewSettingsService(store)

	api := New(Services{
		Authorizer:  auth.NewAuthorizer(tokens, store),
		Accounts:    accounts,
		Employees:   hr.NewEmployeeService(store, store, store),
		Annotations: hr.NewAnnotationService(store, store),
		Documents:   hr.NewDocumentService(store, store, files, settings),
		Settings:    settings,
	}, Options{RateBurst: 1000, RatePerSec: 1000, Version: "test"})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
	}
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

// call performs the request, checks the status and decodes the envelope.
func (c *apiClient) call(method, path, token string, body any, want int) envelope {
	c.t.Helper()
	resp := c.do(method, path, token, body)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		c.t.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, resp.StatusCode, raw)
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			c.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return env
}

func (c *apiClient) login(login, password string) string {
	c.t.Helper()
	env := c.call(http.MethodPost, "/api/admin-users/login", "", map[string]any{
		"login":    login,
		"password": password,
	}, http.StatusOK)
	if env.Token == "" {
		c.t.Fatal("empty token issued")
	}
	return env.Token
}

// registerRH creates a granular identity and logs it in.
func (c *apiClient) registerRH(adminToken, login string, perms map[string]map[string]bool) (int64, string) {
	c.t.Helper()
	env := c.call(http.MethodPost, "/api/admin-users/register", adminToken, map[string]any{
		"login":       login,
		"password":    "rh-secret",
		"name":        "Operador " + login,
		"email":       login + "@example.com",
		"role":        "rh",
		"permissions": perms,
	}, http.StatusCreated)
	user := decodeData[userData](c.t, env).User
	return user.ID, c.login(login, "rh-secret")
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return v
}

func employeeBody(suffix string) map[string]any {
	return map[string]any{
		"fullName":              "maria da silva " + suffix,
		"registrationNumber":    "MAT-" + suffix,
		"institutionalLink":     "Efetivo",
		"position":              "Analista",
		"department":            "Financeiro",
		"admissionDate":         "2020-02-01",
		"dateOfBirth":           "1990-05-17",
		"gender":                "Feminino",
		"maritalStatus":         "Solteiro(a)",
		"cpf":                   "1234567890" + suffix,
		"rg":                    "RG" + suffix,
		"addressStreet":         "Rua das Flores",
		"addressNumber":         "10",
		"addressNeighborhood":   "Centro",
		"addressCity":           "Recife",
		"addressState":          "PE",
		"addressZipCode":        "50000000",
		"emergencyContactPhone": "81999990000",
		"mobilePhone1":          "81988880000",
		"institutionalEmail":    "maria" + suffix + "@orgao.gov.br",
	}
}

func (c *apiClient) createEmployee(token, suffix string) hr.Employee {
	c.t.Helper()
	env := c.call(http.MethodPost, "/api/employees", token, employeeBody(suffix), http.StatusCreated)
	var data struct {
		Employee hr.Employee `json:"employee"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		c.t.Fatalf("decode employee: %v", err)
	}
	return data.Employee
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	env := api.call(http.MethodGet, "/api/employees", "", nil, http.StatusUnauthorized)
	if env.Status != "fail" || env.Message == "" {
		t.Fatalf("unexpected error envelope: %+v", env)
	}
	api.call(http.MethodGet, "/api/employees", "not-a-token", nil, http.StatusUnauthorized)
}

func TestAPILoginRejectsBadCredentials(t *testing.T) {
	api := newTestAPI(t)
	api.call(http.MethodPost, "/api/admin-users/login", "", map[string]any{
		"login":    adminLogin,
		"password": "wrong",
	}, http.StatusUnauthorized)
	api.call(http.MethodPost, "/api/admin-users/login", "", map[string]any{
		"login":    "ghost",
		"password": "whatever",
	}, http.StatusUnauthorized)
}

func TestAPIGranularPermissionsFollowCurrentRecord(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminLogin, adminPassword)
	rhID, rh := api.registerRH(admin, "operador", map[string]map[string]bool{
		"employee": {"create": true},
	})

	emp := api.createEmployee(rh, "1")
	path := fmt.Sprintf("/api/employees/%d", emp.ID)
	api.call(http.MethodPut, path, rh, map[string]any{"position": "Coordenador"}, http.StatusForbidden)

	// The old token picks up the new grant without logging in again.
	api.call(http.MethodPut, fmt.Sprintf("/api/admin-users/%d/permissions", rhID), admin, map[string]any{
		"permissions": map[string]map[string]bool{"employee": {"create": true, "edit": true}},
	}, http.StatusOK)
	api.call(http.MethodPut, path, rh, map[string]any{"position": "Coordenador"}, http.StatusOK)

	// Deactivation revokes the token immediately.
	api.call(http.MethodPut, fmt.Sprintf("/api/admin-users/%d", rhID), admin, map[string]any{"isActive": false}, http.StatusOK)
	api.call(http.MethodGet, "/api/employees", rh, nil, http.StatusUnauthorized)
}

func TestAPIGranularRoleCannotReachAdminUsers(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminLogin, adminPassword)
	rhID, rh := api.registerRH(admin, "operador", map[string]map[string]bool{
		"employee": {"create": true, "edit": true, "delete": true},
	})

	api.call(http.MethodGet, "/api/admin-users", rh, nil, http.StatusForbidden)
	api.call(http.MethodPost, "/api/admin-users/register", rh, map[string]any{
		"login": "intruso", "password": "x", "name": "Intruso", "email": "intruso@example.com", "role": "admin",
	}, http.StatusForbidden)
	api.call(http.MethodPut, fmt.Sprintf("/api/admin-users/%d", rhID), rh, map[string]any{"role": "admin"}, http.StatusForbidden)

	env := api.call(http.MethodPut, fmt.Sprintf("/api/admin-users/%d/permissions", rhID), admin, map[string]any{
		"permissions": map[string]map[string]bool{"adminUser": {"edit": true}},
	}, http.StatusBadRequest)
	if len(env.Errors) == 0 || env.Errors[0].Field != "permissions" {
		t.Fatalf("expected permissions field error, got %+v", env.Errors)
	}

	// The profile endpoint needs no permission.
	me := decodeData[userData](t, api.call(http.MethodGet, "/api/admin-users/me", rh, nil, http.StatusOK))
	if me.User.ID != rhID || me.User.Role != auth.RoleRH {
		t.Fatalf("unexpected profile %+v", me.User)
	}
}

func TestAPISelfTargetingIsForbidden(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminLogin, adminPassword)
	me := decodeData[userData](t, api.call(http.MethodGet, "/api/admin-users/me", admin, nil, http.StatusOK)).User

	self := fmt.Sprintf("/api/admin-users/%d", me.ID)
	api.call(http.MethodDelete, self, admin, nil, http.StatusForbidden)
	api.call(http.MethodPut, self, admin, map[string]any{"role": "rh"}, http.StatusForbidden)
	api.call(http.MethodPut, self, admin, map[string]any{"isActive": false}, http.StatusForbidden)
	api.call(http.MethodPut, self, admin, map[string]any{"name": "Chefe"}, http.StatusOK)
}

func TestAPIChangeOwnPassword(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminLogin, adminPassword)
	_, rh := api.registerRH(admin, "operador", nil)

	api.call(http.MethodPut, "/api/admin-users/change-password", rh, map[string]any{
		"currentPassword": "wrong", "newPassword": "novo-segredo",
	}, http.StatusUnauthorized)
	api.call(http.MethodPut, "/api/admin-users/change-password", rh, map[string]any{
		"currentPassword": "rh-secret", "newPassword": "novo-segredo",
	}, http.StatusOK)
	api.login("operador", "novo-segredo")
}

func TestAPIForgotPasswordAnswersUniformly(t *testing.T) {
	api := newTestAPI(t)
	known := api.call(http.MethodPost, "/api/admin-users/forgot-password", "", map[string]any{"email": "admin@admin.com"}, http.StatusOK)
	unknown := api.call(http.MethodPost, "/api/admin-users/forgot-password", "", map[string]any{"email": "ghost@example.com"}, http.StatusOK)
	if known.Message != unknown.Message {
		t.Fatalf("responses differ: %q vs %q", known.Message, unknown.Message)
	}
	api.call(http.MethodPost, "/api/admin-users/reset-password/bogus", "", map[string]any{"password": "x"}, http.StatusBadRequest)
}

func TestAPIEmployeeValidationListsFields(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminLogin, adminPassword)

	body := employeeBody("1")
	body["cpf"] = "123"
	delete(body, "position")
	env := api.call(http.MethodPost, "/api/employees", admin, body, http.StatusBadRequest)

	fields := map[string]bool{}
	for _, f := range env.Errors {
		fields[f.Field] = true
	}
	if !fields["cpf"] || !fields["position"] {
		t.Fatalf("expected cpf and position errors, got %+v", env.Errors)
	}

	api.createEmployee(admin, "1")
	api.call(http.MethodPost, "/api/employees", admin, employeeBody("1"), http.StatusConflict)
}

func TestAPIEmployeeUpdateWritesHistory(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminLogin, adminPassword)
	emp := api.createEmployee(admin, "1")
	path := fmt.Sprintf("/api/employees/%d", emp.ID)

	env := api.call(http.MethodPut, path, admin, map[string]any{"functionalStatus": "Licença"}, http.StatusOK)
	if got := decodeData[employeeUpdateData](t, env).HistoryEntries; got != 1 {
		t.Fatalf("expected 1 history entry, got %d", got)
	}
	env = api.call(http.MethodPut, path, admin, map[string]any{"functionalStatus": "Licença"}, http.StatusOK)
	if got := decodeData[employeeUpdateData](t, env).HistoryEntries; got != 0 {
		t.Fatalf("no-op update wrote %d entries", got)
	}

	hist := decodeData[historyData](t, api.call(http.MethodGet, path+"/history", admin, nil, http.StatusOK)).History
	if len(hist) != 1 {
		t.Fatalf("expected one history row, got %+v", hist)
	}
	if hist[0].FieldName != "Situação Funcional" || hist[0].OldValue != "Ativo" || hist[0].NewValue != "Licença" {
		t.Fatalf("unexpected history row %+v", hist[0])
	}
}

func TestAPIListEmployeesFiltersAndRejectsUnknownKeys(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminLogin, adminPassword)
	api.createEmployee(admin, "1")
	api.createEmployee(admin, "2")

	env := api.call(http.MethodGet, "/api/employees?"+url.Values{"gender": {"Feminino"}, "limit": {"1"}}.Encode(), admin, nil, http.StatusOK)
	page := decodeData[hr.EmployeePage](t, env)
	if page.TotalItems != 2 || page.TotalPages != 2 || len(page.Employees) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	api.call(http.MethodGet, "/api/employees?salary=1", admin, nil, http.StatusBadRequest)
}

func TestAPIExportEmployees(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminLogin, adminPassword)

	api.call(http.MethodGet, "/api/employees/export/csv", admin, nil, http.StatusNotFound)
	api.call(http.MethodGet, "/api/employees/export/docx", admin, nil, http.StatusBadRequest)

	api.createEmployee(admin, "1")
	resp := api.do(http.MethodGet, "/api/employees/export/csv", admin, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment;") || !strings.Contains(cd, ".csv") {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "Nome Completo") {
		t.Fatalf("expected label headers in export, got %q", raw)
	}
}

func TestAPIAnnotationEditKeepsSnapshot(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminLogin, adminPassword)
	emp := api.createEmployee(admin, "1")
	base := fmt.Sprintf("/api/employees/%d/annotations", emp.ID)

	note := decodeData[annotationData](t, api.call(http.MethodPost, base, admin, map[string]any{
		"title": "Reunião", "content": "Alinhamento de metas", "annotationDate": "2025-03-01",
	}, http.StatusCreated)).Annotation

	api.call(http.MethodPut, fmt.Sprintf("%s/%d", base, note.ID), admin, map[string]any{"title": "Reunião Mensal"}, http.StatusOK)

	notes := decodeData[annotationsData](t, api.call(http.MethodGet, base, admin, nil, http.StatusOK)).Annotations
	if len(notes) != 1 || len(notes[0].History) != 1 || notes[0].History[0].OldTitle != "Reunião" {
		t.Fatalf("expected one snapshot of the previous title, got %+v", notes)
	}

	other := api.createEmployee(admin, "2")
	api.call(http.MethodDelete, fmt.Sprintf("/api/employees/%d/annotations/%d", other.ID, note.ID), admin, nil, http.StatusNotFound)

	found := api.call(http.MethodGet, "/api/annotations/search?search=mensal", admin, nil, http.StatusOK)
	if found.Results == nil || *found.Results != 1 {
		t.Fatalf("expected one search result, got %+v", found.Results)
	}
}

type filePart struct {
	name        string
	contentType string
	body        string
}

func (c *apiClient) upload(path, token string, files []filePart, fields map[string][]string) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="documents"; filename="%s"`, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			c.t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write([]byte(f.body))
	}
	for k, vals := range fields {
		for _, v := range vals {
			_ = mw.WriteField(k, v)
		}
	}
	if err := mw.Close(); err != nil {
		c.t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("upload: %v", err)
	}
	return resp
}

func TestAPIUploadDocuments(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminLogin, adminPassword)
	emp := api.createEmployee(admin, "1")
	path := fmt.Sprintf("/api/employees/%d/documents", emp.ID)

	resp := api.upload(path, admin, []filePart{
		{name: "contrato.pdf", contentType: "application/pdf", body: "%PDF-1.4"},
		{name: "foto.png", contentType: "image/png", body: "png"},
	}, map[string][]string{
		"documentType":   {"Contrato", "Foto"},
		"description[1]": {"Foto 3x4"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, raw)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	docs := decodeData[documentsData](t, env).Documents
	if len(docs) != 2 || docs[0].DocumentType != "Contrato" || docs[1].Description != "Foto 3x4" {
		t.Fatalf("unexpected documents %+v", docs)
	}

	bad := api.upload(path, admin, []filePart{
		{name: "ok.pdf", contentType: "application/pdf", body: "%PDF"},
		{name: "virus.exe", contentType: "application/octet-stream", body: "MZ"},
	}, map[string][]string{"documentType": {"Outros"}})
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", bad.StatusCode)
	}

	listed := api.call(http.MethodGet, path, admin, nil, http.StatusOK)
	if listed.Results == nil || *listed.Results != 2 {
		t.Fatalf("rejected batch must store nothing, got %v results", listed.Results)
	}

	api.call(http.MethodDelete, fmt.Sprintf("%s/%d", path, docs[0].ID), admin, nil, http.StatusNoContent)
}

func TestAPISettingsUpsertReportsCreation(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(adminLogin, adminPassword)

	api.call(http.MethodPost, "/api/settings", admin, map[string]any{"key": "maxFiles", "value": 3}, http.StatusCreated)
	api.call(http.MethodPost, "/api/settings", admin, map[string]any{"key": "maxFiles", "value": 5}, http.StatusOK)

	st := decodeData[settingData](t, api.call(http.MethodGet, "/api/settings/maxFiles", admin, nil, http.StatusOK)).Setting
	if string(st.Value) != "5" {
		t.Fatalf("unexpected value %s", st.Value)
	}
	api.call(http.MethodDelete, "/api/settings/maxFiles", admin, nil, http.StatusNoContent)
	api.call(http.MethodGet, "/api/settings/maxFiles", admin, nil, http.StatusNotFound)
}

func TestAPIUnknownRoute(t *testing.T) {
	api := newTestAPI(t)
	env := api.call(http.MethodGet, "/api/nothing-here", "", nil, http.StatusNotFound)
	if env.Status != "fail" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}
