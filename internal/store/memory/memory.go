// Package memory keeps every store in process memory. It backs tests and
// single-node demos; transactions are serialized on one mutex and rolled back
// by restoring a copy of the state.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"rhgestor.org/internal/apperr"
	"rhgestor.org/internal/audit"
	"rhgestor.org/internal/auth"
	"rhgestor.org/internal/hr"
)

var (
	_ auth.IdentityStore = (*Store)(nil)
	_ hr.EmployeeStore   = (*Store)(nil)
	_ hr.AnnotationStore = (*Store)(nil)
	_ hr.DocumentStore   = (*Store)(nil)
	_ hr.SettingsStore   = (*Store)(nil)
)

// Store implements the identity and HR stores in memory.
type Store struct {
	mu  sync.Mutex
	now func() time.Time
	d   *data
}

type data struct {
	seq               int64
	identities        map[int64]auth.Identity
	employees         map[int64]hr.Employee
	history           []hr.HistoryEntry
	annotations       map[int64]hr.Annotation
	annotationHistory []hr.AnnotationHistory
	documents         map[int64]hr.Document
	settings          map[string]hr.Setting
}

func (d *data) clone() *data {
	out := &data{
		seq:               d.seq,
		identities:        make(map[int64]auth.Identity, len(d.identities)),
		employees:         maps.Clone(d.employees),
		history:           slices.Clone(d.history),
		annotations:       maps.Clone(d.annotations),
		annotationHistory: slices.Clone(d.annotationHistory),
		documents:         maps.Clone(d.documents),
		settings:          maps.Clone(d.settings),
	}
	for k, v := range d.identities {
		v.Permissions = v.Permissions.Clone()
		out.identities[k] = v
	}
	return out
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now: time.Now,
		d: &data{
			identities:  make(map[int64]auth.Identity),
			employees:   make(map[int64]hr.Employee),
			annotations: make(map[int64]hr.Annotation),
			documents:   make(map[int64]hr.Document),
			settings:    make(map[string]hr.Setting),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) nextID() int64 {
	s.d.seq++
	return s.d.seq
}

func (s *Store) stamp() time.Time { return s.now().UTC() }

// tx runs fn under the store lock and restores the prior state when fn fails.
func (s *Store) tx(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backup := s.d.clone()
	if err := fn(); err != nil {
		s.d = backup
		return err
	}
	return nil
}

func contains(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// --- identities ---

func copyIdentity(id auth.Identity) auth.Identity {
	id.Permissions = id.Permissions.Clone()
	if id.ResetExpiresAt != nil {
		t := *id.ResetExpiresAt
		id.ResetExpiresAt = &t
	}
	return id
}

func (s *Store) IdentityByID(_ context.Context, id int64) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.d.identities[id]
	if !ok {
		return auth.Identity{}, apperr.ErrNotFound
	}
	return copyIdentity(ident), nil
}

func (s *Store) findIdentity(match func(auth.Identity) bool) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.d.identities {
		if match(ident) {
			return copyIdentity(ident), nil
		}
	}
	return auth.Identity{}, apperr.ErrNotFound
}

func (s *Store) IdentityByLogin(_ context.Context, login string) (auth.Identity, error) {
	return s.findIdentity(func(i auth.Identity) bool { return i.Login == login })
}

func (s *Store) IdentityByEmail(_ context.Context, email string) (auth.Identity, error) {
	return s.findIdentity(func(i auth.Identity) bool { return strings.EqualFold(i.Email, email) })
}

func (s *Store) IdentityByResetToken(_ context.Context, tokenHash string, now time.Time) (auth.Identity, error) {
	return s.findIdentity(func(i auth.Identity) bool {
		return tokenHash != "" && i.ResetTokenHash == tokenHash && i.ResetExpiresAt != nil && i.ResetExpiresAt.After(now)
	})
}

func (s *Store) ListIdentities(_ context.Context) ([]auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Identity, 0, len(s.d.identities))
	for _, ident := range s.d.identities {
		out = append(out, copyIdentity(ident))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CountIdentities(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.identities), nil
}

func (s *Store) CreateIdentity(_ context.Context, ident *auth.Identity) error {
	return s.tx(func() error {
		for _, other := range s.d.identities {
			if other.Login == ident.Login {
				return apperr.Conflict("login already exists")
			}
			if strings.EqualFold(other.Email, ident.Email) {
				return apperr.Conflict("email already registered")
			}
		}
		now := s.stamp()
		ident.ID = s.nextID()
		ident.CreatedAt, ident.UpdatedAt = now, now
		s.d.identities[ident.ID] = copyIdentity(*ident)
		return nil
	})
}

func (s *Store) SetPassword(_ context.Context, id int64, passwordHash string) error {
	return s.tx(func() error {
		ident, ok := s.d.identities[id]
		if !ok {
			return apperr.ErrNotFound
		}
		ident.PasswordHash = passwordHash
		ident.ResetTokenHash = ""
		ident.ResetExpiresAt = nil
		ident.UpdatedAt = s.stamp()
		s.d.identities[id] = ident
		return nil
	})
}

func (s *Store) SetResetToken(_ context.Context, id int64, tokenHash string, expiresAt time.Time) error {
	return s.tx(func() error {
		ident, ok := s.d.identities[id]
		if !ok {
			return apperr.ErrNotFound
		}
		ident.ResetTokenHash = tokenHash
		ident.ResetExpiresAt = &expiresAt
		s.d.identities[id] = ident
		return nil
	})
}

func (s *Store) PurgeExpiredResetTokens(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.tx(func() error {
		for id, ident := range s.d.identities {
			if ident.ResetExpiresAt != nil && !ident.ResetExpiresAt.After(now) {
				ident.ResetTokenHash = ""
				ident.ResetExpiresAt = nil
				s.d.identities[id] = ident
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *Store) WithIdentityTx(_ context.Context, fn func(auth.IdentityTx) error) error {
	return s.tx(func() error { return fn(identityTx{s}) })
}

type identityTx struct{ s *Store }

func (t identityTx) LockIdentity(_ context.Context, id int64) (auth.Identity, error) {
	ident, ok := t.s.d.identities[id]
	if !ok {
		return auth.Identity{}, apperr.NotFound("user %d not found", id)
	}
	return copyIdentity(ident), nil
}

func (t identityTx) LockActiveAdmins(_ context.Context) ([]int64, error) {
	var ids []int64
	for id, ident := range t.s.d.identities {
		if ident.Active && ident.Role.Unrestricted() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (t identityTx) SaveIdentity(_ context.Context, ident auth.Identity) error {
	if _, ok := t.s.d.identities[ident.ID]; !ok {
		return apperr.ErrNotFound
	}
	for id, other := range t.s.d.identities {
		if id == ident.ID {
			continue
		}
		if other.Login == ident.Login {
			return apperr.Conflict("login already exists")
		}
		if strings.EqualFold(other.Email, ident.Email) {
			return apperr.Conflict("email already registered")
		}
	}
	ident.UpdatedAt = t.s.stamp()
	t.s.d.identities[ident.ID] = copyIdentity(ident)
	return nil
}

func (t identityTx) DeleteIdentity(_ context.Context, id int64) error {
	if _, ok := t.s.d.identities[id]; !ok {
		return apperr.ErrNotFound
	}
	if t.s.d.referencesActor(id) {
		return apperr.Conflict("%s", auth.HasRecordsMessage)
	}
	delete(t.s.d.identities, id)
	return nil
}

// referencesActor mirrors the restricting foreign keys of the SQL schema.
func (d *data) referencesActor(id int64) bool {
	for _, h := range d.history {
		if h.ChangedByID == id {
			return true
		}
	}
	for _, h := range d.annotationHistory {
		if h.EditedByID == id {
			return true
		}
	}
	for _, a := range d.annotations {
		if a.ResponsibleID == id {
			return true
		}
	}
	for _, doc := range d.documents {
		if doc.UploadedByID == id {
			return true
		}
	}
	return false
}

// --- employees ---

func copyEmployee(e hr.Employee) hr.Employee {
	if e.NumberOfChildren != nil {
		n := *e.NumberOfChildren
		e.NumberOfChildren = &n
	}
	return e
}

func (s *Store) CreateEmployee(_ context.Context, e *hr.Employee) error {
	return s.tx(func() error {
		if keys := s.employeeConflicts(*e, 0); len(keys) > 0 {
			return apperr.Conflict("%s already registered", keys[0])
		}
		now := s.stamp()
		e.ID = s.nextID()
		e.CreatedAt, e.UpdatedAt = now, now
		s.d.employees[e.ID] = copyEmployee(*e)
		return nil
	})
}

func (s *Store) Employee(_ context.Context, id int64) (hr.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.d.employees[id]
	if !ok {
		return hr.Employee{}, apperr.ErrNotFound
	}
	return copyEmployee(e), nil
}

func employeeMatches(e hr.Employee, q hr.EmployeeQuery) bool {
	if q.Search != "" &&
		!contains(e.FullName, q.Search) && !contains(e.Department, q.Search) &&
		!contains(e.RegistrationNumber, q.Search) && !contains(e.CPF, q.Search) {
		return false
	}
	snap := e.Snapshot()
	for k, v := range q.Filters {
		if audit.Stringify(snap[k]) != v {
			return false
		}
	}
	return true
}

func (s *Store) ListEmployees(_ context.Context, q hr.EmployeeQuery) ([]hr.Employee, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []hr.Employee
	for _, e := range s.d.employees {
		if employeeMatches(e, q) {
			all = append(all, copyEmployee(e))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].FullName != all[j].FullName {
			return all[i].FullName < all[j].FullName
		}
		return all[i].ID < all[j].ID
	})
	total := len(all)
	if q.Limit <= 0 {
		return all, total, nil
	}
	page := max(q.Page, 1)
	start := min((page-1)*q.Limit, total)
	end := min(start+q.Limit, total)
	return all[start:end], total, nil
}

func (s *Store) DeleteEmployee(_ context.Context, id int64) error {
	return s.tx(func() error {
		if _, ok := s.d.employees[id]; !ok {
			return apperr.ErrNotFound
		}
		delete(s.d.employees, id)
		s.d.history = slices.DeleteFunc(s.d.history, func(h hr.HistoryEntry) bool { return h.EmployeeID == id })
		removed := map[int64]bool{}
		for aid, a := range s.d.annotations {
			if a.EmployeeID == id {
				removed[aid] = true
				delete(s.d.annotations, aid)
			}
		}
		s.d.annotationHistory = slices.DeleteFunc(s.d.annotationHistory, func(h hr.AnnotationHistory) bool { return removed[h.AnnotationID] })
		for did, doc := range s.d.documents {
			if doc.EmployeeID == id {
				delete(s.d.documents, did)
			}
		}
		return nil
	})
}

func (s *Store) EmployeeHistory(_ context.Context, employeeID int64) ([]hr.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []hr.HistoryEntry
	for _, h := range s.d.history {
		if h.EmployeeID != employeeID {
			continue
		}
		if ident, ok := s.d.identities[h.ChangedByID]; ok {
			h.ChangedBy = &hr.Changer{ID: ident.ID, Name: ident.Name, Login: ident.Login}
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) EmployeeConflicts(_ context.Context, e hr.Employee, excludeID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.employeeConflicts(e, excludeID), nil
}

func (s *Store) employeeConflicts(e hr.Employee, excludeID int64) []string {
	var keys []string
	check := func(key, value string, get func(hr.Employee) string) {
		if value == "" {
			return
		}
		for id, other := range s.d.employees {
			if id != excludeID && get(other) == value {
				keys = append(keys, key)
				return
			}
		}
	}
	check("registrationNumber", e.RegistrationNumber, func(o hr.Employee) string { return o.RegistrationNumber })
	check("cpf", e.CPF, func(o hr.Employee) string { return o.CPF })
	check("rg", e.RG, func(o hr.Employee) string { return o.RG })
	check("institutionalEmail", e.InstitutionalEmail, func(o hr.Employee) string { return o.InstitutionalEmail })
	return keys
}

func (s *Store) WithEmployeeTx(_ context.Context, fn func(hr.EmployeeTx) error) error {
	return s.tx(func() error { return fn(employeeTx{s}) })
}

type employeeTx struct{ s *Store }

func (t employeeTx) LockEmployee(_ context.Context, id int64) (hr.Employee, error) {
	e, ok := t.s.d.employees[id]
	if !ok {
		return hr.Employee{}, apperr.ErrNotFound
	}
	return copyEmployee(e), nil
}

func (t employeeTx) SaveEmployee(_ context.Context, e *hr.Employee) error {
	if _, ok := t.s.d.employees[e.ID]; !ok {
		return apperr.ErrNotFound
	}
	if keys := t.s.employeeConflicts(*e, e.ID); len(keys) > 0 {
		return apperr.Conflict("%s already registered", keys[0])
	}
	e.UpdatedAt = t.s.stamp()
	t.s.d.employees[e.ID] = copyEmployee(*e)
	return nil
}

func (t employeeTx) InsertHistory(_ context.Context, entries []audit.Entry) error {
	for _, en := range entries {
		t.s.d.history = append(t.s.d.history, hr.HistoryEntry{
			ID:          t.s.nextID(),
			EmployeeID:  en.EntityID,
			FieldName:   en.Field,
			OldValue:    en.OldValue,
			NewValue:    en.NewValue,
			ChangedByID: en.ActorID,
			CreatedAt:   en.CreatedAt,
		})
	}
	return nil
}

// --- annotations ---

func (s *Store) withAnnotationDetail(a hr.Annotation) hr.Annotation {
	if e, ok := s.d.employees[a.EmployeeID]; ok {
		a.Employee = &hr.EmployeeRef{ID: e.ID, FullName: e.FullName}
	}
	a.History = nil
	for _, h := range s.d.annotationHistory {
		if h.AnnotationID == a.ID {
			a.History = append(a.History, h)
		}
	}
	sort.SliceStable(a.History, func(i, j int) bool { return a.History[i].EditedAt.After(a.History[j].EditedAt) })
	return a
}

func (s *Store) CreateAnnotation(_ context.Context, a *hr.Annotation) error {
	return s.tx(func() error {
		if _, ok := s.d.employees[a.EmployeeID]; !ok {
			return apperr.ErrNotFound
		}
		now := s.stamp()
		a.ID = s.nextID()
		a.CreatedAt, a.UpdatedAt = now, now
		s.d.annotations[a.ID] = *a
		return nil
	})
}

func (s *Store) Annotation(_ context.Context, id int64) (hr.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.d.annotations[id]
	if !ok {
		return hr.Annotation{}, apperr.ErrNotFound
	}
	return s.withAnnotationDetail(a), nil
}

func (s *Store) ListAnnotations(_ context.Context, q hr.AnnotationQuery) ([]hr.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []hr.Annotation
	for _, a := range s.d.annotations {
		if q.EmployeeID > 0 && a.EmployeeID != q.EmployeeID {
			continue
		}
		if q.Search != "" && !contains(a.Title, q.Search) && !contains(a.Content, q.Search) {
			continue
		}
		out = append(out, s.withAnnotationDetail(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AnnotationDate != out[j].AnnotationDate {
			return out[i].AnnotationDate > out[j].AnnotationDate
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteAnnotation(_ context.Context, id int64) error {
	return s.tx(func() error {
		if _, ok := s.d.annotations[id]; !ok {
			return apperr.ErrNotFound
		}
		delete(s.d.annotations, id)
		s.d.annotationHistory = slices.DeleteFunc(s.d.annotationHistory, func(h hr.AnnotationHistory) bool { return h.AnnotationID == id })
		return nil
	})
}

func (s *Store) WithAnnotationTx(_ context.Context, fn func(hr.AnnotationTx) error) error {
	return s.tx(func() error { return fn(annotationTx{s}) })
}

type annotationTx struct{ s *Store }

func (t annotationTx) LockAnnotation(_ context.Context, id int64) (hr.Annotation, error) {
	a, ok := t.s.d.annotations[id]
	if !ok {
		return hr.Annotation{}, apperr.ErrNotFound
	}
	return a, nil
}

func (t annotationTx) InsertAnnotationHistory(_ context.Context, h *hr.AnnotationHistory) error {
	if _, ok := t.s.d.annotations[h.AnnotationID]; !ok {
		return apperr.ErrNotFound
	}
	h.ID = t.s.nextID()
	t.s.d.annotationHistory = append(t.s.d.annotationHistory, *h)
	return nil
}

func (t annotationTx) SaveAnnotation(_ context.Context, a *hr.Annotation) error {
	if _, ok := t.s.d.annotations[a.ID]; !ok {
		return apperr.ErrNotFound
	}
	a.UpdatedAt = t.s.stamp()
	stored := *a
	stored.Employee, stored.History = nil, nil
	t.s.d.annotations[a.ID] = stored
	return nil
}

// --- documents ---

func (s *Store) CreateDocuments(_ context.Context, docs []hr.Document) ([]hr.Document, error) {
	out := make([]hr.Document, len(docs))
	err := s.tx(func() error {
		for i, doc := range docs {
			if _, ok := s.d.employees[doc.EmployeeID]; !ok {
				return apperr.ErrNotFound
			}
			doc.ID = s.nextID()
			if doc.UploadedAt.IsZero() {
				doc.UploadedAt = s.stamp()
			}
			s.d.documents[doc.ID] = doc
			out[i] = doc
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Document(_ context.Context, id int64) (hr.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.d.documents[id]
	if !ok {
		return hr.Document{}, apperr.ErrNotFound
	}
	return doc, nil
}

func (s *Store) ListDocuments(_ context.Context, q hr.DocumentQuery) ([]hr.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []hr.Document
	for _, doc := range s.d.documents {
		if q.EmployeeID > 0 && doc.EmployeeID != q.EmployeeID {
			continue
		}
		if q.Search != "" && !contains(doc.DocumentType, q.Search) && !contains(doc.Description, q.Search) {
			continue
		}
		if e, ok := s.d.employees[doc.EmployeeID]; ok {
			doc.Employee = &hr.EmployeeRef{ID: e.ID, FullName: e.FullName}
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteDocument(_ context.Context, id int64) error {
	return s.tx(func() error {
		if _, ok := s.d.documents[id]; !ok {
			return apperr.ErrNotFound
		}
		delete(s.d.documents, id)
		return nil
	})
}

// --- settings ---

func (s *Store) UpsertSetting(_ context.Context, st *hr.Setting) (bool, error) {
	var created bool
	err := s.tx(func() error {
		now := s.stamp()
		prev, ok := s.d.settings[st.Key]
		created = !ok
		if ok {
			st.CreatedAt = prev.CreatedAt
		} else {
			st.CreatedAt = now
		}
		st.UpdatedAt = now
		s.d.settings[st.Key] = *st
		return nil
	})
	return created, err
}

func (s *Store) Setting(_ context.Context, key string) (hr.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.d.settings[key]
	if !ok {
		return hr.Setting{}, apperr.ErrNotFound
	}
	return st, nil
}

func (s *Store) ListSettings(_ context.Context) ([]hr.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]hr.Setting, 0, len(s.d.settings))
	for _, key := range slices.Sorted(maps.Keys(s.d.settings)) {
		out = append(out, s.d.settings[key])
	}
	return out, nil
}

func (s *Store) DeleteSetting(_ context.Context, key string) error {
	return s.tx(func() error {
		if _, ok := s.d.settings[key]; !ok {
			return apperr.ErrNotFound
		}
		delete(s.d.settings, key)
		return nil
	})
}
