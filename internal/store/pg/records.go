package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"rhgestor.org/internal/hr"
)

var (
	_ hr.AnnotationStore = (*Store)(nil)
	_ hr.DocumentStore   = (*Store)(nil)
	_ hr.SettingsStore   = (*Store)(nil)
)

// --- annotations ---

const annotationSelect = `
	select a.id, a.employee_id, a.title, a.content, a.annotation_date::text,
		coalesce(a.responsible_id, 0), a.category, a.created_at, a.updated_at, e.full_name
	from annotations a
	join employees e on e.id = a.employee_id`

func scanAnnotation(row rowScanner) (hr.Annotation, error) {
	var (
		a    hr.Annotation
		name string
	)
	if err := row.Scan(&a.ID, &a.EmployeeID, &a.Title, &a.Content, &a.AnnotationDate,
		&a.ResponsibleID, &a.Category, &a.CreatedAt, &a.UpdatedAt, &name); err != nil {
		return hr.Annotation{}, mapError(err)
	}
	a.Employee = &hr.EmployeeRef{ID: a.EmployeeID, FullName: name}
	return a, nil
}

func annotationWhere(q hr.AnnotationQuery) *whereClause {
	w := &whereClause{}
	if q.EmployeeID > 0 {
		w.add(`a.employee_id = ?`, q.EmployeeID)
	}
	if q.Search != "" {
		w.add(`(a.title ilike ? or a.content ilike ?)`, likePattern(q.Search))
	}
	return w
}

func (s *Store) CreateAnnotation(ctx context.Context, a *hr.Annotation) error {
	row := s.db.QueryRowContext(ctx, `
		insert into annotations (employee_id, title, content, annotation_date, responsible_id, category)
		values ($1, $2, $3, $4::text::date, $5, $6)
		returning id, created_at, updated_at
	`, a.EmployeeID, a.Title, a.Content, a.AnnotationDate, a.ResponsibleID, a.Category)
	return mapError(row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt))
}

func (s *Store) Annotation(ctx context.Context, id int64) (hr.Annotation, error) {
	return scanAnnotation(s.db.QueryRowContext(ctx, annotationSelect+` where a.id = $1`, id))
}

// ListAnnotations loads matches and their history in two queries sharing one
// filter.
func (s *Store) ListAnnotations(ctx context.Context, q hr.AnnotationQuery) ([]hr.Annotation, error) {
	w := annotationWhere(q)
	rows, err := s.db.QueryContext(ctx, annotationSelect+w.String()+` order by a.annotation_date desc, a.id desc`, w.args...)
	if err != nil {
		return nil, err
	}
	var (
		out   []hr.Annotation
		index = map[int64]int{}
	)
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[a.ID] = len(out)
		out = append(out, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	hrows, err := s.db.QueryContext(ctx, `
		select h.id, h.annotation_id, h.old_title, h.old_content, h.old_category,
			coalesce(h.edited_by_id, 0), h.edited_at
		from annotation_history h
		join annotations a on a.id = h.annotation_id`+w.String()+`
		order by h.edited_at desc, h.id desc`, w.args...)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var h hr.AnnotationHistory
		if err := hrows.Scan(&h.ID, &h.AnnotationID, &h.OldTitle, &h.OldContent, &h.OldCategory,
			&h.EditedByID, &h.EditedAt); err != nil {
			return nil, err
		}
		if i, ok := index[h.AnnotationID]; ok {
			out[i].History = append(out[i].History, h)
		}
	}
	return out, hrows.Err()
}

func (s *Store) DeleteAnnotation(ctx context.Context, id int64) error {
	return expectOne(s.db.ExecContext(ctx, `delete from annotations where id = $1`, id))
}

func (s *Store) WithAnnotationTx(ctx context.Context, fn func(hr.AnnotationTx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(annotationTx{tx: tx})
	})
}

type annotationTx struct {
	tx *sql.Tx
}

func (t annotationTx) LockAnnotation(ctx context.Context, id int64) (hr.Annotation, error) {
	return scanAnnotation(t.tx.QueryRowContext(ctx, annotationSelect+` where a.id = $1 for update of a`, id))
}

func (t annotationTx) InsertAnnotationHistory(ctx context.Context, h *hr.AnnotationHistory) error {
	row := t.tx.QueryRowContext(ctx, `
		insert into annotation_history (annotation_id, old_title, old_content, old_category, edited_by_id, edited_at)
		values ($1, $2, $3, $4, $5, $6)
		returning id
	`, h.AnnotationID, h.OldTitle, h.OldContent, h.OldCategory, h.EditedByID, h.EditedAt)
	return mapError(row.Scan(&h.ID))
}

func (t annotationTx) SaveAnnotation(ctx context.Context, a *hr.Annotation) error {
	row := t.tx.QueryRowContext(ctx, `
		update annotations
		set title = $2, content = $3, annotation_date = $4::text::date, category = $5, updated_at = now()
		where id = $1
		returning updated_at
	`, a.ID, a.Title, a.Content, a.AnnotationDate, a.Category)
	return mapError(row.Scan(&a.UpdatedAt))
}

// --- documents ---

const documentSelect = `
	select d.id, d.employee_id, d.document_type, coalesce(d.description, ''), d.file_path,
		coalesce(d.uploaded_by_id, 0), d.uploaded_at, e.full_name
	from documents d
	join employees e on e.id = d.employee_id`

func scanDocument(row rowScanner) (hr.Document, error) {
	var (
		d    hr.Document
		name string
	)
	if err := row.Scan(&d.ID, &d.EmployeeID, &d.DocumentType, &d.Description, &d.FilePath,
		&d.UploadedByID, &d.UploadedAt, &name); err != nil {
		return hr.Document{}, mapError(err)
	}
	d.Employee = &hr.EmployeeRef{ID: d.EmployeeID, FullName: name}
	return d, nil
}

// CreateDocuments inserts every row or none.
func (s *Store) CreateDocuments(ctx context.Context, docs []hr.Document) ([]hr.Document, error) {
	out := make([]hr.Document, len(docs))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, d := range docs {
			row := tx.QueryRowContext(ctx, `
				insert into documents (employee_id, document_type, description, file_path, uploaded_by_id, uploaded_at)
				values ($1, $2, $3, $4, $5, $6)
				returning id
			`, d.EmployeeID, d.DocumentType, nullIfEmpty(d.Description), d.FilePath, d.UploadedByID, d.UploadedAt)
			if err := row.Scan(&d.ID); err != nil {
				return mapError(err)
			}
			out[i] = d
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Document(ctx context.Context, id int64) (hr.Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, documentSelect+` where d.id = $1`, id))
}

func (s *Store) ListDocuments(ctx context.Context, q hr.DocumentQuery) ([]hr.Document, error) {
	w := &whereClause{}
	if q.EmployeeID > 0 {
		w.add(`d.employee_id = ?`, q.EmployeeID)
	}
	if q.Search != "" {
		w.add(`(d.document_type ilike ? or d.description ilike ?)`, likePattern(q.Search))
	}
	rows, err := s.db.QueryContext(ctx, documentSelect+w.String()+` order by d.uploaded_at desc, d.id desc`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []hr.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	return expectOne(s.db.ExecContext(ctx, `delete from documents where id = $1`, id))
}

// --- settings ---

func scanSetting(row rowScanner) (hr.Setting, error) {
	var (
		st    hr.Setting
		value string
	)
	if err := row.Scan(&st.Key, &value, &st.Description, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return hr.Setting{}, mapError(err)
	}
	st.Value = json.RawMessage(value)
	return st, nil
}

const settingSelect = `select key, value::text, coalesce(description, ''), created_at, updated_at from settings`

// UpsertSetting reports created from xmax, which is zero only for a freshly
// inserted row version.
func (s *Store) UpsertSetting(ctx context.Context, st *hr.Setting) (bool, error) {
	var created bool
	row := s.db.QueryRowContext(ctx, `
		insert into settings (key, value, description)
		values ($1, $2::text::jsonb, $3)
		on conflict (key) do update
		set value = excluded.value, description = excluded.description, updated_at = now()
		returning created_at, updated_at, (xmax = 0)
	`, st.Key, strings.TrimSpace(string(st.Value)), nullIfEmpty(st.Description))
	if err := row.Scan(&st.CreatedAt, &st.UpdatedAt, &created); err != nil {
		return false, mapError(err)
	}
	return created, nil
}

func (s *Store) Setting(ctx context.Context, key string) (hr.Setting, error) {
	return scanSetting(s.db.QueryRowContext(ctx, settingSelect+` where key = $1`, key))
}

func (s *Store) ListSettings(ctx context.Context) ([]hr.Setting, error) {
	rows, err := s.db.QueryContext(ctx, settingSelect+` order by key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []hr.Setting
	for rows.Next() {
		st, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	return expectOne(s.db.ExecContext(ctx, `delete from settings where key = $1`, key))
}
