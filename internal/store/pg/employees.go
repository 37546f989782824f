package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"rhgestor.org/internal/audit"
	"rhgestor.org/internal/hr"
)

var _ hr.EmployeeStore = (*Store)(nil)

type columnKind int

const (
	colText columnKind = iota
	colOptional
	colDate
	colValue
)

type employeeColumn struct {
	name string
	kind columnKind
	ref  any
}

// employeeColumns lists the writable columns bound to e's fields.
func employeeColumns(e *hr.Employee) []employeeColumn {
	return []employeeColumn{
		{"full_name", colText, &e.FullName},
		{"registration_number", colText, &e.RegistrationNumber},
		{"institutional_link", colText, &e.InstitutionalLink},
		{"position", colText, &e.Position},
		{"role", colOptional, &e.Role},
		{"department", colText, &e.Department},
		{"current_assignment", colOptional, &e.CurrentAssignment},
		{"admission_date", colDate, &e.AdmissionDate},
		{"education_level", colOptional, &e.EducationLevel},
		{"education_area", colOptional, &e.EducationArea},
		{"date_of_birth", colDate, &e.DateOfBirth},
		{"gender", colText, &e.Gender},
		{"marital_status", colText, &e.MaritalStatus},
		{"has_children", colValue, &e.HasChildren},
		{"number_of_children", colValue, &e.NumberOfChildren},
		{"cpf", colText, &e.CPF},
		{"rg", colText, &e.RG},
		{"rg_issuer", colOptional, &e.RGIssuer},
		{"address_street", colText, &e.AddressStreet},
		{"address_number", colText, &e.AddressNumber},
		{"address_complement", colOptional, &e.AddressComplement},
		{"address_neighborhood", colText, &e.AddressNeighborhood},
		{"address_city", colText, &e.AddressCity},
		{"address_state", colText, &e.AddressState},
		{"address_zip_code", colText, &e.AddressZipCode},
		{"emergency_contact_phone", colText, &e.EmergencyContactPhone},
		{"mobile_phone1", colText, &e.MobilePhone1},
		{"mobile_phone2", colOptional, &e.MobilePhone2},
		{"institutional_email", colText, &e.InstitutionalEmail},
		{"personal_email", colOptional, &e.PersonalEmail},
		{"functional_status", colText, &e.FunctionalStatus},
		{"general_observations", colOptional, &e.GeneralObservations},
		{"comorbidity", colOptional, &e.Comorbidity},
		{"disability", colOptional, &e.Disability},
		{"blood_type", colOptional, &e.BloodType},
	}
}

// value returns the bind argument for c.
func (c employeeColumn) value() any {
	switch c.kind {
	case colOptional:
		return nullIfEmpty(*c.ref.(*string))
	case colText, colDate:
		return *c.ref.(*string)
	}
	switch v := c.ref.(type) {
	case *bool:
		return *v
	case **int:
		if *v == nil {
			return nil
		}
		return int64(**v)
	}
	return nil
}

// placeholder returns the bind expression for argument n.
func (c employeeColumn) placeholder(n int) string {
	if c.kind == colDate {
		return fmt.Sprintf("$%d::text::date", n)
	}
	return fmt.Sprintf("$%d", n)
}

// selectExpr reads c back in the shape Employee expects.
func (c employeeColumn) selectExpr() string {
	switch c.kind {
	case colOptional:
		return "coalesce(" + c.name + ", '')"
	case colDate:
		return c.name + "::text"
	}
	return c.name
}

var employeeSelect = func() string {
	cols := employeeColumns(&hr.Employee{})
	parts := make([]string, 0, len(cols)+3)
	parts = append(parts, "id")
	for _, c := range cols {
		parts = append(parts, c.selectExpr())
	}
	parts = append(parts, "created_at", "updated_at")
	return strings.Join(parts, ", ")
}()

func scanEmployee(row rowScanner) (hr.Employee, error) {
	var e hr.Employee
	cols := employeeColumns(&e)
	dest := make([]any, 0, len(cols)+3)
	dest = append(dest, &e.ID)
	for _, c := range cols {
		dest = append(dest, c.ref)
	}
	dest = append(dest, &e.CreatedAt, &e.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return hr.Employee{}, mapError(err)
	}
	return e, nil
}

var employeeFilterColumns = map[string]string{
	"department":        "department",
	"functionalStatus":  "functional_status",
	"institutionalLink": "institutional_link",
	"position":          "position",
	"gender":            "gender",
}

func employeeWhere(q hr.EmployeeQuery) *whereClause {
	w := &whereClause{}
	if q.Search != "" {
		w.add(`(full_name ilike ? or department ilike ? or registration_number ilike ? or cpf ilike ?)`, likePattern(q.Search))
	}
	for _, key := range hr.EmployeeFilterKeys {
		if v, ok := q.Filters[key]; ok {
			w.add(employeeFilterColumns[key]+` = ?`, v)
		}
	}
	return w
}

func (s *Store) CreateEmployee(ctx context.Context, e *hr.Employee) error {
	cols := employeeColumns(e)
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = c.name
		marks[i] = c.placeholder(i + 1)
		args[i] = c.value()
	}
	query := `insert into employees (` + strings.Join(names, ", ") + `) values (` +
		strings.Join(marks, ", ") + `) returning id, created_at, updated_at`
	return mapError(s.db.QueryRowContext(ctx, query, args...).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt))
}

func (s *Store) Employee(ctx context.Context, id int64) (hr.Employee, error) {
	return scanEmployee(s.db.QueryRowContext(ctx, `select `+employeeSelect+` from employees where id = $1`, id))
}

func (s *Store) ListEmployees(ctx context.Context, q hr.EmployeeQuery) ([]hr.Employee, int, error) {
	w := employeeWhere(q)
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from employees`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `select ` + employeeSelect + ` from employees` + w.String() + ` order by full_name, id`
	args := w.args
	if q.Limit > 0 {
		page := max(q.Page, 1)
		args = append(args, q.Limit, (page-1)*q.Limit)
		query += fmt.Sprintf(` limit $%d offset $%d`, len(args)-1, len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []hr.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (s *Store) DeleteEmployee(ctx context.Context, id int64) error {
	return expectOne(s.db.ExecContext(ctx, `delete from employees where id = $1`, id))
}

func (s *Store) EmployeeHistory(ctx context.Context, employeeID int64) ([]hr.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select h.id, h.employee_id, h.field_name, coalesce(h.old_value, ''), coalesce(h.new_value, ''),
			h.changed_by_id, u.name, u.login, h.created_at
		from employee_history h
		left join admin_users u on u.id = h.changed_by_id
		where h.employee_id = $1
		order by h.created_at desc, h.id desc
	`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []hr.HistoryEntry
	for rows.Next() {
		var (
			h           hr.HistoryEntry
			changedBy   sql.NullInt64
			name, login sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.EmployeeID, &h.FieldName, &h.OldValue, &h.NewValue,
			&changedBy, &name, &login, &h.CreatedAt); err != nil {
			return nil, err
		}
		if changedBy.Valid {
			h.ChangedByID = changedBy.Int64
			if name.Valid {
				h.ChangedBy = &hr.Changer{ID: changedBy.Int64, Name: name.String, Login: login.String}
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) EmployeeConflicts(ctx context.Context, e hr.Employee, excludeID int64) ([]string, error) {
	var reg, cpf, rg, email bool
	err := s.db.QueryRowContext(ctx, `
		select coalesce(bool_or(registration_number = $1), false),
			coalesce(bool_or(cpf = $2), false),
			coalesce(bool_or(rg = $3), false),
			coalesce(bool_or(institutional_email = $4), false)
		from employees
		where id <> $5
	`, nullIfEmpty(e.RegistrationNumber), nullIfEmpty(e.CPF), nullIfEmpty(e.RG),
		nullIfEmpty(e.InstitutionalEmail), excludeID).Scan(&reg, &cpf, &rg, &email)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, c := range []struct {
		key string
		hit bool
	}{{"registrationNumber", reg}, {"cpf", cpf}, {"rg", rg}, {"institutionalEmail", email}} {
		if c.hit {
			keys = append(keys, c.key)
		}
	}
	return keys, nil
}

func (s *Store) WithEmployeeTx(ctx context.Context, fn func(hr.EmployeeTx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(employeeTx{tx: tx})
	})
}

type employeeTx struct {
	tx *sql.Tx
}

func (t employeeTx) LockEmployee(ctx context.Context, id int64) (hr.Employee, error) {
	return scanEmployee(t.tx.QueryRowContext(ctx, `select `+employeeSelect+` from employees where id = $1 for update`, id))
}

func (t employeeTx) SaveEmployee(ctx context.Context, e *hr.Employee) error {
	cols := employeeColumns(e)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	args = append(args, e.ID)
	for i, c := range cols {
		args = append(args, c.value())
		sets[i] = c.name + " = " + c.placeholder(len(args))
	}
	query := `update employees set ` + strings.Join(sets, ", ") + `, updated_at = now() where id = $1 returning updated_at`
	return mapError(t.tx.QueryRowContext(ctx, query, args...).Scan(&e.UpdatedAt))
}

// InsertHistory writes every entry in one statement.
func (t employeeTx) InsertHistory(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]string, len(entries))
	args := make([]any, 0, len(entries)*6)
	for i, e := range entries {
		n := len(args)
		values[i] = fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, e.EntityID, e.Field, e.OldValue, e.NewValue, e.ActorID, e.CreatedAt)
	}
	_, err := t.tx.ExecContext(ctx, `
		insert into employee_history (employee_id, field_name, old_value, new_value, changed_by_id, created_at)
		values `+strings.Join(values, ", "), args...)
	return mapError(err)
}
