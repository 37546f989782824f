package hr_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rhgestor.org/internal/apperr"
	"rhgestor.org/internal/audit"
	"rhgestor.org/internal/auth"
	"rhgestor.org/internal/hr"
	"rhgestor.org/internal/store/memory"
)

func str(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func fixedNow() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }

func validEmployee(suffix string) hr.EmployeeInput {
	return hr.EmployeeInput{
		FullName:              str("MARIA DA SILVA"),
		RegistrationNumber:    str("MAT-" + suffix),
		InstitutionalLink:     str("Efetivo"),
		Position:              str("Analista"),
		Department:            str("Recursos Humanos"),
		AdmissionDate:         str("2020-02-01"),
		DateOfBirth:           str("1990-05-17"),
		Gender:                str("Feminino"),
		MaritalStatus:         str("Solteiro(a)"),
		CPF:                   str("1234567890" + suffix),
		RG:                    str("RG" + suffix),
		AddressStreet:         str("Rua das Flores"),
		AddressNumber:         str("10"),
		AddressNeighborhood:   str("Centro"),
		AddressCity:           str("Recife"),
		AddressState:          str("pe"),
		AddressZipCode:        str("50000000"),
		EmergencyContactPhone: str("81999990000"),
		MobilePhone1:          str("81988880000"),
		InstitutionalEmail:    str("Maria" + suffix + "@Orgao.gov.br"),
	}
}

type fixture struct {
	store     *memory.Store
	employees *hr.EmployeeService
	actorID   int64
}

func newFixture(t *testing.T, opts ...hr.EmployeeOption) fixture {
	t.Helper()
	store := memory.New(memory.WithClock(fixedNow))
	actor := auth.Identity{Login: "Gestor", Name: "Gestor", Email: "gestor@example.com", Active: true, Role: auth.RoleAdmin}
	require.NoError(t, store.CreateIdentity(context.Background(), &actor))
	opts = append([]hr.EmployeeOption{hr.WithEmployeeClock(fixedNow)}, opts...)
	return fixture{
		store:     store,
		employees: hr.NewEmployeeService(store, store, store, opts...),
		actorID:   actor.ID,
	}
}

func TestCreateEmployeeNormalizesInput(t *testing.T) {
	f := newFixture(t)
	e, err := f.employees.Create(context.Background(), validEmployee("1"))
	require.NoError(t, err)

	assert.NotZero(t, e.ID)
	assert.Equal(t, "Maria Da Silva", e.FullName)
	assert.Equal(t, "PE", e.AddressState)
	assert.Equal(t, "maria1@orgao.gov.br", e.InstitutionalEmail)
	assert.Equal(t, hr.DefaultFunctionalStatus, e.FunctionalStatus)
}

func TestCreateEmployeeReportsEveryInvalidField(t *testing.T) {
	f := newFixture(t)
	in := validEmployee("1")
	in.CPF = str("123")
	in.Gender = str("Unknown")
	in.FullName = nil

	_, err := f.employees.Create(context.Background(), in)
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	fields := map[string]bool{}
	for _, fe := range apperr.FieldErrors(err) {
		fields[fe.Field] = true
	}
	assert.True(t, fields["cpf"])
	assert.True(t, fields["gender"])
	assert.True(t, fields["fullName"])
}

func TestUpdateEmployeeChecksOnlyPresentFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.employees.Create(ctx, validEmployee("1"))
	require.NoError(t, err)

	_, _, err = f.employees.Update(ctx, e.ID, hr.EmployeeInput{
		Position:       str(""),
		AddressZipCode: str("7000-000"),
		PersonalEmail:  str("ana at example"),
	}, f.actorID)
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	got := map[string]string{}
	for _, fe := range apperr.FieldErrors(err) {
		got[fe.Field] = fe.Message
	}
	assert.Equal(t, map[string]string{
		"position":       "position cannot be empty",
		"addressZipCode": "addressZipCode must have exactly 8 digits",
		"personalEmail":  "personalEmail must be a valid email address",
	}, got)

	updated, _, err := f.employees.Update(ctx, e.ID, hr.EmployeeInput{PersonalEmail: str(" ")}, f.actorID)
	require.NoError(t, err)
	assert.Empty(t, updated.PersonalEmail)
}

func TestAuthorOfHistoryIsDeactivatedNotDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.employees.Create(ctx, validEmployee("1"))
	require.NoError(t, err)
	_, _, err = f.employees.Update(ctx, e.ID, hr.EmployeeInput{FunctionalStatus: str("Licença")}, f.actorID)
	require.NoError(t, err)

	other := auth.Identity{Login: "Outro", Name: "Outro", Email: "outro@example.com", Active: true, Role: auth.RoleAdmin}
	require.NoError(t, f.store.CreateIdentity(ctx, &other))
	tokens, err := auth.NewTokenService("secret")
	require.NoError(t, err)
	accounts := auth.NewAccountService(f.store, tokens)

	err = accounts.Delete(ctx, other.ID, f.actorID)
	require.ErrorIs(t, err, apperr.ErrConflict)

	_, err = accounts.Update(ctx, other.ID, f.actorID, auth.IdentityUpdate{Active: boolPtr(false)})
	require.NoError(t, err)
	history, err := f.employees.History(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, f.actorID, history[0].ChangedByID)
}

func TestCreateEmployeeRejectsDuplicateCPF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.employees.Create(ctx, validEmployee("1"))
	require.NoError(t, err)

	dup := validEmployee("2")
	dup.CPF = str("12345678901")
	_, err = f.employees.Create(ctx, dup)
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, err.Error(), "CPF")
}

func TestUpdateEmployeeRecordsChangedFields(t *testing.T) {
	var observed int
	f := newFixture(t, hr.WithHistoryObserver(func(_ string, n int) { observed += n }))
	ctx := context.Background()
	e, err := f.employees.Create(ctx, validEmployee("1"))
	require.NoError(t, err)

	upd := hr.EmployeeInput{FunctionalStatus: str("Licença"), Department: str("Tecnologia"), FullName: str("Maria da Silva")}
	out, entries, err := f.employees.Update(ctx, e.ID, upd, f.actorID)
	require.NoError(t, err)
	assert.Equal(t, "Licença", out.FunctionalStatus)
	require.Len(t, entries, 3)
	assert.Equal(t, 3, observed)

	hist, err := f.employees.History(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	byField := map[string]hr.HistoryEntry{}
	for _, h := range hist {
		byField[h.FieldName] = h
		assert.Equal(t, f.actorID, h.ChangedByID)
		require.NotNil(t, h.ChangedBy)
		assert.Equal(t, "Gestor", h.ChangedBy.Login)
	}
	assert.Equal(t, "Ativo", byField["Situação Funcional"].OldValue)
	assert.Equal(t, "Licença", byField["Situação Funcional"].NewValue)
	assert.Equal(t, "Recursos Humanos", byField["Departamento"].OldValue)
	assert.Equal(t, "Tecnologia", byField["Departamento"].NewValue)
	assert.Equal(t, "Maria Da Silva", byField["Nome Completo"].OldValue)
}

func TestUpdateEmployeeNoOpWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.employees.Create(ctx, validEmployee("1"))
	require.NoError(t, err)

	_, entries, err := f.employees.Update(ctx, e.ID, hr.EmployeeInput{Department: str("Recursos Humanos")}, f.actorID)
	require.NoError(t, err)
	assert.Empty(t, entries)
	hist, err := f.employees.History(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestUpdateEmployeeRequiresActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.employees.Create(ctx, validEmployee("1"))
	require.NoError(t, err)

	_, _, err = f.employees.Update(ctx, e.ID, hr.EmployeeInput{Department: str("Tecnologia")}, 0)
	require.ErrorIs(t, err, audit.ErrMissingActor)
	got, err := f.store.Employee(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Recursos Humanos", got.Department)
}

type failingHistoryStore struct {
	*memory.Store
}

func (s failingHistoryStore) WithEmployeeTx(ctx context.Context, fn func(hr.EmployeeTx) error) error {
	return s.Store.WithEmployeeTx(ctx, func(tx hr.EmployeeTx) error {
		return fn(failingHistoryTx{tx})
	})
}

type failingHistoryTx struct{ hr.EmployeeTx }

func (failingHistoryTx) InsertHistory(context.Context, []audit.Entry) error {
	return errors.New("disk full")
}

func TestUpdateEmployeeRollsBackWhenHistoryFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.employees.Create(ctx, validEmployee("1"))
	require.NoError(t, err)

	svc := hr.NewEmployeeService(failingHistoryStore{f.store}, f.store, f.store)
	_, _, err = svc.Update(ctx, e.ID, hr.EmployeeInput{Department: str("Tecnologia")}, f.actorID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	got, err := f.store.Employee(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Recursos Humanos", got.Department)
}

func TestUpdateEmployeeUnknownIDIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.employees.Update(context.Background(), 999, hr.EmployeeInput{Department: str("Tecnologia")}, f.actorID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateEmployeeRechecksUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.employees.Create(ctx, validEmployee("1"))
	require.NoError(t, err)
	second, err := f.employees.Create(ctx, validEmployee("2"))
	require.NoError(t, err)

	_, _, err = f.employees.Update(ctx, second.ID, hr.EmployeeInput{RegistrationNumber: str("MAT-1")}, f.actorID)
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestListEmployeesPagesAndFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, suffix := range []string{"1", "2", "3"} {
		in := validEmployee(suffix)
		in.FullName = str([]string{"Carla", "Ana", "Bruno"}[i])
		if suffix == "3" {
			in.Department = str("Financeiro")
		}
		_, err := f.employees.Create(ctx, in)
		require.NoError(t, err)
	}

	page, err := f.employees.List(ctx, hr.EmployeeQuery{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalItems)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Employees, 2)
	assert.Equal(t, "Ana", page.Employees[0].FullName)

	page, err = f.employees.List(ctx, hr.EmployeeQuery{Filters: map[string]string{"department": "Financeiro"}})
	require.NoError(t, err)
	require.Len(t, page.Employees, 1)
	assert.Equal(t, "Bruno", page.Employees[0].FullName)
	assert.Equal(t, 1, page.CurrentPage)

	_, err = f.employees.List(ctx, hr.EmployeeQuery{Filters: map[string]string{"cpf": "1"}})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestDeleteEmployeeCascadesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.employees.Create(ctx, validEmployee("1"))
	require.NoError(t, err)
	_, _, err = f.employees.Update(ctx, e.ID, hr.EmployeeInput{Department: str("Tecnologia")}, f.actorID)
	require.NoError(t, err)

	require.NoError(t, f.employees.Delete(ctx, e.ID))
	_, err = f.employees.History(ctx, e.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.ErrorIs(t, f.employees.Delete(ctx, e.ID), apperr.ErrNotFound)
}
