// Package hr implements the employee, annotation, document and settings services.
package hr

import (
	"time"

	"rhgestor.org/internal/audit"
)

// Allowed values of enumerated employee attributes.
var (
	InstitutionalLinks = []string{"Efetivo", "Comissionado Exclusivo", "Estagiário", "Terceirizado", "Servidor Temporário", "Consultor"}
	Genders            = []string{"Masculino", "Feminino", "Outro", "Não Informado"}
	MaritalStatuses    = []string{"Solteiro(a)", "Casado(a)", "Divorciado(a)", "Viúvo(a)", "União Estável"}
	FunctionalStatuses = []string{"Ativo", "Afastado", "Licença", "Desligado", "Férias"}
)

const DefaultFunctionalStatus = "Ativo"

// EmployeeFields is the tracked attribute table in display order.
var EmployeeFields = audit.FieldTable{
	{Key: "fullName", Label: "Nome Completo"},
	{Key: "registrationNumber", Label: "Matrícula"},
	{Key: "institutionalLink", Label: "Vínculo Institucional"},
	{Key: "position", Label: "Cargo"},
	{Key: "role", Label: "Função"},
	{Key: "department", Label: "Departamento"},
	{Key: "currentAssignment", Label: "Lotação Atual"},
	{Key: "admissionDate", Label: "Data de Admissão"},
	{Key: "educationLevel", Label: "Nível de Formação"},
	{Key: "educationArea", Label: "Área de Formação"},
	{Key: "dateOfBirth", Label: "Data de Nascimento"},
	{Key: "gender", Label: "Gênero"},
	{Key: "maritalStatus", Label: "Estado Civil"},
	{Key: "hasChildren", Label: "Possui Filhos"},
	{Key: "numberOfChildren", Label: "Número de Filhos"},
	{Key: "cpf", Label: "CPF"},
	{Key: "rg", Label: "RG"},
	{Key: "rgIssuer", Label: "Órgão Emissor (RG)"},
	{Key: "addressStreet", Label: "Logradouro"},
	{Key: "addressNumber", Label: "Número (Endereço)"},
	{Key: "addressComplement", Label: "Complemento"},
	{Key: "addressNeighborhood", Label: "Bairro"},
	{Key: "addressCity", Label: "Cidade"},
	{Key: "addressState", Label: "Estado (UF)"},
	{Key: "addressZipCode", Label: "CEP"},
	{Key: "emergencyContactPhone", Label: "Telefone de Emergência"},
	{Key: "mobilePhone1", Label: "Celular 1"},
	{Key: "mobilePhone2", Label: "Celular 2"},
	{Key: "institutionalEmail", Label: "E-mail Institucional"},
	{Key: "personalEmail", Label: "E-mail Pessoal"},
	{Key: "functionalStatus", Label: "Situação Funcional"},
	{Key: "generalObservations", Label: "Observações Gerais"},
	{Key: "comorbidity", Label: "Comorbidade"},
	{Key: "disability", Label: "Deficiência"},
	{Key: "bloodType", Label: "Tipo Sanguíneo"},
}

// Employee is a personnel record. Optional text attributes are empty when unset
// and dates are YYYY-MM-DD strings.
type Employee struct {
	ID                    int64     `json:"id"`
	FullName              string    `json:"fullName"`
	RegistrationNumber    string    `json:"registrationNumber"`
	InstitutionalLink     string    `json:"institutionalLink"`
	Position              string    `json:"position"`
	Role                  string    `json:"role"`
	Department            string    `json:"department"`
	CurrentAssignment     string    `json:"currentAssignment"`
	AdmissionDate         string    `json:"admissionDate"`
	EducationLevel        string    `json:"educationLevel"`
	EducationArea         string    `json:"educationArea"`
	DateOfBirth           string    `json:"dateOfBirth"`
	Gender                string    `json:"gender"`
	MaritalStatus         string    `json:"maritalStatus"`
	HasChildren           bool      `json:"hasChildren"`
	NumberOfChildren      *int      `json:"numberOfChildren"`
	CPF                   string    `json:"cpf"`
	RG                    string    `json:"rg"`
	RGIssuer              string    `json:"rgIssuer"`
	AddressStreet         string    `json:"addressStreet"`
	AddressNumber         string    `json:"addressNumber"`
	AddressComplement     string    `json:"addressComplement"`
	AddressNeighborhood   string    `json:"addressNeighborhood"`
	AddressCity           string    `json:"addressCity"`
	AddressState          string    `json:"addressState"`
	AddressZipCode        string    `json:"addressZipCode"`
	EmergencyContactPhone string    `json:"emergencyContactPhone"`
	MobilePhone1          string    `json:"mobilePhone1"`
	MobilePhone2          string    `json:"mobilePhone2"`
	InstitutionalEmail    string    `json:"institutionalEmail"`
	PersonalEmail         string    `json:"personalEmail"`
	FunctionalStatus      string    `json:"functionalStatus"`
	GeneralObservations   string    `json:"generalObservations"`
	Comorbidity           string    `json:"comorbidity"`
	Disability            string    `json:"disability"`
	BloodType             string    `json:"bloodType"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// Snapshot returns the tracked attributes keyed as in EmployeeFields.
func (e Employee) Snapshot() audit.Snapshot {
	return audit.Snapshot{
		"fullName":              e.FullName,
		"registrationNumber":    e.RegistrationNumber,
		"institutionalLink":     e.InstitutionalLink,
		"position":              e.Position,
		"role":                  e.Role,
		"department":            e.Department,
		"currentAssignment":     e.CurrentAssignment,
		"admissionDate":         e.AdmissionDate,
		"educationLevel":        e.EducationLevel,
		"educationArea":         e.EducationArea,
		"dateOfBirth":           e.DateOfBirth,
		"gender":                e.Gender,
		"maritalStatus":         e.MaritalStatus,
		"hasChildren":           e.HasChildren,
		"numberOfChildren":      e.NumberOfChildren,
		"cpf":                   e.CPF,
		"rg":                    e.RG,
		"rgIssuer":              e.RGIssuer,
		"addressStreet":         e.AddressStreet,
		"addressNumber":         e.AddressNumber,
		"addressComplement":     e.AddressComplement,
		"addressNeighborhood":   e.AddressNeighborhood,
		"addressCity":           e.AddressCity,
		"addressState":          e.AddressState,
		"addressZipCode":        e.AddressZipCode,
		"emergencyContactPhone": e.EmergencyContactPhone,
		"mobilePhone1":          e.MobilePhone1,
		"mobilePhone2":          e.MobilePhone2,
		"institutionalEmail":    e.InstitutionalEmail,
		"personalEmail":         e.PersonalEmail,
		"functionalStatus":      e.FunctionalStatus,
		"generalObservations":   e.GeneralObservations,
		"comorbidity":           e.Comorbidity,
		"disability":            e.Disability,
		"bloodType":             e.BloodType,
	}
}

// EmployeeInput carries create or partial-update attributes; nil means absent.
type EmployeeInput struct {
	FullName              *string `json:"fullName" validate:"omitnil,min=1" create:"required"`
	RegistrationNumber    *string `json:"registrationNumber" validate:"omitnil,min=1" create:"required"`
	InstitutionalLink     *string `json:"institutionalLink" validate:"omitnil,min=1,link" create:"required"`
	Position              *string `json:"position" validate:"omitnil,min=1" create:"required"`
	Role                  *string `json:"role"`
	Department            *string `json:"department" validate:"omitnil,min=1" create:"required"`
	CurrentAssignment     *string `json:"currentAssignment"`
	AdmissionDate         *string `json:"admissionDate" validate:"omitnil,min=1,datetime=2006-01-02" create:"required"`
	EducationLevel        *string `json:"educationLevel"`
	EducationArea         *string `json:"educationArea"`
	DateOfBirth           *string `json:"dateOfBirth" validate:"omitnil,min=1,datetime=2006-01-02" create:"required"`
	Gender                *string `json:"gender" validate:"omitnil,min=1,gender" create:"required"`
	MaritalStatus         *string `json:"maritalStatus" validate:"omitnil,min=1,maritalStatus" create:"required"`
	HasChildren           *bool   `json:"hasChildren"`
	NumberOfChildren      *int    `json:"numberOfChildren" validate:"omitnil,gte=0"`
	CPF                   *string `json:"cpf" validate:"omitnil,min=1,digits=11" create:"required"`
	RG                    *string `json:"rg" validate:"omitnil,min=1" create:"required"`
	RGIssuer              *string `json:"rgIssuer"`
	AddressStreet         *string `json:"addressStreet" validate:"omitnil,min=1" create:"required"`
	AddressNumber         *string `json:"addressNumber" validate:"omitnil,min=1" create:"required"`
	AddressComplement     *string `json:"addressComplement"`
	AddressNeighborhood   *string `json:"addressNeighborhood" validate:"omitnil,min=1" create:"required"`
	AddressCity           *string `json:"addressCity" validate:"omitnil,min=1" create:"required"`
	AddressState          *string `json:"addressState" validate:"omitnil,min=1,len=2" create:"required"`
	AddressZipCode        *string `json:"addressZipCode" validate:"omitnil,min=1,digits=8" create:"required"`
	EmergencyContactPhone *string `json:"emergencyContactPhone" validate:"omitnil,min=1" create:"required"`
	MobilePhone1          *string `json:"mobilePhone1" validate:"omitnil,min=1" create:"required"`
	MobilePhone2          *string `json:"mobilePhone2"`
	InstitutionalEmail    *string `json:"institutionalEmail" validate:"omitnil,min=1,email" create:"required"`
	PersonalEmail         *string `json:"personalEmail" validate:"omitzero,email"`
	FunctionalStatus      *string `json:"functionalStatus" validate:"omitnil,min=1,functionalStatus" create:"required"`
	GeneralObservations   *string `json:"generalObservations"`
	Comorbidity           *string `json:"comorbidity"`
	Disability            *string `json:"disability"`
	BloodType             *string `json:"bloodType"`
}

// applyTo copies every present attribute onto e.
func (in EmployeeInput) applyTo(e *Employee) {
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setStr(&e.FullName, in.FullName)
	setStr(&e.RegistrationNumber, in.RegistrationNumber)
	setStr(&e.InstitutionalLink, in.InstitutionalLink)
	setStr(&e.Position, in.Position)
	setStr(&e.Role, in.Role)
	setStr(&e.Department, in.Department)
	setStr(&e.CurrentAssignment, in.CurrentAssignment)
	setStr(&e.AdmissionDate, in.AdmissionDate)
	setStr(&e.EducationLevel, in.EducationLevel)
	setStr(&e.EducationArea, in.EducationArea)
	setStr(&e.DateOfBirth, in.DateOfBirth)
	setStr(&e.Gender, in.Gender)
	setStr(&e.MaritalStatus, in.MaritalStatus)
	if in.HasChildren != nil {
		e.HasChildren = *in.HasChildren
	}
	if in.NumberOfChildren != nil {
		n := *in.NumberOfChildren
		e.NumberOfChildren = &n
	}
	setStr(&e.CPF, in.CPF)
	setStr(&e.RG, in.RG)
	setStr(&e.RGIssuer, in.RGIssuer)
	setStr(&e.AddressStreet, in.AddressStreet)
	setStr(&e.AddressNumber, in.AddressNumber)
	setStr(&e.AddressComplement, in.AddressComplement)
	setStr(&e.AddressNeighborhood, in.AddressNeighborhood)
	setStr(&e.AddressCity, in.AddressCity)
	setStr(&e.AddressState, in.AddressState)
	setStr(&e.AddressZipCode, in.AddressZipCode)
	setStr(&e.EmergencyContactPhone, in.EmergencyContactPhone)
	setStr(&e.MobilePhone1, in.MobilePhone1)
	setStr(&e.MobilePhone2, in.MobilePhone2)
	setStr(&e.InstitutionalEmail, in.InstitutionalEmail)
	setStr(&e.PersonalEmail, in.PersonalEmail)
	setStr(&e.FunctionalStatus, in.FunctionalStatus)
	setStr(&e.GeneralObservations, in.GeneralObservations)
	setStr(&e.Comorbidity, in.Comorbidity)
	setStr(&e.Disability, in.Disability)
	setStr(&e.BloodType, in.BloodType)
}

// HistoryEntry is a stored employee change with the changer's identity.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	EmployeeID  int64     `json:"employeeId"`
	FieldName   string    `json:"fieldName"`
	OldValue    string    `json:"oldValue"`
	NewValue    string    `json:"newValue"`
	ChangedByID int64     `json:"changedById"`
	ChangedBy   *Changer  `json:"changedBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Changer identifies the identity behind a history row.
type Changer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Login string `json:"login"`
}

// EmployeeFilterKeys are the attributes accepted as exact-match list filters.
var EmployeeFilterKeys = []string{"department", "functionalStatus", "institutionalLink", "position", "gender"}

// EmployeeQuery selects a page of employees.
type EmployeeQuery struct {
	Search  string
	Filters map[string]string
	Page    int
	Limit   int
}

// EmployeePage is one page of the employee list.
type EmployeePage struct {
	Employees   []Employee `json:"employees"`
	TotalItems  int        `json:"totalItems"`
	TotalPages  int        `json:"totalPages"`
	CurrentPage int        `json:"currentPage"`
}

// EmployeeDetail is an employee with attached records.
type EmployeeDetail struct {
	Employee
	Documents   []Document   `json:"documents"`
	Annotations []Annotation `json:"annotations"`
}
