package hr

import (
	"strings"

	"rhgestor.org/internal/textfmt"
	"rhgestor.org/internal/validation"
)

func init() {
	validation.RegisterEnum("link", InstitutionalLinks)
	validation.RegisterEnum("gender", Genders)
	validation.RegisterEnum("maritalStatus", MaritalStatuses)
	validation.RegisterEnum("functionalStatus", FunctionalStatuses)
	validation.RegisterEnum("category", AnnotationCategories)
}

// normalize trims input and rewrites all-caps free text. Codes, identifiers,
// dates and enumerations keep their casing; emails are lower-cased.
func (in *EmployeeInput) normalize() {
	titled := []*string{
		in.FullName, in.Position, in.Role, in.Department, in.CurrentAssignment,
		in.EducationLevel, in.EducationArea, in.AddressStreet, in.AddressComplement,
		in.AddressNeighborhood, in.AddressCity, in.GeneralObservations,
		in.Comorbidity, in.Disability,
	}
	for _, p := range titled {
		if p != nil {
			*p = textfmt.EnforceCase(strings.TrimSpace(*p))
		}
	}
	kept := []*string{
		in.RegistrationNumber, in.InstitutionalLink, in.AdmissionDate, in.DateOfBirth,
		in.Gender, in.MaritalStatus, in.CPF, in.RG, in.RGIssuer, in.AddressNumber,
		in.AddressZipCode, in.EmergencyContactPhone, in.MobilePhone1, in.MobilePhone2,
		in.FunctionalStatus, in.BloodType,
	}
	for _, p := range kept {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
	if in.AddressState != nil {
		*in.AddressState = strings.ToUpper(strings.TrimSpace(*in.AddressState))
	}
	for _, p := range []*string{in.InstitutionalEmail, in.PersonalEmail} {
		if p != nil {
			*p = textfmt.LowerEmail(*p)
		}
	}
}

// validate checks present fields. With creating set, required fields must be
// present; otherwise they only must not be cleared.
func (in *EmployeeInput) validate(creating bool) error {
	return validation.Struct(in, creating)
}
