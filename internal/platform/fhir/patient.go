package fhir

// Patient is the canonical patient resource built once per source row at
// mapping time. It is treated as immutable after construction: the mapper
// returns it, the validator copies it if sanitization changes anything, and
// the transmission layer serializes it as-is.
type Patient struct {
	ResourceType         string       `json:"resourceType"`
	ID                   string       `json:"id,omitempty"`
	Meta                 *Meta        `json:"meta,omitempty"`
	Identifier           []Identifier `json:"identifier,omitempty"`
	Name                 []HumanName  `json:"name,omitempty"`
	Gender               string       `json:"gender,omitempty"`
	BirthDate            string       `json:"birthDate,omitempty"`
	Address              []Address    `json:"address,omitempty"`
	ManagingOrganization *Reference   `json:"managingOrganization,omitempty"`
}

func NewPatient() *Patient {
	return &Patient{ResourceType: "Patient"}
}

// ShallowProjection returns the minimal copy of p that downstream stores
// accept: identifiers, gender, birth date, and the managing-organization
// reference. Name, address, and the upstream registry's own id are excluded
// because they are owned by (or only valid within) the master index.
func (p *Patient) ShallowProjection() *Patient {
	proj := NewPatient()
	proj.Identifier = append(proj.Identifier, p.Identifier...)
	proj.Gender = p.Gender
	proj.BirthDate = p.BirthDate
	if p.ManagingOrganization != nil {
		ref := *p.ManagingOrganization
		proj.ManagingOrganization = &ref
	}
	return proj
}
