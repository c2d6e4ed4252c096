package fhir

import "encoding/json"

// Bundle is the paged search/response envelope returned by the registries.
// Entry resources are kept raw and decoded on demand because a bundle from
// the mediator can interleave resource types.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type,omitempty"`
	Total        int           `json:"total"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// Patients decodes every Patient entry in the bundle, skipping entries of
// other resource types.
func (b *Bundle) Patients() []*Patient {
	var out []*Patient
	for _, e := range b.Entry {
		var p Patient
		if err := json.Unmarshal(e.Resource, &p); err != nil {
			continue
		}
		if p.ResourceType != "Patient" {
			continue
		}
		out = append(out, &p)
	}
	return out
}
