package catalog

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk form of a catalog and its requirement matrix
//
//	permissions:
//	  - action: patient.create
//	    display_name: Register patient
//	    category: patient
//	    risk: medium
//	actions:
//	  patient.create:
//	    workplace_roles: [Owner, Pharmacist, Technician]
//	    features: [patientLimit]
//	    requires_active_subscription: true
//	    allow_trial_access: true
type Document struct {
	Permissions []Permission           `yaml:"permissions"`
	Actions     map[string]Requirement `yaml:"actions"`
}

// Load parses a matrix document. Every action in the matrix must be in the
// catalog. Catalog entries without a matrix row are allowed and fail closed.
func Load(r io.Reader) (*Catalog, *Matrix, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidMatrix, err)
	}

	cat, err := NewCatalog(doc.Permissions)
	if err != nil {
		return nil, nil, err
	}
	for action := range doc.Actions {
		if !cat.Has(action) {
			return nil, nil, fmt.Errorf("%w: action %s has no catalog entry", ErrInvalidMatrix, action)
		}
	}
	m, err := NewMatrix(doc.Actions)
	if err != nil {
		return nil, nil, err
	}
	return cat, m, nil
}

// LoadFile loads a matrix document from disk. An empty path yields the
// built-in defaults.
func LoadFile(path string) (*Catalog, *Matrix, error) {
	if path == "" {
		return DefaultCatalog(), DefaultMatrix(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open matrix file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Export writes the catalog and matrix as a document
func Export(w io.Writer, cat *Catalog, m *Matrix) error {
	doc := Document{
		Permissions: cat.List(),
		Actions:     make(map[string]Requirement, m.Len()),
	}
	for _, a := range m.Actions() {
		doc.Actions[a] = m.requirements[a]
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode matrix: %w", err)
	}
	return enc.Close()
}
