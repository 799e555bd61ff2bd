package graph

import "strings"

// DefaultBaseName prefixes every tenant graph name
const DefaultBaseName = "kg"

// Naming maps projects to tenant graph names: "{base}_{projectId}". The
// base must not contain an underscore so the mapping is reversible.
type Naming struct {
	Base string
}

// NewNaming returns the naming scheme for base, defaulting to "kg"
func NewNaming(base string) Naming {
	if base == "" {
		base = DefaultBaseName
	}
	return Naming{Base: base}
}

// GraphName returns the tenant graph of a project
func (n Naming) GraphName(projectID string) string {
	return n.Base + "_" + projectID
}

// ProjectID reverses GraphName. ok is false for graphs outside the scheme.
func (n Naming) ProjectID(graphName string) (string, bool) {
	id, ok := strings.CutPrefix(graphName, n.Base+"_")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
