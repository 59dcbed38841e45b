// Package geom provides the molecular geometry value type shared by the
// pipeline stages, plus XYZ file reading and writing.
//
// The pipeline treats geometries as opaque coordinate sets: chemistry
// numerics live behind the calculator and stage-runner interfaces.
package geom

// Geometry is an ordered set of atoms with Cartesian coordinates in
// Angstrom.
//
// Geometries are value-like: stage runners must Clone before mutating a
// geometry they do not own.
type Geometry struct {
	Elements []string     `json:"elements"`
	Coords   [][3]float64 `json:"coords"`

	// Charge and Multiplicity describe the electronic state of the
	// system the coordinates belong to. Calculators and external stage
	// executables read them; pure-geometry math ignores them.
	Charge       int `json:"charge,omitempty"`
	Multiplicity int `json:"multiplicity,omitempty"`

	// Comment is the XYZ frame comment line, when read from a file.
	// Ignored by Equal.
	Comment string `json:"comment,omitempty"`
}

// NumAtoms returns the atom count.
func (g Geometry) NumAtoms() int {
	return len(g.Elements)
}

// Clone returns a deep copy.
func (g Geometry) Clone() Geometry {
	out := Geometry{
		Elements:     make([]string, len(g.Elements)),
		Coords:       make([][3]float64, len(g.Coords)),
		Charge:       g.Charge,
		Multiplicity: g.Multiplicity,
		Comment:      g.Comment,
	}
	copy(out.Elements, g.Elements)
	copy(out.Coords, g.Coords)
	return out
}

// Equal reports exact equality of elements, coordinates, and
// electronic state.
//
// Comparison is bitwise on coordinates: fixed-endpoint invariants are
// checked with Equal, so no tolerance is applied.
func (g Geometry) Equal(other Geometry) bool {
	if len(g.Elements) != len(other.Elements) {
		return false
	}
	if g.Charge != other.Charge || g.Multiplicity != other.Multiplicity {
		return false
	}
	for i := range g.Elements {
		if g.Elements[i] != other.Elements[i] {
			return false
		}
		if g.Coords[i] != other.Coords[i] {
			return false
		}
	}
	return true
}
