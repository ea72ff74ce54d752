package sim

import "fmt"

// Instantiation priorities. Lower values sort first.
const (
	PriorityNamed  = 0 // unique modules and modules bound to an explicitly named target
	PriorityByType = 1 // modules bound to targets selected by detector type
	PriorityAll    = 2 // modules bound to every known target
)

// ModuleIdentifier identifies one module instance.
// Two identifiers denote the same module iff TypeName and TargetName match;
// Priority only orders identifiers and never takes part in identity.
type ModuleIdentifier struct {
	TypeName   string
	TargetName string
	Priority   int
}

// identity is the map key used for duplicate detection.
type identity struct {
	typeName   string
	targetName string
}

func (id ModuleIdentifier) identity() identity {
	return identity{typeName: id.TypeName, targetName: id.TargetName}
}

// SameModule reports whether id and other denote the same module.
func (id ModuleIdentifier) SameModule(other ModuleIdentifier) bool {
	return id.identity() == other.identity()
}

// Unique reports whether the identifier belongs to a unique (target-less) module.
func (id ModuleIdentifier) Unique() bool {
	return id.TargetName == ""
}

func (id ModuleIdentifier) String() string {
	if id.TargetName == "" {
		return id.TypeName
	}
	return fmt.Sprintf("%s:%s", id.TypeName, id.TargetName)
}

// Less orders identifiers by priority, then type name, then target name.
func Less(a, b ModuleIdentifier) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.TypeName != b.TypeName {
		return a.TypeName < b.TypeName
	}
	return a.TargetName < b.TargetName
}

// Compare is Less in the three-way form expected by slices.SortFunc.
func Compare(a, b ModuleIdentifier) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	default:
		return 0
	}
}
