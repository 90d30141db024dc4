package usage

// UnitType is the unit a usage amount is measured in
type UnitType string

const (
	UnitTypeToken   UnitType = "token"
	UnitTypeRequest UnitType = "request"
	UnitTypeByte    UnitType = "byte"
	UnitTypeSeconds UnitType = "seconds"
)

// AllUnitTypes returns every supported unit type
func AllUnitTypes() []UnitType {
	return []UnitType{UnitTypeToken, UnitTypeRequest, UnitTypeByte, UnitTypeSeconds}
}

// String returns the string representation of UnitType
func (u UnitType) String() string {
	return string(u)
}

// IsValid returns true if the unit type is supported
func (u UnitType) IsValid() bool {
	switch u {
	case UnitTypeToken, UnitTypeRequest, UnitTypeByte, UnitTypeSeconds:
		return true
	}
	return false
}
