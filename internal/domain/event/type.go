package event

// Type represents the type of a change event
type Type string

const (
	TypeStatusChanged Type = "application.status_changed"
	TypeHired         Type = "application.hired"
	TypeRejected      Type = "application.rejected"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is known
func (t Type) IsValid() bool {
	switch t {
	case TypeStatusChanged, TypeHired, TypeRejected:
		return true
	default:
		return false
	}
}
