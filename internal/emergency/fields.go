// Package emergency merges the fields extracted on each turn into one
// session-wide record and decides when it is worth relaying to dispatch.
package emergency

import "strings"

// Fields is the per-turn extraction schema. Every value is optional.
type Fields struct {
	Address        string `json:"address"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	EmergencyType  string `json:"emergency_type"`
	ThreatDetails  string `json:"threat_details"`
	Injuries       string `json:"injuries"`
	PeopleInvolved string `json:"people_involved"`
	Urgency        string `json:"urgency"`
	SafetyInfo     string `json:"safety_info"`
}

// Field names in schema order.
const (
	FieldAddress        = "address"
	FieldName           = "name"
	FieldPhone          = "phone"
	FieldEmergencyType  = "emergency_type"
	FieldThreatDetails  = "threat_details"
	FieldInjuries       = "injuries"
	FieldPeopleInvolved = "people_involved"
	FieldUrgency        = "urgency"
	FieldSafetyInfo     = "safety_info"
)

var (
	identityFields = []string{FieldAddress, FieldName, FieldPhone}
	detailFields   = []string{
		FieldEmergencyType, FieldThreatDetails, FieldInjuries,
		FieldPeopleInvolved, FieldUrgency, FieldSafetyInfo,
	}
)

// FieldNames lists every schema field.
func FieldNames() []string {
	return append(append([]string{}, identityFields...), detailFields...)
}

// FromMap builds Fields from a loosely typed extraction. Unknown keys are
// ignored; the legacy "instructions" key fills safety_info when absent.
func FromMap(m map[string]any) Fields {
	var f Fields
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			continue
		}
		f.set(k, s)
	}
	if f.SafetyInfo == "" {
		if s, ok := m["instructions"].(string); ok {
			f.SafetyInfo = s
		}
	}
	return f
}

// Get returns the value of a named field.
func (f Fields) Get(name string) string {
	switch name {
	case FieldAddress:
		return f.Address
	case FieldName:
		return f.Name
	case FieldPhone:
		return f.Phone
	case FieldEmergencyType:
		return f.EmergencyType
	case FieldThreatDetails:
		return f.ThreatDetails
	case FieldInjuries:
		return f.Injuries
	case FieldPeopleInvolved:
		return f.PeopleInvolved
	case FieldUrgency:
		return f.Urgency
	case FieldSafetyInfo:
		return f.SafetyInfo
	}
	return ""
}

func (f *Fields) set(name, v string) bool {
	switch name {
	case FieldAddress:
		f.Address = v
	case FieldName:
		f.Name = v
	case FieldPhone:
		f.Phone = v
	case FieldEmergencyType:
		f.EmergencyType = v
	case FieldThreatDetails:
		f.ThreatDetails = v
	case FieldInjuries:
		f.Injuries = v
	case FieldPeopleInvolved:
		f.PeopleInvolved = v
	case FieldUrgency:
		f.Urgency = v
	case FieldSafetyInfo:
		f.SafetyInfo = v
	default:
		return false
	}
	return true
}

// Empty reports whether no field carries a value.
func (f Fields) Empty() bool {
	for _, n := range FieldNames() {
		if blank(f.Get(n)) {
			continue
		}
		return false
	}
	return true
}

// HasIdentity reports whether name, phone or address is known.
func (f Fields) HasIdentity() bool {
	for _, n := range identityFields {
		if !blank(f.Get(n)) {
			return true
		}
	}
	return false
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
