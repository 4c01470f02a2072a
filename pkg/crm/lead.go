package crm

import (
	"fmt"
	"strconv"
	"strings"
)

// RequestType classifies why the caller is contacting the agency.
type RequestType string

const (
	RequestBuyer  RequestType = "BUYER"
	RequestSeller RequestType = "SELLER"
	RequestInfo   RequestType = "INFO"
)

// LeadData is a sparse CRM record. Empty fields are unknown.
type LeadData struct {
	FullName               string      `json:"full_name,omitempty"`
	RequestType            RequestType `json:"request_type,omitempty"`
	PropertyType           string      `json:"property_type,omitempty"`
	Area                   string      `json:"area,omitempty"`
	Budget                 string      `json:"budget,omitempty"`
	Motivation             string      `json:"motivation,omitempty"`
	Urgency                string      `json:"urgency,omitempty"`
	Address                string      `json:"address,omitempty"`
	Price                  string      `json:"price,omitempty"`
	Email                  string      `json:"email,omitempty"`
	Phone                  string      `json:"phone,omitempty"`
	ConversationTranscript string      `json:"conversation_transcript,omitempty"`
}

// PropertyInfo is the listing summary returned by GET /property/{code}.
type PropertyInfo struct {
	Code  string `json:"code"`
	Price string `json:"price"`
	Area  string `json:"area"`
	Zone  string `json:"zone"`
	Type  string `json:"type"`
}

func (l *LeadData) fields() []struct {
	key string
	ptr *string
} {
	rt := (*string)(&l.RequestType)
	return []struct {
		key string
		ptr *string
	}{
		{"full_name", &l.FullName},
		{"request_type", rt},
		{"property_type", &l.PropertyType},
		{"area", &l.Area},
		{"budget", &l.Budget},
		{"motivation", &l.Motivation},
		{"urgency", &l.Urgency},
		{"address", &l.Address},
		{"price", &l.Price},
		{"email", &l.Email},
		{"phone", &l.Phone},
		{"conversation_transcript", &l.ConversationTranscript},
	}
}

// Merge overwrites every field of l for which update has a non-empty value.
func (l *LeadData) Merge(update LeadData) {
	dst := l.fields()
	src := update.fields()
	for i := range dst {
		if v := *src[i].ptr; v != "" {
			*dst[i].ptr = v
		}
	}
}

// IsZero reports whether no field is known.
func (l LeadData) IsZero() bool {
	return l == LeadData{}
}

// LeadDataFromArgs reads a lead record from model-provided tool arguments.
// Numbers and booleans are accepted where strings are expected; unknown keys
// are ignored.
func LeadDataFromArgs(args map[string]any) LeadData {
	var l LeadData
	for _, f := range l.fields() {
		if v, ok := args[f.key]; ok {
			*f.ptr = argString(v)
		}
	}
	l.RequestType = RequestType(strings.ToUpper(strings.TrimSpace(string(l.RequestType))))
	return l
}

func argString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
