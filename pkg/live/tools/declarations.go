// Package tools declares the CRM functions the voice agent may call and
// dispatches the calls the model issues.
package tools

import "google.golang.org/genai"

const (
	StartLeadSession     = "start_lead_session"
	SaveLeadData         = "save_lead_data"
	GetPropertyInfo      = "get_property_info"
	HandleContactRefusal = "handle_contact_refusal"
)

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

// Declarations returns the function declarations sent in the session setup.
func Declarations() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{
		{
			Name:        StartLeadSession,
			Description: "Inizializza una nuova sessione vocale con il Caller ID. Va chiamata subito, all'inizio della conversazione.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"caller_phone": str("Numero di telefono del chiamante (Caller ID)"),
					"agency_id":    {Type: genai.TypeNumber, Description: "ID dell'agenzia"},
				},
				Required: []string{"caller_phone", "agency_id"},
			},
		},
		{
			Name:        SaveLeadData,
			Description: "Salva nel CRM i dati del lead raccolti durante la conversazione.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"session_id": str("ID sessione restituito da start_lead_session"),
					"lead_data": {
						Type:        genai.TypeObject,
						Description: "Dati del lead raccolti",
						Properties: map[string]*genai.Schema{
							"full_name":               str(""),
							"request_type":            {Type: genai.TypeString, Enum: []string{"BUYER", "SELLER", "INFO"}},
							"property_type":           str(""),
							"area":                    str(""),
							"budget":                  str(""),
							"motivation":              str(""),
							"urgency":                 str(""),
							"address":                 str(""),
							"price":                   str(""),
							"email":                   str(""),
							"phone":                   str(""),
							"conversation_transcript": str(""),
						},
						Required: []string{"full_name", "request_type", "conversation_transcript"},
					},
				},
				Required: []string{"session_id", "lead_data"},
			},
		},
		{
			Name:        GetPropertyInfo,
			Description: "Recupera le informazioni su un immobile a partire dal suo codice.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"property_code": str("Codice immobile (es: DEMO001)"),
				},
				Required: []string{"property_code"},
			},
		},
		{
			Name:        HandleContactRefusal,
			Description: "Registra il rifiuto del chiamante di lasciare un contatto. Dopo due rifiuti chiudi la chiamata con gentilezza.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"session_id":    str("ID sessione restituito da start_lead_session"),
					"refusal_count": {Type: genai.TypeNumber, Description: "Numero di rifiuti (1 o 2)"},
				},
				Required: []string{"session_id", "refusal_count"},
			},
		},
	}
}
