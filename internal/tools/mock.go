package tools

import (
	"context"
	"strings"
)

// Demo tools used out of the box so the agent can be exercised without
// any customer data. They return fixed values; the point is that numbers
// in replies come from tool results, never from the planner.

type GetHelpTool struct{}

func (GetHelpTool) Name() string { return "get_help" }
func (GetHelpTool) Scopes() []string { return []string{ScopeRead} }
func (GetHelpTool) Args() []ArgSpec { return nil }

func (GetHelpTool) Description() string {
	return "Devuelve ayuda general sobre qué puede hacer el agente (modo demo)."
}

func (GetHelpTool) Run(ctx context.Context, args map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"ok": true,
		"help": []string{
			"Podés pedir: ayuda, identificar cliente, obtener un reporte demo, o crear un ticket (requiere confirmación).",
			"Ejemplos: 'ayuda', 'identificar Juan', 'reporte 2025-12 cliente 123', 'crear ticket por problema X'",
		},
	}, nil
}

type IdentifyCustomerTool struct{}

func (IdentifyCustomerTool) Name() string { return "identify_customer" }
func (IdentifyCustomerTool) Scopes() []string { return []string{ScopeRead} }

func (IdentifyCustomerTool) Description() string {
	return "Identifica un cliente a partir de un texto (mock)."
}

func (IdentifyCustomerTool) Args() []ArgSpec {
	return []ArgSpec{
		{Name: "customer_hint", Type: ArgString, Description: "Any identifier or hint"},
	}
}

func (IdentifyCustomerTool) Run(ctx context.Context, args map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	hint, _ := args["customer_hint"].(string)
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return map[string]interface{}{"ok": true, "matched": false, "candidates": []string{}}, nil
	}
	return map[string]interface{}{
		"ok":      true,
		"matched": true,
		"customer": map[string]interface{}{
			"id":      "CUST_001",
			"display": titleCase(hint),
		},
		"confidence": 0.72,
	}, nil
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

type GetReportTool struct{}

func (GetReportTool) Name() string { return "get_report" }
func (GetReportTool) Scopes() []string { return []string{ScopeRead} }
func (GetReportTool) Description() string {
	return "Devuelve un reporte dummy (mock). Útil para demostrar que números vienen SOLO de tools."
}

func (GetReportTool) Args() []ArgSpec {
	return []ArgSpec{
		{Name: "cliente_ref", Type: ArgString, Required: true,
			Description: "ID o referencia del cliente",
			Aliases:     []string{"customer_id", "client_id"}},
		{Name: "periodo", Type: ArgString, Required: true,
			Description: "Periodo YYYY-MM",
			Aliases:     []string{"period"}},
		{Name: "topic", Type: ArgString, Description: "demo topic"},
	}
}

func (GetReportTool) Run(ctx context.Context, args map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	topic, _ := args["topic"].(string)
	if topic == "" {
		topic = "summary"
	}
	return map[string]interface{}{
		"ok":          true,
		"topic":       topic,
		"cliente_ref": args["cliente_ref"],
		"periodo":     args["periodo"],
		"values": map[string]interface{}{
			"metric_a": 123,
			"metric_b": 456,
			"note":     "Valores dummy (mock).",
		},
	}, nil
}

type CreateTicketTool struct{}

func (CreateTicketTool) Name() string { return "create_ticket" }
func (CreateTicketTool) Scopes() []string { return []string{ScopeWrite} }
func (CreateTicketTool) Description() string {
	return "Crea un ticket (mock). Acción de escritura: requiere confirmación 2 pasos."
}

func (CreateTicketTool) Args() []ArgSpec {
	return []ArgSpec{
		{Name: "title", Type: ArgString, Required: true, Description: "Título corto del ticket"},
		{Name: "detail", Type: ArgString, Required: true, Description: "Detalle del problema"},
	}
}

func (CreateTicketTool) Run(ctx context.Context, args map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	// Reaching this point means the call was already confirmed.
	return map[string]interface{}{
		"ok":        true,
		"ticket_id": "TCK-1001",
		"title":     args["title"],
		"status":    "created",
	}, nil
}
