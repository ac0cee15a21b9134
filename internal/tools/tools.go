// Package tools implements the lead-tagging functions the model may call.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/assistant"
	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

const (
	TagLeadInfo      = "tag_lead_info"
	UpdateLeadStatus = "update_lead_status"
)

// LeadStore is the slice of store.Store the tools write to.
type LeadStore interface {
	UpsertLeadFacts(ctx context.Context, phone string, facts models.LeadFacts) (models.Lead, error)
	UpdateConversationStatus(ctx context.Context, conversationID string, status models.ConversationStatus) error
	GetConversationStatus(ctx context.Context, conversationID string) (models.ConversationStatus, error)
}

// Result is returned to the model as the tool output.
type Result struct {
	Success       bool     `json:"success"`
	UpdatedFields []string `json:"updatedFields"`
}

// Tools binds the lead functions to a store. Conversation ids are lead phone numbers.
type Tools struct {
	store LeadStore
}

func New(s LeadStore) *Tools {
	return &Tools{store: s}
}

// Register binds both functions on d.
func (t *Tools) Register(d *assistant.Dispatcher) {
	defs := Definitions()
	d.Register(defs[0], t.TagLeadInfo)
	d.Register(defs[1], t.UpdateLeadStatus)
}

// Definitions returns the JSON schemas of tag_lead_info and update_lead_status, in that order.
func Definitions() []assistant.ToolDefinition {
	return []assistant.ToolDefinition{
		{
			Name:        TagLeadInfo,
			Description: "Etiqueta información detectada del lead en la base de datos",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"hasShopify": map[string]any{
						"type":        "boolean",
						"description": "true si el usuario confirmó que usa Shopify, false si usa otra plataforma",
					},
					"name": map[string]any{
						"type":        "string",
						"description": "Nombre del usuario si lo mencionó",
					},
					"email": map[string]any{
						"type":        "string",
						"description": "Email del usuario si lo proporcionó",
					},
					"businessType": map[string]any{
						"type":        "string",
						"description": `Tipo de negocio (ej: "ropa deportiva", "cosméticos")`,
					},
					"monthlyRevenueCLP": map[string]any{
						"type":        "number",
						"description": "Ventas mensuales en CLP. Ejemplos: 5 palos = 5000000, 8 millones = 8000000",
					},
					"investsInAds": map[string]any{
						"type":        "boolean",
						"description": "true si mencionó que invierte en publicidad",
					},
					"adSpendMonthlyCLP": map[string]any{
						"type":        "number",
						"description": "Gasto mensual en publicidad en CLP",
					},
					"painPoints": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Problemas o frustraciones mencionadas",
					},
				},
			},
		},
		{
			Name:        UpdateLeadStatus,
			Description: "Actualiza el score, temperatura y outcome del lead",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"leadScore": map[string]any{
						"type":        "number",
						"description": "Score del lead de 0-10",
						"minimum":     0,
						"maximum":     10,
					},
					"leadTemperature": map[string]any{
						"type":        "string",
						"enum":        []string{"hot", "warm", "cold"},
						"description": "Temperatura del lead",
					},
					"readyToSchedule": map[string]any{
						"type":        "boolean",
						"description": "true si el lead está listo para agendar reunión",
					},
					"outcome": map[string]any{
						"type":        "string",
						"enum":        []string{"scheduled", "disqualified", "pending", "abandoned", "link_sent"},
						"description": "Resultado de la conversación",
					},
				},
			},
		},
	}
}

// ErrInvalidArguments wraps every argument validation failure.
var ErrInvalidArguments = errors.New("invalid arguments")

type tagArgs struct {
	HasShopify        *bool    `json:"hasShopify"`
	Name              *string  `json:"name"`
	Email             *string  `json:"email"`
	BusinessType      *string  `json:"businessType"`
	MonthlyRevenueCLP *float64 `json:"monthlyRevenueCLP"`
	InvestsInAds      *bool    `json:"investsInAds"`
	AdSpendMonthlyCLP *float64 `json:"adSpendMonthlyCLP"`
	PainPoints        []string `json:"painPoints"`
}

// TagLeadInfo merges the provided facts into the lead keyed by conversationID.
// Empty strings and zero amounts are ignored.
func (t *Tools) TagLeadInfo(ctx context.Context, conversationID string, raw json.RawMessage) (any, error) {
	var args tagArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}

	var (
		facts   models.LeadFacts
		updated []string
	)
	if args.HasShopify != nil {
		facts.HasShopify = args.HasShopify
		updated = append(updated, "hasShopify")
	}
	if s := trimmed(args.Name); s != nil {
		facts.Name = s
		updated = append(updated, "name")
	}
	if s := trimmed(args.Email); s != nil {
		if !strings.Contains(*s, "@") {
			return nil, fmt.Errorf("%w: email %q", ErrInvalidArguments, *s)
		}
		facts.Email = s
		updated = append(updated, "email")
	}
	if s := trimmed(args.BusinessType); s != nil {
		facts.BusinessType = s
		updated = append(updated, "businessType")
	}
	if v, err := amount("monthlyRevenueCLP", args.MonthlyRevenueCLP); err != nil {
		return nil, err
	} else if v != nil {
		facts.MonthlyRevenueCLP = v
		updated = append(updated, "monthlyRevenueCLP")
	}
	if args.InvestsInAds != nil {
		facts.InvestsInAds = args.InvestsInAds
		updated = append(updated, "investsInAds")
	}
	if v, err := amount("adSpendMonthlyCLP", args.AdSpendMonthlyCLP); err != nil {
		return nil, err
	} else if v != nil {
		facts.AdSpendMonthlyCLP = v
		updated = append(updated, "adSpendMonthlyCLP")
	}
	for _, p := range args.PainPoints {
		if p = strings.TrimSpace(p); p != "" {
			facts.PainPoints = append(facts.PainPoints, p)
		}
	}
	if len(facts.PainPoints) > 0 {
		updated = append(updated, "painPoints")
	}

	if len(updated) == 0 {
		return Result{Success: true, UpdatedFields: []string{}}, nil
	}
	if _, err := t.store.UpsertLeadFacts(ctx, conversationID, facts); err != nil {
		return nil, fmt.Errorf("upsert lead: %w", err)
	}
	logx.Info().Str("conversation_id", conversationID).Strs("fields", updated).Msg("lead info tagged")
	return Result{Success: true, UpdatedFields: updated}, nil
}

type statusArgs struct {
	LeadScore       *float64 `json:"leadScore"`
	LeadTemperature *string  `json:"leadTemperature"`
	ReadyToSchedule *bool    `json:"readyToSchedule"`
	Outcome         *string  `json:"outcome"`
}

// UpdateLeadStatus overlays the provided fields on the stored status. leadScore
// is on a 0-10 scale and stored as 0-100.
func (t *Tools) UpdateLeadStatus(ctx context.Context, conversationID string, raw json.RawMessage) (any, error) {
	var args statusArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}

	status, err := t.store.GetConversationStatus(ctx, conversationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load status: %w", err)
	}

	var updated []string
	if args.LeadScore != nil {
		v := *args.LeadScore
		if math.IsNaN(v) || v < 0 || v > 10 {
			return nil, fmt.Errorf("%w: leadScore %v outside [0,10]", ErrInvalidArguments, v)
		}
		status.Score = int(math.Round(v * 10))
		updated = append(updated, "leadScore")
	}
	if args.LeadTemperature != nil {
		temp := models.Temperature(strings.ToLower(strings.TrimSpace(*args.LeadTemperature)))
		if !models.IsValidTemperature(temp) {
			return nil, fmt.Errorf("%w: leadTemperature %q", ErrInvalidArguments, *args.LeadTemperature)
		}
		status.Temperature = temp
		updated = append(updated, "leadTemperature")
	}
	if args.ReadyToSchedule != nil {
		status.ReadyToSchedule = *args.ReadyToSchedule
		updated = append(updated, "readyToSchedule")
	}
	if args.Outcome != nil {
		outcome := models.Outcome(strings.ToLower(strings.TrimSpace(*args.Outcome)))
		if !models.IsValidOutcome(outcome) {
			return nil, fmt.Errorf("%w: outcome %q", ErrInvalidArguments, *args.Outcome)
		}
		status.Outcome = outcome
		updated = append(updated, "outcome")
		if outcome == models.OutcomeScheduled {
			status.ReadyToSchedule = true
		}
	}

	if len(updated) == 0 {
		return Result{Success: true, UpdatedFields: []string{}}, nil
	}
	status.UpdatedAt = time.Now().UTC()
	if err := t.store.UpdateConversationStatus(ctx, conversationID, status); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	logx.Info().Str("conversation_id", conversationID).Strs("fields", updated).Msg("lead status updated")
	return Result{Success: true, UpdatedFields: updated}, nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func amount(field string, v *float64) (*int64, error) {
	if v == nil || *v == 0 {
		return nil, nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return nil, fmt.Errorf("%w: %s %v", ErrInvalidArguments, field, *v)
	}
	n := int64(math.Round(*v))
	return &n, nil
}
