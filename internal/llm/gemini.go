// Package llm provides a model-backed negotiation strategy. It is always used
// behind negotiation.Negotiator, which falls back to the deterministic
// strategy on any error, timeout or out-of-bounds answer.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"

	"github.com/omnicirculus/dealengine/internal/domain"
	"github.com/omnicirculus/dealengine/internal/negotiation"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash-001"

var (
	errEmptyResponse   = errors.New("empty response from model")
	errUnexpectedPart  = errors.New("unexpected response part type")
	errMalformedAnswer = errors.New("malformed model answer")
)

// GeminiStrategy implements negotiation.Strategy on top of Gemini in JSON mode.
type GeminiStrategy struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiStrategy opens a client for modelName (DefaultModel when empty).
func NewGeminiStrategy(ctx context.Context, apiKey, modelName string) (*GeminiStrategy, error) {
	if apiKey == "" {
		return nil, errors.New("llm.NewGeminiStrategy: api key is empty")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("llm.NewGeminiStrategy: %w", err)
	}
	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.4)
	return &GeminiStrategy{client: client, model: model}, nil
}

// Close releases the underlying client.
func (g *GeminiStrategy) Close() error {
	return g.client.Close()
}

// Decide implements negotiation.Strategy.
func (g *GeminiStrategy) Decide(ctx context.Context, in negotiation.Input) (negotiation.Decision, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(buildPrompt(in)))
	if err != nil {
		return negotiation.Decision{}, fmt.Errorf("llm.Decide: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return negotiation.Decision{}, errEmptyResponse
	}
	txt, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return negotiation.Decision{}, errUnexpectedPart
	}
	return parseDecision(string(txt))
}

// ──────────────────────────────────────────────────────────────────────────────
// Prompt & answer
// ──────────────────────────────────────────────────────────────────────────────

// answer is the JSON object the model is asked to return.
type answer struct {
	Action     string          `json:"action"`
	Price      decimal.Decimal `json:"price"`
	Message    string          `json:"message"`
	FinalOffer bool            `json:"final_offer"`
}

func parseDecision(raw string) (negotiation.Decision, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var a answer
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return negotiation.Decision{}, fmt.Errorf("%w: %v", errMalformedAnswer, err)
	}
	action := negotiation.Action(strings.ToUpper(strings.TrimSpace(a.Action)))
	if !action.IsValid() {
		return negotiation.Decision{}, fmt.Errorf("%w: action %q", errMalformedAnswer, a.Action)
	}
	if strings.TrimSpace(a.Message) == "" {
		return negotiation.Decision{}, fmt.Errorf("%w: empty message", errMalformedAnswer)
	}
	d := negotiation.Decision{Action: action, Price: a.Price, Message: a.Message}
	if a.FinalOffer {
		d.Signal = domain.SignalFinalOffer
	}
	return d, nil
}

func buildPrompt(in negotiation.Input) string {
	var b strings.Builder

	role := "buyer"
	goal := "buy the item as cheaply as possible without losing the deal"
	if in.Actor == domain.ActorSellerAgent {
		role = "seller"
		goal = fmt.Sprintf("sell at the highest price you can. Never go below %s", in.FloorPrice.StringFixed(2))
	}
	fmt.Fprintf(&b, "You are the %s's negotiation agent on a B2B surplus materials marketplace. Your goal: %s.\n\n", role, goal)

	if in.Phase == domain.PhaseTransportNegotiating {
		fmt.Fprintf(&b, "Price is already agreed at %s. You are now discussing delivery.\n", fmtPtr(in.FinalPrice))
		fmt.Fprintf(&b, "Distance: %d km. Standard delivery cost: %s. The price field must equal this cost.\n", in.DistanceKm, in.TransportCost.StringFixed(2))
	} else {
		fmt.Fprintf(&b, "Listing price: %s\n", in.InitialPrice.StringFixed(2))
		fmt.Fprintf(&b, "Seller's current ask: %s\n", in.SellerAsk.StringFixed(2))
		fmt.Fprintf(&b, "Buyer's current offer: %s\n", fmtPtr(in.BuyerOffer))
		if in.Actor == domain.ActorBuyerAgent {
			b.WriteString("To ACCEPT you must accept exactly the seller's current ask.\n")
		} else {
			b.WriteString("To ACCEPT you must accept exactly the buyer's current offer.\n")
		}
	}

	b.WriteString("\nRecent conversation:\n")
	for _, e := range in.Recent {
		fmt.Fprintf(&b, "- %s: %s\n", e.Actor, e.Message)
	}

	b.WriteString(`
Respond in JSON only:
{
  "action": "OFFER" | "ACCEPT" | "DECLINE",
  "price": number,
  "message": "one or two short sentences to the counterpart",
  "final_offer": true if this is your last concession
}
`)
	return b.String()
}

func fmtPtr(d *decimal.Decimal) string {
	if d == nil {
		return "none yet"
	}
	return d.StringFixed(2)
}
