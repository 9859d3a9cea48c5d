// Package continuation decides whether a message adds to an order the
// customer just placed instead of starting a new one.
package continuation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"order-workers/internal/models"
	"order-workers/internal/ordering/textnorm"
)

const (
	DefaultWindow = 10 * time.Minute

	// MarkerConfidence is used for explicit continuation phrases.
	MarkerConfidence = 0.9
	// decayFloor is the temporal confidence at the window boundary.
	decayFloor = 0.5
)

// Phrases are matched against folded text on word boundaries.
var (
	rejectionPhrases = []string{
		"no", "ya esta", "ya es todo", "eso es todo", "es todo", "nada mas",
		"cancelar", "cancela", "cancelalo", "nuevo pedido", "otro pedido",
		"pedido nuevo", "pedido aparte", "por aparte",
	}
	continuationMarkers = []string{
		"tambien", "y ademas", "ademas", "agrega", "agregale", "agregame",
		"anade", "anadele", "sumale", "suma", "me falto", "se me olvido",
		"incluye", "y otra", "y otro", "aparte",
	}
	purchaseVerbs = map[string]bool{
		"quiero": true, "quisiera": true, "dame": true, "deme": true,
		"mandame": true, "manda": true, "mande": true, "envia": true,
		"enviame": true, "necesito": true, "ponme": true, "traeme": true,
		"regalame": true, "pasame": true,
	}
)

// Input is everything the detector looks at for one message.
type Input struct {
	Text              string
	ConversationID    string
	CustomerID        string
	RecentOrders      []models.Order
	ExtractedProducts []models.ExtractedProduct
	// At is the message arrival time used to age orders.
	At time.Time
}

// Detector is stateless and safe for concurrent use.
type Detector struct {
	window time.Duration
	now    func() time.Time
}

// Option customizes a Detector.
type Option func(*Detector)

// WithWindow sets the lookback window. Non-positive values are ignored.
func WithWindow(window time.Duration) Option {
	return func(d *Detector) {
		if window > 0 {
			d.window = window
		}
	}
}

// WithClock sets the time source used when Input.At is zero.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates a Detector with a 10 minute window.
func New(opts ...Option) *Detector {
	d := &Detector{window: DefaultWindow, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Window returns the lookback window.
func (d *Detector) Window() time.Duration {
	return d.window
}

// Check evaluates, in order: no open orders, rejection phrase, continuation
// marker, bare product-quantity pattern.
func (d *Detector) Check(in Input) models.ContinuationDecision {
	at := in.At
	if at.IsZero() {
		at = d.now()
	}

	recent := d.eligible(in, at)
	if len(recent) == 0 {
		return none(fmt.Sprintf("no open order in this conversation within %s", d.window))
	}
	newest := recent[0]

	text := " " + textnorm.Normalize(in.Text).Normalized + " "

	if p, ok := findPhrase(text, rejectionPhrases); ok {
		return models.ContinuationDecision{
			IsContinuation:  false,
			Confidence:      MarkerConfidence,
			DetectionMethod: models.DetectionExplicitPhrase,
			Reasoning:       fmt.Sprintf("message rejects continuing order %s (%q)", newest.ID, p),
		}
	}

	if p, ok := findPhrase(text, continuationMarkers); ok {
		return models.ContinuationDecision{
			IsContinuation:  true,
			TargetOrderID:   newest.ID,
			Confidence:      MarkerConfidence,
			DetectionMethod: models.DetectionExplicitPhrase,
			Reasoning:       fmt.Sprintf("continuation marker %q with open order %s", p, newest.ID),
		}
	}

	if looksLikeOrderLine(textnorm.Normalize(in.Text).Tokens) {
		elapsed := at.Sub(newest.CreatedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		return models.ContinuationDecision{
			IsContinuation:  true,
			TargetOrderID:   newest.ID,
			Confidence:      d.decay(elapsed),
			DetectionMethod: models.DetectionTemporal,
			Reasoning: fmt.Sprintf("product line %s after order %s (%d products)",
				elapsed.Round(time.Second), newest.ID, len(in.ExtractedProducts)),
		}
	}

	return none("message does not look like an addition to the open order")
}

// eligible re-applies the conversation, status and window filters and sorts
// newest first; callers may pass unfiltered or malformed history.
func (d *Detector) eligible(in Input, at time.Time) []models.Order {
	if in.ConversationID == "" {
		return nil
	}

	var out []models.Order
	for _, o := range in.RecentOrders {
		switch {
		case o.ID == "", o.CreatedAt.IsZero():
			continue
		case o.ConversationID != in.ConversationID:
			continue
		case in.CustomerID != "" && o.CustomerID != "" && o.CustomerID != in.CustomerID:
			continue
		case o.Status.IsTerminal():
			continue
		case at.Sub(o.CreatedAt) > d.window:
			continue
		}
		out = append(out, o)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// decay falls linearly from 1.0 at zero elapsed to 0.5 at the window edge.
func (d *Detector) decay(elapsed time.Duration) float64 {
	frac := float64(elapsed) / float64(d.window)
	if frac > 1 {
		frac = 1
	}
	return 1 - (1-decayFloor)*frac
}

// looksLikeOrderLine is true for a number next to a word or a purchase verb.
func looksLikeOrderLine(tokens []textnorm.Token) bool {
	for i, t := range tokens {
		if purchaseVerbs[t.Text] {
			return true
		}
		if !t.IsNumber {
			continue
		}
		if i > 0 && !tokens[i-1].IsNumber {
			return true
		}
		if i+1 < len(tokens) && !tokens[i+1].IsNumber {
			return true
		}
	}
	return false
}

func findPhrase(padded string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return p, true
		}
	}
	return "", false
}

func none(reason string) models.ContinuationDecision {
	return models.ContinuationDecision{
		IsContinuation:  false,
		DetectionMethod: models.DetectionNone,
		Reasoning:       reason,
	}
}
