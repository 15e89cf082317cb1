// ABOUTME: The generate_cold_mail job type: payload validation, prompt building, AI call.
// ABOUTME: Autopilot turns a lead list into one queued job per lead.
package coldmail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/scarson/leadpilot/internal/ai"
	"github.com/scarson/leadpilot/internal/queue"
)

// JobType is the queue type name for cold-mail generation.
const JobType = "generate_cold_mail"

// Payload is the immutable input of a generate_cold_mail job.
type Payload struct {
	LeadName    string `json:"leadName" validate:"required,max=200"`
	LeadCompany string `json:"leadCompany" validate:"required,max=200"`
	MyProduct   string `json:"myProduct" validate:"required,max=2000"`
}

// Result is stored as the job result on success.
type Result struct {
	Email string `json:"email"`
}

// Lead is one prospect handed to Autopilot.
type Lead struct {
	Name    string `json:"name"`
	Company string `json:"company"`
}

// UserContext carries the sender-side inputs shared by every lead.
type UserContext struct {
	MyProduct string `json:"myProduct"`
}

// ErrInvalidPayload wraps validation failures.
var ErrInvalidPayload = errors.New("invalid cold mail payload")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks p against its struct tags.
func (p Payload) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Prompt renders the instruction sent to the model.
func (p Payload) Prompt() string {
	var b strings.Builder
	b.WriteString("Write a short, personalised cold email.\n")
	fmt.Fprintf(&b, "Recipient: %s at %s.\n", p.LeadName, p.LeadCompany)
	fmt.Fprintf(&b, "Product being offered: %s.\n", p.MyProduct)
	b.WriteString("Keep it under 150 words, plain text, with a subject line and one clear call to action.")
	return b.String()
}

// Generator produces cold mails with an AI completer.
type Generator struct {
	ai ai.Completer
}

// NewGenerator returns a Generator backed by c.
func NewGenerator(c ai.Completer) *Generator {
	return &Generator{ai: c}
}

// Generate validates p and asks the model for an email.
func (g *Generator) Generate(ctx context.Context, p Payload) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	text, err := g.ai.Complete(ctx, p.Prompt())
	if err != nil {
		return Result{}, fmt.Errorf("generate cold mail for %s: %w", p.LeadName, err)
	}
	return Result{Email: text}, nil
}

// Register installs the generate_cold_mail handler on r.
func (g *Generator) Register(r *queue.Registry) {
	r.Register(JobType, queue.JSONHandler(g.Generate))
}

// BatchEnqueuer is the part of queue.Enqueuer Autopilot needs.
type BatchEnqueuer interface {
	EnqueueBatch(ctx context.Context, reqs []queue.Request) ([]uuid.UUID, error)
}

// Autopilot enqueues one generate_cold_mail job per lead in a single insert
// and returns the job IDs in lead order. It only confirms scheduling: the
// mails are produced later by workers.
func Autopilot(ctx context.Context, e BatchEnqueuer, leads []Lead, uc UserContext) ([]uuid.UUID, error) {
	if len(leads) == 0 {
		return nil, fmt.Errorf("%w: no leads", ErrInvalidPayload)
	}
	reqs := make([]queue.Request, len(leads))
	for i, l := range leads {
		p := Payload{LeadName: l.Name, LeadCompany: l.Company, MyProduct: uc.MyProduct}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("lead %d: %w", i, err)
		}
		reqs[i] = queue.Request{Type: JobType, Payload: p}
	}
	ids, err := e.EnqueueBatch(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("autopilot: %w", err)
	}
	return ids, nil
}
