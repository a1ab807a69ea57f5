// Package validation holds the pre-condition checks run before a derivation.
//
// ValidateDerivation and ValidateDerivationToQueue are pure: they decide from
// the values they are given and never touch the store. Checker pairs them
// with a fresh read so callers cannot accidentally validate against stale
// state; nothing here is cached.
package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/queue"
)

// ValidateDerivation checks that ticket can be handed to target. A nil ticket
// or target means the id did not resolve.
func ValidateDerivation(ticket *model.Ticket, target *model.Employee, personalQueueLen int) error {
	if ticket == nil {
		return fmt.Errorf("validation: ticket: %w", model.ErrNotFound)
	}
	if target == nil {
		return fmt.Errorf("validation: target agent: %w", model.ErrNotFound)
	}
	if !target.IsActive() {
		return fmt.Errorf("validation: agent %s is %s: %w", target.ID, target.Availability, model.ErrAgentInactive)
	}
	if personalQueueLen >= target.MaxPersonalQueueSize {
		return fmt.Errorf("validation: agent %s has %d/%d queued: %w",
			target.ID, personalQueueLen, target.MaxPersonalQueueSize, model.ErrQueueFull)
	}
	if ticket.Status != model.StatusBeingServed {
		return fmt.Errorf("validation: ticket %d is %s: %w", ticket.Number, ticket.Status, model.ErrInvalidTicketState)
	}
	if ticket.ServedByAgent(target.ID) {
		return fmt.Errorf("validation: ticket %d: %w", ticket.Number, model.ErrSelfDerivation)
	}
	return nil
}

// ValidateDerivationToQueue checks that ticket can go back to the general queue.
func ValidateDerivationToQueue(ticket *model.Ticket) error {
	if ticket == nil {
		return fmt.Errorf("validation: ticket: %w", model.ErrNotFound)
	}
	if ticket.Status != model.StatusBeingServed {
		return fmt.Errorf("validation: ticket %d is %s: %w", ticket.Number, ticket.Status, model.ErrInvalidTicketState)
	}
	return nil
}

// ValidateSource checks that fromID is the agent serving ticket. The source
// agent is the one whose state a derivation frees up.
func ValidateSource(ticket model.Ticket, fromID uuid.UUID) error {
	if !ticket.ServedByAgent(fromID) {
		return fmt.Errorf("validation: ticket %d is not served by agent %s: %w",
			ticket.Number, fromID, model.ErrInvalidTicketState)
	}
	return nil
}

// Reader is the slice of the store the Checker reads from.
type Reader interface {
	GetTicket(ctx context.Context, id uuid.UUID) (model.Ticket, error)
	GetEmployee(ctx context.Context, id uuid.UUID) (model.Employee, error)
	GetAllTickets(ctx context.Context) ([]model.Ticket, error)
}

// State is what a derivation check observed. The orchestrator acts on it
// immediately and does not keep it.
type State struct {
	Ticket           model.Ticket
	Target           model.Employee
	Tickets          []model.Ticket
	PersonalQueueLen int
}

// Checker runs validations against a fresh read of the store.
type Checker struct {
	store Reader
}

// NewChecker creates a Checker.
func NewChecker(r Reader) *Checker {
	return &Checker{store: r}
}

// CheckDerivation loads the ticket, the target and the ticket set
// concurrently, then runs ValidateDerivation.
func (c *Checker) CheckDerivation(ctx context.Context, ticketID, targetID uuid.UUID) (State, error) {
	var (
		ticket  *model.Ticket
		target  *model.Employee
		tickets []model.Ticket
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := c.store.GetTicket(gctx, ticketID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil
			}
			return err
		}
		ticket = &t
		return nil
	})
	g.Go(func() error {
		e, err := c.store.GetEmployee(gctx, targetID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil
			}
			return err
		}
		target = &e
		return nil
	})
	g.Go(func() error {
		all, err := c.store.GetAllTickets(gctx)
		if err != nil {
			return err
		}
		tickets = all
		return nil
	})
	if err := g.Wait(); err != nil {
		return State{}, fmt.Errorf("validation: load derivation state: %w", err)
	}

	qlen := 0
	if target != nil {
		qlen = queue.PersonalQueueLen(tickets, target.ID)
	}
	if err := ValidateDerivation(ticket, target, qlen); err != nil {
		return State{}, err
	}
	return State{Ticket: *ticket, Target: *target, Tickets: tickets, PersonalQueueLen: qlen}, nil
}

// CheckDerivationToQueue loads the ticket and runs ValidateDerivationToQueue.
func (c *Checker) CheckDerivationToQueue(ctx context.Context, ticketID uuid.UUID) (model.Ticket, error) {
	t, err := c.store.GetTicket(ctx, ticketID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Ticket{}, ValidateDerivationToQueue(nil)
		}
		return model.Ticket{}, fmt.Errorf("validation: load ticket: %w", err)
	}
	if err := ValidateDerivationToQueue(&t); err != nil {
		return model.Ticket{}, err
	}
	return t, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates an input struct against its `validate` tags. Failures wrap
// model.ErrInvalidInput and list every offending field.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validation: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("validation: %s: %w", strings.Join(msgs, "; "), model.ErrInvalidInput)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must not exceed %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed on the %q rule", fe.Field(), fe.Tag())
	}
}
