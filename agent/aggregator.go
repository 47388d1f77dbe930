package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"planbook/types"
)

// maxContextTokens bounds the aggregated block handed to the prompt
// composer.
const maxContextTokens = 1500

// ContextStorer is the slice of the store the aggregator reads from.
type ContextStorer interface {
	GetUserYearPlan(context.Context, uuid.UUID) (*types.Document, error)
	GetOrgYearPlan(context.Context, uuid.UUID) (*types.Document, error)
	PlanCoverage(context.Context, uuid.UUID) ([]types.TemporalAddress, error)
	TimesheetSummary(ctx context.Context, userID uuid.UUID, from, to time.Time) (*types.TimesheetSummary, error)
	BudgetSummary(ctx context.Context, userID uuid.UUID, orgID uuid.NullUUID, from, to time.Time) (*types.BudgetSummary, error)
	PerformanceSummary(ctx context.Context, userID uuid.UUID, from, to time.Time) (*types.PerformanceSummary, error)
}

// Aggregator composes plan, timesheet, budget and performance summaries into
// one bounded text block. Sections are fetched independently; a failing
// source drops its section, never the whole block.
type Aggregator struct {
	logger *slog.Logger
	store  ContextStorer
	now    func() time.Time
}

func NewAggregator(store ContextStorer) *Aggregator {
	return &Aggregator{
		logger: slog.Default(),
		store:  store,
		now:    time.Now,
	}
}

// BuildContext assembles the aggregated context for one user, optionally
// scoped to an organization. Never fails; at worst returns an empty string.
func (a *Aggregator) BuildContext(ctx context.Context, userID uuid.UUID, orgID uuid.NullUUID) string {
	from, to := monthRange(a.now())

	var sections []string

	if s, err := a.planSection(ctx, userID, orgID); err != nil {
		a.logger.Warn("plan section unavailable", "user_id", userID, "error", err)
	} else if s != "" {
		sections = append(sections, s)
	}

	if s, err := a.timesheetSection(ctx, userID, from, to); err != nil {
		a.logger.Warn("timesheet section unavailable", "user_id", userID, "error", err)
	} else if s != "" {
		sections = append(sections, s)
	}

	if s, err := a.budgetSection(ctx, userID, orgID, from, to); err != nil {
		a.logger.Warn("budget section unavailable", "user_id", userID, "error", err)
	} else if s != "" {
		sections = append(sections, s)
	}

	if s, err := a.performanceSection(ctx, userID, from, to); err != nil {
		a.logger.Warn("performance section unavailable", "user_id", userID, "error", err)
	} else if s != "" {
		sections = append(sections, s)
	}

	return truncateToTokens(strings.Join(sections, "\n\n"), maxContextTokens)
}

// planSection summarizes the year plan's coverage, user slot first, the
// organization slot as fallback. A document with the ai-readable flag off is
// treated as absent.
func (a *Aggregator) planSection(ctx context.Context, userID uuid.UUID, orgID uuid.NullUUID) (string, error) {
	doc, err := a.store.GetUserYearPlan(ctx, userID)
	if err != nil && orgID.Valid {
		doc, err = a.store.GetOrgYearPlan(ctx, orgID.UUID)
	}
	if err != nil || doc == nil {
		return "", nil // no plan is not an error, just no section
	}
	if !doc.IsAiReadable {
		return "", nil
	}

	periods, err := a.store.PlanCoverage(ctx, doc.ID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("## Plan summary\n")
	fmt.Fprintf(&sb, "Year plan %q covers %d addressed periods:\n", doc.Name, len(periods))
	for _, p := range periods {
		sb.WriteString("- ")
		sb.WriteString(formatPeriod(p))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (a *Aggregator) timesheetSection(ctx context.Context, userID uuid.UUID, from, to time.Time) (string, error) {
	s, err := a.store.TimesheetSummary(ctx, userID, from, to)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("## Timesheet summary\n%s: %.1f hours over %d entries.",
		from.Format("January 2006"), s.TotalHours, s.Entries), nil
}

func (a *Aggregator) budgetSection(ctx context.Context, userID uuid.UUID, orgID uuid.NullUUID, from, to time.Time) (string, error) {
	s, err := a.store.BudgetSummary(ctx, userID, orgID, from, to)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("## Budget summary\n%s: planned %.2f, actual %.2f across %d lines.",
		from.Format("January 2006"), s.Planned, s.Actual, s.Lines), nil
}

func (a *Aggregator) performanceSection(ctx context.Context, userID uuid.UUID, from, to time.Time) (string, error) {
	s, err := a.store.PerformanceSummary(ctx, userID, from, to)
	if err != nil {
		return "", err
	}
	line := fmt.Sprintf("## Performance summary\n%.1f hours logged", s.LoggedHours)
	if s.PlannedAmount > 0 {
		line += fmt.Sprintf(", budget utilization %.0f%%", 100*s.ActualAmount/s.PlannedAmount)
	}
	return line + ".", nil
}

func formatPeriod(p types.TemporalAddress) string {
	parts := make([]string, 0, 3)
	if p.Year.Valid {
		parts = append(parts, fmt.Sprintf("Year %d", p.Year.Int64))
	}
	if p.Month.Valid {
		parts = append(parts, fmt.Sprintf("Month %d", p.Month.Int64))
	}
	if p.Week.Valid {
		parts = append(parts, fmt.Sprintf("Week %d", p.Week.Int64))
	}
	return strings.Join(parts, ", ")
}

func monthRange(now time.Time) (time.Time, time.Time) {
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return from, from.AddDate(0, 1, 0)
}

// truncateToTokens cuts the block at the token budget so the prompt composer
// downstream gets a bounded input.
func truncateToTokens(s string, budget int) string {
	if s == "" {
		return s
	}
	enc, err := tiktoken.EncodingForModel("gpt-3.5-turbo")
	if err != nil {
		return s
	}
	tokens := enc.Encode(s, nil, nil)
	if len(tokens) <= budget {
		return s
	}
	return enc.Decode(tokens[:budget])
}
