package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planbook/types"
)

type fakeContextStore struct {
	userPlan *types.Document
	orgPlan  *types.Document

	coverage    []types.TemporalAddress
	coverageErr error

	timesheetErr   error
	budgetErr      error
	performanceErr error
}

func (f *fakeContextStore) GetUserYearPlan(_ context.Context, _ uuid.UUID) (*types.Document, error) {
	if f.userPlan == nil {
		return nil, errors.New("no rows")
	}
	return f.userPlan, nil
}

func (f *fakeContextStore) GetOrgYearPlan(_ context.Context, _ uuid.UUID) (*types.Document, error) {
	if f.orgPlan == nil {
		return nil, errors.New("no rows")
	}
	return f.orgPlan, nil
}

func (f *fakeContextStore) PlanCoverage(_ context.Context, _ uuid.UUID) ([]types.TemporalAddress, error) {
	return f.coverage, f.coverageErr
}

func (f *fakeContextStore) TimesheetSummary(_ context.Context, _ uuid.UUID, _, _ time.Time) (*types.TimesheetSummary, error) {
	if f.timesheetErr != nil {
		return nil, f.timesheetErr
	}
	return &types.TimesheetSummary{TotalHours: 152.5, Entries: 20}, nil
}

func (f *fakeContextStore) BudgetSummary(_ context.Context, _ uuid.UUID, _ uuid.NullUUID, _, _ time.Time) (*types.BudgetSummary, error) {
	if f.budgetErr != nil {
		return nil, f.budgetErr
	}
	return &types.BudgetSummary{Planned: 10000, Actual: 7500, Lines: 4}, nil
}

func (f *fakeContextStore) PerformanceSummary(_ context.Context, _ uuid.UUID, _, _ time.Time) (*types.PerformanceSummary, error) {
	if f.performanceErr != nil {
		return nil, f.performanceErr
	}
	return &types.PerformanceSummary{LoggedHours: 152.5, PlannedAmount: 10000, ActualAmount: 7500}, nil
}

func readablePlan(name string) *types.Document {
	return &types.Document{
		ID:           uuid.New(),
		Name:         name,
		IsYearPlan:   true,
		IsAiReadable: true,
	}
}

func newTestAggregator(store ContextStorer) *Aggregator {
	a := NewAggregator(store)
	a.now = func() time.Time { return time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestBuildContext_AllSections(t *testing.T) {
	fs := &fakeContextStore{
		userPlan: readablePlan("growth plan"),
		coverage: []types.TemporalAddress{
			types.Address(1, 3, 2),
			types.Address(2, 1, 1),
		},
	}
	a := newTestAggregator(fs)

	out := a.BuildContext(context.Background(), uuid.New(), uuid.NullUUID{})

	assert.Contains(t, out, "## Plan summary")
	assert.Contains(t, out, `"growth plan"`)
	assert.Contains(t, out, "Year 1, Month 3, Week 2")
	assert.Contains(t, out, "## Timesheet summary")
	assert.Contains(t, out, "152.5 hours")
	assert.Contains(t, out, "## Budget summary")
	assert.Contains(t, out, "## Performance summary")
	assert.Contains(t, out, "utilization 75%")
}

func TestBuildContext_FailedSourceOmitsOnlyItsSection(t *testing.T) {
	fs := &fakeContextStore{
		userPlan:  readablePlan("growth plan"),
		budgetErr: errors.New("budget service down"),
	}
	a := newTestAggregator(fs)

	out := a.BuildContext(context.Background(), uuid.New(), uuid.NullUUID{})

	assert.NotContains(t, out, "## Budget summary")
	assert.Contains(t, out, "## Plan summary")
	assert.Contains(t, out, "## Timesheet summary")
	assert.Contains(t, out, "## Performance summary")
}

func TestBuildContext_NeverFailsWhenEverythingIsDown(t *testing.T) {
	fs := &fakeContextStore{
		timesheetErr:   errors.New("down"),
		budgetErr:      errors.New("down"),
		performanceErr: errors.New("down"),
	}
	a := newTestAggregator(fs)

	out := a.BuildContext(context.Background(), uuid.New(), uuid.NullUUID{})
	assert.Equal(t, "", out)
}

func TestBuildContext_UserPlanPreferredOverOrgPlan(t *testing.T) {
	fs := &fakeContextStore{
		userPlan: readablePlan("personal plan"),
		orgPlan:  readablePlan("company plan"),
	}
	a := newTestAggregator(fs)

	orgID := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	out := a.BuildContext(context.Background(), uuid.New(), orgID)

	assert.Contains(t, out, `"personal plan"`)
	assert.NotContains(t, out, `"company plan"`)
}

func TestBuildContext_OrgPlanFallback(t *testing.T) {
	fs := &fakeContextStore{
		orgPlan: readablePlan("company plan"),
	}
	a := newTestAggregator(fs)

	orgID := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	out := a.BuildContext(context.Background(), uuid.New(), orgID)

	assert.Contains(t, out, `"company plan"`)
}

func TestBuildContext_DormantPlanIsSkipped(t *testing.T) {
	plan := readablePlan("growth plan")
	plan.IsAiReadable = false
	fs := &fakeContextStore{userPlan: plan}
	a := newTestAggregator(fs)

	out := a.BuildContext(context.Background(), uuid.New(), uuid.NullUUID{})
	assert.NotContains(t, out, "## Plan summary")
}

func TestBuildContext_CoverageFailureDropsPlanSectionOnly(t *testing.T) {
	fs := &fakeContextStore{
		userPlan:    readablePlan("growth plan"),
		coverageErr: errors.New("query timeout"),
	}
	a := newTestAggregator(fs)

	out := a.BuildContext(context.Background(), uuid.New(), uuid.NullUUID{})

	assert.NotContains(t, out, "## Plan summary")
	assert.Contains(t, out, "## Timesheet summary")
}

func TestFormatPeriod_PartialAddress(t *testing.T) {
	addr := types.TemporalAddress{}
	addr.Year.Int64, addr.Year.Valid = 2, true

	assert.Equal(t, "Year 2", formatPeriod(addr))
}

func TestMonthRange(t *testing.T) {
	from, to := monthRange(time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC))
	require.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), from)
	require.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), to)
}
