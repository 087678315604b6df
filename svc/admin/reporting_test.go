package admin_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fincash/svc/admin"
	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/export"
	"github.com/dmitrymomot/fincash/svc/plans"
)

var now = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	reporting *admin.Reporting
	users     *entitlement.MemoryStore
	tickets   *export.MemoryStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	users := entitlement.NewMemoryStore()
	tickets := export.NewMemoryStore()
	r := admin.NewReporting(
		plans.MustNewCatalog(plans.Default()...),
		users,
		tickets,
		admin.WithClock(func() time.Time { return now }),
	)
	return fixture{reporting: r, users: users, tickets: tickets}
}

func (f fixture) addUser(t *testing.T, name string, plan plans.ID, end time.Time, created time.Time) uuid.UUID {
	t.Helper()

	u := entitlement.User{ID: uuid.New(), Username: name, Email: name + "@example.com", CreatedAt: created}
	sub := entitlement.Subscription{UserID: u.ID, CurrentPlan: plan, UpdatedAt: created}
	if plan != plans.Demo {
		start := end.AddDate(0, -1, 0)
		sub.Start, sub.End = &start, &end
	}
	require.NoError(t, f.users.CreateUser(context.Background(), u, sub))
	return u.ID
}

func TestReporting_AggregateStats(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	for i := range 4 {
		f.addUser(t, fmt.Sprintf("demo%d", i), plans.Demo, time.Time{}, now)
	}
	f.addUser(t, "monthly1", plans.Monthly, now.AddDate(0, 0, 10), now)
	f.addUser(t, "monthly2", plans.Monthly, now.AddDate(0, 0, 20), now)
	f.addUser(t, "annual", plans.Annual, now.AddDate(0, 6, 0), now)
	// expired paid subscriptions count as demo
	f.addUser(t, "lapsed", plans.Monthly, now.AddDate(0, 0, -1), now)

	st, err := f.reporting.AggregateStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 8, st.TotalUsers)
	assert.Equal(t, 5, st.DemoUsers)
	assert.Equal(t, 2, st.MonthlyUsers)
	assert.Equal(t, 1, st.AnnualUsers)
	assert.Equal(t, 3, st.ActivePaid)
	assert.InDelta(t, 37.5, st.ConversionRate, 0.001)
	assert.Equal(t, int64(2*30000+200000), st.TotalRevenueEstimate)
	assert.Equal(t, "FCFA", st.Currency)
	assert.Equal(t, 5, st.ByPlan[plans.Demo])
}

func TestReporting_AggregateStats_Empty(t *testing.T) {
	t.Parallel()

	st, err := newFixture(t).reporting.AggregateStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.TotalUsers)
	assert.Zero(t, st.ConversionRate)
	assert.Zero(t, st.TotalRevenueEstimate)
}

func TestReporting_AggregateStats_ConversionRounding(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addUser(t, "a", plans.Demo, time.Time{}, now)
	f.addUser(t, "b", plans.Demo, time.Time{}, now)
	f.addUser(t, "c", plans.Annual, now.AddDate(1, 0, 0), now)

	st, err := f.reporting.AggregateStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 33.33, st.ConversionRate)
}

func TestReporting_ListSubscriptions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	for i := range 25 {
		f.addUser(t, fmt.Sprintf("user%02d", i), plans.Demo, time.Time{}, now.Add(time.Duration(i)*time.Minute))
	}
	f.addUser(t, "Adjoa", plans.Monthly, now.AddDate(0, 0, 5), now.Add(-time.Hour))

	tests := []struct {
		name      string
		filter    admin.Filter
		wantItems int
		wantTotal int
		wantPages int
		perPage   int
		hasNext   bool
		hasPrev   bool
	}{
		{"defaults", admin.Filter{}, 20, 26, 2, 20, true, false},
		{"second page", admin.Filter{Page: 2}, 6, 26, 2, 20, false, true},
		{"per page capped", admin.Filter{PerPage: 500}, 26, 26, 1, 100, false, false},
		{"by plan", admin.Filter{Plan: plans.Monthly}, 1, 1, 1, 20, false, false},
		{"unknown plan ignored", admin.Filter{Plan: "gold"}, 20, 26, 2, 20, true, false},
		{"search", admin.Filter{Search: "ADJOA"}, 1, 1, 1, 20, false, false},
		{"page past the end", admin.Filter{Page: 9}, 0, 26, 2, 20, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			page, err := f.reporting.ListSubscriptions(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, page.Items, tt.wantItems)
			assert.NotNil(t, page.Items)
			assert.Equal(t, tt.wantTotal, page.Pagination.Total)
			assert.Equal(t, tt.wantPages, page.Pagination.Pages)
			assert.Equal(t, tt.perPage, page.Pagination.PerPage)
			assert.Equal(t, tt.hasNext, page.Pagination.HasNext)
			assert.Equal(t, tt.hasPrev, page.Pagination.HasPrev)
		})
	}

	page, err := f.reporting.ListSubscriptions(ctx, admin.Filter{PerPage: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "user24", page.Items[0].Username)
	assert.Equal(t, plans.Demo, page.Items[0].EffectivePlan)

	page, err = f.reporting.ListSubscriptions(ctx, admin.Filter{Plan: plans.Monthly})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].IsActive)
	assert.Equal(t, 5, page.Items[0].DaysRemaining)
}

func TestReporting_ListSubscriptions_EffectivePlan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "active", plans.Monthly, now.AddDate(0, 0, 10), now)
	f.addUser(t, "lapsed", plans.Monthly, now.AddDate(0, 0, -1), now.Add(-time.Hour))
	f.addUser(t, "demo", plans.Demo, time.Time{}, now.Add(-2*time.Hour))

	st, err := f.reporting.AggregateStats(ctx)
	require.NoError(t, err)

	monthly, err := f.reporting.ListSubscriptions(ctx, admin.Filter{Plan: plans.Monthly})
	require.NoError(t, err)
	require.Len(t, monthly.Items, 1)
	assert.Equal(t, "active", monthly.Items[0].Username)
	assert.Equal(t, st.MonthlyUsers, monthly.Pagination.Total)

	demo, err := f.reporting.ListSubscriptions(ctx, admin.Filter{Plan: plans.Demo})
	require.NoError(t, err)
	require.Len(t, demo.Items, 2)
	assert.Equal(t, "lapsed", demo.Items[0].Username)
	assert.Equal(t, plans.Demo, demo.Items[0].EffectivePlan)
	assert.Equal(t, st.DemoUsers, demo.Pagination.Total)
}

func TestReporting_ListTasks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	kofi := f.addUser(t, "kofi", plans.Demo, time.Time{}, now)
	ghost := uuid.New()

	statuses := []export.TicketStatus{export.TicketAuthorized, export.TicketCompleted, export.TicketFailed}
	for i, status := range statuses {
		require.NoError(t, f.tickets.Create(ctx, export.Ticket{
			ID: uuid.New(), UserID: kofi, Kind: export.KindPDF, Status: status, Plan: plans.Demo,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, f.tickets.Create(ctx, export.Ticket{
		ID: uuid.New(), UserID: ghost, Kind: export.KindExcel, Status: export.TicketCompleted, CreatedAt: now.Add(time.Hour),
	}))

	page, err := f.reporting.ListTasks(ctx, admin.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 4)
	assert.Equal(t, ghost, page.Items[0].UserID)
	assert.Nil(t, page.Items[0].User)
	require.NotNil(t, page.Items[1].User)
	assert.Equal(t, "kofi", page.Items[1].User.Username)

	page, err = f.reporting.ListTasks(ctx, admin.TaskFilter{Status: export.TicketCompleted})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Pagination.Total)

	page, err = f.reporting.ListTasks(ctx, admin.TaskFilter{UserID: kofi, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.True(t, page.Pagination.HasNext)

	st, err := f.reporting.AggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, admin.TaskStats{Total: 4, Authorized: 1, Completed: 2, Failed: 1}, st.Tasks)
}

func TestReporting_UserDetails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.addUser(t, "esi", plans.Annual, now.AddDate(0, 2, 0), now)

	for i := range 12 {
		require.NoError(t, f.tickets.Create(ctx, export.Ticket{
			ID: uuid.New(), UserID: id, Kind: export.KindComplete, Status: export.TicketCompleted,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	d, err := f.reporting.UserDetails(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "esi", d.Subscriber.Username)
	assert.Equal(t, plans.Annual, d.Subscriber.EffectivePlan)
	assert.Len(t, d.RecentTasks, 10)
	assert.Equal(t, 12, d.Tasks.Total)
	assert.Equal(t, 12, d.Tasks.Completed)

	_, err = f.reporting.UserDetails(ctx, uuid.New())
	assert.ErrorIs(t, err, entitlement.ErrUserNotFound)
}
