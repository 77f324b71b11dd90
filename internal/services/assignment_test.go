package services

import (
	"testing"

	"atypik-backend/internal/apperr"
	"atypik-backend/internal/models"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func ids(users []*models.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID.Hex())
	}
	return out
}

func TestEligibleDrivers_RegionAndVerification(t *testing.T) {
	f := newFixture(t)
	parent := f.parent("alice", "r1")
	d1 := f.driver("d1", "r1", models.DriverVerified)
	d2 := f.driver("d2", "r2", models.DriverVerified)
	d3 := f.driver("d3", "r1", models.DriverPending)

	drivers := []*models.User{d1, d2, d3}
	assert.Equal(t, []string{d1.ID.Hex()}, ids(EligibleDrivers(parent, drivers)))

	noRegion := f.parent("bob", "")
	assert.Empty(t, EligibleDrivers(noRegion, drivers))
	assert.Empty(t, EligibleDrivers(nil, drivers))
}

func TestEligibleDrivers_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	regions := []string{"", "r1", "r2"}
	statuses := []models.DriverStatus{models.DriverVerified, models.DriverPending}

	properties.Property("eligible set is exactly the verified drivers of the parent's region", prop.ForAll(
		func(parentRegion int, specs []int) bool {
			parent := &models.User{ID: primitive.NewObjectID(), Role: models.RoleParent, RegionID: regions[parentRegion]}
			drivers := make([]*models.User, 0, len(specs))
			want := 0
			for _, v := range specs {
				d := &models.User{
					ID:       primitive.NewObjectID(),
					Role:     models.RoleDriver,
					RegionID: regions[v%3],
					Status:   statuses[(v/3)%2],
				}
				drivers = append(drivers, d)
				if parent.RegionID != "" && d.RegionID == parent.RegionID && d.Status == models.DriverVerified {
					want++
				}
			}

			eligible := EligibleDrivers(parent, drivers)
			if len(eligible) != want {
				return false
			}
			for _, d := range eligible {
				if d.RegionID != parent.RegionID || !d.IsVerifiedDriver() {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 2),
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}

func TestResolveAssignment(t *testing.T) {
	f := newFixture(t)
	d1 := f.driver("d1", "r1", models.DriverVerified)
	d2 := f.driver("d2", "r2", models.DriverVerified)
	drivers := []*models.User{d1, d2}

	t.Run("eligible selection is kept", func(t *testing.T) {
		parent := &models.User{RegionID: "r1", SelectedDriverID: d1.ID.Hex()}
		got := ResolveAssignment(parent, drivers)
		assert.Equal(t, d1.ID.Hex(), got.SelectedDriverID)
		assert.False(t, got.Cleared)
	})

	t.Run("selection from another region is cleared", func(t *testing.T) {
		parent := &models.User{RegionID: "r1", SelectedDriverID: d2.ID.Hex()}
		got := ResolveAssignment(parent, drivers)
		assert.Empty(t, got.SelectedDriverID)
		assert.True(t, got.Cleared)
		assert.Equal(t, d2.ID.Hex(), parent.SelectedDriverID)
	})

	t.Run("no selection", func(t *testing.T) {
		got := ResolveAssignment(&models.User{RegionID: "r1"}, drivers)
		assert.Empty(t, got.SelectedDriverID)
		assert.False(t, got.Cleared)
		assert.Len(t, got.EligibleDrivers, 1)
	})
}

func TestAssignDriverToParent(t *testing.T) {
	f := newFixture(t)
	parent := f.parent("alice", "r1")
	d1 := f.driver("d1", "r1", models.DriverVerified)
	d2 := f.driver("d2", "r2", models.DriverVerified)
	d3 := f.driver("d3", "r1", models.DriverPending)
	svc := NewAssignmentService(f.stores)

	eligible, err := svc.EligibleDriversFor(f.ctx, adminPrincipal, parent.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, []string{d1.ID.Hex()}, ids(eligible))

	for _, d := range []*models.User{d2, d3} {
		_, err := svc.AssignDriverToParent(f.ctx, adminPrincipal, parent.ID.Hex(), d.ID.Hex())
		assert.True(t, apperr.Is(err, apperr.KindInvalidState), d.DisplayName)
	}
	stored, err := f.stores.Users.FindByID(f.ctx, parent.ID.Hex())
	require.NoError(t, err)
	assert.Empty(t, stored.SelectedDriverID)

	updated, err := svc.AssignDriverToParent(f.ctx, adminPrincipal, parent.ID.Hex(), d1.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, d1.ID.Hex(), updated.SelectedDriverID)

	_, err = svc.AssignDriverToParent(f.ctx, principal(parent), parent.ID.Hex(), d1.ID.Hex())
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.AssignDriverToParent(f.ctx, adminPrincipal, parent.ID.Hex(), "")
	require.NoError(t, err)
	stored, err = f.stores.Users.FindByID(f.ctx, parent.ID.Hex())
	require.NoError(t, err)
	assert.Empty(t, stored.SelectedDriverID)
}

func TestRevokedDriverLeavesEligibleSet(t *testing.T) {
	f := newFixture(t)
	parent := f.parent("alice", "r1")
	driver := f.driver("d1", "r1", models.DriverVerified)
	assignments := NewAssignmentService(f.stores)
	admin := NewAdminService(f.stores, paris)

	_, err := assignments.AssignDriverToParent(f.ctx, adminPrincipal, parent.ID.Hex(), driver.ID.Hex())
	require.NoError(t, err)

	_, err = admin.RevokeDriver(f.ctx, adminPrincipal, driver.ID.Hex())
	require.NoError(t, err)

	board, err := assignments.Board(f.ctx, adminPrincipal)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Empty(t, board[0].EligibleDrivers)
	assert.True(t, board[0].Cleared)
	assert.Empty(t, board[0].SelectedDriverID)
}

func TestAssignDriverToTransport(t *testing.T) {
	f := newFixture(t)
	parent := f.parent("alice", "r1")
	local := f.driver("d1", "r1", models.DriverVerified)
	remote := f.driver("d2", "r2", models.DriverVerified)
	svc := NewAssignmentService(f.stores)

	tr := f.transport(parent, day(1), "08:30", models.TransportProgrammed, "")

	_, err := svc.AssignDriverToTransport(f.ctx, adminPrincipal, tr.ID.Hex(), remote.ID.Hex())
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))

	_, err = svc.AssignDriverToTransport(f.ctx, adminPrincipal, tr.ID.Hex(), "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.AssignDriverToTransport(f.ctx, adminPrincipal, tr.ID.Hex(), parent.ID.Hex())
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	updated, err := svc.AssignDriverToTransport(f.ctx, adminPrincipal, tr.ID.Hex(), local.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, local.ID.Hex(), updated.DriverID)

	stored, err := f.stores.Transports.FindByID(f.ctx, tr.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, local.ID.Hex(), stored.DriverID)

	done := f.transport(parent, day(1), "10:00", models.TransportCompleted, "")
	_, err = svc.AssignDriverToTransport(f.ctx, adminPrincipal, done.ID.Hex(), local.ID.Hex())
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))
}
