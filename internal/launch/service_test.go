package launch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsanders-rh/gpuctl/internal/fsresolver"
	"github.com/tsanders-rh/gpuctl/internal/launch"
	"github.com/tsanders-rh/gpuctl/internal/provider"
	"github.com/tsanders-rh/gpuctl/internal/provider/providertest"
	"github.com/tsanders-rh/gpuctl/internal/store"
	"github.com/tsanders-rh/gpuctl/pkg/types"
)

func capacity() []provider.InstanceType {
	return []provider.InstanceType{
		{Name: "gpu_1x_a100", PriceCentsPerHour: 110, RegionsWithCapacity: []string{"us-west-1", "us-east-1"}},
		{Name: "gpu_1x_a10", PriceCentsPerHour: 60, RegionsWithCapacity: []string{"us-east-1"}},
		{Name: "gpu_8x_h100", PriceCentsPerHour: 2400},
	}
}

func TestFindSlotFollowsCallerOrder(t *testing.T) {
	t.Run("type preference wins over region preference", func(t *testing.T) {
		slot := launch.FindSlot(
			[]string{"gpu_1x_a100", "gpu_1x_a10"},
			[]string{"us-east-1", "us-west-1"},
			capacity(),
		)
		require.NotNil(t, slot)
		assert.Equal(t, "gpu_1x_a100", slot.InstanceType)
		assert.Equal(t, "us-east-1", slot.Region, "first region in caller order with capacity")
		assert.Equal(t, int64(110), slot.PriceCentsPerHour)
	})

	t.Run("falls through to the next type", func(t *testing.T) {
		slot := launch.FindSlot(
			[]string{"gpu_8x_h100", "gpu_1x_a10"},
			[]string{"us-east-1"},
			capacity(),
		)
		require.NotNil(t, slot)
		assert.Equal(t, "gpu_1x_a10", slot.InstanceType)
	})

	t.Run("no capacity returns nil", func(t *testing.T) {
		slot := launch.FindSlot([]string{"gpu_8x_h100"}, []string{"us-west-1"}, capacity())
		assert.Nil(t, slot)
	})
}

func TestCheapestPrice(t *testing.T) {
	price, ok := launch.CheapestPrice([]string{"gpu_1x_a100", "gpu_1x_a10"}, capacity())
	require.True(t, ok)
	assert.Equal(t, int64(60), price)

	_, ok = launch.CheapestPrice([]string{"gpu_unknown"}, capacity())
	assert.False(t, ok)
}

func TestKnownTypes(t *testing.T) {
	unknown := launch.KnownTypes([]string{"gpu_1x_a100", "gpu_bogus"}, capacity())
	assert.Equal(t, []string{"gpu_bogus"}, unknown)
}

func TestEnsureSSHKey(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryKV())
	fake := providertest.New()
	svc := launch.NewService(st, fake, fsresolver.New(fake, st.SeedStatus), nil, "http://localhost")

	name, err := svc.EnsureSSHKey(ctx, "alice@example.org", "ssh-ed25519 AAAA alice")
	require.NoError(t, err)
	assert.Equal(t, "web-alice-example-org", name)
	assert.Len(t, fake.SSHKeys, 1)

	record, err := st.SSHKeys.Get(ctx, "alice@example.org", name)
	require.NoError(t, err)
	assert.Equal(t, "ssh-ed25519 AAAA alice", record.PublicKey)

	// Re-registering the same key is a no-op against the provider
	name2, err := svc.EnsureSSHKey(ctx, "alice@example.org", "ssh-ed25519 AAAA alice")
	require.NoError(t, err)
	assert.Equal(t, name, name2)
	assert.Len(t, fake.SSHKeys, 1)
}

func TestDispatchLaunchesLoadersAndUserVM(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryKV())
	fake := providertest.New()
	fake.SetCapacity(capacity()...)
	svc := launch.NewService(st, fake, fsresolver.New(fake, st.SeedStatus), nil, "https://gpu.example.org")

	settings, err := st.Settings.Get(ctx)
	require.NoError(t, err)
	settings.SeedCompleteSecret = "s3cr3t"
	settings.SetupScript = "#!/bin/bash\necho setup"
	settings.DefaultFilesystems = []types.DefaultFilesystem{
		{Name: "shared-data", Source: types.SeedSource{Kind: types.SeedSourceS3, URL: "s3://b/d"}},
	}
	require.NoError(t, st.Settings.Put(ctx, settings))

	req := &types.LaunchRequest{
		CandidateEmail:   "alice@example.org",
		AttachFilesystem: true,
	}
	slot := launch.Slot{InstanceType: "gpu_1x_a10", Region: "us-east-1", PriceCentsPerHour: 60}

	vm, err := svc.Dispatch(ctx, req, slot, "web-alice-example-org", capacity())
	require.NoError(t, err)

	// Two launches: the seeding loader first, then the user VM
	require.Len(t, fake.Launched, 2)

	loader := fake.Launched[0]
	assert.Equal(t, []string{"shared-data"}, loader.FilesystemNames)
	assert.Equal(t, "gpu_1x_a10", loader.InstanceType, "loader uses the cheapest type with capacity")
	assert.Contains(t, loader.UserData, "https://gpu.example.org/api/seed-complete")

	user := fake.Launched[1]
	assert.ElementsMatch(t, []string{"fs-alice-example-org-us-east-1", "shared-data"}, user.FilesystemNames)
	assert.Contains(t, user.UserData, "echo setup")
	assert.Contains(t, user.UserData, "mount -o remount,ro /home/ubuntu/shared-data")

	// VM record persisted with slot pricing
	stored, err := st.VMs.Get(ctx, vm.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), stored.PriceCentsPerHour)
	assert.Equal(t, types.VMStatusLaunching, stored.Status)

	// The seed claim now carries the loader's real instance id
	status, err := st.SeedStatus.Get(ctx, "shared-data", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, types.SeedStateSeeding, status.Status)
	assert.NotEmpty(t, status.SeedingInstanceID)
	assert.NotContains(t, status.SeedingInstanceID, "claim_", "claim id replaced by instance id")
}

func TestDispatchSurfacesLaunchErrors(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryKV())
	fake := providertest.New()
	fake.LaunchErr = &provider.Error{Kind: provider.KindCapacity, Message: "no capacity"}
	svc := launch.NewService(st, fake, fsresolver.New(fake, st.SeedStatus), nil, "http://localhost")

	_, err := svc.Dispatch(ctx, &types.LaunchRequest{CandidateEmail: "alice@example.org"},
		launch.Slot{InstanceType: "gpu_1x_a100", Region: "us-west-1", PriceCentsPerHour: 110},
		"web-alice-example-org", capacity())
	require.Error(t, err)
	assert.True(t, provider.IsKind(err, provider.KindCapacity))

	vms, listErr := st.VMs.List(ctx)
	require.NoError(t, listErr)
	assert.Empty(t, vms, "no record without a successful launch")
}
