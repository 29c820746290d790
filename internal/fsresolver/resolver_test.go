package fsresolver_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsanders-rh/gpuctl/internal/fsresolver"
	"github.com/tsanders-rh/gpuctl/internal/provider"
	"github.com/tsanders-rh/gpuctl/internal/provider/providertest"
	"github.com/tsanders-rh/gpuctl/internal/store"
	"github.com/tsanders-rh/gpuctl/pkg/types"
)

func sharedDataSettings() types.Settings {
	return types.Settings{
		SeedCompleteSecret: "seed-secret-1234",
		DefaultFilesystems: []types.DefaultFilesystem{
			{
				Name: "shared-data",
				Source: types.SeedSource{
					Kind:            types.SeedSourceS3,
					URL:             "s3://datasets/shared-data",
					AccessKeyID:     "AKIAEXAMPLE",
					SecretAccessKey: "wJalrEXAMPLE",
				},
			},
		},
	}
}

func TestResolvePersonalFilesystem(t *testing.T) {
	ctx := context.Background()
	fake := providertest.New()
	st := store.New(store.NewMemoryKV())
	r := fsresolver.New(fake, st.SeedStatus)

	out, err := r.Resolve(ctx, fsresolver.Input{
		Region:         "us-west-1",
		CandidateEmail: "alice@example.org",
		AttachPersonal: true,
		AppBaseURL:     "https://gpu.example.org",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"fs-alice-example-org-us-west-1"}, out.FilesystemNames)
	assert.Empty(t, out.Loaders)
	assert.Empty(t, out.ReadonlyRemountScript, "personal filesystems stay read-write")
	require.Len(t, fake.Filesystems, 1)

	// Resolving again attaches the existing filesystem without re-creating
	out, err = r.Resolve(ctx, fsresolver.Input{
		Region:         "us-west-1",
		CandidateEmail: "alice@example.org",
		AttachPersonal: true,
	})
	require.NoError(t, err)
	assert.Len(t, fake.Filesystems, 1)
	assert.Equal(t, []string{"fs-alice-example-org-us-west-1"}, out.FilesystemNames)
}

func TestResolveSharedFilesystemExists(t *testing.T) {
	ctx := context.Background()
	fake := providertest.New()
	fake.Filesystems = []provider.Filesystem{
		{ID: "fs-1", Name: "shared-data", Region: "us-east-1"},
	}
	st := store.New(store.NewMemoryKV())
	r := fsresolver.New(fake, st.SeedStatus)

	out, err := r.Resolve(ctx, fsresolver.Input{
		Region:   "us-east-1",
		Settings: sharedDataSettings(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"shared-data"}, out.FilesystemNames)
	assert.Empty(t, out.Loaders, "existing filesystem needs no seeding")
	assert.Contains(t, out.ReadonlyRemountScript, "mount -o remount,ro /home/ubuntu/shared-data")
}

func TestResolveSharedFilesystemMissingSeedsOnce(t *testing.T) {
	ctx := context.Background()
	fake := providertest.New()
	st := store.New(store.NewMemoryKV())

	first, err := fsresolver.New(fake, st.SeedStatus).Resolve(ctx, fsresolver.Input{
		Region:     "us-east-1",
		Settings:   sharedDataSettings(),
		AppBaseURL: "https://gpu.example.org",
	})
	require.NoError(t, err)

	require.Len(t, first.Loaders, 1)
	loader := first.Loaders[0]
	assert.Equal(t, "shared-data", loader.FilesystemName)
	assert.Equal(t, "us-east-1", loader.Region)
	assert.Contains(t, loader.UserData, "#!/bin/bash")
	assert.Contains(t, loader.UserData, "aws s3 sync \"s3://datasets/shared-data\"")
	assert.Contains(t, loader.UserData, "https://gpu.example.org/api/seed-complete")
	assert.Contains(t, loader.UserData, "Bearer seed-secret-1234")
	assert.Contains(t, loader.UserData, `{"filesystemName":"shared-data","region":"us-east-1"}`)
	assert.Contains(t, loader.UserData, "shutdown -h now")

	// The user VM still attaches and remounts read-only while seeding runs
	assert.Equal(t, []string{"shared-data"}, first.FilesystemNames)
	assert.Contains(t, first.ReadonlyRemountScript, "shared-data")

	// A second resolver in the same minute finds the filesystem already
	// created and makes no claim: no second loader, but the same attach +
	// remount output.
	second, err := fsresolver.New(fake, st.SeedStatus).Resolve(ctx, fsresolver.Input{
		Region:     "us-east-1",
		Settings:   sharedDataSettings(),
		AppBaseURL: "https://gpu.example.org",
	})
	require.NoError(t, err)
	assert.Empty(t, second.Loaders)
	assert.Equal(t, []string{"shared-data"}, second.FilesystemNames)
	assert.Contains(t, second.ReadonlyRemountScript, "shared-data")

	statuses, err := st.SeedStatus.List(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1, "exactly one seed claim exists")
	assert.Equal(t, types.SeedStateSeeding, statuses[0].Status)
}

func TestResolveGCSLoaderScript(t *testing.T) {
	ctx := context.Background()
	fake := providertest.New()
	st := store.New(store.NewMemoryKV())

	settings := types.Settings{
		SeedCompleteSecret: "s",
		DefaultFilesystems: []types.DefaultFilesystem{
			{
				Name: "models",
				Source: types.SeedSource{
					Kind:               types.SeedSourceGCS,
					URL:                "gs://datasets/models",
					ServiceAccountJSON: `{"type":"service_account"}`,
				},
			},
		},
	}

	out, err := fsresolver.New(fake, st.SeedStatus).Resolve(ctx, fsresolver.Input{
		Region:   "us-east-1",
		Settings: settings,
	})
	require.NoError(t, err)
	require.Len(t, out.Loaders, 1)

	script := out.Loaders[0].UserData
	assert.Contains(t, script, "gsutil -m rsync -r \"gs://datasets/models\"")
	assert.Contains(t, script, `{"type":"service_account"}`)
	assert.NotContains(t, script, "aws s3 sync")
}

func TestResolveDownloadScriptOverride(t *testing.T) {
	ctx := context.Background()
	fake := providertest.New()
	st := store.New(store.NewMemoryKV())

	settings := sharedDataSettings()
	settings.DefaultFilesystems[0].DownloadScript = "rclone sync remote:bucket \"$NFS_PATH\""

	out, err := fsresolver.New(fake, st.SeedStatus).Resolve(ctx, fsresolver.Input{
		Region:   "us-east-1",
		Settings: settings,
	})
	require.NoError(t, err)
	require.Len(t, out.Loaders, 1)

	script := out.Loaders[0].UserData
	assert.Contains(t, script, "rclone sync remote:bucket")
	assert.NotContains(t, script, "aws s3 sync")
	assert.Contains(t, script, `CREDS_FILE="/root/.seed-credentials"`)
}

func TestComposeUserData(t *testing.T) {
	t.Run("strips setup script shebang", func(t *testing.T) {
		got := fsresolver.ComposeUserData("#!/bin/sh\napt-get install -y tmux", "mount -o remount,ro /home/ubuntu/shared-data || true\n")

		assert.True(t, strings.HasPrefix(got, "#!/bin/bash\nset -euo pipefail\n"))
		assert.Equal(t, 1, strings.Count(got, "#!"), "only the wrapper shebang survives")
		assert.Contains(t, got, "apt-get install -y tmux")
		assert.Contains(t, got, "remount,ro")
		assert.Less(t, strings.Index(got, "apt-get"), strings.Index(got, "remount,ro"),
			"setup runs before the remount fragment")
	})

	t.Run("works without setup script", func(t *testing.T) {
		got := fsresolver.ComposeUserData("", "")
		assert.Equal(t, "#!/bin/bash\nset -euo pipefail\n", got)
	})

	t.Run("setup script without shebang is kept verbatim", func(t *testing.T) {
		got := fsresolver.ComposeUserData("echo hello", "")
		assert.Contains(t, got, "echo hello")
	})
}
