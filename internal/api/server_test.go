package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsanders-rh/gpuctl/internal/api"
	"github.com/tsanders-rh/gpuctl/internal/auth"
	"github.com/tsanders-rh/gpuctl/internal/fsresolver"
	"github.com/tsanders-rh/gpuctl/internal/launch"
	"github.com/tsanders-rh/gpuctl/internal/provider"
	"github.com/tsanders-rh/gpuctl/internal/provider/providertest"
	"github.com/tsanders-rh/gpuctl/internal/store"
	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// aliceKey is a syntactically valid ed25519 public key for request bodies
const aliceKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIOMqqnkVzrm0SdG6UOoqKLsabgH5C9okWi0dh2l9GKJl alice"

// stubVerifier resolves the bearer token as the email itself
type stubVerifier struct{}

func (stubVerifier) Verify(token string) (*auth.Claims, error) {
	if token == "" || strings.Contains(token, " ") {
		return nil, fmt.Errorf("invalid token")
	}
	return &auth.Claims{Email: strings.ToLower(token), Name: "Test User"}, nil
}

type fixture struct {
	server *api.Server
	store  *store.Store
	fake   *providertest.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.New(store.NewMemoryKV())
	require.NoError(t, st.Settings.EnsureSeedSecret(context.Background()))

	fake := providertest.New()
	resolver := fsresolver.New(fake, st.SeedStatus)
	launcher := launch.NewService(st, fake, resolver, nil, "http://localhost:8080")

	cfg := api.DefaultServerConfig()
	cfg.AdminEmails = []string{"root@example.org"}

	server := api.NewServer(cfg, st, fake, launcher, stubVerifier{}, nil)
	return &fixture{server: server, store: st, fake: fake}
}

func (f *fixture) addCandidate(t *testing.T, email string, quotaDollars int) {
	t.Helper()
	require.NoError(t, f.store.Candidates.Put(context.Background(), &types.Candidate{
		Email:        email,
		Name:         "Test User",
		Role:         types.RoleCandidate,
		QuotaDollars: quotaDollars,
		AddedAt:      time.Now().UTC(),
	}))
}

func (f *fixture) request(t *testing.T, method, path, email string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoHeaderContentType, "application/json")
	if email != "" {
		req.Header.Set("Authorization", "Bearer "+email)
	}

	rec := httptest.NewRecorder()
	f.server.Echo().ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func a100Capacity() provider.InstanceType {
	return provider.InstanceType{
		Name:                "gpu_1x_a100",
		Description:         "1x A100 (40 GB)",
		PriceCentsPerHour:   110,
		RegionsWithCapacity: []string{"us-west-1"},
	}
}

func TestAuthMe(t *testing.T) {
	f := newFixture(t)

	t.Run("unknown user is rejected", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/auth/me", "stranger@ex.com", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing token is unauthenticated", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("allow-listed candidate gets their profile", func(t *testing.T) {
		f.addCandidate(t, "alice@example.org", 50)
		rec := f.request(t, http.MethodGet, "/api/auth/me", "alice@example.org", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		profile := decode[types.Candidate](t, rec)
		assert.Equal(t, "alice@example.org", profile.Email)
		assert.Equal(t, int64(0), profile.SpentCents)
	})

	t.Run("admin email bootstraps on first sight", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/auth/me", "root@example.org", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		profile := decode[types.Candidate](t, rec)
		assert.Equal(t, types.RoleAdmin, profile.Role)
		assert.Equal(t, 9999, profile.QuotaDollars)
	})
}

func TestGPUTypes(t *testing.T) {
	f := newFixture(t)
	f.addCandidate(t, "alice@example.org", 50)
	f.fake.SetCapacity(a100Capacity(), provider.InstanceType{
		Name:                "gpu_8x_h100",
		PriceCentsPerHour:   2400,
		RegionsWithCapacity: []string{"us-east-1", "us-west-1"},
	})

	rec := f.request(t, http.MethodGet, "/api/gpu-types", "alice@example.org", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[api.GPUTypesResponse](t, rec)
	require.Len(t, resp.Types, 2)
	assert.Equal(t, "gpu_1x_a100", resp.Types[0].Name)
	assert.Equal(t, []string{"us-east-1", "us-west-1"}, resp.AllRegions)
}

func TestSubmitLaunchRequestImmediate(t *testing.T) {
	f := newFixture(t)
	f.addCandidate(t, "alice@example.org", 50)
	f.fake.SetCapacity(a100Capacity())

	rec := f.request(t, http.MethodPost, "/api/launch-requests", "alice@example.org", map[string]interface{}{
		"instanceTypes": []string{"gpu_1x_a100"},
		"regions":       []string{"us-west-1"},
		"sshPublicKey":  aliceKey,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	lr := decode[types.LaunchRequest](t, rec)
	assert.Equal(t, types.LaunchRequestFulfilled, lr.Status)
	require.NotEmpty(t, lr.FulfilledInstanceID)

	vm, err := f.store.VMs.Get(context.Background(), lr.FulfilledInstanceID)
	require.NoError(t, err)
	assert.Equal(t, int64(110), vm.PriceCentsPerHour)
	assert.Equal(t, types.VMStatusLaunching, vm.Status)
	assert.Equal(t, "web-alice-example-org", vm.SSHKeyName)
}

func TestSubmitLaunchRequestQueued(t *testing.T) {
	f := newFixture(t)
	f.addCandidate(t, "alice@example.org", 50)
	f.fake.SetCapacity(provider.InstanceType{
		Name:              "gpu_1x_a100",
		PriceCentsPerHour: 110,
		// known type, no capacity anywhere
	})

	rec := f.request(t, http.MethodPost, "/api/launch-requests", "alice@example.org", map[string]interface{}{
		"instanceTypes": []string{"gpu_1x_a100"},
		"regions":       []string{"us-west-1"},
		"sshPublicKey":  aliceKey,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	lr := decode[types.LaunchRequest](t, rec)
	assert.Equal(t, types.LaunchRequestQueued, lr.Status)

	t.Run("second submission while pending conflicts", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/launch-requests", "alice@example.org", map[string]interface{}{
			"instanceTypes": []string{"gpu_1x_a100"},
			"regions":       []string{"us-west-1"},
			"sshPublicKey":  aliceKey,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "conflict")
	})

	t.Run("cancel queued request", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/launch-requests/cancel", "alice@example.org",
			map[string]string{"id": lr.ID})
		require.Equal(t, http.StatusOK, rec.Code)

		cancelled := decode[types.LaunchRequest](t, rec)
		assert.Equal(t, types.LaunchRequestCancelled, cancelled.Status)
		assert.NotNil(t, cancelled.CancelledAt)
	})

	t.Run("cancel is rejected on terminal states", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/launch-requests/cancel", "alice@example.org",
			map[string]string{"id": lr.ID})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSubmitLaunchRequestValidation(t *testing.T) {
	f := newFixture(t)
	f.addCandidate(t, "alice@example.org", 50)
	f.fake.SetCapacity(a100Capacity())

	t.Run("unknown instance type", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/launch-requests", "alice@example.org", map[string]interface{}{
			"instanceTypes": []string{"gpu_nonexistent"},
			"regions":       []string{"us-west-1"},
			"sshPublicKey":  aliceKey,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty regions", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/launch-requests", "alice@example.org", map[string]interface{}{
			"instanceTypes": []string{"gpu_1x_a100"},
			"regions":       []string{},
			"sshPublicKey":  aliceKey,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed ssh key", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/launch-requests", "alice@example.org", map[string]interface{}{
			"instanceTypes": []string{"gpu_1x_a100"},
			"regions":       []string{"us-west-1"},
			"sshPublicKey":  "not-a-key",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("over quota", func(t *testing.T) {
		f.addCandidate(t, "broke@ex.com", 1)
		expensive := a100Capacity()
		expensive.PriceCentsPerHour = 50000
		f.fake.SetCapacity(expensive)

		rec := f.request(t, http.MethodPost, "/api/launch-requests", "broke@ex.com", map[string]interface{}{
			"instanceTypes": []string{"gpu_1x_a100"},
			"regions":       []string{"us-west-1"},
			"sshPublicKey":  aliceKey,
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestTerminateVM(t *testing.T) {
	f := newFixture(t)
	f.addCandidate(t, "alice@example.org", 50)
	f.fake.SetCapacity(a100Capacity())

	rec := f.request(t, http.MethodPost, "/api/vms/launch", "alice@example.org", map[string]interface{}{
		"instanceType": "gpu_1x_a100",
		"region":       "us-west-1",
		"sshPublicKey": aliceKey,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	vm := decode[types.VM](t, rec)

	t.Run("owner terminates", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/vms/terminate", "alice@example.org",
			map[string]string{"instanceId": vm.InstanceID})
		require.Equal(t, http.StatusOK, rec.Code)

		terminated := decode[types.VM](t, rec)
		assert.Equal(t, types.VMStatusTerminated, terminated.Status)
		assert.Equal(t, types.ReasonUserRequested, terminated.TerminationReason)
		assert.NotNil(t, terminated.TerminatedAt)
	})

	t.Run("terminating again errors without mutating the record", func(t *testing.T) {
		before, err := f.store.VMs.Get(context.Background(), vm.InstanceID)
		require.NoError(t, err)

		rec := f.request(t, http.MethodPost, "/api/vms/terminate", "alice@example.org",
			map[string]string{"instanceId": vm.InstanceID})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		after, err := f.store.VMs.Get(context.Background(), vm.InstanceID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("ssh key is removed with the last VM", func(t *testing.T) {
		_, err := f.store.SSHKeys.Get(context.Background(), "alice@example.org", "web-alice-example-org")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestRestartVM(t *testing.T) {
	f := newFixture(t)
	f.addCandidate(t, "alice@example.org", 50)
	f.fake.SetCapacity(a100Capacity())

	rec := f.request(t, http.MethodPost, "/api/vms/launch", "alice@example.org", map[string]interface{}{
		"instanceType": "gpu_1x_a100",
		"region":       "us-west-1",
		"sshPublicKey": aliceKey,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	vm := decode[types.VM](t, rec)

	rec = f.request(t, http.MethodPost, "/api/vms/restart", "alice@example.org",
		map[string]string{"instanceId": vm.InstanceID})
	require.Equal(t, http.StatusOK, rec.Code)

	restarted := decode[types.VM](t, rec)
	assert.Equal(t, types.VMStatusRestarting, restarted.Status)
}

func TestVMAccessControl(t *testing.T) {
	f := newFixture(t)
	f.addCandidate(t, "alice@example.org", 50)
	f.addCandidate(t, "bob@ex.com", 50)
	f.fake.SetCapacity(a100Capacity())

	rec := f.request(t, http.MethodPost, "/api/vms/launch", "alice@example.org", map[string]interface{}{
		"instanceType": "gpu_1x_a100",
		"region":       "us-west-1",
		"sshPublicKey": aliceKey,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	vm := decode[types.VM](t, rec)

	t.Run("other candidates cannot terminate", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/vms/terminate", "bob@ex.com",
			map[string]string{"instanceId": vm.InstanceID})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("candidates list only their own VMs", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/vms", "bob@ex.com", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decode[[]types.VM](t, rec))
	})

	t.Run("admins list everything", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/vms", "root@example.org", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]types.VM](t, rec), 1)
	})

	t.Run("second active VM is refused", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/vms/launch", "alice@example.org", map[string]interface{}{
			"instanceType": "gpu_1x_a100",
			"region":       "us-west-1",
			"sshPublicKey": aliceKey,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSeedComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	settings, err := f.store.Settings.Get(ctx)
	require.NoError(t, err)
	secret := settings.SeedCompleteSecret

	require.NoError(t, f.store.SeedStatus.Put(ctx, &types.SeedStatus{
		FilesystemName: "shared-data",
		Region:         "us-east-1",
		Status:         types.SeedStateSeeding,
		ClaimedAt:      time.Now().UTC(),
	}))

	body := map[string]string{"filesystemName": "shared-data", "region": "us-east-1"}

	t.Run("wrong token is rejected", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/seed-complete", "wrong-secret", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token marks ready", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/seed-complete", secret, body)
		require.Equal(t, http.StatusOK, rec.Code)

		status, err := f.store.SeedStatus.Get(ctx, "shared-data", "us-east-1")
		require.NoError(t, err)
		assert.Equal(t, types.SeedStateReady, status.Status)
	})

	t.Run("a second report is accepted", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/seed-complete", secret, body)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAdminCandidateLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("non-admins are rejected", func(t *testing.T) {
		f.addCandidate(t, "alice@example.org", 50)
		rec := f.request(t, http.MethodGet, "/api/admin/candidates", "alice@example.org", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin adds a candidate", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/admin/candidates", "root@example.org", map[string]interface{}{
			"email":        "Carol@Ex.com",
			"name":         "Carol",
			"quotaDollars": 50,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		carol := decode[types.Candidate](t, rec)
		assert.Equal(t, "carol@ex.com", carol.Email)
		assert.Equal(t, types.RoleCandidate, carol.Role)
	})

	t.Run("reactivation zeroes spend but keeps VM history", func(t *testing.T) {
		// Carol spent 45¢ on an old VM
		terminatedAt := time.Now().UTC().Add(-time.Hour)
		require.NoError(t, f.store.VMs.Put(ctx, &types.VM{
			InstanceID:        "i-carol-old",
			CandidateEmail:    "carol@ex.com",
			PriceCentsPerHour: 90,
			LaunchedAt:        terminatedAt.Add(-30 * time.Minute),
			TerminatedAt:      &terminatedAt,
			AccruedCents:      45,
		}))

		rec := f.request(t, http.MethodGet, "/api/auth/me", "carol@ex.com", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(45), decode[types.Candidate](t, rec).SpentCents)

		// Remove then re-add
		rec = f.request(t, http.MethodDelete, "/api/admin/candidates?email=carol@ex.com", "root@example.org", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.request(t, http.MethodGet, "/api/auth/me", "carol@ex.com", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, "deactivated candidates are rejected")

		rec = f.request(t, http.MethodPost, "/api/admin/candidates", "root@example.org", map[string]interface{}{
			"email":        "carol@ex.com",
			"name":         "Carol",
			"quotaDollars": 50,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.request(t, http.MethodGet, "/api/auth/me", "carol@ex.com", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(0), decode[types.Candidate](t, rec).SpentCents)

		// The old VM record is preserved
		_, err := f.store.VMs.Get(ctx, "i-carol-old")
		assert.NoError(t, err)
	})

	t.Run("quota update", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/admin/quota", "root@example.org", map[string]interface{}{
			"email":        "carol@ex.com",
			"quotaDollars": 75,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 75, decode[types.Candidate](t, rec).QuotaDollars)
	})
}

func TestAdminSettingsMasking(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPut, "/api/admin/settings", "root@example.org", map[string]interface{}{
		"lambdaApiKey": "secret_key_abcd1234",
		"setupScript":  "#!/bin/bash\necho hi",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	t.Run("secrets come back masked", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/admin/settings", "root@example.org", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		settings := decode[types.Settings](t, rec)
		assert.Equal(t, "****1234", settings.LambdaAPIKey)
		assert.Equal(t, "#!/bin/bash\necho hi", settings.SetupScript)
	})

	t.Run("writing the masked value back keeps the stored key", func(t *testing.T) {
		rec := f.request(t, http.MethodPut, "/api/admin/settings", "root@example.org", map[string]interface{}{
			"lambdaApiKey": "****1234",
			"setupScript":  "echo updated",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		key, err := f.store.Settings.APIKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "secret_key_abcd1234", key)

		settings, err := f.store.Settings.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "echo updated", settings.SetupScript)
		assert.NotEmpty(t, settings.SeedCompleteSecret, "seed secret survives settings writes")
	})
}

func TestFilesystemListFilter(t *testing.T) {
	f := newFixture(t)
	f.addCandidate(t, "alice@example.org", 50)
	f.fake.Filesystems = []provider.Filesystem{
		{ID: "fs-1", Name: "fs-alice-example-org-us-west-1", Region: "us-west-1"},
		{ID: "fs-2", Name: "fs-bob-ex-com-us-west-1", Region: "us-west-1"},
		{ID: "fs-3", Name: "shared-data", Region: "us-east-1"},
	}

	t.Run("candidates see only their prefix", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/filesystems", "alice@example.org", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		filesystems := decode[[]api.FilesystemView](t, rec)
		require.Len(t, filesystems, 1)
		assert.Equal(t, "fs-alice-example-org-us-west-1", filesystems[0].Name)
	})

	t.Run("admins see everything and can delete", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/filesystems", "root@example.org", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]api.FilesystemView](t, rec), 3)

		rec = f.request(t, http.MethodDelete, "/api/admin/filesystems?id=fs-3", "root@example.org", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, f.fake.Filesystems, 2)
	})

	t.Run("non-admins cannot delete", func(t *testing.T) {
		rec := f.request(t, http.MethodDelete, "/api/admin/filesystems?id=fs-2", "alice@example.org", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
