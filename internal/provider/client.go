package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// The upstream mixes /file-systems and /filesystems in the wild; every verb
// here goes through this one constant.
const filesystemsPath = "/file-systems"

const codeInsufficientCapacity = "instance-operations/launch/insufficient-capacity"

const (
	dataTimeout   = 10 * time.Second
	launchTimeout = 30 * time.Second
)

// KeySource supplies the upstream API key per call, so settings changes take
// effect without a restart
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// API is the full upstream surface the control plane consumes
type API interface {
	ListInstanceTypes(ctx context.Context) ([]InstanceType, error)
	Launch(ctx context.Context, spec LaunchSpec) (string, error)
	Terminate(ctx context.Context, instanceIDs []string) error
	Restart(ctx context.Context, instanceID string) error
	GetInstance(ctx context.Context, instanceID string) (*Instance, error)
	ListInstances(ctx context.Context) ([]Instance, error)
	ListSSHKeys(ctx context.Context) ([]SSHKey, error)
	AddSSHKey(ctx context.Context, name, publicKey string) (*SSHKey, error)
	DeleteSSHKey(ctx context.Context, name string) error
	ListFilesystems(ctx context.Context) ([]Filesystem, error)
	CreateFilesystem(ctx context.Context, name, region string) (*Filesystem, error)
	DeleteFilesystem(ctx context.Context, id string) error
}

// Client is a typed wrapper over the upstream REST API. Auth is HTTP Basic
// with the API key as username. Idempotent calls retry with backoff; launch
// and other mutating calls go out exactly once.
type Client struct {
	retry   *retryablehttp.Client
	once    *retryablehttp.Client
	baseURL string
	keys    KeySource
	limiter *rate.Limiter
}

var _ API = (*Client)(nil)

// NewClient creates a provider client for the given base URL
func NewClient(baseURL string, keys KeySource) *Client {
	retry := retryablehttp.NewClient()
	retry.Logger = nil
	retry.RetryMax = 3
	retry.RetryWaitMin = 500 * time.Millisecond
	retry.RetryWaitMax = 5 * time.Second

	once := retryablehttp.NewClient()
	once.Logger = nil
	once.RetryMax = 0

	return &Client{
		retry:   retry,
		once:    once,
		baseURL: baseURL,
		keys:    keys,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindTransient, Message: "rate limit wait aborted"}
	}

	key, err := c.keys.APIKey(ctx)
	if err != nil {
		return fmt.Errorf("fetch api key: %w", err)
	}
	if key == "" {
		return &Error{Kind: KindUnauth, Message: "upstream API key is not configured"}
	}

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(key, "")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.once
	switch method {
	case http.MethodGet, http.MethodDelete:
		httpClient = c.retry
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Message: "upstream unreachable"}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransient, Message: "read upstream response"}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var we wireError
		_ = json.Unmarshal(data, &we)
		msg := we.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{
			Kind:       classify(resp.StatusCode, we.Error.Code),
			StatusCode: resp.StatusCode,
			Code:       we.Error.Code,
			Message:    msg,
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode upstream response: %w", err)
		}
	}
	return nil
}

// ListInstanceTypes returns all instance types with their regional capacity
func (c *Client) ListInstanceTypes(ctx context.Context) ([]InstanceType, error) {
	var env wireEnvelope[map[string]wireInstanceType]
	if err := c.do(ctx, http.MethodGet, "/instance-types", nil, &env, dataTimeout); err != nil {
		return nil, err
	}

	types := make([]InstanceType, 0, len(env.Data))
	for name, wt := range env.Data {
		t := InstanceType{
			Name:              name,
			Description:       wt.InstanceType.Description,
			PriceCentsPerHour: wt.InstanceType.PriceCentsPerHour,
		}
		if wt.InstanceType.Name != "" {
			t.Name = wt.InstanceType.Name
		}
		for _, r := range wt.RegionsWithCapacityAvailable {
			t.RegionsWithCapacity = append(t.RegionsWithCapacity, r.Name)
		}
		types = append(types, t)
	}
	return types, nil
}

// Launch starts one instance and returns its upstream id
func (c *Client) Launch(ctx context.Context, spec LaunchSpec) (string, error) {
	body := map[string]interface{}{
		"region_name":        spec.Region,
		"instance_type_name": spec.InstanceType,
		"ssh_key_names":      spec.SSHKeyNames,
		"file_system_names":  spec.FilesystemNames,
		"name":               spec.Name,
		"user_data":          spec.UserData,
	}

	var env wireEnvelope[struct {
		InstanceIDs []string `json:"instance_ids"`
	}]
	if err := c.do(ctx, http.MethodPost, "/instance-operations/launch", body, &env, launchTimeout); err != nil {
		return "", err
	}
	if len(env.Data.InstanceIDs) == 0 {
		return "", &Error{Kind: KindPermanent, Message: "launch returned no instance id"}
	}
	return env.Data.InstanceIDs[0], nil
}

// Terminate stops the given instances. Already-terminated ids are fine.
func (c *Client) Terminate(ctx context.Context, instanceIDs []string) error {
	body := map[string]interface{}{"instance_ids": instanceIDs}
	return c.do(ctx, http.MethodPost, "/instance-operations/terminate", body, nil, launchTimeout)
}

// Restart reboots one instance
func (c *Client) Restart(ctx context.Context, instanceID string) error {
	body := map[string]interface{}{"instance_ids": []string{instanceID}}
	return c.do(ctx, http.MethodPost, "/instance-operations/restart", body, nil, launchTimeout)
}

// GetInstance retrieves one instance by id
func (c *Client) GetInstance(ctx context.Context, instanceID string) (*Instance, error) {
	var env wireEnvelope[wireInstance]
	if err := c.do(ctx, http.MethodGet, "/instances/"+instanceID, nil, &env, dataTimeout); err != nil {
		return nil, err
	}
	inst := env.Data.toInstance()
	return &inst, nil
}

// ListInstances retrieves all instances visible to the API key
func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	var env wireEnvelope[[]wireInstance]
	if err := c.do(ctx, http.MethodGet, "/instances", nil, &env, dataTimeout); err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(env.Data))
	for _, w := range env.Data {
		instances = append(instances, w.toInstance())
	}
	return instances, nil
}

// ListSSHKeys retrieves all registered keys
func (c *Client) ListSSHKeys(ctx context.Context) ([]SSHKey, error) {
	var env wireEnvelope[[]wireSSHKey]
	if err := c.do(ctx, http.MethodGet, "/ssh-keys", nil, &env, dataTimeout); err != nil {
		return nil, err
	}

	keys := make([]SSHKey, 0, len(env.Data))
	for _, w := range env.Data {
		keys = append(keys, SSHKey(w))
	}
	return keys, nil
}

// AddSSHKey registers a public key under a name. Names are deterministic per
// user, so "already in use" resolves to the existing key rather than an
// error.
func (c *Client) AddSSHKey(ctx context.Context, name, publicKey string) (*SSHKey, error) {
	body := map[string]interface{}{"name": name, "public_key": publicKey}

	var env wireEnvelope[wireSSHKey]
	err := c.do(ctx, http.MethodPost, "/ssh-keys", body, &env, dataTimeout)
	if err == nil {
		key := SSHKey(env.Data)
		return &key, nil
	}
	if !IsKind(err, KindConflict) {
		return nil, err
	}

	keys, lerr := c.ListSSHKeys(ctx)
	if lerr != nil {
		return nil, lerr
	}
	for _, k := range keys {
		if k.Name == name {
			return &k, nil
		}
	}
	return nil, err
}

// DeleteSSHKey removes a key by name; a missing key is not an error
func (c *Client) DeleteSSHKey(ctx context.Context, name string) error {
	keys, err := c.ListSSHKeys(ctx)
	if err != nil {
		return err
	}

	for _, k := range keys {
		if k.Name != name {
			continue
		}
		err := c.do(ctx, http.MethodDelete, "/ssh-keys/"+k.ID, nil, nil, dataTimeout)
		if err != nil && !IsKind(err, KindNotFound) {
			return err
		}
		return nil
	}
	return nil
}

// ListFilesystems retrieves all filesystems
func (c *Client) ListFilesystems(ctx context.Context) ([]Filesystem, error) {
	var env wireEnvelope[[]wireFilesystem]
	if err := c.do(ctx, http.MethodGet, filesystemsPath, nil, &env, dataTimeout); err != nil {
		return nil, err
	}

	filesystems := make([]Filesystem, 0, len(env.Data))
	for _, w := range env.Data {
		filesystems = append(filesystems, w.toFilesystem())
	}
	return filesystems, nil
}

// CreateFilesystem creates a filesystem in a region. Concurrent creates of
// the same name collapse to the existing filesystem.
func (c *Client) CreateFilesystem(ctx context.Context, name, region string) (*Filesystem, error) {
	body := map[string]interface{}{"name": name, "region": region}

	var env wireEnvelope[wireFilesystem]
	err := c.do(ctx, http.MethodPost, filesystemsPath, body, &env, dataTimeout)
	if err == nil {
		fs := env.Data.toFilesystem()
		return &fs, nil
	}
	if !IsKind(err, KindConflict) {
		return nil, err
	}

	filesystems, lerr := c.ListFilesystems(ctx)
	if lerr != nil {
		return nil, lerr
	}
	for _, fs := range filesystems {
		if fs.Name == name && fs.Region == region {
			return &fs, nil
		}
	}
	return nil, err
}

// DeleteFilesystem removes a filesystem by id
func (c *Client) DeleteFilesystem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, filesystemsPath+"/"+id, nil, nil, dataTimeout)
}
