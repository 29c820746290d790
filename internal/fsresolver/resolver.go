// Package fsresolver turns "attach these shared filesystems to this VM" into
// the chain of create, single-writer seed, and read-only remount. The
// resolver holds no state of its own; clients are passed in explicitly.
package fsresolver

import (
	"context"
	"fmt"
	"time"

	"github.com/tsanders-rh/gpuctl/internal/provider"
	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// DefaultStaleAfter is how old a seeding claim must be before another caller
// may take it over
const DefaultStaleAfter = 60 * time.Minute

// ProviderFilesystems is the slice of the provider API the resolver needs
type ProviderFilesystems interface {
	ListFilesystems(ctx context.Context) ([]provider.Filesystem, error)
	CreateFilesystem(ctx context.Context, name, region string) (*provider.Filesystem, error)
}

// SeedClaims is the single-writer claim protocol on (filesystem, region)
type SeedClaims interface {
	Claim(ctx context.Context, name, region, claimantID string, stale time.Duration) (bool, error)
}

// Input describes one VM's filesystem needs
type Input struct {
	Region         string
	CandidateEmail string
	AttachPersonal bool
	Settings       types.Settings
	AppBaseURL     string
}

// LoaderSpec describes a loader VM that must be launched to seed a shared
// filesystem
type LoaderSpec struct {
	FilesystemName string
	Region         string
	InstanceName   string
	UserData       string
	ClaimID        string
}

// Output is what the launch path needs: names to attach, loaders to start,
// and the fragment that remounts shared filesystems read-only on the user VM
type Output struct {
	FilesystemNames       []string
	Loaders               []LoaderSpec
	ReadonlyRemountScript string
}

// Resolver resolves filesystem attachments for user VMs
type Resolver struct {
	provider   ProviderFilesystems
	seeds      SeedClaims
	staleAfter time.Duration
}

// New creates a resolver
func New(p ProviderFilesystems, seeds SeedClaims) *Resolver {
	return &Resolver{
		provider:   p,
		seeds:      seeds,
		staleAfter: DefaultStaleAfter,
	}
}

// Resolve computes the attachments for one VM in one region
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Output, error) {
	existing, err := r.provider.ListFilesystems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list filesystems: %w", err)
	}

	byName := map[string]provider.Filesystem{}
	for _, fs := range existing {
		if fs.Region == in.Region {
			byName[fs.Name] = fs
		}
	}

	out := &Output{}

	if in.AttachPersonal {
		name := types.PersonalFilesystemName(in.CandidateEmail, in.Region)
		if _, ok := byName[name]; !ok {
			if _, err := r.provider.CreateFilesystem(ctx, name, in.Region); err != nil {
				return nil, fmt.Errorf("create personal filesystem %s: %w", name, err)
			}
		}
		// Personal filesystems stay read-write; no remount fragment.
		out.FilesystemNames = append(out.FilesystemNames, name)
	}

	for _, def := range in.Settings.DefaultFilesystems {
		if _, ok := byName[def.Name]; !ok {
			if _, err := r.provider.CreateFilesystem(ctx, def.Name, in.Region); err != nil {
				return nil, fmt.Errorf("create shared filesystem %s: %w", def.Name, err)
			}

			claimID := types.GenerateClaimID()
			claimed, err := r.seeds.Claim(ctx, def.Name, in.Region, claimID, r.staleAfter)
			if err != nil {
				return nil, fmt.Errorf("claim seed %s/%s: %w", def.Name, in.Region, err)
			}
			if claimed {
				userData, err := renderLoaderScript(def, in.Region, in.AppBaseURL, in.Settings.SeedCompleteSecret)
				if err != nil {
					return nil, fmt.Errorf("render loader script %s: %w", def.Name, err)
				}
				out.Loaders = append(out.Loaders, LoaderSpec{
					FilesystemName: def.Name,
					Region:         in.Region,
					InstanceName:   fmt.Sprintf("seed-%s-%s", def.Name, in.Region),
					UserData:       userData,
					ClaimID:        claimID,
				})
			}
		}

		// The user's VM attaches the shared filesystem whether or not seeding
		// is done; files appear once the loader finishes.
		out.FilesystemNames = append(out.FilesystemNames, def.Name)
		out.ReadonlyRemountScript += remountReadonlyCommand(def.Name) + "\n"
	}

	return out, nil
}
