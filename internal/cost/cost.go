// Package cost is the sole source of truth for accrual math. The cached
// candidate.spentCents is derived from these functions by the reconciler.
package cost

import (
	"time"

	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// Minutes returns the billed minutes between start and end, rounded up
func Minutes(start, end time.Time) int64 {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int64((d + time.Minute - 1) / time.Minute)
}

// Accrued returns ceil(minutes × priceCentsPerHour / 60) in cents
func Accrued(launchedAt, end time.Time, priceCentsPerHour int64) int64 {
	minutes := Minutes(launchedAt, end)
	return (minutes*priceCentsPerHour + 59) / 60
}

// VMAccrued returns the accrued cost of one VM as of now, or its final cost
// when terminated
func VMAccrued(vm *types.VM, now time.Time) int64 {
	end := now
	if vm.TerminatedAt != nil {
		end = *vm.TerminatedAt
	}
	return Accrued(vm.LaunchedAt, end, vm.PriceCentsPerHour)
}

// Spent returns the candidate's total spend across VMs. VMs launched before
// resetAt are excluded, which is how re-adding a removed candidate zeroes
// their spend while keeping history.
func Spent(vms []*types.VM, resetAt *time.Time, now time.Time) int64 {
	var total int64
	for _, vm := range vms {
		if resetAt != nil && vm.LaunchedAt.Before(*resetAt) {
			continue
		}
		total += VMAccrued(vm, now)
	}
	return total
}
