package api

import (
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/tsanders-rh/gpuctl/internal/provider"
)

// GPUTypesHandler exposes upstream instance types and capacity
type GPUTypesHandler struct {
	provider provider.API
}

// NewGPUTypesHandler creates a new gpu-types handler
func NewGPUTypesHandler(p provider.API) *GPUTypesHandler {
	return &GPUTypesHandler{provider: p}
}

// GPUType is one instance type in the listing
type GPUType struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	PriceCentsPerHour int64    `json:"priceCentsPerHour"`
	Regions           []string `json:"regions"`
}

// GPUTypesResponse is the GET /api/gpu-types payload
type GPUTypesResponse struct {
	Types      []GPUType `json:"types"`
	AllRegions []string  `json:"allRegions"`
}

// List handles GET /api/gpu-types
func (h *GPUTypesHandler) List(c echo.Context) error {
	capacity, err := h.provider.ListInstanceTypes(c.Request().Context())
	if err != nil {
		return ErrorFrom(c, err, "list gpu types")
	}

	regionSet := map[string]bool{}
	types := make([]GPUType, 0, len(capacity))
	for _, t := range capacity {
		regions := append([]string{}, t.RegionsWithCapacity...)
		sort.Strings(regions)
		types = append(types, GPUType{
			Name:              t.Name,
			Description:       t.Description,
			PriceCentsPerHour: t.PriceCentsPerHour,
			Regions:           regions,
		})
		for _, r := range t.RegionsWithCapacity {
			regionSet[r] = true
		}
	}

	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })

	allRegions := make([]string, 0, len(regionSet))
	for r := range regionSet {
		allRegions = append(allRegions, r)
	}
	sort.Strings(allRegions)

	return SuccessOK(c, &GPUTypesResponse{Types: types, AllRegions: allRegions})
}
