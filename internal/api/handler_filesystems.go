package api

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tsanders-rh/gpuctl/internal/auth"
	"github.com/tsanders-rh/gpuctl/internal/provider"
	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// FilesystemHandler handles filesystem endpoints
type FilesystemHandler struct {
	provider provider.API
}

// NewFilesystemHandler creates a new filesystem handler
func NewFilesystemHandler(p provider.API) *FilesystemHandler {
	return &FilesystemHandler{provider: p}
}

// FilesystemView is the client-facing filesystem shape
type FilesystemView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Region     string `json:"region"`
	MountPoint string `json:"mountPoint"`
}

// List handles GET /api/filesystems. Admins see everything; candidates see
// only their personal filesystems.
func (h *FilesystemHandler) List(c echo.Context) error {
	candidate, err := auth.CurrentCandidate(c)
	if err != nil {
		return err
	}

	filesystems, err := h.provider.ListFilesystems(c.Request().Context())
	if err != nil {
		return ErrorFrom(c, err, "list filesystems")
	}

	prefix := types.PersonalFilesystemPrefix(candidate.Email)
	out := []FilesystemView{}
	for _, fs := range filesystems {
		if !candidate.IsAdmin() && !strings.HasPrefix(fs.Name, prefix) {
			continue
		}
		out = append(out, FilesystemView{
			ID:         fs.ID,
			Name:       fs.Name,
			Region:     fs.Region,
			MountPoint: fs.MountPoint,
		})
	}

	return SuccessOK(c, out)
}

// Delete handles DELETE /api/admin/filesystems?id=
func (h *FilesystemHandler) Delete(c echo.Context) error {
	id := c.QueryParam("id")
	if id == "" {
		return ErrorBadRequest(c, "id query parameter is required")
	}

	if err := h.provider.DeleteFilesystem(c.Request().Context(), id); err != nil {
		return ErrorFrom(c, err, "delete filesystem")
	}

	return SuccessOK(c, map[string]string{"status": "deleted"})
}
