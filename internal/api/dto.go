package api

import (
	"github.com/starford/wedecode/internal/catalog"
	"github.com/starford/wedecode/internal/service"
)

// CreateRunRequest is the request body for decompiling a package.
type CreateRunRequest struct {
	Input      string `json:"input" example:"/data/wx0123456789abcdef/__APP__.wxapkg" validate:"required"`
	Output     string `json:"output,omitempty" example:"/data/out/app"`
	UsePx      bool   `json:"use_px,omitempty"`
	UnpackOnly bool   `json:"unpack_only,omitempty"`
	AppID      string `json:"app_id,omitempty" example:"wx0123456789abcdef"`
}

// RunResult is the response to a decompile request (aliased from the domain layer).
type RunResult = service.RunResult

// RunDetail is a recorded run with its files (aliased from the domain layer).
type RunDetail = service.RunDetail

// ModuleDetail is a module with source and dependents (aliased from the domain layer).
type ModuleDetail = service.ModuleDetail

// RunListResponse wraps run listings.
type RunListResponse struct {
	Runs []catalog.RunRow `json:"runs" validate:"required"`
}

// ModuleListResponse wraps paginated module listings.
type ModuleListResponse struct {
	Modules []catalog.ModuleRow `json:"modules" validate:"required"`
	Total   int                 `json:"total" example:"42" validate:"required"`
}

// DependentsResponse lists the reverse edges of one module.
type DependentsResponse struct {
	Path       string   `json:"path" example:"app-service/utils/util.js" validate:"required"`
	Dependents []string `json:"dependents" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []catalog.SearchResult `json:"results" validate:"required"`
}

// GraphResponse wraps the module dependency graph.
type GraphResponse struct {
	Nodes []catalog.GraphNode `json:"nodes" validate:"required"`
	Links []catalog.GraphLink `json:"links" validate:"required"`
}

// UploadResponse is returned after a package upload has been decompiled.
type UploadResponse struct {
	Filename string            `json:"filename" example:"__APP__.wxapkg" validate:"required"`
	Size     int64             `json:"size" example:"12345" validate:"required"`
	Result   service.RunResult `json:"result" validate:"required"`
}
