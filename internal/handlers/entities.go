// entities.go
//
// Reference entity service for the jam-build entity graph
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of jam-build-entitygraph.
// jam-build-entitygraph is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// jam-build-entitygraph is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with jam-build-entitygraph.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/localnerve/jam-build-entitygraph/internal/config"
	"github.com/localnerve/jam-build-entitygraph/internal/middleware"
	"github.com/localnerve/jam-build-entitygraph/internal/services"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
	"github.com/localnerve/jam-build-entitygraph/internal/utils"
)

// EntityHandler handles the entity graph routes
type EntityHandler struct {
	Service *services.EntityService
}

// Instances handles POST /api/instances
// @Summary Query instances
// @Description Answer object queries with the instances and the instances reached by the include paths. Lists outside the include paths are answered as ["deferred"].
// @Tags Entities
// @Accept json
// @Produce json
// @Param request body transport.QueryRequest true "Object queries"
// @Success 200 {object} transport.Response
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /instances [post]
func (h *EntityHandler) Instances(c *fiber.Ctx) error {
	var req transport.QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return bodyError(c, err, "instances")
	}

	resp, err := h.Service.Instances(&req)
	if err != nil {
		return serviceError(c, err, "instances")
	}
	return utils.SuccessResponse(c, resp, fiber.StatusOK)
}

// Lists handles POST /api/lists
// @Summary Load a list
// @Description Answer the items of one list property. Static lists are requested without an id.
// @Tags Entities
// @Accept json
// @Produce json
// @Param request body transport.ListRequest true "List request"
// @Success 200 {object} transport.Response
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /lists [post]
func (h *EntityHandler) Lists(c *fiber.Ctx) error {
	var req transport.ListRequest
	if err := c.BodyParser(&req); err != nil {
		return bodyError(c, err, "lists")
	}

	resp, err := h.Service.List(&req)
	if err != nil {
		return serviceError(c, err, "lists")
	}
	return utils.SuccessResponse(c, resp, fiber.StatusOK)
}

// Types handles GET /api/types?names=...
// @Summary Get type metadata
// @Description Get the metadata of the named types and the condition types
// @Tags Entities
// @Produce json
// @Param names query string true "Comma-separated list of type names"
// @Success 200 {object} transport.TypesResponse
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /types [get]
func (h *EntityHandler) Types(c *fiber.Ctx) error {
	names := parseNames(c, "names")
	if len(names) == 0 {
		return utils.BadRequestResponse(c, "names is required", "types")
	}

	resp, err := h.Service.Types(names)
	if err != nil {
		return serviceError(c, err, "types")
	}
	return utils.SuccessResponse(c, resp, fiber.StatusOK)
}

// Changes handles POST /api/changes
// @Summary Submit changes
// @Description Apply changes in one transaction and answer the queries sent along. New instances are assigned ids reported as idChanges.
// @Tags Entities
// @Accept json
// @Produce json
// @Param request body transport.SubmitRequest true "Changes"
// @Success 200 {object} transport.Response
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Security CookieAuth
// @Router /changes [post]
func (h *EntityHandler) Changes(c *fiber.Ctx) error {
	var req transport.SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return bodyError(c, err, "changes")
	}

	resp, err := h.Service.ApplyChanges(middleware.UserID(c), &req)
	if err != nil {
		return serviceError(c, err, "changes")
	}
	return utils.SuccessResponse(c, resp, fiber.StatusOK)
}

// History handles GET /api/changes?after=...&limit=...
// @Summary List accepted change sets
// @Description List the change set ledger after the given id, oldest first
// @Tags Entities
// @Produce json
// @Param after query int false "Ledger id to start after"
// @Param limit query int false "Maximum number of change sets"
// @Success 200 {array} ChangeSetResponse
// @Failure 400 {object} utils.ErrorResponseStruct
// @Security CookieAuth
// @Router /changes [get]
func (h *EntityHandler) History(c *fiber.Ctx) error {
	after, err := strconv.ParseUint(c.Query("after", "0"), 10, 64)
	if err != nil {
		return utils.BadRequestResponse(c, "after must be a ledger id", "history")
	}

	sets, err := h.Service.History(after, c.QueryInt("limit", 100))
	if err != nil {
		return serviceError(c, err, "history")
	}
	out := make([]ChangeSetResponse, 0, len(sets))
	for _, s := range sets {
		var changes []transport.Change
		if err := s.Changes.Decode(&changes); err != nil {
			return serviceError(c, err, "history")
		}
		out = append(out, ChangeSetResponse{
			ID:        s.ChangeSetID,
			UserID:    s.UserID,
			Changes:   changes,
			CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return utils.SuccessResponse(c, out, fiber.StatusOK)
}

// ChangeSetResponse is one entry of the change set ledger
type ChangeSetResponse struct {
	ID        uint64             `json:"id"`
	UserID    string             `json:"userId,omitempty"`
	Changes   []transport.Change `json:"changes"`
	CreatedAt string             `json:"createdAt"`
}

// HealthHandler handles GET /api/health
type HealthHandler struct {
	Config  *config.Config
	Service *services.EntityService
}

// Health handles GET /api/health
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} services.HealthCheckResult
// @Failure 503 {object} services.HealthCheckResult
// @Router /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	result := services.HealthCheck(h.Config, h.Service.DB())
	status := fiber.StatusOK
	if !result.Healthy() {
		status = fiber.StatusServiceUnavailable
	}
	return utils.SuccessResponse(c, result, status)
}
