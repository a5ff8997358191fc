// common.go
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
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/localnerve/jam-build-entitygraph/internal/services"
	"github.com/localnerve/jam-build-entitygraph/internal/types"
	"github.com/localnerve/jam-build-entitygraph/internal/utils"
)

// parseNames extracts names from query parameters, supporting both multiple keys
// and comma-separated values. Order is kept and duplicates are dropped.
func parseNames(c *fiber.Ctx, key string) []string {
	seen := make(map[string]struct{})
	var names []string

	args := c.Context().QueryArgs()
	for _, value := range args.PeekMulti(key) {
		for _, v := range strings.Split(string(value), ",") {
			v = strings.TrimSpace(v)
			if _, dup := seen[v]; v == "" || dup {
				continue
			}
			seen[v] = struct{}{}
			names = append(names, v)
		}
	}
	return names
}

// serviceError maps entity service errors to responses
func serviceError(c *fiber.Ctx, err error, errorType string) error {
	switch {
	case errors.Is(err, services.ErrVersion):
		return types.Conflict(err)
	case errors.Is(err, services.ErrNotFound):
		return utils.NotFoundResponse(c, err.Error())
	case errors.Is(err, services.ErrInvalidRequest), errors.Is(err, services.ErrInvalidChange):
		return utils.BadRequestResponse(c, err.Error(), errorType)
	}
	return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, errorType)
}

// bodyError answers request bodies that do not decode
func bodyError(c *fiber.Ctx, err error, errorType string) error {
	return utils.BadRequestResponse(c, "Invalid request body: "+err.Error(), errorType)
}
