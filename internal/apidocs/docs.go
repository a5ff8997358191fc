// Package apidocs registers the OpenAPI document of the entity service with swag.
package apidocs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support",
            "url": "https://github.com/localnerve/jam-build-entitygraph",
            "email": "info@localnerve.com"
        },
        "license": {
            "name": "AGPL-3.0",
            "url": "https://www.gnu.org/licenses/agpl-3.0.html"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/instances": {
            "post": {
                "tags": ["Entities"],
                "summary": "Query instances",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/transport.QueryRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/transport.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/utils.ErrorResponseStruct"}}
                }
            }
        },
        "/lists": {
            "post": {
                "tags": ["Entities"],
                "summary": "Load a list",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/transport.ListRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/transport.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/utils.ErrorResponseStruct"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/utils.ErrorResponseStruct"}}
                }
            }
        },
        "/types": {
            "get": {
                "tags": ["Entities"],
                "summary": "Get type metadata",
                "produces": ["application/json"],
                "parameters": [{"in": "query", "name": "names", "type": "string", "required": true, "description": "Comma-separated list of type names"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/utils.ErrorResponseStruct"}}
                }
            }
        },
        "/changes": {
            "get": {
                "security": [{"CookieAuth": []}],
                "tags": ["Entities"],
                "summary": "List accepted change sets",
                "produces": ["application/json"],
                "parameters": [
                    {"in": "query", "name": "after", "type": "integer"},
                    {"in": "query", "name": "limit", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"type": "object"}}}}
            },
            "post": {
                "security": [{"CookieAuth": []}],
                "tags": ["Entities"],
                "summary": "Submit changes",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/transport.SubmitRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/transport.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/utils.ErrorResponseStruct"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/utils.ErrorResponseStruct"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/utils.ErrorResponseStruct"}}
                }
            }
        },
        "/health": {
            "get": {
                "tags": ["Health"],
                "summary": "Health check",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}
            }
        }
    },
    "definitions": {
        "transport.ObjectQuery": {
            "type": "object",
            "properties": {
                "from": {"type": "string"},
                "ids": {"type": "array", "items": {"type": "string"}},
                "include": {"type": "array", "items": {"type": "string"}},
                "inScope": {"type": "boolean"}
            }
        },
        "transport.Change": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["InitNew", "ValueChange", "ReferenceChange", "ListChange"]},
                "instance": {"$ref": "#/definitions/transport.InstanceRef"},
                "property": {"type": "string"},
                "oldValue": {},
                "newValue": {},
                "added": {"type": "array", "items": {"$ref": "#/definitions/transport.InstanceRef"}},
                "removed": {"type": "array", "items": {"$ref": "#/definitions/transport.InstanceRef"}}
            }
        },
        "transport.InstanceRef": {
            "type": "object",
            "properties": {
                "type": {"type": "string"},
                "id": {"type": "string"},
                "isNew": {"type": "boolean"}
            }
        },
        "transport.QueryRequest": {
            "type": "object",
            "properties": {
                "queries": {"type": "array", "items": {"$ref": "#/definitions/transport.ObjectQuery"}},
                "changes": {"type": "array", "items": {"$ref": "#/definitions/transport.Change"}}
            }
        },
        "transport.ListRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string"},
                "id": {"type": "string"},
                "property": {"type": "string"},
                "include": {"type": "array", "items": {"type": "string"}}
            }
        },
        "transport.SubmitRequest": {
            "type": "object",
            "properties": {
                "changes": {"type": "array", "items": {"$ref": "#/definitions/transport.Change"}},
                "queries": {"type": "array", "items": {"$ref": "#/definitions/transport.ObjectQuery"}}
            }
        },
        "transport.Response": {
            "type": "object",
            "properties": {
                "instances": {"type": "object"},
                "statics": {"type": "object"},
                "conditions": {"type": "array", "items": {"type": "object"}},
                "changes": {"type": "array", "items": {"$ref": "#/definitions/transport.Change"}},
                "idChanges": {"type": "array", "items": {"type": "object"}}
            }
        },
        "utils.ErrorResponseStruct": {
            "type": "object",
            "properties": {
                "status": {"type": "integer"},
                "message": {"type": "string"},
                "ok": {"type": "boolean"},
                "timestamp": {"type": "string"},
                "url": {"type": "string"},
                "type": {"type": "string"},
                "versionError": {"type": "boolean"}
            }
        }
    },
    "securityDefinitions": {
        "CookieAuth": {"type": "apiKey", "name": "cookie_session", "in": "cookie"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:3000",
	BasePath:         "/api",
	Schemes:          []string{"http", "https"},
	Title:            "Entity Graph API",
	Description:      "Reference entity service for the entity graph: instance queries with include paths, list loading, type metadata and change submission.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
