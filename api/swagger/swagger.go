package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "DUEB Assignment API",
        "description": "Scenario assignment allocator for disaster-drill observation exercises",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Organizations", "description": "Participating organization registry"},
        {"name": "VictimProfiles", "description": "Simulated-patient catalog"},
        {"name": "Scenarios", "description": "Drill scenario management"},
        {"name": "Assignments", "description": "Profile allocation and roster"},
        {"name": "Exports", "description": "Roster CSV exports"}
    ],
    "paths": {
        "/organizations": {
            "get": {
                "tags": ["Organizations"],
                "summary": "List organizations",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "sort", "in": "query", "type": "string"},
                    {"name": "order", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Organizations"],
                "summary": "Create organization",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/OrganizationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid short code"},
                    "409": {"description": "Name or short code already exists"}
                }
            }
        },
        "/organizations/{id}": {
            "get": {
                "tags": ["Organizations"],
                "summary": "Get organization",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            },
            "put": {
                "tags": ["Organizations"],
                "summary": "Update organization",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/OrganizationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Short code frozen by existing assignments"}
                }
            },
            "delete": {
                "tags": ["Organizations"],
                "summary": "Delete organization",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "409": {"description": "Organization still has assignments"}
                }
            }
        },
        "/victim-profiles": {
            "get": {
                "tags": ["VictimProfiles"],
                "summary": "List victim profiles",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "category", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["VictimProfiles"],
                "summary": "Create victim profile",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/VictimProfileRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/victim-profiles/{id}": {
            "get": {
                "tags": ["VictimProfiles"],
                "summary": "Get victim profile",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            },
            "put": {
                "tags": ["VictimProfiles"],
                "summary": "Update victim profile",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/VictimProfileRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["VictimProfiles"],
                "summary": "Delete victim profile",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"}
                }
            }
        },
        "/scenarios": {
            "get": {
                "tags": ["Scenarios"],
                "summary": "List scenarios",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Scenarios"],
                "summary": "Create scenario",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ScenarioRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "A scenario already exists"}
                }
            }
        },
        "/scenarios/{id}": {
            "get": {
                "tags": ["Scenarios"],
                "summary": "Get scenario",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Scenarios"],
                "summary": "Update scenario",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ScenarioRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Scenarios"],
                "summary": "Delete scenario and its assignments",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"}
                }
            }
        },
        "/scenarios/{id}/assignments": {
            "get": {
                "tags": ["Assignments"],
                "summary": "List scenario roster",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "organization_id", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scenarios/{id}/unassigned-profiles": {
            "get": {
                "tags": ["Scenarios"],
                "summary": "List profiles not yet part of the scenario",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scenarios/{id}/stats": {
            "get": {
                "tags": ["Scenarios"],
                "summary": "Category distribution of assigned profiles",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Assign one profile to an organization",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AllocateOneRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Profile already assigned or allocation contention"}
                }
            }
        },
        "/assignments/batch": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Assign a batch of profiles to one organization",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AllocateBatchRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Batch rejected, invalid profile ids listed in details"}
                }
            }
        },
        "/assignments/queue": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Attach profiles to the scenario without an organization",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/QueueRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/{id}/promote": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Promote a queued assignment to an organization",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/PromoteRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Assignment already carries a number"}
                }
            }
        },
        "/assignments/{id}": {
            "delete": {
                "tags": ["Assignments"],
                "summary": "Remove an assignment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted, number is never reissued"}
                }
            }
        },
        "/exports": {
            "post": {
                "tags": ["Exports"],
                "summary": "Schedule a roster CSV export",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateExportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/{id}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Get export job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/download/{token}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download a completed export",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "CSV payload"},
                    "403": {"description": "Invalid or expired token"}
                }
            }
        }
    },
    "definitions": {
        "OrganizationRequest": {
            "type": "object",
            "required": ["name", "short_code"],
            "properties": {
                "name": {"type": "string"},
                "short_code": {"type": "string", "description": "Alphabetic badge prefix, e.g. DRK"}
            }
        },
        "VictimProfileRequest": {
            "type": "object",
            "properties": {
                "profile_number": {"type": "string"},
                "category": {"type": "string"},
                "diagnosis": {"type": "string"},
                "expected_med_action": {"type": "string"},
                "comment": {"type": "string"}
            }
        },
        "ScenarioRequest": {
            "type": "object",
            "required": ["name"],
            "properties": {
                "name": {"type": "string"},
                "date": {"type": "string", "format": "date-time"},
                "description": {"type": "string"}
            }
        },
        "AllocateOneRequest": {
            "type": "object",
            "required": ["scenario_id", "organization_id", "victim_profile_id"],
            "properties": {
                "scenario_id": {"type": "string"},
                "organization_id": {"type": "string"},
                "victim_profile_id": {"type": "string"}
            }
        },
        "AllocateBatchRequest": {
            "type": "object",
            "required": ["scenario_id", "organization_id", "victim_profile_ids"],
            "properties": {
                "scenario_id": {"type": "string"},
                "organization_id": {"type": "string"},
                "victim_profile_ids": {"type": "array", "items": {"type": "string"}}
            }
        },
        "QueueRequest": {
            "type": "object",
            "required": ["scenario_id", "victim_profile_ids"],
            "properties": {
                "scenario_id": {"type": "string"},
                "victim_profile_ids": {"type": "array", "items": {"type": "string"}}
            }
        },
        "PromoteRequest": {
            "type": "object",
            "required": ["organization_id"],
            "properties": {
                "organization_id": {"type": "string"}
            }
        },
        "CreateExportRequest": {
            "type": "object",
            "required": ["scenario_id"],
            "properties": {
                "scenario_id": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
