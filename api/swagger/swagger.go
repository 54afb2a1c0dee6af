package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "EnviroSense API",
        "description": "Citizen environmental report validation pipeline",
        "version": "0.1.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Reports", "description": "Report intake and validation status"},
        {"name": "Exports", "description": "Verified-report exports"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/api/v1/reports": {
            "post": {
                "tags": ["Reports"],
                "summary": "Submit an environmental report",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitReportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/reports/{id}/status": {
            "get": {
                "tags": ["Reports"],
                "summary": "Poll report validation status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/reports/stats": {
            "get": {
                "tags": ["Reports"],
                "summary": "Aggregate validation statistics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/exports": {
            "post": {
                "tags": ["Exports"],
                "summary": "Enqueue a verified-report export",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/exports/{id}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Poll export job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/export/{token}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download an export artifact via signed token",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "403": {"description": "Invalid or expired token"}
                }
            }
        }
    },
    "definitions": {
        "SubmitReportRequest": {
            "type": "object",
            "properties": {
                "category": {"type": "string", "enum": ["air", "garbage", "construction", "water"]},
                "latitude": {"type": "number"},
                "longitude": {"type": "number"},
                "location_name": {"type": "string"},
                "classification": {"$ref": "#/definitions/ClassificationPayload"},
                "submitted_by": {"type": "string"},
                "timestamp": {"type": "string", "format": "date-time"}
            },
            "required": ["category", "latitude", "longitude"]
        },
        "ClassificationPayload": {
            "type": "object",
            "properties": {
                "confidence": {"type": "number"},
                "scores": {"type": "object"},
                "indicators": {"type": "array", "items": {"type": "string"}}
            }
        },
        "ExportRequest": {
            "type": "object",
            "properties": {
                "category": {"type": "string"},
                "from": {"type": "string", "format": "date-time"},
                "to": {"type": "string", "format": "date-time"},
                "format": {"type": "string", "enum": ["csv", "pdf"]}
            },
            "required": ["format"]
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
