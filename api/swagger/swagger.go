package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Check-up Export API",
        "description": "Exports industrial check-ups as PDF documents, text reports, CSV listings and photo folders.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Exports", "description": "Check-up export jobs and downloads"},
        {"name": "System", "description": "Probes and metrics"}
    ],
    "paths": {
        "/exports": {
            "get": {
                "tags": ["Exports"],
                "summary": "List export jobs",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string", "enum": ["QUEUED", "PROCESSING", "FINISHED", "FAILED"]},
                    {"name": "checkupId", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Unknown status", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Exports"],
                "summary": "Queue a check-up export",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/sync": {
            "post": {
                "tags": ["Exports"],
                "summary": "Run a check-up export synchronously",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExportRequest"}}
                ],
                "responses": {
                    "200": {"description": "Finished", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Target not writable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Template not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Cancelled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "500": {"description": "Document generation failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "507": {"description": "Insufficient storage", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/{id}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Export job status",
                "description": "Finished jobs include signed download links for every produced file.",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/download/{token}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download an exported file via signed token",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}},
                    "403": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "File no longer available", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Export not finished", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "ExportRequest": {
            "type": "object",
            "required": ["checkup"],
            "properties": {
                "checkup": {"$ref": "#/definitions/CheckUp"},
                "options": {"$ref": "#/definitions/ExportOptions"}
            }
        },
        "CheckUp": {
            "type": "object",
            "required": ["header"],
            "properties": {
                "header": {
                    "type": "object",
                    "properties": {
                        "id": {"type": "string"},
                        "client": {"type": "object", "properties": {"name": {"type": "string"}}},
                        "technician": {"type": "object", "properties": {"name": {"type": "string"}}},
                        "island": {"type": "object", "properties": {"type": {"type": "string"}}},
                        "startedAt": {"type": "string", "format": "date-time"},
                        "conclusions": {"type": "string"},
                        "recommendations": {"type": "string"}
                    }
                },
                "sections": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "title": {"type": "string"},
                            "items": {"type": "array", "items": {"$ref": "#/definitions/CheckItem"}}
                        }
                    }
                },
                "spareParts": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "partNumber": {"type": "string"},
                            "description": {"type": "string"},
                            "quantity": {"type": "integer"},
                            "urgency": {"type": "string"},
                            "notes": {"type": "string"}
                        }
                    }
                }
            }
        },
        "CheckItem": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "title": {"type": "string"},
                "status": {"type": "string", "enum": ["OK", "NOK", "CRITICAL", "PENDING", "NA"]},
                "criticality": {"type": "string", "enum": ["CRITICAL", "IMPORTANT", "ROUTINE", "NA"]},
                "note": {"type": "string"},
                "photos": {"type": "array", "items": {"type": "object", "properties": {"path": {"type": "string"}, "caption": {"type": "string"}, "capturedAt": {"type": "string", "format": "date-time"}}}}
            }
        },
        "ExportOptions": {
            "type": "object",
            "properties": {
                "formats": {"type": "array", "items": {"type": "string", "enum": ["DOCUMENT", "TEXT", "PHOTO_FOLDER", "CSV"]}},
                "includePhotos": {"type": "boolean"},
                "includeNotes": {"type": "boolean"},
                "compression": {
                    "type": "object",
                    "properties": {
                        "quality": {"type": "integer"},
                        "maxWidth": {"type": "integer"},
                        "watermark": {"type": "boolean"},
                        "watermarkText": {"type": "string"}
                    }
                },
                "naming": {"type": "string", "enum": ["structured", "sequential", "timestamp"]},
                "photosPerRow": {"type": "integer"},
                "templatePath": {"type": "string"}
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
                "status": {"type": "integer"},
                "stage": {"type": "string"},
                "resource": {"type": "string"}
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
