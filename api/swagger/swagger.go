package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Course Signup API",
        "description": "Course registration, seat allocation and attendee administration for the language center.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "in": "header", "name": "Authorization"}
    },
    "tags": [
        {"name": "Courses", "description": "Public course catalogue"},
        {"name": "Signups", "description": "Registration and self signoff"},
        {"name": "Exports", "description": "Signed export downloads"},
        {"name": "Admin", "description": "Allocation runs, overrides, imports and exports"}
    ],
    "paths": {
        "/courses": {
            "get": {
                "tags": ["Courses"],
                "summary": "List courses with vacancies",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/signups": {
            "post": {
                "tags": ["Signups"],
                "summary": "Register for a course",
                "description": "New signups wait for the next populate run unless a preterm token is supplied.",
                "parameters": [
                    {"name": "X-Preterm-Token", "in": "header", "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SignupRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already signed up", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Signup closed or not permitted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/signoffs": {
            "post": {
                "tags": ["Signups"],
                "summary": "Cancel an attendance",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SignoffRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "401": {"description": "Unknown mail or wrong secret", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Signoff window passed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/download": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download a generated export",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}},
                    "401": {"description": "Invalid token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Link expired", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/populate": {
            "post": {
                "tags": ["Admin"],
                "summary": "Run the global populate",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/attendances/{applicantId}/{courseId}": {
            "patch": {
                "tags": ["Admin"],
                "summary": "Override attendance fields",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "applicantId", "in": "path", "required": true, "type": "string"},
                    {"name": "courseId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateAttendanceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/applicants/{id}": {
            "patch": {
                "tags": ["Admin"],
                "summary": "Set the general discount eligibility of an applicant",
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateApplicantRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Admin"],
                "summary": "Delete an applicant with all attendances",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/imports/scores": {
            "post": {
                "tags": ["Admin"],
                "summary": "Import placement test scores",
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data", "text/csv"],
                "parameters": [
                    {"name": "file", "in": "formData", "type": "file"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/imports/registrations": {
            "post": {
                "tags": ["Admin"],
                "summary": "Import the student registration roster",
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data", "text/csv"],
                "parameters": [
                    {"name": "file", "in": "formData", "type": "file"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/preterm-tokens": {
            "post": {
                "tags": ["Admin"],
                "summary": "Issue a preterm signup token",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/PretermTokenRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/courses/{id}/export": {
            "post": {
                "tags": ["Admin"],
                "summary": "Export the attendee list of a course",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "SignupRequest": {
            "type": "object",
            "required": ["course_id", "mail", "first_name", "last_name"],
            "properties": {
                "course_id": {"type": "string"},
                "mail": {"type": "string", "format": "email"},
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "tag": {"type": "string"},
                "degree": {"type": "string"},
                "semester": {"type": "integer"},
                "origin": {"type": "string"}
            }
        },
        "SignoffRequest": {
            "type": "object",
            "required": ["mail", "course_id", "secret"],
            "properties": {
                "mail": {"type": "string", "format": "email"},
                "course_id": {"type": "string"},
                "secret": {"type": "string"}
            }
        },
        "UpdateAttendanceRequest": {
            "type": "object",
            "properties": {
                "waiting": {"type": "boolean"},
                "discount": {"type": "integer", "minimum": 0, "maximum": 100},
                "amount_paid": {"type": "integer", "minimum": 0},
                "payment_date": {"type": "string", "format": "date-time"}
            }
        },
        "UpdateApplicantRequest": {
            "type": "object",
            "required": ["discounted"],
            "properties": {
                "discounted": {"type": "boolean"}
            }
        },
        "PretermTokenRequest": {
            "type": "object",
            "required": ["mail"],
            "properties": {
                "mail": {"type": "string", "format": "email"}
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
                "meta": {"type": "object"},
                "request_id": {"type": "string"}
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
