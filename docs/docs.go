// docs/docs.go

// Package docs registers the OpenAPI description of the HTTP API with swag.
// It is served by gin-swagger under /swagger/index.html.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Service health",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handler.HealthResponse"}}
                }
            }
        },
        "/health/db": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Journal database health",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "404": {"description": "Journal disabled", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "503": {"description": "Database unreachable", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/api/v1/serial/ports": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Serial"],
                "summary": "List serial ports",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "allOf": [
                                {"$ref": "#/definitions/utils.APIResponse"},
                                {"type": "object", "properties": {"data": {"type": "array", "items": {"$ref": "#/definitions/model.PortInfo"}}}}
                            ]
                        }
                    },
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/api/v1/serial/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Serial"],
                "summary": "Connection status",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "allOf": [
                                {"$ref": "#/definitions/utils.APIResponse"},
                                {"type": "object", "properties": {"data": {"$ref": "#/definitions/handler.StatusResponse"}}}
                            ]
                        }
                    }
                }
            }
        },
        "/api/v1/serial/connect": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Serial"],
                "summary": "Open a port",
                "parameters": [
                    {"description": "Port and optional settings", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.ConnectRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "409": {"description": "Conflicting state", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "503": {"description": "Unavailable", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/api/v1/serial/disconnect": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Serial"],
                "summary": "Close the port",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/api/v1/serial/commands": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Commands"],
                "summary": "Send a command",
                "parameters": [
                    {"description": "Command", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.CommandRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "409": {"description": "Conflicting state", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "502": {"description": "Device error", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/api/v1/serial/commands/wait": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Commands"],
                "summary": "Send a command and wait for the response",
                "parameters": [
                    {"description": "Command", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.CommandRequest"}}
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "allOf": [
                                {"$ref": "#/definitions/utils.APIResponse"},
                                {"type": "object", "properties": {"data": {"$ref": "#/definitions/model.ProtocolResponse"}}}
                            ]
                        }
                    },
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "409": {"description": "Conflicting state", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "502": {"description": "Device error", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "504": {"description": "Device timeout", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/api/v1/serial/journal": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Journal"],
                "summary": "List journaled commands",
                "parameters": [
                    {"type": "string", "description": "Filter by port", "name": "port", "in": "query"},
                    {"type": "string", "description": "Filter by status", "name": "status", "in": "query"},
                    {"type": "integer", "default": 50, "description": "Page size", "name": "limit", "in": "query"},
                    {"type": "integer", "description": "Page offset", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "allOf": [
                                {"$ref": "#/definitions/utils.APIResponse"},
                                {"type": "object", "properties": {"data": {"type": "array", "items": {"$ref": "#/definitions/model.CommandRecord"}}}}
                            ]
                        }
                    },
                    "503": {"description": "Unavailable", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/api/v1/serial/sequences/{name}/run": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Sequences"],
                "summary": "Run a named sequence",
                "parameters": [
                    {"type": "string", "description": "Sequence name", "name": "name", "in": "path", "required": true},
                    {"type": "boolean", "description": "Run in the background", "name": "async", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "404": {"description": "Unknown sequence", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "409": {"description": "Conflicting state", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handler.CheckResult": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "message": {"type": "string"},
                "data": {"type": "object", "additionalProperties": true}
            }
        },
        "handler.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "timestamp": {"type": "string"},
                "service": {"type": "string"},
                "version": {"type": "string"},
                "uptime": {"type": "string"},
                "checks": {"type": "object", "additionalProperties": {"$ref": "#/definitions/handler.CheckResult"}}
            }
        },
        "handler.ConnectRequest": {
            "type": "object",
            "required": ["port"],
            "properties": {
                "port": {"type": "string", "example": "/dev/ttyUSB0"},
                "baud_rate": {"type": "integer", "example": 115200},
                "data_bits": {"type": "integer", "example": 8},
                "parity": {"type": "string", "enum": ["none", "even", "odd", "mark", "space"]},
                "stop_bits": {"type": "integer", "example": 1},
                "read_timeout_ms": {"type": "integer"},
                "write_timeout_ms": {"type": "integer"}
            }
        },
        "handler.CommandRequest": {
            "type": "object",
            "required": ["command"],
            "properties": {
                "command": {"type": "string", "example": "SET_LED {state}"},
                "params": {"type": "object", "additionalProperties": true},
                "timeout_ms": {"type": "integer"},
                "retries": {"type": "integer"},
                "expected_response": {"type": "string"}
            }
        },
        "handler.StatusResponse": {
            "type": "object",
            "properties": {
                "connected": {"type": "boolean"},
                "reader_running": {"type": "boolean"},
                "state": {"$ref": "#/definitions/model.ConnectionState"}
            }
        },
        "model.ConnectionState": {
            "type": "object",
            "properties": {
                "phase": {"type": "string", "enum": ["disconnected", "connecting", "connected", "disconnecting"]},
                "port": {"type": "string"},
                "last_operation": {"type": "string"},
                "operation_timestamp": {"type": "string"},
                "port_info": {"$ref": "#/definitions/model.PortInfo"},
                "connection_attempts": {"type": "integer"},
                "last_error": {"type": "string"}
            }
        },
        "model.PortInfo": {
            "type": "object",
            "properties": {
                "port": {"type": "string"},
                "description": {"type": "string"},
                "manufacturer": {"type": "string"},
                "product": {"type": "string"},
                "vid": {"type": "string"},
                "pid": {"type": "string"},
                "serial_number": {"type": "string"},
                "hwid": {"type": "string"},
                "is_usb": {"type": "boolean"}
            }
        },
        "model.ProtocolResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["success", "error", "timeout", "partial", "invalid"]},
                "data": {"type": "string"},
                "timestamp": {"type": "string"},
                "command": {"type": "string"},
                "error_message": {"type": "string"},
                "response_time": {"type": "integer", "description": "nanoseconds"},
                "correlation_id": {"type": "string"}
            }
        },
        "model.CommandRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "port": {"type": "string"},
                "command": {"type": "string"},
                "response": {"type": "string"},
                "status": {"type": "string"},
                "error_message": {"type": "string"},
                "response_time_ms": {"type": "integer"},
                "correlation_id": {"type": "string"},
                "metadata": {"type": "object", "additionalProperties": true},
                "created_at": {"type": "string"}
            }
        },
        "utils.APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "string"}
            }
        },
        "utils.Pagination": {
            "type": "object",
            "properties": {
                "total": {"type": "integer"},
                "limit": {"type": "integer"},
                "offset": {"type": "integer"}
            }
        },
        "utils.APIResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "data": {},
                "meta": {"$ref": "#/definitions/utils.Pagination"},
                "error": {"$ref": "#/definitions/utils.APIError"},
                "timestamp": {"type": "string"},
                "request_id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8085",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Serial Service API",
	Description:      "Serial port connection management, command exchange, telemetry signals, sequences and the command journal.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
