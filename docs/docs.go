// Package docs holds the OpenAPI document served under /swagger/ when the
// server is built with -tags=swagger. Regenerate with
//
//	swag init -g cmd/diffstudio/docs.go -o docs --parseInternal --parseDependency
//
// from the module root.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "diffstudio maintainers"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/generate/{task}": {
            "post": {
                "description": "Runs a generation task with a flat parameter map. Images are returned as base64 PNG.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["generate"],
                "summary": "Generate images",
                "parameters": [
                    {
                        "enum": ["text2img", "img2img", "mix", "inpainting", "outpainting"],
                        "type": "string",
                        "description": "Task kind",
                        "name": "task",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "Parameters",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/types.GenerateRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.GenerateResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "507": {"description": "Insufficient Storage", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Cache status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        },
        "/families": {
            "get": {
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Model families",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.FamiliesResponse"}}
                }
            }
        },
        "/history": {
            "get": {
                "produces": ["application/json"],
                "tags": ["history"],
                "summary": "Generation history",
                "parameters": [
                    {"type": "integer", "description": "Maximum entries", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HistoryResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 400},
                "error": {"type": "string", "example": "invalid JSON body"}
            }
        },
        "types.GenerateRequest": {
            "type": "object",
            "properties": {
                "prompt": {"type": "string", "example": "a red ball on a wooden table"},
                "negative_prompt": {"type": "string"},
                "negative_prior_prompt": {"type": "string"},
                "num_steps": {"type": "integer", "example": 50},
                "guidance_scale": {"type": "number", "example": 4},
                "batch_size": {"type": "integer", "example": 1},
                "batch_count": {"type": "integer", "example": 1},
                "w": {"type": "integer", "example": 768},
                "h": {"type": "integer", "example": 768},
                "sampler": {"type": "string", "example": "p_sampler"},
                "prior_cf_scale": {"type": "number"},
                "prior_steps": {"type": "integer"},
                "input_seed": {"type": "integer", "example": -1},
                "eta": {"type": "number"},
                "init_image": {"type": "string"},
                "strength": {"type": "number", "example": 0.7},
                "image_mask": {"type": "string"},
                "region": {"type": "string"},
                "target": {"type": "string"},
                "offset": {"type": "array", "items": {"type": "integer"}},
                "infer_size": {"type": "boolean"},
                "mix_image_count": {"type": "integer"}
            }
        },
        "types.GenerateResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "seed": {"type": "integer", "example": 42},
                "task": {"type": "string", "example": "text2img"},
                "family": {"type": "string", "example": "kd31-lowvram"},
                "images": {"type": "array", "items": {"type": "string"}},
                "duration_ms": {"type": "integer"}
            }
        },
        "types.StatusResponse": {"type": "object"},
        "types.FamiliesResponse": {"type": "object"},
        "types.HistoryResponse": {"type": "object"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "diffstudio API",
	Description:      "HTTP API for VRAM-aware diffusion image generation.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
