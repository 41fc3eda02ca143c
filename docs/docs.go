// Package docs holds the OpenAPI description served at /swagger. Keep it in
// step with the handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/ai/fraud-detection": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["ai"],
                "summary": "Run fraud detection",
                "parameters": [
                    {
                        "description": "Transaction",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.transactionRef"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/ai/support-chat": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["ai"],
                "summary": "Ask the support assistant",
                "parameters": [
                    {
                        "description": "Question",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.SupportChatRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/ai/transaction-analysis": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["ai"],
                "summary": "Analyze a transaction",
                "parameters": [
                    {
                        "description": "Transaction",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.transactionRef"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/create-payment-intent": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["payments"],
                "summary": "Create a payment intent",
                "parameters": [
                    {
                        "description": "Transaction",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.CreatePaymentIntentRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.PaymentIntent"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/payment-success": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["payments"],
                "summary": "Record a completed payment",
                "parameters": [
                    {
                        "description": "Payment",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/escrow.PaymentRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "403": {"description": "Forbidden", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/raise-dispute": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["disputes"],
                "summary": "Raise a dispute",
                "parameters": [
                    {
                        "description": "Dispute",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/escrow.DisputeRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "403": {"description": "Forbidden", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/transactions": {
            "get": {
                "produces": ["application/json"],
                "tags": ["transactions"],
                "summary": "Fetch transactions",
                "parameters": [
                    {"type": "string", "description": "Transaction id", "name": "transactionId", "in": "query"},
                    {"type": "string", "description": "Seller id", "name": "sellerId", "in": "query"},
                    {"type": "string", "description": "Buyer id", "name": "buyerId", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["transactions"],
                "summary": "Create an escrow transaction",
                "parameters": [
                    {
                        "description": "Listing",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/escrow.CreateRequest"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/transactions/{transactionId}/release": {
            "get": {
                "produces": ["application/json"],
                "tags": ["transactions"],
                "summary": "Escrow release countdown",
                "parameters": [
                    {"type": "string", "description": "Transaction id", "name": "transactionId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/escrow.Release"}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/uploads": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["uploads"],
                "summary": "Upload a file for sale",
                "parameters": [
                    {"type": "file", "description": "File", "name": "file", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/users/upsert": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Create or update a user",
                "parameters": [
                    {
                        "description": "Profile",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/users.UpsertRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/webhooks/stripe": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["payments"],
                "summary": "Stripe webhook",
                "parameters": [
                    {"type": "string", "description": "Signature", "name": "Stripe-Signature", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "boolean"}}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        }
    },
    "definitions": {
        "escrow.CreateRequest": {
            "type": "object",
            "properties": {
                "transactionId": {"type": "string"},
                "title": {"type": "string"},
                "description": {"type": "string"},
                "price": {"type": "number"},
                "fileURL": {"type": "string"},
                "fileName": {"type": "string"},
                "sellerId": {"type": "string"},
                "sellerName": {"type": "string"},
                "sellerEmail": {"type": "string"}
            }
        },
        "escrow.DisputeRequest": {
            "type": "object",
            "properties": {
                "transactionId": {"type": "string"},
                "reason": {"type": "string"},
                "description": {"type": "string"},
                "buyerId": {"type": "string"},
                "buyerName": {"type": "string"}
            }
        },
        "escrow.PaymentRequest": {
            "type": "object",
            "properties": {
                "transactionId": {"type": "string"},
                "paymentIntentId": {"type": "string"},
                "buyerId": {"type": "string"},
                "buyerName": {"type": "string"},
                "buyerEmail": {"type": "string"}
            }
        },
        "escrow.Release": {
            "type": "object",
            "properties": {
                "escrowReleaseTime": {"type": "string"},
                "released": {"type": "boolean"},
                "remainingSeconds": {"type": "integer"},
                "status": {"type": "string"}
            }
        },
        "handlers.CreatePaymentIntentRequest": {
            "type": "object",
            "properties": {
                "transactionId": {"type": "string"},
                "buyerId": {"type": "string"},
                "buyerName": {"type": "string"},
                "buyerEmail": {"type": "string"}
            }
        },
        "handlers.SupportChatRequest": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "context": {"type": "object", "additionalProperties": true}
            }
        },
        "handlers.transactionRef": {
            "type": "object",
            "properties": {
                "transactionId": {"type": "string"}
            }
        },
        "services.PaymentIntent": {
            "type": "object",
            "properties": {
                "clientSecret": {"type": "string"},
                "paymentIntentId": {"type": "string"}
            }
        },
        "users.UpsertRequest": {
            "type": "object",
            "properties": {
                "uid": {"type": "string"},
                "name": {"type": "string"},
                "email": {"type": "string"},
                "role": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "The MiddleMan API",
	Description:      "Escrow for digital goods: list a file, take payment, hold funds for 24 hours.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
