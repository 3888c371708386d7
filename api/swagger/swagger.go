package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "TRN Registry API",
        "description": "Identity resolution, merge and TRN allocation for the teacher registry",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {
            "name": "Matching",
            "description": "Channel assertions"
        },
        {
            "name": "Tasks",
            "description": "Support worklist"
        },
        {
            "name": "Persons",
            "description": "Person maintenance and merges"
        },
        {
            "name": "Bindings",
            "description": "External identity bindings"
        },
        {
            "name": "Identifiers",
            "description": "TRN range administration"
        }
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Liveness check",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check against Postgres and Redis",
                "responses": {
                    "200": {
                        "description": "Ready"
                    },
                    "503": {
                        "description": "A dependency is down"
                    }
                }
            }
        },
        "/metrics": {
            "get": {
                "summary": "Prometheus metrics",
                "produces": [
                    "text/plain"
                ],
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/api/v1/matches": {
            "post": {
                "tags": [
                    "Matching"
                ],
                "summary": "Submit an identity assertion",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/MatchRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Matched or already bound",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "202": {
                        "description": "Resolution task opened",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation failed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Binding rejected or registry changed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/api/v1/tasks": {
            "get": {
                "tags": [
                    "Tasks"
                ],
                "summary": "List resolution tasks",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "query",
                        "name": "status",
                        "required": false,
                        "type": "string",
                        "description": "Comma separated statuses"
                    },
                    {
                        "in": "query",
                        "name": "type",
                        "required": false,
                        "type": "string",
                        "description": "Task type"
                    },
                    {
                        "in": "query",
                        "name": "limit",
                        "required": false,
                        "type": "integer",
                        "description": "Page size"
                    },
                    {
                        "in": "query",
                        "name": "offset",
                        "required": false,
                        "type": "integer",
                        "description": "Offset"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/api/v1/tasks/export": {
            "get": {
                "tags": [
                    "Tasks"
                ],
                "summary": "Export open tasks",
                "produces": [
                    "text/csv",
                    "application/pdf"
                ],
                "parameters": [
                    {
                        "in": "query",
                        "name": "format",
                        "required": false,
                        "type": "string",
                        "description": "csv or pdf"
                    },
                    {
                        "in": "query",
                        "name": "type",
                        "required": false,
                        "type": "string",
                        "description": "Task type"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/api/v1/tasks/{reference}": {
            "get": {
                "tags": [
                    "Tasks"
                ],
                "summary": "Get a resolution task",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "reference",
                        "required": true,
                        "type": "string",
                        "description": "Task reference, e.g. TRS-0000ABCD"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Unknown reference",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/api/v1/tasks/{reference}/resolve": {
            "post": {
                "tags": [
                    "Tasks"
                ],
                "summary": "Resolve a task",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "reference",
                        "required": true,
                        "type": "string",
                        "description": "Task reference, e.g. TRS-0000ABCD"
                    },
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ResolveTaskRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Resolved",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation failed or field choices missing",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Task closed or candidate changed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/api/v1/tasks/{reference}/refresh": {
            "post": {
                "tags": [
                    "Tasks"
                ],
                "summary": "Re-run matching for an open task",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "reference",
                        "required": true,
                        "type": "string",
                        "description": "Task reference, e.g. TRS-0000ABCD"
                    },
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/RefreshTaskRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Candidates replaced",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Task closed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/api/v1/persons": {
            "post": {
                "tags": [
                    "Persons"
                ],
                "summary": "Register a person and allocate a TRN",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/RegisterPersonRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation failed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "503": {
                        "description": "No identifier range available",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/api/v1/persons/{id}": {
            "get": {
                "tags": [
                    "Persons"
                ],
                "summary": "Get a person, following merges",
                "produces": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "required": true,
                        "type": "string",
                        "description": "Person ID"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Unknown person",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "patch": {
                "tags": [
                    "Persons"
                ],
                "summary": "Update identity fields",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "required": true,
                        "type": "string",
                        "description": "Person ID"
                    },
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/UpdatePersonRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Merged or changed concurrently",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/api/v1/persons/{id}/merge": {
            "post": {
                "tags": [
                    "Persons"
                ],
                "summary": "Merge another person into this one",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "required": true,
                        "type": "string",
                        "description": "Person ID"
                    },
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/MergePersonRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Merged",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Field choices missing",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Already merged or changed concurrently",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/api/v1/bindings": {
            "post": {
                "tags": [
                    "Bindings"
                ],
                "summary": "Bind an external key to a person",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/BindRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Bound",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Bound to another person",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/api/v1/bindings/seen": {
            "post": {
                "tags": [
                    "Bindings"
                ],
                "summary": "Record sign-in activity",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/SeenRequest"
                        }
                    }
                ],
                "responses": {
                    "204": {
                        "description": "Recorded"
                    },
                    "404": {
                        "description": "Unknown key",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/api/v1/identifiers/ranges": {
            "get": {
                "tags": [
                    "Identifiers"
                ],
                "summary": "List TRN ranges",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "post": {
                "tags": [
                    "Identifiers"
                ],
                "summary": "Register a TRN range",
                "produces": [
                    "application/json"
                ],
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/AddRangeRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Overlaps an existing range",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        }
    },
    "definitions": {
        "MatchRequest": {
            "type": "object",
            "properties": {
                "channel": {
                    "type": "string",
                    "enum": [
                        "onelogin",
                        "api",
                        "bulk",
                        "support"
                    ]
                },
                "externalKey": {
                    "type": "string"
                },
                "requestId": {
                    "type": "string"
                },
                "trustLevel": {
                    "type": "string",
                    "enum": [
                        "identity-verified",
                        "self-asserted"
                    ]
                },
                "firstName": {
                    "type": "string"
                },
                "middleName": {
                    "type": "string"
                },
                "lastName": {
                    "type": "string"
                },
                "dateOfBirth": {
                    "type": "string",
                    "format": "date"
                },
                "nationalInsuranceNumber": {
                    "type": "string"
                },
                "emailAddress": {
                    "type": "string"
                },
                "trn": {
                    "type": "string"
                },
                "trnToken": {
                    "type": "string"
                },
                "subjectPersonId": {
                    "type": "string"
                }
            },
            "required": [
                "channel"
            ]
        },
        "FieldChoice": {
            "type": "object",
            "properties": {
                "source": {
                    "type": "string",
                    "enum": [
                        "primary",
                        "secondary",
                        "override"
                    ]
                },
                "value": {
                    "type": "string"
                }
            },
            "required": [
                "source"
            ]
        },
        "ResolveTaskRequest": {
            "type": "object",
            "properties": {
                "kind": {
                    "type": "string",
                    "enum": [
                        "CreateNew",
                        "MergeInto",
                        "Reject"
                    ]
                },
                "personId": {
                    "type": "string"
                },
                "fieldChoices": {
                    "type": "object",
                    "additionalProperties": {
                        "$ref": "#/definitions/FieldChoice"
                    },
                    "description": "Keyed by first_name, middle_name, last_name, date_of_birth, email_address, national_insurance_number"
                },
                "reason": {
                    "type": "string"
                }
            },
            "required": [
                "kind"
            ]
        },
        "RefreshTaskRequest": {
            "type": "object",
            "properties": {
                "assertion": {
                    "$ref": "#/definitions/MatchRequest"
                }
            }
        },
        "RegisterPersonRequest": {
            "type": "object",
            "properties": {
                "firstName": {
                    "type": "string"
                },
                "middleName": {
                    "type": "string"
                },
                "lastName": {
                    "type": "string"
                },
                "dateOfBirth": {
                    "type": "string",
                    "format": "date"
                },
                "nationalInsuranceNumber": {
                    "type": "string"
                },
                "emailAddress": {
                    "type": "string"
                }
            },
            "required": [
                "firstName",
                "lastName",
                "dateOfBirth"
            ]
        },
        "UpdatePersonRequest": {
            "type": "object",
            "properties": {
                "firstName": {
                    "type": "string"
                },
                "middleName": {
                    "type": "string"
                },
                "lastName": {
                    "type": "string"
                },
                "dateOfBirth": {
                    "type": "string",
                    "format": "date"
                },
                "nationalInsuranceNumber": {
                    "type": "string"
                },
                "emailAddress": {
                    "type": "string"
                },
                "expectedVersion": {
                    "type": "integer"
                }
            }
        },
        "MergePersonRequest": {
            "type": "object",
            "properties": {
                "secondaryId": {
                    "type": "string"
                },
                "evidenceRef": {
                    "type": "string"
                },
                "fieldChoices": {
                    "type": "object",
                    "additionalProperties": {
                        "$ref": "#/definitions/FieldChoice"
                    },
                    "description": "Keyed by first_name, middle_name, last_name, date_of_birth, email_address, national_insurance_number"
                },
                "expectedPrimaryVersion": {
                    "type": "integer"
                },
                "expectedSecondaryVersion": {
                    "type": "integer"
                }
            },
            "required": [
                "secondaryId",
                "evidenceRef"
            ]
        },
        "BindRequest": {
            "type": "object",
            "properties": {
                "externalKey": {
                    "type": "string"
                },
                "channel": {
                    "type": "string"
                },
                "personId": {
                    "type": "string"
                },
                "route": {
                    "type": "string"
                }
            },
            "required": [
                "externalKey",
                "channel",
                "personId"
            ]
        },
        "SeenRequest": {
            "type": "object",
            "properties": {
                "externalKey": {
                    "type": "string"
                },
                "seenAt": {
                    "type": "string",
                    "format": "date-time"
                }
            },
            "required": [
                "externalKey"
            ]
        },
        "AddRangeRequest": {
            "type": "object",
            "properties": {
                "from": {
                    "type": "integer"
                },
                "to": {
                    "type": "integer"
                }
            },
            "required": [
                "from",
                "to"
            ]
        },
        "Page": {
            "type": "object",
            "properties": {
                "limit": {
                    "type": "integer"
                },
                "offset": {
                    "type": "integer"
                },
                "returned": {
                    "type": "integer"
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                },
                "details": {
                    "type": "object"
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "page": {
                    "$ref": "#/definitions/Page"
                },
                "meta": {
                    "type": "object"
                }
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
