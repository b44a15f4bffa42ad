package swagger

//go:generate swag init --generalInfo swagger.go --output docs --dir .,../internal/httpapi,../api --parseInternal --parseDependency --generatedTime=false
//go:generate go run ./internal/swaggerhtml --spec docs/swagger.json --out docs/swagger.html --title "relayd API reference"

// @title           relayd API
// @version         0.0
// @description     relayd exposes a messaging session over HTTP: pair a device, read inbound messages and send text and audio.
// @contact.name    Michel Blomgren
// @contact.email   sa6mwa@gmail.com
// @contact.url     https://pkt.systems
// @license.name    MIT
// @license.url     https://opensource.org/license/mit/
// @schemes         https http
// @accept          json
// @produce         json
// @tag.name        auth
// @tag.description Operator login and bearer tokens.
// @tag.name        session
// @tag.description Session start, status and logout.
// @tag.name        messages
// @tag.description Inbound message buffer and audio retrieval.
// @tag.name        message
// @tag.description Outbound text and audio sends.
// @tag.name        system
// @tag.description Service health and readiness probes.
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 Bearer token from POST /auth/login, sent as `Authorization: Bearer <token>`.

// Package swagger provides go:generate hooks for producing OpenAPI assets.
type Package struct{}
