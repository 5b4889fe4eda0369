package main

// @title Nookmark API
// @version 1.0
// @description A personal bookmark manager: save, tag, search and organise links.

// @contact.name Nookmark
// @contact.url https://github.com/mikepea/nookmark

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Session JWT or API key. Format: "Bearer {token}"

func main() {
	Execute()
}
