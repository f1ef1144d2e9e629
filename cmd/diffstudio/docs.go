package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           diffstudio API
// @version         1.0
// @description     HTTP API for VRAM-aware diffusion image generation.
//
// @contact.name   diffstudio maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
