package main

import (
	"log"

	"github.com/kataras/iris/v12"

	"github.com/example/teaminbox/internal/config"
	"github.com/example/teaminbox/internal/server"
)

func main() {
	cfg := config.Load()

	app := iris.New()
	server.RegisterRoutes(app, cfg)

	addr := cfg.Server.Addr()
	log.Printf("teaminbox server listening on %s (env=%s)", addr, cfg.Env)
	if err := app.Run(iris.Addr(addr)); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}
