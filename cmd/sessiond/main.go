package main

import (
	"log"

	"github.com/HabGLH/ecommerce/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
