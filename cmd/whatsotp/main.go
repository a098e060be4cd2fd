package main

import (
	"log"

	"github.com/omdev04/WhatsOTP/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
