package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/Dannytownkins/Ember-sub000/captureservice"
)

func main() {
	if err := captureservice.Run(); err != nil {
		log.Error().Err(err).Msg("capture-service exited with error")
		os.Exit(1)
	}
}
