package pkg

import (
	"github.com/rs/zerolog/log"

	"ncem/pkg/io"
)

func printDataErrors(errors []io.DataError) {
	for _, err := range errors {
		log.Error().Int("line", err.Line).Msgf("Error parsing data: %s", err.Error)
	}
}

type NoopWriter struct{}

func (x NoopWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}
