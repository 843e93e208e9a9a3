package app

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ConfigureLogging sets up logrus for command line use.
func ConfigureLogging(level string) error {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	log.SetOutput(os.Stdout)

	parsed, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	log.SetLevel(parsed)
	return nil
}
