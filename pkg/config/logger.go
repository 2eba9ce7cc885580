package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

// InitLogrus sets the global logrus formatter and level.
// Called again from the root command once the debug flag is parsed.
func InitLogrus() {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		TimestampFormat: time.DateTime,
	})
	if Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func init() {
	InitLogrus()
}
