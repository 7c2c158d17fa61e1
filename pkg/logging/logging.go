package logging

import (
	"fmt"
	"path"
	"runtime"

	"github.com/dbtuneai/powa-agent/pkg/internal/utils"
	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// New builds the process logger. The debug viper key selects DebugLevel.
func New() *log.Logger {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			filename := path.Base(f.File)
			return "", fmt.Sprintf(" %s:%d", filename, f.Line)
		},
	})
	logger.SetReportCaller(true)

	if viper.GetBool("debug") {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}

// NewHTTPClient returns a retrying HTTP client logging through logger.
func NewHTTPClient(logger *log.Logger, retryMax int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.Logger = &utils.LeveledLogrus{Logger: logger}
	return client
}
