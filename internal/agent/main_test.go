// File: internal/agent/main_test.go
package agent

import (
	"os"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"

	"github.com/vkozyrev/screenpilot/internal/config"
	"github.com/vkozyrev/screenpilot/internal/observability"
)

// TestMain initializes the global logger for the package's tests and checks
// that no goroutines leak out of the suite.
func TestMain(m *testing.M) {
	appConfig := config.NewDefaultConfig()
	logConfig := appConfig.Logger
	logConfig.Level = "debug"
	logConfig.ServiceName = "test-suite"
	logConfig.Format = "console"

	observability.Initialize(logConfig, zapcore.Lock(os.Stdout))

	exitCode := m.Run()

	observability.Sync()
	observability.ResetForTest()

	if exitCode == 0 {
		if err := goleak.Find(); err != nil {
			os.Exit(1)
		}
	}
	os.Exit(exitCode)
}
