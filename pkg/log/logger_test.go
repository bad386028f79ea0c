package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
)

// LoggerTestSuite tests the log package
type LoggerTestSuite struct {
	suite.Suite
	originalLogger zerolog.Logger
	testOutput     *bytes.Buffer
}

// SetupTest runs before each test
func (s *LoggerTestSuite) SetupTest() {
	s.originalLogger = Logger
	s.testOutput = &bytes.Buffer{}
	Logger = newLogger(zerolog.SyncWriter(s.testOutput), zerolog.DebugLevel)
}

// TearDownTest runs after each test
func (s *LoggerTestSuite) TearDownTest() {
	Logger = s.originalLogger
}

// TestGoroutineID tests the goroutine ID extraction
func (s *LoggerTestSuite) TestGoroutineID() {
	id := goroutineID()

	s.NotEmpty(id)
	s.LessOrEqual(len(id), 20)
	if id != "unknown" {
		for _, char := range id {
			s.True(char >= '0' && char <= '9', "Goroutine ID should be numeric or 'unknown'")
		}
	}
	s.Equal(id, goroutineID())
}

// TestLevels tests that every level helper writes with the goroutine hook
func (s *LoggerTestSuite) TestLevels() {
	Debug().Msg("debug test")
	Info().Msg("info test")
	Warn().Msg("warn test")
	Error().Msg("error test")

	output := s.testOutput.String()
	for _, msg := range []string{"debug test", "info test", "warn test", "error test"} {
		s.Contains(output, msg)
	}
	s.Contains(output, "goid")
}

// TestComponent tests component tagging
func (s *LoggerTestSuite) TestComponent() {
	logger := Component("failover")
	logger.Info().Str("query_type", "knowledge.get").Msg("attempt")

	output := s.testOutput.String()
	s.Contains(output, `"component":"failover"`)
	s.Contains(output, `"query_type":"knowledge.get"`)
}

// TestSetLevel tests level parsing and filtering
func (s *LoggerTestSuite) TestSetLevel() {
	s.Require().NoError(SetLevel("WARN"))
	s.Equal(zerolog.WarnLevel, Logger.GetLevel())

	Info().Msg("hidden")
	Warn().Msg("visible")

	output := s.testOutput.String()
	s.NotContains(output, "hidden")
	s.Contains(output, "visible")

	s.Error(SetLevel("loud"))
}

// TestSetOutput tests redirecting the logger
func (s *LoggerTestSuite) TestSetOutput() {
	other := &bytes.Buffer{}
	SetOutput(other)

	Info().Msg("redirected")

	s.Contains(other.String(), "redirected")
	s.Empty(s.testOutput.String())
}

// TestConcurrentLogging tests that logging is thread-safe
func (s *LoggerTestSuite) TestConcurrentLogging() {
	numGoroutines := 10
	done := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer func() { done <- true }()
			Info().Int("worker", id).Msg("concurrent log message")
		}(i)
	}
	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	lines := strings.Split(strings.TrimSpace(s.testOutput.String()), "\n")
	s.Len(lines, numGoroutines)
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}
