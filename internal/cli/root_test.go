package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapEnv(env map[string]string) func(string) string {
	return func(key string) string { return env[key] }
}

// runCLI executes the command line with env as the environment.
func runCLI(t *testing.T, env map[string]string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	root := newRootCmd(mapEnv(env))
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	if args == nil {
		args = []string{}
	}
	code = execute(root, args)
	return code, out.String(), errOut.String()
}

func TestExecute_Help(t *testing.T) {
	code, stdout, _ := runCLI(t, nil)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "run")
	assert.Contains(t, stdout, "serve")
}

func TestExecute_Version(t *testing.T) {
	code, stdout, _ := runCLI(t, nil, "--version")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, version)
}

func TestExecute_UnknownFlag(t *testing.T) {
	code, _, stderr := runCLI(t, nil, "run", "--no-such-flag")
	assert.Equal(t, ExitInvalidConfig, code)
	assert.Contains(t, stderr, "no-such-flag")
}

func TestExecute_UnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, nil, "launch")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestExecute_InvalidLogSettings(t *testing.T) {
	code, _, stderr := runCLI(t, nil, "--log-level", "loud", "run")
	assert.Equal(t, ExitInvalidConfig, code)
	assert.Contains(t, stderr, "--log-level")

	code, _, stderr = runCLI(t, nil, "--log-format", "xml", "run")
	assert.Equal(t, ExitInvalidConfig, code)
	assert.Contains(t, stderr, "--log-format")
}

func TestConfigureLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()

	require.NoError(t, configureLogger(logger, &buf, "info", "json"))
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	logger.WithField("k", "v").Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)

	logger.Debug("hidden")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestExitError(t *testing.T) {
	inner := errors.New("boom")
	err := withCode(ExitRunError, inner)
	assert.Equal(t, "boom", err.Error())
	assert.ErrorIs(t, err, inner)

	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ExitRunError, ee.code)

	assert.Equal(t, "exit code 99", withCode(ExitThresholdsFailed, nil).Error())
}
