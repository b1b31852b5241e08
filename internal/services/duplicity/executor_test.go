package duplicity

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckEnvironment(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	assert.ErrorIs(t, CheckEnvironment(), ErrPassphraseMissing)

	t.Setenv(PassphraseEnv, "secret")
	assert.NoError(t, CheckEnvironment())
}

func TestDefaultExecutor_PassphraseMissing(t *testing.T) {
	t.Setenv(PassphraseEnv, "")

	executor := NewExecutor(testLogger())
	_, err := executor.Run(context.Background(), "[test]", "sh", "-c", "echo should-not-run")

	assert.ErrorIs(t, err, ErrPassphraseMissing)
}

func TestDefaultExecutor_CapturesStdoutOnly(t *testing.T) {
	t.Setenv(PassphraseEnv, "secret")

	var logBuffer bytes.Buffer
	executor := NewExecutor(zerolog.New(&logBuffer))

	out, err := executor.Run(context.Background(), "[test]", "sh", "-c", "echo first; echo oops >&2; echo second")

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, out.Lines)
	assert.Equal(t, 0, out.ExitCode)

	logs := logBuffer.String()
	assert.Contains(t, logs, `"line":"first"`)
	assert.Contains(t, logs, `"line":"oops"`)
	assert.Contains(t, logs, `"stream":"stderr"`)
	assert.Contains(t, logs, `"prefix":"[test]"`)
}

func TestDefaultExecutor_NonZeroExitIsNotAnError(t *testing.T) {
	t.Setenv(PassphraseEnv, "secret")

	executor := NewExecutor(testLogger())
	out, err := executor.Run(context.Background(), "[test]", "sh", "-c", "echo partial; exit 3")

	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, []string{"partial"}, out.Lines)
}

func TestDefaultExecutor_PassesPassphrase(t *testing.T) {
	t.Setenv(PassphraseEnv, "from-env")

	executor := NewExecutor(testLogger())
	out, err := executor.Run(context.Background(), "[test]", "sh", "-c", "echo $PASSPHRASE")

	require.NoError(t, err)
	assert.Equal(t, []string{"from-env"}, out.Lines)
}

func TestDefaultExecutor_MissingBinary(t *testing.T) {
	t.Setenv(PassphraseEnv, "secret")

	executor := NewExecutor(testLogger())
	_, err := executor.Run(context.Background(), "[test]", "/nonexistent/duplicity")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start")
}

func TestDefaultExecutor_LongLines(t *testing.T) {
	t.Setenv(PassphraseEnv, "secret")

	executor := NewExecutor(testLogger())
	out, err := executor.Run(context.Background(), "[test]", "sh", "-c", "head -c 100000 /dev/zero | tr '\\0' 'x'; echo")

	require.NoError(t, err)
	require.Len(t, out.Lines, 1)
	assert.Equal(t, strings.Repeat("x", 100000), out.Lines[0])
}
