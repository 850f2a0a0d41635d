package ipclog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

type syncBuf struct {
	bytes.Buffer
}

func (*syncBuf) Sync() error { return nil }

func TestFormatPrefixPadsToLogKeyWidth(t *testing.T) {
	prefix := formatPrefix("INFO", "heartbeat", 42)
	assert.True(t, strings.HasPrefix(prefix, "INFO HEARTBEAT"))
	assert.Contains(t, prefix, "[00042]: ")
}

func TestFormatPrefixNeverNegativePad(t *testing.T) {
	prefix := formatPrefix("ERROR", "a-very-long-notifier-name", 1)
	assert.True(t, strings.HasPrefix(prefix, "ERROR A-VERY-LONG-NOTIFIER-NAME"))
}

func TestFormatPrefixAlignsNameColumnAcrossLevels(t *testing.T) {
	info := formatPrefix("INFO", "worker", 1)
	errLine := formatPrefix("ERROR", "worker", 1)

	infoBracket := strings.Index(info, "[")
	errBracket := strings.Index(errLine, "[")
	assert.Equal(t, infoBracket, errBracket, "name+pid column should align regardless of level word length")
}

func TestLoggerWritesThroughConfiguredOutput(t *testing.T) {
	buf := &syncBuf{}
	SetOutput(zapcore.AddSync(buf))
	defer SetOutput(zapcore.AddSync(new(syncBuf)))

	log := Named("worker")
	log.Info(9, "started with %d args", 3)

	assert.Contains(t, buf.String(), "WORKER")
	assert.Contains(t, buf.String(), "[00009]: started with 3 args")
}

func TestAlertMarksSeverity(t *testing.T) {
	buf := &syncBuf{}
	SetOutput(zapcore.AddSync(buf))
	defer SetOutput(zapcore.AddSync(new(syncBuf)))

	Named("pool").Alert(1, "lock wedged")
	assert.Contains(t, buf.String(), "ALERT")
}
