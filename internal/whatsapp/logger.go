package whatsapp

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/BTreeMap/LeadPipe/internal/logx"
)

// zeroLogger routes whatsmeow logs through logx.
type zeroLogger struct {
	module string
}

var _ waLog.Logger = zeroLogger{}

func newLogger(module string) waLog.Logger {
	return zeroLogger{module: module}
}

func (l zeroLogger) Errorf(msg string, args ...interface{}) {
	logx.Error().Str("module", l.module).Msg(fmt.Sprintf(msg, args...))
}

func (l zeroLogger) Warnf(msg string, args ...interface{}) {
	logx.Warn().Str("module", l.module).Msg(fmt.Sprintf(msg, args...))
}

func (l zeroLogger) Infof(msg string, args ...interface{}) {
	logx.Info().Str("module", l.module).Msg(fmt.Sprintf(msg, args...))
}

func (l zeroLogger) Debugf(msg string, args ...interface{}) {
	logx.Debug().Str("module", l.module).Msg(fmt.Sprintf(msg, args...))
}

func (l zeroLogger) Sub(module string) waLog.Logger {
	return zeroLogger{module: l.module + "/" + module}
}
