package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// wrapperPackages are skipped when resolving the caller of a log entry so
// that metric helpers report the code that emitted the metric.
var wrapperPackages = []string{
	"sirupsen/logrus",
	"cvdflow/logger",
	"cvdflow/internal/metrics",
}

// callerHook points the entry's caller at the first frame outside logrus and
// the wrappers above.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 24)
	// Skip runtime.Callers, this method and the logrus hook dispatch.
	n := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isWrapperFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func isWrapperFrame(fn string) bool {
	for _, pkg := range wrapperPackages {
		if strings.Contains(fn, pkg+".") || strings.Contains(fn, pkg+"/") {
			return true
		}
	}
	return false
}
