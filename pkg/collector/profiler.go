package collector

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// ProfilerCondition scrapes the battery condition from system_profiler.
// It is slow, so it is only used when nothing else reported a condition.
type ProfilerCondition struct {
	run RunFunc
}

// NewProfilerCondition returns a ProfilerCondition. A nil run uses os/exec.
func NewProfilerCondition(run RunFunc) *ProfilerCondition {
	if run == nil {
		run = runCommand
	}
	return &ProfilerCondition{run: run}
}

// Condition returns the raw condition text, or "" if unavailable.
func (p *ProfilerCondition) Condition(ctx context.Context) string {
	out, err := p.run(ctx, "/usr/sbin/system_profiler", "SPPowerDataType")
	if err != nil {
		logrus.Debugf("system_profiler unavailable: %v", err)
		return ""
	}
	return parseProfilerCondition(out)
}

func parseProfilerCondition(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == "Condition" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
