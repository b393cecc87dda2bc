package cmd

// Test coverage for the doctor command

import (
	"bytes"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func runDoctorCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	cmd := newDoctorCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestDoctorCmd_PrintsReport(t *testing.T) {
	out, _ := runDoctorCmd(t)
	assert.NotEmpty(t, out, "doctor always reports, even on failures")
}

func TestDoctorCmd_JSON(t *testing.T) {
	out, _ := runDoctorCmd(t, "--json")
	assert.Contains(t, out, `"status"`)
	assert.Contains(t, out, `"checks"`)
}

func TestDoctorCmd_RepeatedRunsDoNotLeak(t *testing.T) {
	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	baseline := runtime.NumGoroutine()

	for i := 0; i < 5; i++ {
		_, _ = runDoctorCmd(t)
	}

	runtime.GC()
	time.Sleep(100 * time.Millisecond)
	leaked := runtime.NumGoroutine() - baseline
	assert.LessOrEqual(t, leaked, 2,
		"doctor runs must not accumulate goroutines (leaked %d)", leaked)
}
