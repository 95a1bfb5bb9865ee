// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"os"
	"time"
)

// DirChecker checks that a capture directory exists and is a directory.
type DirChecker struct {
	name string
	path string
}

func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(_ context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Status: StatusUnhealthy, Error: "directory not found", Message: c.path}
		}
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Error: "expected directory, got file", Message: c.path}
	}
	return CheckResult{Status: StatusHealthy, Message: "directory exists"}
}

// CaptureChecker is a readiness check that passes only while a session
// has fired its trigger and is capturing.
type CaptureChecker struct {
	capturing func() bool
}

func NewCaptureChecker(capturing func() bool) *CaptureChecker {
	return &CaptureChecker{capturing: capturing}
}

func (c *CaptureChecker) Name() string { return "capture" }

func (c *CaptureChecker) Check(_ context.Context) CheckResult {
	if c.capturing() {
		return CheckResult{Status: StatusHealthy, Message: "session capturing"}
	}
	return CheckResult{Status: StatusUnhealthy, Message: "no session capturing"}
}

// LastSession describes the most recent finished session.
type LastSession struct {
	Outcome string
	Error   string
	EndedAt time.Time
}

// LastSessionChecker degrades health when the last session ended with an error.
type LastSessionChecker struct {
	last func() (LastSession, bool)
}

func NewLastSessionChecker(last func() (LastSession, bool)) *LastSessionChecker {
	return &LastSessionChecker{last: last}
}

func (c *LastSessionChecker) Name() string { return "last_session" }

func (c *LastSessionChecker) Check(_ context.Context) CheckResult {
	last, ok := c.last()
	if !ok {
		return CheckResult{Status: StatusHealthy, Message: "no session yet"}
	}
	if last.Error != "" {
		return CheckResult{Status: StatusDegraded, Error: last.Error, Message: "last session " + last.Outcome}
	}
	return CheckResult{Status: StatusHealthy, Message: "last session " + last.Outcome}
}
