package mcp

import "testing"

func TestLoggingLevel_AtLeast(t *testing.T) {
	if !LoggingLevelError.AtLeast(LoggingLevelWarning) {
		t.Fatalf("error should pass a warning threshold")
	}
	if LoggingLevelDebug.AtLeast(LoggingLevelInfo) {
		t.Fatalf("debug should not pass an info threshold")
	}
	if !LoggingLevelInfo.AtLeast(LoggingLevelInfo) {
		t.Fatalf("threshold is inclusive")
	}
}

func TestNegotiateProtocolVersion(t *testing.T) {
	if got := NegotiateProtocolVersion("2025-03-26"); got != "2025-03-26" {
		t.Fatalf("expected supported version echoed, got %s", got)
	}
	if got := NegotiateProtocolVersion("1999-01-01"); got != LatestProtocolVersion {
		t.Fatalf("expected latest for unknown version, got %s", got)
	}
}
