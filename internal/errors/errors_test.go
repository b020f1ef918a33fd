package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewUsesRegistryDefaults(t *testing.T) {
	err := New(CodeNetworkFailure, "")
	if err.Message() != "ledger transport failure" {
		t.Fatalf("unexpected default message: %q", err.Message())
	}
	if !err.Retryable() {
		t.Fatalf("network failures default to retryable")
	}
	if err.Severity() != SeverityWarning {
		t.Fatalf("unexpected severity: %s", err.Severity())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := Wrap(CodeNetworkFailure, cause, "拨号失败")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("wrapped cause must survive errors.Is")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("error string must include the cause: %q", err.Error())
	}
	if CodeOf(err) != CodeNetworkFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
}

func TestCodeOfUnwrapsNestedErrors(t *testing.T) {
	inner := New(CodeChainMismatch, "")
	outer := fmt.Errorf("connect: %w", inner)

	if CodeOf(outer) != CodeChainMismatch {
		t.Fatalf("CodeOf must see through fmt wrapping, got %s", CodeOf(outer))
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors map to UNKNOWN")
	}
	if CodeOf(nil) != CodeUnknown {
		t.Fatalf("nil maps to UNKNOWN")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	if !stdErrors.Is(New(CodeUnhealthy, "a"), New(CodeUnhealthy, "b")) {
		t.Fatalf("errors with the same code must match")
	}
	if stdErrors.Is(New(CodeUnhealthy, ""), New(CodeNetworkFailure, "")) {
		t.Fatalf("errors with different codes must not match")
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	err := New(CodeNetworkFailure, "", WithRetryable(false), WithSeverity(SeverityCritical))
	if err.Retryable() {
		t.Fatalf("WithRetryable must override the registry")
	}
	if err.Severity() != SeverityCritical {
		t.Fatalf("WithSeverity must override the registry")
	}
}

func TestRegisterNewCode(t *testing.T) {
	const code Code = "TEST_ONLY"
	Register(code, Attributes{Message: "for tests", Severity: SeverityInfo, Retryable: true})

	attr := AttributesOf(code)
	if attr.Message != "for tests" || !attr.Retryable {
		t.Fatalf("unexpected attributes: %+v", attr)
	}
	if AttributesOf("NEVER_REGISTERED").Message != AttributesOf(CodeUnknown).Message {
		t.Fatalf("unregistered codes fall back to UNKNOWN")
	}
}
