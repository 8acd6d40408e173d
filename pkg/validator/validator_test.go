package validator

import (
	"strings"
	"testing"
)

type subscribeRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	Endpoint string `json:"endpoint" validate:"required,url"`
	P256dh   string `json:"p256dh" validate:"required"`
	Auth     string `json:"auth" validate:"required"`
}

func TestValidateStructPasses(t *testing.T) {
	req := subscribeRequest{
		UserID:   "user-1",
		Endpoint: "https://push.example.com/send/abc",
		P256dh:   "key",
		Auth:     "secret",
	}

	if err := ValidateStruct(req); err != nil {
		t.Fatalf("expected valid struct, got %v", err)
	}
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	req := subscribeRequest{Endpoint: "not-a-url"}

	err := ValidateStruct(req)
	if err == nil {
		t.Fatal("expected validation failure")
	}

	failures, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(failures) != 4 {
		t.Fatalf("expected 4 failures, got %d: %v", len(failures), failures)
	}
	if !strings.Contains(err.Error(), "user_id failed on required") {
		t.Fatalf("expected json field name in error, got %s", err.Error())
	}
}
