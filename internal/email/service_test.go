package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "noreply@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "noreply@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderVerificationTemplate(t *testing.T) {
	data := verificationData{
		AppName:         "Glossary",
		UserName:        "Test User",
		VerificationURL: "https://example.com/verify?token=abc123",
	}

	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Glossary") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Test User") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/verify?token=abc123") {
		t.Error("template should contain verification URL")
	}
}

func TestRenderRejectionTemplate(t *testing.T) {
	data := decisionData{
		AppName:  "Glossary",
		UserName: "Test User",
		Term:     "ubuntu",
		Language: "zu",
		Review:   "The definition conflates two distinct senses.",
	}

	html, err := renderTemplate(rejectedEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "ubuntu") {
		t.Error("template should contain the term")
	}
	if !strings.Contains(html, "The definition conflates two distinct senses.") {
		t.Error("template should contain the reviewer notes")
	}
}

func TestRenderApprovalTemplate(t *testing.T) {
	data := decisionData{
		AppName:  "Glossary",
		UserName: "Test User",
		Term:     "ubuntu",
		Language: "zu",
	}

	html, err := renderTemplate(approvedEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "ubuntu") {
		t.Error("template should contain the term")
	}
	if !strings.Contains(html, "approved") {
		t.Error("template should mention approval")
	}
}
