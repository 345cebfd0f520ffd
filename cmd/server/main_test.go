package main

import (
	"strings"
	"testing"

	"caisse/backend/internal/config"
)

const strongAuthSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := map[string]config.Config{
		"short auth secret":    {AuthSecret: "short", IngestSecret: "k7Fq2mZx9LpW4tRb"},
		"missing ingest":       {AuthSecret: strongAuthSecret},
		"short ingest":         {AuthSecret: strongAuthSecret, IngestSecret: "k7Fq2m"},
		"over bcrypt limit":    {AuthSecret: strongAuthSecret, IngestSecret: strings.Repeat("k7Fq2mZx9", 9)},
		"placeholder":          {AuthSecret: strongAuthSecret, IngestSecret: "please-changeme-now"},
		"repeated character":   {AuthSecret: strongAuthSecret, IngestSecret: strings.Repeat("a", 20)},
		"reused as jwt secret": {AuthSecret: strongAuthSecret, IngestSecret: strongAuthSecret},
	}
	for name, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("%s: expected config to be rejected", name)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: strongAuthSecret, IngestSecret: "k7Fq2mZx9LpW4tRb"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
