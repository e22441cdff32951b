package ai

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestParamsCoercion(t *testing.T) {
	p := Params{
		"max_tokens":  "128",
		"top_k":       float64(40),
		"temperature": json.Number("0.7"),
		"top_p":       1,
		"null":        nil,
	}
	if n, ok, err := p.Int("max_tokens"); err != nil || !ok || n != 128 {
		t.Fatalf("max_tokens: %d %v %v", n, ok, err)
	}
	if n, ok, err := p.Int("top_k"); err != nil || !ok || n != 40 {
		t.Fatalf("top_k: %d %v %v", n, ok, err)
	}
	if f, ok, err := p.Float("temperature"); err != nil || !ok || f != 0.7 {
		t.Fatalf("temperature: %v %v %v", f, ok, err)
	}
	if f, ok, err := p.Float("top_p"); err != nil || !ok || f != 1 {
		t.Fatalf("top_p: %v %v %v", f, ok, err)
	}
	if _, ok, err := p.Int("null"); err != nil || ok {
		t.Fatalf("null should read as absent: %v %v", ok, err)
	}
	if _, ok, err := p.Float("missing"); err != nil || ok {
		t.Fatalf("missing should read as absent: %v %v", ok, err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParamsValidateRejects(t *testing.T) {
	cases := []Params{
		{"max_tokens": "many"},
		{"temperature": true},
		{"top_k": []any{1}},
		{"stop_sequences": []any{1, 2}},
	}
	for _, p := range cases {
		if err := p.Validate(); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("expected ErrInvalidParameter for %v, got %v", p, err)
		}
	}
}

func TestParamsIntRejectsLossyNumbers(t *testing.T) {
	cases := map[string]any{
		"fraction":     1.7,
		"negative":     -0.5,
		"huge":         1e300,
		"nan":          math.NaN(),
		"inf":          math.Inf(1),
		"number_frac":  json.Number("2.5"),
		"number_large": json.Number("99999999999999999999"),
	}
	for name, v := range cases {
		p := Params{"max_tokens": v}
		if _, _, err := p.Int("max_tokens"); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("%s: expected ErrInvalidParameter for %v, got %v", name, v, err)
		}
		if err := p.Validate(); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("%s: validate accepted %v", name, v)
		}
	}

	if n, ok, err := (Params{"max_tokens": 2.0}).Int("max_tokens"); err != nil || !ok || n != 2 {
		t.Fatalf("whole float: %d %v %v", n, ok, err)
	}
	if n, ok, err := (Params{"top_k": -3.0}).Int("top_k"); err != nil || !ok || n != -3 {
		t.Fatalf("negative whole float: %d %v %v", n, ok, err)
	}
}

func TestNilParamsValidate(t *testing.T) {
	var p Params
	if err := p.Validate(); err != nil {
		t.Fatalf("nil params should validate: %v", err)
	}
}

func TestMergeTurns(t *testing.T) {
	got := mergeTurns([]Message{
		{Role: "system", Content: "ignored"},
		{Role: "User", Content: "a"},
		{Role: RoleHuman, Content: "b"},
		{Role: RoleAssistant, Content: " "},
		{Role: RoleAssistant, Content: "c"},
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 turns, got %+v", got)
	}
	if got[0].Role != RoleHuman || got[0].Content != "a\n\nb" || got[1].Content != "c" {
		t.Fatalf("unexpected turns: %+v", got)
	}
}
