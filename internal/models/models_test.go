package models

import (
	"errors"
	"testing"
)

func f(v float64) *float64 { return &v }

func TestRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr error
	}{
		{
			name: "valid with both limits",
			rule: Rule{InstrumentToken: "12345", LowerLimit: f(100), UpperLimit: f(200)},
		},
		{
			name: "valid with lower only",
			rule: Rule{InstrumentToken: "12345", LowerLimit: f(100)},
		},
		{
			name: "valid with upper only",
			rule: Rule{InstrumentToken: "12345", UpperLimit: f(200)},
		},
		{
			name:    "missing instrument token",
			rule:    Rule{LowerLimit: f(100)},
			wantErr: ErrInvalidToken,
		},
		{
			name:    "no limits",
			rule:    Rule{InstrumentToken: "12345"},
			wantErr: ErrNoLimits,
		},
		{
			name:    "zero lower limit",
			rule:    Rule{InstrumentToken: "12345", LowerLimit: f(0)},
			wantErr: ErrInvalidLimit,
		},
		{
			name:    "negative upper limit",
			rule:    Rule{InstrumentToken: "12345", UpperLimit: f(-5)},
			wantErr: ErrInvalidLimit,
		},
		{
			name:    "lower above upper",
			rule:    Rule{InstrumentToken: "12345", LowerLimit: f(200), UpperLimit: f(100)},
			wantErr: ErrLimitsCrossed,
		},
		{
			name:    "lower equal to upper",
			rule:    Rule{InstrumentToken: "12345", LowerLimit: f(150), UpperLimit: f(150)},
			wantErr: ErrLimitsCrossed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRule_Armed(t *testing.T) {
	rule := &Rule{InstrumentToken: "12345", LowerLimit: f(100)}
	if !rule.Armed() {
		t.Error("Expected fresh rule to be armed")
	}

	rule.KillSwitch = true
	if rule.Armed() {
		t.Error("Expected kill-switched rule not to be armed")
	}

	rule.KillSwitch = false
	rule.TriggeredToday = true
	if rule.Armed() {
		t.Error("Expected already-triggered rule not to be armed")
	}
}

func TestRule_Copy(t *testing.T) {
	original := &Rule{
		ID:              "rule-1",
		InstrumentToken: "12345",
		LowerLimit:      f(100),
		UpperLimit:      f(200),
	}

	copied := original.Copy()
	*copied.LowerLimit = 50
	copied.TriggeredToday = true

	if *original.LowerLimit != 100 {
		t.Errorf("Expected original lower limit unchanged, got %v", *original.LowerLimit)
	}
	if original.TriggeredToday {
		t.Error("Expected original triggered flag unchanged")
	}

	var nilRule *Rule
	if nilRule.Copy() != nil {
		t.Error("Expected nil copy of nil rule")
	}
}

func TestTick_Validate(t *testing.T) {
	valid := Tick{InstrumentToken: "12345", LastPrice: 150.5}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	noToken := Tick{LastPrice: 150.5}
	if !errors.Is(noToken.Validate(), ErrInvalidToken) {
		t.Error("Expected ErrInvalidToken for tick without instrument token")
	}

	zeroPrice := Tick{InstrumentToken: "12345"}
	if !errors.Is(zeroPrice.Validate(), ErrInvalidPrice) {
		t.Error("Expected ErrInvalidPrice for zero price")
	}
}

func TestPosition_IsOption(t *testing.T) {
	tests := []struct {
		symbol string
		want   bool
	}{
		{"NIFTY2590224500CE", true},
		{"NIFTY2590224500PE", true},
		{"BANKNIFTY25SEPFUT", false},
		{"RELIANCE", false},
		{"", false},
	}

	for _, tt := range tests {
		p := Position{TradingSymbol: tt.symbol}
		if got := p.IsOption(); got != tt.want {
			t.Errorf("IsOption(%q) = %v, want %v", tt.symbol, got, tt.want)
		}
	}
}
