package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountControl_State(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected AccountState
		disabled bool
	}{
		{"normal account", "512", StateNormal, false},
		{"disabled normal account", "514", StateDisabled, true},
		{"password never expires", "66048", StateNormal, false},
		{"smartcard required", "262656", StateSmartcardRequired, false},
		{"disabled smartcard account", "262658", StateSmartcardRequired, true},
		{"interdomain trust", "2080", StateInterdomainTrust, false},
		{"workstation trust", "4096", StateWorkstationTrust, false},
		{"domain controller", "532480", StateServerTrust, false},
		{"trusted to authenticate for delegation", "16777728", StateDelegatedLogon, false},
		{"read-only domain controller", "83890176", StatePartialSecrets, false},
		{"empty defaults to normal", "", StateNormal, false},
		{"garbage defaults to normal", "abc", StateNormal, false},
		{"negative defaults to normal", "-1", StateNormal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ac := ParseAccountControl(tt.raw)
			assert.Equal(t, tt.expected, ac.State())
			assert.Equal(t, tt.disabled, ac.Disabled())
		})
	}
}

func TestAccountState_IsTrustKind(t *testing.T) {
	trust := []AccountState{StateInterdomainTrust, StateWorkstationTrust, StateServerTrust, StateDelegatedLogon, StatePartialSecrets}
	for _, s := range trust {
		assert.True(t, s.IsTrustKind(), s.String())
		assert.NotEmpty(t, s.Reason())
	}

	for _, s := range []AccountState{StateNormal, StateDisabled, StateSmartcardRequired} {
		assert.False(t, s.IsTrustKind(), s.String())
	}
}

func TestAccountState_String(t *testing.T) {
	assert.Equal(t, "normal", StateNormal.String())
	assert.Equal(t, "smartcard_required", StateSmartcardRequired.String())
	assert.Equal(t, "unknown", AccountState(99).String())
}

func TestAccountControl_String(t *testing.T) {
	assert.Equal(t, "514", ParseAccountControl("514").String())
}
