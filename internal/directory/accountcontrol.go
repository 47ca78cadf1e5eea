package directory

import "strconv"

// userAccountControl flags, from the Microsoft documentation.
const (
	UACAccountDisabled          uint32 = 0x00000002
	UACHomeDirRequired          uint32 = 0x00000008
	UACLockout                  uint32 = 0x00000010
	UACPasswordNotRequired      uint32 = 0x00000020
	UACPasswordCantChange       uint32 = 0x00000040
	UACEncryptedTextPwdAllowed  uint32 = 0x00000080
	UACTempDuplicateAccount     uint32 = 0x00000100
	UACNormalAccount            uint32 = 0x00000200
	UACInterdomainTrustAccount  uint32 = 0x00000800
	UACWorkstationTrustAccount  uint32 = 0x00001000
	UACServerTrustAccount       uint32 = 0x00002000
	UACPasswordNeverExpires     uint32 = 0x00010000
	UACMNSLogonAccount          uint32 = 0x00020000
	UACSmartCardRequired        uint32 = 0x00040000
	UACTrustedForDelegation     uint32 = 0x00080000
	UACNotDelegated             uint32 = 0x00100000
	UACUseDesKeyOnly            uint32 = 0x00200000
	UACDontRequirePreauth       uint32 = 0x00400000
	UACPasswordExpired          uint32 = 0x00800000
	UACTrustedToAuthForDeleg    uint32 = 0x01000000
	UACPartialSecretsAccount    uint32 = 0x04000000
	DefaultNormalAccountControl        = UACNormalAccount
)

// AccountState is the single classification decoded from a userAccountControl value.
type AccountState int

const (
	StateNormal AccountState = iota
	StateDisabled
	StateSmartcardRequired
	StateInterdomainTrust
	StateWorkstationTrust
	StateServerTrust
	StateDelegatedLogon
	StatePartialSecrets
)

// String returns the state name.
func (s AccountState) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateDisabled:
		return "disabled"
	case StateSmartcardRequired:
		return "smartcard_required"
	case StateInterdomainTrust:
		return "interdomain_trust"
	case StateWorkstationTrust:
		return "workstation_trust"
	case StateServerTrust:
		return "server_trust"
	case StateDelegatedLogon:
		return "delegated_logon"
	case StatePartialSecrets:
		return "partial_secrets"
	default:
		return "unknown"
	}
}

// IsTrustKind reports whether the state describes a non-user account
// (trust, delegation or read-only domain controller objects).
func (s AccountState) IsTrustKind() bool {
	switch s {
	case StateInterdomainTrust, StateWorkstationTrust, StateServerTrust, StateDelegatedLogon, StatePartialSecrets:
		return true
	default:
		return false
	}
}

// Reason is a human readable explanation used when an account is disabled
// locally because of its directory state.
func (s AccountState) Reason() string {
	switch s {
	case StateDisabled:
		return "account is disabled in the directory"
	case StateSmartcardRequired:
		return "account requires smartcard logon"
	case StateInterdomainTrust:
		return "account is an interdomain trust account"
	case StateWorkstationTrust:
		return "account is a workstation trust account"
	case StateServerTrust:
		return "account is a server trust account"
	case StateDelegatedLogon:
		return "account is trusted to authenticate for delegation"
	case StatePartialSecrets:
		return "account is a read-only domain controller account"
	default:
		return ""
	}
}

// AccountControl is a raw userAccountControl bit field.
type AccountControl uint32

// ParseAccountControl decodes the decimal attribute value. Unparseable or
// empty input yields a normal enabled account.
func ParseAccountControl(raw string) AccountControl {
	if raw == "" {
		return AccountControl(DefaultNormalAccountControl)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return AccountControl(DefaultNormalAccountControl)
	}
	return AccountControl(uint32(v))
}

// Has reports whether every bit of flag is set.
func (ac AccountControl) Has(flag uint32) bool {
	return uint32(ac)&flag == flag
}

// Disabled reports the ACCOUNTDISABLE bit.
func (ac AccountControl) Disabled() bool {
	return ac.Has(UACAccountDisabled)
}

// State classifies the account. Precedence follows what the bits mean:
// account type bits (read-only DC, trust accounts) describe what kind of
// object this is and win over everything else; delegation to authenticate
// marks a service identity; the remaining user accounts are classified by
// their logon requirement (smartcard) and then their enablement.
func (ac AccountControl) State() AccountState {
	switch {
	case ac.Has(UACPartialSecretsAccount):
		return StatePartialSecrets
	case ac.Has(UACInterdomainTrustAccount):
		return StateInterdomainTrust
	case ac.Has(UACServerTrustAccount):
		return StateServerTrust
	case ac.Has(UACWorkstationTrustAccount):
		return StateWorkstationTrust
	case ac.Has(UACTrustedToAuthForDeleg):
		return StateDelegatedLogon
	case ac.Has(UACSmartCardRequired):
		return StateSmartcardRequired
	case ac.Disabled():
		return StateDisabled
	default:
		return StateNormal
	}
}

// String returns the decimal value as stored in the directory.
func (ac AccountControl) String() string {
	return strconv.FormatUint(uint64(ac), 10)
}
