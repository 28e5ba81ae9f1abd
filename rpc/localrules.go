package rpc

// LocalRules lets a deployment veto any primitive command per zone
// once its flag preconditions have passed, grounded on
// original_source/src/localrules.py's per-command hook functions.
// Each method returns true when the command may proceed.
type LocalRules interface {
	SignStart(zone string) bool
	SignApprove(zone string) bool
	AssertSigned(zone string) bool
	ChainStart(zone string) bool
	AssertChained(zone string) bool
	ChainStop(zone string) bool
	AssertUnchained(zone string) bool
	SignIgnore(zone string) bool
	SignStop(zone string) bool
	AssertUnsigned(zone string) bool
}

// PermissiveLocalRules allows every command for every zone, the
// default deployment posture absent any localrules.py equivalent
// override.
type PermissiveLocalRules struct{}

func (PermissiveLocalRules) SignStart(zone string) bool       { return true }
func (PermissiveLocalRules) SignApprove(zone string) bool     { return true }
func (PermissiveLocalRules) AssertSigned(zone string) bool    { return true }
func (PermissiveLocalRules) ChainStart(zone string) bool      { return true }
func (PermissiveLocalRules) AssertChained(zone string) bool   { return true }
func (PermissiveLocalRules) ChainStop(zone string) bool       { return true }
func (PermissiveLocalRules) AssertUnchained(zone string) bool { return true }
func (PermissiveLocalRules) SignIgnore(zone string) bool      { return true }
func (PermissiveLocalRules) SignStop(zone string) bool        { return true }
func (PermissiveLocalRules) AssertUnsigned(zone string) bool  { return true }
