package rpc

import "context"

// Command is the wire name of one of the fourteen operations a
// Dispatcher understands (ten primitives, four goto_* drivers), plus
// drop_dead and update_signed (§4.5).
type Command string

const (
	CmdSignStart       Command = "sign_start"
	CmdSignApprove     Command = "sign_approve"
	CmdAssertSigned    Command = "assert_signed"
	CmdChainStart      Command = "chain_start"
	CmdAssertChained   Command = "assert_chained"
	CmdChainStop       Command = "chain_stop"
	CmdAssertUnchained Command = "assert_unchained"
	CmdSignIgnore      Command = "sign_ignore"
	CmdSignStop        Command = "sign_stop"
	CmdAssertUnsigned  Command = "assert_unsigned"
	CmdGotoSigned      Command = "goto_signed"
	CmdGotoChained     Command = "goto_chained"
	CmdGotoUnchained   Command = "goto_unchained"
	CmdGotoUnsigned    Command = "goto_unsigned"
	CmdDropDead        Command = "drop_dead"
	CmdUpdateSigned    Command = "update_signed"
)

// Request is the unsigned JSON envelope a caller submits, after its
// signature has already been verified and reduced to a key identity
// (§4.5). The transport layer owns that verification; Dispatch never
// sees raw JOSE/JWS material.
type Request struct {
	Command Command  `json:"command"`
	Zones   []string `json:"zones"`
}

// Response buckets every requested zone into exactly one outcome
// category; empty categories are omitted from JSON entirely, matching
// the original's dict-with-empty-keys-deleted convention (§4.5).
type Response struct {
	OK       []string `json:"ok,omitempty"`
	Error    []string `json:"error,omitempty"`
	Invalid  []string `json:"invalid,omitempty"`
	Badstate []string `json:"badstate,omitempty"`
}

func (r *Response) add(result Result, zone string) {
	switch result {
	case OK:
		r.OK = append(r.OK, zone)
	case ERROR:
		r.Error = append(r.Error, zone)
	case INVALID:
		r.Invalid = append(r.Invalid, zone)
	case BADSTATE:
		r.Badstate = append(r.Badstate, zone)
	}
}

// ACL maps a Command (or the wildcard "*") to the set of key
// identities permitted to invoke it, grounded on
// original_source/src/commandaccess.py's acls dict.
type ACL map[Command]map[string]bool

// Allows reports whether kid may invoke command, honoring the
// wildcard command key exactly like the Python acls['*'] check.
func (a ACL) Allows(command Command, kid string) bool {
	if kids, ok := a["*"]; ok && kids[kid] {
		return true
	}
	if kids, ok := a[command]; ok && kids[kid] {
		return true
	}
	return false
}

// Dispatcher is C5: it authorizes a command against the ACL, then
// invokes the corresponding Handlers method independently per zone,
// classifying each into the Response (§4.5).
type Dispatcher struct {
	Handlers *Handlers
	ACL      ACL
	// UpdateSigned is consulted only for the update_signed command; it
	// may be nil, in which case update_signed reports ERROR for every
	// zone whose signed flag is set (BADSTATE for the others).
	UpdateSigned UpdateSignedFunc
}

func NewDispatcher(h *Handlers, acl ACL) *Dispatcher {
	return &Dispatcher{Handlers: h, ACL: acl}
}

func (d *Dispatcher) invoke(ctx context.Context, command Command, zone string) Result {
	h := d.Handlers
	switch command {
	case CmdSignStart:
		return h.SignStart(ctx, zone)
	case CmdSignApprove:
		return h.SignApprove(ctx, zone)
	case CmdAssertSigned:
		return h.AssertSigned(ctx, zone)
	case CmdChainStart:
		return h.ChainStart(ctx, zone)
	case CmdAssertChained:
		return h.AssertChained(ctx, zone)
	case CmdChainStop:
		return h.ChainStop(ctx, zone)
	case CmdAssertUnchained:
		return h.AssertUnchained(ctx, zone)
	case CmdSignIgnore:
		return h.SignIgnore(ctx, zone)
	case CmdSignStop:
		return h.SignStop(ctx, zone)
	case CmdAssertUnsigned:
		return h.AssertUnsigned(ctx, zone)
	case CmdGotoSigned:
		return h.GotoSigned(ctx, zone)
	case CmdGotoChained:
		return h.GotoChained(ctx, zone)
	case CmdGotoUnchained:
		return h.GotoUnchained(ctx, zone)
	case CmdGotoUnsigned:
		return h.GotoUnsigned(ctx, zone)
	case CmdDropDead:
		return h.DropDead(ctx, zone)
	case CmdUpdateSigned:
		return h.UpdateSigned(ctx, zone, d.UpdateSigned)
	default:
		return ERROR
	}
}

var knownCommands = map[Command]bool{
	CmdSignStart: true, CmdSignApprove: true, CmdAssertSigned: true,
	CmdChainStart: true, CmdAssertChained: true, CmdChainStop: true,
	CmdAssertUnchained: true, CmdSignIgnore: true, CmdSignStop: true,
	CmdAssertUnsigned: true, CmdGotoSigned: true, CmdGotoChained: true,
	CmdGotoUnchained: true, CmdGotoUnsigned: true, CmdDropDead: true,
	CmdUpdateSigned: true,
}

// Dispatch implements §4.5's four-step algorithm. It returns nil for
// an unrecognised command or an ACL denial, exactly matching the
// original's `return None`.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, kid string) *Response {
	if !knownCommands[req.Command] {
		return nil
	}
	if !d.ACL.Allows(req.Command, kid) {
		return nil
	}

	resp := &Response{}
	for _, raw := range req.Zones {
		zone := NormalizeZone(raw)

		var result Result
		switch {
		case !ValidZoneName(zone):
			result = ERROR
		case d.Handlers.Store.Get(zone, FlagInvalid).AsBool():
			result = INVALID
		default:
			result = d.invoke(ctx, req.Command, zone)
			if result != INVALID && d.Handlers.Store.Get(zone, FlagInvalid).AsBool() {
				result = INVALID
			}
		}
		resp.add(result, zone)
	}
	return resp
}
