package agent

import (
	"strings"
)

// SteerKind discriminates a parsed steer message.
type SteerKind string

const (
	SteerInstruction SteerKind = "instruction"
	SteerApproval    SteerKind = "approval"
)

// Steer is one live instruction injected into a running agent from an
// external observer (user, another agent, a hook).
type Steer struct {
	Kind        SteerKind
	Instruction string // SteerInstruction
	ApprovalID  string // SteerApproval
	Approved    bool   // SteerApproval
	Reason      string // SteerApproval
}

// ParseSteer recognizes the grammar "approval <id> approved|denied|rejected
// [reason?]" (case-insensitive on the action word) as an approval
// resolution; anything else is a free-form instruction.
func ParseSteer(raw string) Steer {
	fields := strings.Fields(raw)
	if len(fields) >= 3 && strings.EqualFold(fields[0], "approval") {
		action := strings.ToLower(fields[2])
		switch action {
		case "approved":
			return Steer{Kind: SteerApproval, ApprovalID: fields[1], Approved: true, Reason: strings.Join(fields[3:], " ")}
		case "denied", "rejected":
			return Steer{Kind: SteerApproval, ApprovalID: fields[1], Approved: false, Reason: strings.Join(fields[3:], " ")}
		}
	}
	return Steer{Kind: SteerInstruction, Instruction: raw}
}

// DrainSteer performs a non-blocking drain of ch, returning every value
// currently buffered.
func DrainSteer(ch <-chan Steer) []Steer {
	var out []Steer
	for {
		select {
		case s := <-ch:
			out = append(out, s)
		default:
			return out
		}
	}
}
