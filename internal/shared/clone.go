package shared

// Defensive copy helpers. Snapshots handed across component boundaries
// are copy-out, never references into live state.

// CloneStrings returns a copy of a string slice.
func CloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

// CloneDetails returns a shallow copy of a details map.
func CloneDetails(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// CloneAgentInfo returns a deep copy of an AgentInfo.
func CloneAgentInfo(a AgentInfo) AgentInfo {
	out := a
	out.Capabilities = CloneStrings(a.Capabilities)
	return out
}

// CloneTask returns a deep copy of a Task.
func CloneTask(t Task) Task {
	out := t
	out.Capabilities = CloneStrings(t.Capabilities)
	out.Payload = CloneDetails(t.Payload)
	return out
}

// CloneProposal returns a deep copy of a Proposal.
func CloneProposal(p Proposal) Proposal {
	out := p
	out.Payload.Data = CloneDetails(p.Payload.Data)
	votes := make(map[string]VoteChoice, len(p.Votes))
	for voter, choice := range p.Votes {
		votes[voter] = choice
	}
	out.Votes = votes
	return out
}

// CloneEvent returns a deep copy of an Event.
func CloneEvent(e Event) Event {
	out := e
	out.Details = CloneDetails(e.Details)
	return out
}
