// Package consensus implements quorum voting and leader election among
// the swarm's Queens.
package consensus

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/internal/shared"
)

// VoterSource supplies the current voter set. The live-Queen set is
// recomputed at every tally; Queens that died mid-vote stop counting
// toward quorum.
type VoterSource interface {
	LiveQueens() []shared.AgentInfo
}

// Engine tracks proposals from open to resolution. Resolved proposals
// are kept for audit and served read-only.
type Engine struct {
	mu        sync.Mutex
	proposals map[string]*shared.Proposal
	timers    map[string]*time.Timer

	voters VoterSource
	cfg    config.ConsensusConfig
	logger *zap.Logger
	clock  func() int64

	onResolved func(shared.Proposal)
}

// NewEngine creates a consensus engine over the given voter source.
func NewEngine(voters VoterSource, cfg config.ConsensusConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		proposals: make(map[string]*shared.Proposal),
		timers:    make(map[string]*time.Timer),
		voters:    voters,
		cfg:       cfg,
		logger:    logger,
		clock:     shared.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (e *Engine) SetClock(clock func() int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

// SetOnResolved registers the callback invoked once per proposal when it
// reaches a terminal status. The callback runs outside the engine lock.
func (e *Engine) SetOnResolved(fn func(shared.Proposal)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onResolved = fn
}

// Propose opens a proposal. The proposer must be a live Queen; the
// voting window deadline is mandatory and starts immediately.
func (e *Engine) Propose(proposerID string, payload shared.ProposalPayload, rule shared.QuorumRule) (shared.Proposal, error) {
	live := e.voters.LiveQueens()
	if len(live) == 0 {
		return shared.Proposal{}, fmt.Errorf("%w: cannot open proposal", shared.ErrNoLiveQueens)
	}
	if !isLive(proposerID, live) {
		return shared.Proposal{}, fmt.Errorf("%w: proposer %s", shared.ErrIneligibleVoter, proposerID)
	}

	if rule.Kind == "" {
		rule.Kind = shared.QuorumMajority
	}
	if rule.Kind == shared.QuorumSupermajority && rule.Fraction <= 0 {
		rule.Fraction = e.cfg.SupermajorityFraction
	}

	e.mu.Lock()
	now := e.clock()
	p := &shared.Proposal{
		ID:         uuid.New().String(),
		ProposerID: proposerID,
		Payload: shared.ProposalPayload{
			Kind: payload.Kind,
			Data: shared.CloneDetails(payload.Data),
		},
		Votes:     make(map[string]shared.VoteChoice),
		Status:    shared.ProposalOpen,
		Quorum:    rule,
		CreatedAt: now,
		Deadline:  now + e.cfg.VotingWindow.Milliseconds(),
	}
	e.proposals[p.ID] = p
	id := p.ID
	e.timers[id] = time.AfterFunc(e.cfg.VotingWindow, func() { e.expire(id) })
	out := shared.CloneProposal(*p)
	e.mu.Unlock()

	e.logger.Info("proposal opened",
		zap.String("proposalId", out.ID),
		zap.String("kind", payload.Kind),
		zap.String("quorum", string(rule.Kind)),
		zap.Int("liveQueens", len(live)))
	return out, nil
}

// Vote records a Queen's vote and re-tallies. Votes on resolved
// proposals are rejected; duplicate votes are rejected unless revoting
// is enabled.
func (e *Engine) Vote(proposalID, voterID string, choice shared.VoteChoice) (shared.Proposal, error) {
	switch choice {
	case shared.VoteApprove, shared.VoteReject, shared.VoteAbstain:
	default:
		return shared.Proposal{}, fmt.Errorf("invalid vote choice %q", choice)
	}

	live := e.voters.LiveQueens()

	e.mu.Lock()
	p, exists := e.proposals[proposalID]
	if !exists {
		e.mu.Unlock()
		return shared.Proposal{}, fmt.Errorf("%w: %s", shared.ErrUnknownProposal, proposalID)
	}
	if p.Status.IsTerminal() {
		out := shared.CloneProposal(*p)
		e.mu.Unlock()
		return out, fmt.Errorf("%w: %s is %s", shared.ErrProposalResolved, proposalID, out.Status)
	}
	if e.clock() >= p.Deadline {
		resolved := e.finalizeLocked(p, e.tally(p, live, true))
		out := shared.CloneProposal(*p)
		e.mu.Unlock()
		e.notify(resolved)
		return out, fmt.Errorf("%w: %s is %s", shared.ErrProposalResolved, proposalID, out.Status)
	}
	if !isLive(voterID, live) {
		e.mu.Unlock()
		return shared.Proposal{}, fmt.Errorf("%w: %s", shared.ErrIneligibleVoter, voterID)
	}
	if _, voted := p.Votes[voterID]; voted && !e.cfg.AllowRevote {
		e.mu.Unlock()
		return shared.Proposal{}, fmt.Errorf("%w: %s on %s", shared.ErrDuplicateVote, voterID, proposalID)
	}

	p.Votes[voterID] = choice
	resolved := e.finalizeLocked(p, e.tally(p, live, false))
	out := shared.CloneProposal(*p)
	e.mu.Unlock()

	e.notify(resolved)
	return out, nil
}

// GetProposal returns a copy of a proposal, open or resolved.
func (e *Engine) GetProposal(proposalID string) (shared.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, exists := e.proposals[proposalID]
	if !exists {
		return shared.Proposal{}, fmt.Errorf("%w: %s", shared.ErrUnknownProposal, proposalID)
	}
	return shared.CloneProposal(*p), nil
}

// List returns copies of all proposals, oldest first.
func (e *Engine) List() []shared.Proposal {
	e.mu.Lock()
	out := make([]shared.Proposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		out = append(out, shared.CloneProposal(*p))
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Close stops all deadline timers. Open proposals stay open.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

// expire resolves a proposal whose voting window elapsed.
func (e *Engine) expire(proposalID string) {
	live := e.voters.LiveQueens()

	e.mu.Lock()
	p, exists := e.proposals[proposalID]
	if !exists || p.Status.IsTerminal() {
		e.mu.Unlock()
		return
	}
	resolved := e.finalizeLocked(p, e.tally(p, live, true))
	e.mu.Unlock()

	e.notify(resolved)
}

// Reconcile re-tallies every open proposal against the current
// live-Queen set. The coordinator calls it when a Queen drops out of
// the live set, so a proposal whose electorate vanished or shrank
// resolves immediately instead of waiting out the voting window.
func (e *Engine) Reconcile() {
	live := e.voters.LiveQueens()

	e.mu.Lock()
	resolved := make([]*shared.Proposal, 0)
	for _, p := range e.proposals {
		if p.Status.IsTerminal() {
			continue
		}
		if r := e.finalizeLocked(p, e.tally(p, live, false)); r != nil {
			resolved = append(resolved, r)
		}
	}
	e.mu.Unlock()

	sort.Slice(resolved, func(i, j int) bool {
		if resolved[i].CreatedAt != resolved[j].CreatedAt {
			return resolved[i].CreatedAt < resolved[j].CreatedAt
		}
		return resolved[i].ID < resolved[j].ID
	})
	for _, r := range resolved {
		e.notify(r)
	}
}

// tally computes the proposal's status against the current live-Queen
// set. Votes from Queens no longer live are discarded. With atDeadline
// set, a proposal that has not committed expires instead of staying open.
func (e *Engine) tally(p *shared.Proposal, live []shared.AgentInfo, atDeadline bool) shared.ProposalStatus {
	n := len(live)
	if n == 0 {
		return shared.ProposalExpired
	}

	approvals, cast := 0, 0
	for _, q := range live {
		choice, voted := p.Votes[q.ID]
		if !voted {
			continue
		}
		cast++
		if choice == shared.VoteApprove {
			approvals++
		}
	}

	required := p.Quorum.Required(n)
	if approvals >= required {
		return shared.ProposalCommitted
	}
	// Even if every remaining live Queen approves, quorum is out of reach.
	if approvals+(n-cast) < required {
		return shared.ProposalRejected
	}
	if atDeadline {
		return shared.ProposalExpired
	}
	return shared.ProposalOpen
}

// finalizeLocked applies a terminal status under the engine lock and
// returns the resolved copy to hand to the callback, or nil if the
// proposal stays open. Callers notify after unlocking.
func (e *Engine) finalizeLocked(p *shared.Proposal, status shared.ProposalStatus) *shared.Proposal {
	if status == shared.ProposalOpen || p.Status.IsTerminal() {
		return nil
	}
	p.Status = status
	p.ResolvedAt = e.clock()
	if t, ok := e.timers[p.ID]; ok {
		t.Stop()
		delete(e.timers, p.ID)
	}
	out := shared.CloneProposal(*p)
	return &out
}

func (e *Engine) notify(resolved *shared.Proposal) {
	if resolved == nil {
		return
	}
	e.logger.Info("proposal resolved",
		zap.String("proposalId", resolved.ID),
		zap.String("status", string(resolved.Status)))

	e.mu.Lock()
	fn := e.onResolved
	e.mu.Unlock()
	if fn != nil {
		fn(*resolved)
	}
}

func isLive(agentID string, live []shared.AgentInfo) bool {
	for _, q := range live {
		if q.ID == agentID {
			return true
		}
	}
	return false
}
