package consensus

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hivemesh/swarmcore/internal/shared"
)

// ElectLeader runs a single-round leader election over the live Queens.
// Nominations map voter id to nominee id; entries from or for non-live
// Queens are discarded. A nominee backed by a strict majority wins.
// Without one, the Queen with the freshest heartbeat wins, ties broken
// by lowest id, so every caller converges on the same leader.
func (e *Engine) ElectLeader(nominations map[string]string) (string, error) {
	live := e.voters.LiveQueens()
	if len(live) == 0 {
		return "", fmt.Errorf("%w: cannot elect leader", shared.ErrNoLiveQueens)
	}

	counts := make(map[string]int)
	for voter, nominee := range nominations {
		if isLive(voter, live) && isLive(nominee, live) {
			counts[nominee]++
		}
	}

	majority := len(live)/2 + 1
	winner := ""
	for _, q := range live { // id order keeps ties deterministic
		if counts[q.ID] >= majority && (winner == "" || q.ID < winner) {
			winner = q.ID
		}
	}

	if winner == "" {
		for _, q := range live {
			if winner == "" {
				winner = q.ID
				continue
			}
			w := find(winner, live)
			if q.LastHeartbeat > w.LastHeartbeat {
				winner = q.ID
			}
		}
	}

	e.logger.Info("leader elected",
		zap.String("leaderId", winner),
		zap.Int("liveQueens", len(live)),
		zap.Int("nominations", len(nominations)))
	return winner, nil
}

func find(agentID string, live []shared.AgentInfo) shared.AgentInfo {
	for _, q := range live {
		if q.ID == agentID {
			return q
		}
	}
	return shared.AgentInfo{}
}
