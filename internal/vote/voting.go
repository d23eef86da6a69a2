package vote

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"overseer/internal/errors"
	"overseer/internal/state"
	"overseer/internal/worker"
)

// winningThreshold is the minimum winner score for the round to count as a
// success for the original feature.
const winningThreshold = 50

// detailedDoneLength is how long a done file must be to earn the detail
// bonus.
const detailedDoneLength = 200

// logTailLines bounds how much of a voter's log the scorer inspects.
const logTailLines = 400

// testsPassPattern matches the usual ways agents report a green test run.
var testsPassPattern = regexp.MustCompile(`(?i)(all )?tests?( suite)?,? (are |is )?(all )?(pass|passing|passed|green)`)

// changedLinesPattern extracts a self-reported change size such as
// "42 lines changed" or "changed 42 lines".
var changedLinesPattern = regexp.MustCompile(`(?i)(\d+)\s+lines?\b`)

// errorLinePattern counts error mentions in a log tail.
var errorLinePattern = regexp.MustCompile(`(?i)\berror\b`)

// VoterScore is the scored outcome of one voter's attempt.
type VoterScore struct {
	FeatureID string   `json:"featureId"`
	Role      string   `json:"role"`
	Score     int      `json:"score"`
	Breakdown []string `json:"breakdown,omitempty"`
}

// VotingResult summarises one completed voting round.
type VotingResult struct {
	OriginalFeature string       `json:"originalFeature"`
	Winner          string       `json:"winner,omitempty"`
	WinnerScore     int          `json:"winnerScore"`
	Succeeded       bool         `json:"succeeded"`
	Scores          []VoterScore `json:"scores"`
}

// StartVoting clones the original feature into count voter features and
// starts all of them in parallel. count must be 2 or 3.
func (c *Coordinator) StartVoting(ctx context.Context, sess *state.Session, featureID string, count int) ([]string, error) {
	if count < 2 || count > 3 {
		return nil, errors.NewValidationError("voter count must be 2 or 3").
			WithField("count").WithValue(count)
	}
	orig := sess.Feature(featureID)
	if orig == nil {
		return nil, errors.NewNotFoundError("feature", featureID).WithCause(errors.ErrFeatureNotFound)
	}
	if orig.Status != state.FeaturePending {
		return nil, errors.NewSchedulerError("voting needs a pending feature", nil).
			WithFeatureID(featureID)
	}
	if len(votersOf(sess, featureID)) > 0 {
		return nil, errors.NewSchedulerError("a voting round is already in flight", nil).
			WithFeatureID(featureID)
	}

	var voterIDs []string
	for k := 1; k <= count; k++ {
		clone := &state.Feature{
			ID:          fmt.Sprintf("%s-voter-%d", featureID, k),
			Description: orig.Description,
			Status:      state.FeaturePending,
			DependsOn:   append([]string(nil), orig.DependsOn...),
			Complexity:  orig.Complexity,
			Context:     orig.Context,
			VotingGroup: featureID,
			VotingRole:  state.VoterRole(k),
		}
		if err := sess.AddFeature(clone); err != nil {
			return nil, err
		}
		voterIDs = append(voterIDs, clone.ID)
	}

	// The session document is single-writer, so starts are serialised here;
	// the spawned sessions themselves run concurrently. A failed start
	// aborts the round and tears down the voters already running.
	for _, id := range voterIDs {
		if _, err := c.workers.StartVotingWorker(ctx, sess, id, ""); err != nil {
			for _, started := range voterIDs {
				if started == id {
					break
				}
				_ = c.workers.KillWorker(sess, worker.SessionName(started))
			}
			return nil, errors.Wrap(err, "failed to start voting workers")
		}
	}

	orig.Status = state.FeatureInProgress
	orig.StartedAt = state.Timestamp()
	c.logger.Info("voting round started", "feature", featureID, "voters", count)
	return voterIDs, nil
}

// votersOf returns the voter clones for an original feature, in role order.
func votersOf(sess *state.Session, featureID string) []*state.Feature {
	var out []*state.Feature
	for _, f := range sess.Features {
		if f.VotingGroup == featureID {
			out = append(out, f)
		}
	}
	return out
}

// scoreVoter rates one voter attempt from its done file and log tail.
func scoreVoter(done, logTail string) (int, []string) {
	var score int
	var breakdown []string

	if done == "" {
		return 0, []string{"no done file"}
	}

	if testsPassPattern.MatchString(done) {
		score += 40
		breakdown = append(breakdown, "tests reported passing (+40)")
	}
	if len(done) >= detailedDoneLength {
		score += 20
		breakdown = append(breakdown, "detailed completion summary (+20)")
	}
	if m := changedLinesPattern.FindStringSubmatch(done); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			switch {
			case n < 100:
				score += 20
				breakdown = append(breakdown, fmt.Sprintf("small change, %d lines (+20)", n))
			case n < 200:
				score += 10
				breakdown = append(breakdown, fmt.Sprintf("moderate change, %d lines (+10)", n))
			}
		}
	}

	errorCount := len(errorLinePattern.FindAllString(logTail, -1))
	switch {
	case errorCount == 0:
		score += 10
		breakdown = append(breakdown, "no errors in log (+10)")
	case errorCount <= 3:
		score += 5
		breakdown = append(breakdown, fmt.Sprintf("%d errors in log (+5)", errorCount))
	}

	return score, breakdown
}

// EvaluateVoting scores every voter, selects the winner, settles the
// original feature, and kills the losing sessions. Every voter's worker
// must have left the running state first. Loser output stays on disk.
func (c *Coordinator) EvaluateVoting(sess *state.Session, featureID string) (*VotingResult, error) {
	orig := sess.Feature(featureID)
	if orig == nil {
		return nil, errors.NewNotFoundError("feature", featureID).WithCause(errors.ErrFeatureNotFound)
	}
	voters := votersOf(sess, featureID)
	if len(voters) == 0 {
		return nil, errors.NewSchedulerError("no voting round in flight", nil).WithFeatureID(featureID)
	}

	for _, v := range voters {
		if w := sess.Worker(worker.SessionName(v.ID)); w != nil && w.Status == state.WorkerRunning {
			return nil, errors.NewSchedulerError("voting workers still running", nil).
				WithFeatureID(v.ID)
		}
	}

	result := &VotingResult{OriginalFeature: featureID}
	bestIdx := -1
	for i, v := range voters {
		done, err := c.workers.ReadDoneFile(v.ID)
		if err != nil {
			return nil, err
		}
		score, breakdown := scoreVoter(done, c.workers.WorkerLogTail(v.ID, logTailLines))
		s := score
		v.VotingScore = &s
		result.Scores = append(result.Scores, VoterScore{
			FeatureID: v.ID,
			Role:      string(v.VotingRole),
			Score:     score,
			Breakdown: breakdown,
		})
		// Ties go to the earliest role.
		if bestIdx < 0 || score > result.Scores[bestIdx].Score {
			bestIdx = i
		}
	}

	winner := voters[bestIdx]
	result.Winner = winner.ID
	result.WinnerScore = result.Scores[bestIdx].Score
	result.Succeeded = result.WinnerScore > winningThreshold

	now := state.Timestamp()
	if result.Succeeded {
		orig.Status = state.FeatureCompleted
		orig.CompletedAt = now
		orig.VotingWinner = winner.ID
		winner.Status = state.FeatureCompleted
		winner.CompletedAt = now
	} else {
		orig.Status = state.FeatureFailed
		orig.LastError = fmt.Sprintf("best voting attempt %s scored %d, below the %d threshold",
			winner.ID, result.WinnerScore, winningThreshold)
	}

	for _, v := range voters {
		if v.ID != winner.ID || !result.Succeeded {
			if v.Status == state.FeaturePending || v.Status == state.FeatureInProgress {
				v.Status = state.FeatureFailed
				v.LastError = "lost voting round"
			}
		}
		if v.ID == winner.ID && result.Succeeded {
			continue
		}
		name := worker.SessionName(v.ID)
		if err := c.workers.KillWorker(sess, name); err != nil && !errors.Is(err, errors.ErrSessionMissing) {
			c.logger.Warn("failed to kill voter", "session", name, "error", err.Error())
		}
	}

	c.logger.Info("voting evaluated",
		"feature", featureID,
		"winner", winner.ID,
		"score", result.WinnerScore,
		"succeeded", result.Succeeded,
		"scores", describeScores(result),
	)
	return result, nil
}

// describeScores renders a one-line summary for progress logging.
func describeScores(result *VotingResult) string {
	parts := make([]string, 0, len(result.Scores))
	for _, s := range result.Scores {
		parts = append(parts, fmt.Sprintf("%s=%d", s.Role, s.Score))
	}
	return strings.Join(parts, " ")
}
