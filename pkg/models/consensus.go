package models

// Vote tokens exchanged on PathConsensusVote.
const (
	VoteYes = "yes"
	VoteNo  = "no"
)

// Verdict is the outcome of one consensus round.
type Verdict string

const (
	ConsensusAchieved Verdict = "consensus-achieved"
	ConsensusFailed   Verdict = "consensus-failed"
)

// ConsensusBallot is one majority-vote round. It lives for a single vote call.
// Votes holds the literal token per responding peer; silent peers are absent.
type ConsensusBallot struct {
	Topic         string            `json:"topic"`
	ProposedValue any               `json:"proposed_value"`
	Votes         map[PeerID]string `json:"votes"`
}

// YesCount counts the literal "yes" tokens collected.
func (b ConsensusBallot) YesCount() int {
	n := 0
	for _, v := range b.Votes {
		if v == VoteYes {
			n++
		}
	}
	return n
}
