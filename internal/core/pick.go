package core

import (
	"slices"

	"github.com/dkeye/Stage/internal/domain"
)

// Rand is the random source used to pick a new main participant.
// *math/rand/v2.Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

// Roster maps every participant currently in the channel to its media state.
type Roster map[domain.ParticipantID]domain.ParticipantState

// IDs returns the roster identifiers in ascending order.
func (r Roster) IDs() []domain.ParticipantID {
	ids := make([]domain.ParticipantID, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r Roster) Clone() Roster {
	out := make(Roster, len(r))
	for id, st := range r {
		out[id] = st
	}
	return out
}

// PickReplacement chooses a participant for the main slot from roster minus
// exclude. Candidates are sorted before sampling so the result depends only on
// roster contents and rng. A single candidate is returned without consulting rng.
func PickReplacement(roster Roster, exclude domain.ParticipantID, rng Rand) (domain.ParticipantID, bool) {
	candidates := make([]domain.ParticipantID, 0, len(roster))
	for _, id := range roster.IDs() {
		if id != exclude {
			candidates = append(candidates, id)
		}
	}
	switch len(candidates) {
	case 0:
		return "", false
	case 1:
		return candidates[0], true
	}
	return candidates[rng.IntN(len(candidates))], true
}
