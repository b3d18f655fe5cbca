package coordinator

import (
	"fmt"

	"github.com/vincentbai/browsetrace-recorder/internal/models"
)

// transitions lists the forward edges of the session state machine. Every
// state may also fall back to idle.
var transitions = map[models.State][]models.State{
	models.StateIdle:          {models.StatePreparing},
	models.StatePreparing:     {models.StateAwaitingReady},
	models.StateAwaitingReady: {models.StateCountdown, models.StateRecording},
	models.StateCountdown:     {models.StateRecording},
	models.StateRecording:     {models.StateStopping},
	models.StateStopping:      {models.StateIdle},
}

// transition returns s moved to state to. Moving to idle always succeeds and
// yields an empty session.
func transition(s models.Session, to models.State) (models.Session, error) {
	if to == models.StateIdle {
		return models.Session{State: models.StateIdle}, nil
	}
	from := s.State
	if from == "" {
		from = models.StateIdle
	}
	for _, next := range transitions[from] {
		if next == to {
			s.State = to
			return s, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
