package platform

import (
	"fmt"
	"sort"
)

// Command steers an active run between generations.
type Command string

const (
	CommandPause    Command = "pause"
	CommandContinue Command = "continue"
	CommandStop     Command = "stop"
)

type StopReason string

const (
	StopReasonSolved         StopReason = "solved"
	StopReasonMaxGenerations StopReason = "max_generations"
	StopReasonStopped        StopReason = "stopped"
	StopReasonCancelled      StopReason = "cancelled"
)

func (r *Runner) PauseRun(runID string) error {
	return r.sendRunCommand(runID, CommandPause)
}

func (r *Runner) ContinueRun(runID string) error {
	return r.sendRunCommand(runID, CommandContinue)
}

func (r *Runner) StopRun(runID string) error {
	return r.sendRunCommand(runID, CommandStop)
}

// ActiveRuns lists the ids of runs currently accepting commands.
func (r *Runner) ActiveRuns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Runner) registerRunControl(runID string, control chan Command) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	r.runs[runID] = control
	return nil
}

func (r *Runner) unregisterRunControl(runID string) {
	r.mu.Lock()
	delete(r.runs, runID)
	r.mu.Unlock()
}

func (r *Runner) sendRunCommand(runID string, cmd Command) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	r.mu.RLock()
	control, ok := r.runs[runID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	select {
	case control <- cmd:
		return nil
	default:
		return fmt.Errorf("run control channel is full: %s", runID)
	}
}
