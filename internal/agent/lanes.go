package agent

import (
	"context"
	"fmt"
)

// LaneRunner runs each explorer lane in its own throwaway session so
// the three lanes never share conversation state.
type LaneRunner struct {
	Manager    *Manager
	PipelineID string
	WorkingDir string
	Model      string
	StorageID  string
}

// RunLane opens a fresh session, sends the lane prompt, and closes the
// session again.
func (r *LaneRunner) RunLane(ctx context.Context, lane, prompt string) (string, error) {
	key := fmt.Sprintf("%s/explore-%s", r.PipelineID, lane)
	s, err := r.Manager.Create(key, SessionOpts{
		WorkingDir: r.WorkingDir,
		Model:      r.Model,
		StorageID:  r.StorageID,
	})
	if err != nil {
		return "", err
	}
	defer r.Manager.Close(key)

	res, err := s.Send(ctx, prompt)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
