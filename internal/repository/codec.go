package repository

import (
	"encoding/json"
	"fmt"

	"pixelguess-backend/internal/models"
)

// Array-valued columns are stored as JSON text.

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	return string(b), nil
}

func decodeJSON(s *string, v interface{}) error {
	if s == nil || *s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(*s), v); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}

// trajectoryColumns is the denormalized copy of a game's turns written at finalize.
type trajectoryColumns struct {
	trajectory, thoughts, distributions string
}

func buildTrajectory(g *models.Game, turns []*models.Turn) (*trajectoryColumns, error) {
	g.Trajectory = make([]models.Coord, 0, len(turns))
	g.ThoughtTrajectory = make([]string, 0, len(turns))
	g.ProbabilityDistributionTrajectory = make([][]float64, 0, len(turns))
	for _, t := range turns {
		g.Trajectory = append(g.Trajectory, models.Coord{t.PixelRow, t.PixelCol})
		g.ThoughtTrajectory = append(g.ThoughtTrajectory, t.ThoughtProcess)
		g.ProbabilityDistributionTrajectory = append(g.ProbabilityDistributionTrajectory, t.ProbabilityDistribution)
	}

	var cols trajectoryColumns
	var err error
	if cols.trajectory, err = encodeJSON(g.Trajectory); err != nil {
		return nil, err
	}
	if cols.thoughts, err = encodeJSON(g.ThoughtTrajectory); err != nil {
		return nil, err
	}
	if cols.distributions, err = encodeJSON(g.ProbabilityDistributionTrajectory); err != nil {
		return nil, err
	}
	return &cols, nil
}

func decodeTrajectory(g *models.Game, trajectory, thoughts, distributions *string) error {
	if err := decodeJSON(trajectory, &g.Trajectory); err != nil {
		return err
	}
	if err := decodeJSON(thoughts, &g.ThoughtTrajectory); err != nil {
		return err
	}
	return decodeJSON(distributions, &g.ProbabilityDistributionTrajectory)
}
