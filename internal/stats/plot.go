package stats

import (
	"fmt"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"progsynth/internal/model"
)

const fitnessPlotFile = "fitness.png"

// WriteFitnessPlot renders best and average fitness per generation.
func WriteFitnessPlot(runDir, title string, snapshots []model.GenerationSnapshot) (string, error) {
	if len(snapshots) == 0 {
		return "", fmt.Errorf("no generations to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Generation"
	p.Y.Label.Text = "Fitness"
	p.Y.Min = 0
	p.Y.Max = 100

	best := make(plotter.XYs, len(snapshots))
	avg := make(plotter.XYs, len(snapshots))
	for i, snap := range snapshots {
		best[i].X = float64(snap.Generation)
		best[i].Y = snap.BestFitness
		avg[i].X = float64(snap.Generation)
		avg[i].Y = snap.AverageFitness
	}

	bestLine, err := plotter.NewLine(best)
	if err != nil {
		return "", err
	}
	avgLine, err := plotter.NewLine(avg)
	if err != nil {
		return "", err
	}
	avgLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(bestLine, avgLine)
	p.Legend.Add("best", bestLine)
	p.Legend.Add("avg", avgLine)
	p.Legend.Top = true
	p.Legend.Left = true

	path := filepath.Join(runDir, fitnessPlotFile)
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return "", err
	}
	return path, nil
}
