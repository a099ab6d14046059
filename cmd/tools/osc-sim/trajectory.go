package main

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/tracking.stimulator/internal/tracking"
)

// Trajectory yields the position for each step in normalised coordinates.
type Trajectory interface {
	Next() tracking.Position
}

// Circle moves around (CX, CY) at Radius, completing one lap every Period
// steps.
type Circle struct {
	CX, CY, Radius float64
	Period         int
	Size           float32
	step           int
}

func (c *Circle) Next() tracking.Position {
	period := c.Period
	if period <= 0 {
		period = 1
	}
	a := 2 * math.Pi * float64(c.step%period) / float64(period)
	c.step++
	return tracking.Position{
		X:      float32(c.CX + c.Radius*math.Cos(a)),
		Y:      float32(c.CY + c.Radius*math.Sin(a)),
		Width:  c.Size,
		Height: c.Size,
	}
}

// RandomWalk takes normally distributed steps, reflecting at the edges of
// the unit square.
type RandomWalk struct {
	x, y float64
	size float32
	step distuv.Normal
}

func NewRandomWalk(stepSD float64, size float32, seed uint64) *RandomWalk {
	return &RandomWalk{
		x:    0.5,
		y:    0.5,
		size: size,
		step: distuv.Normal{Mu: 0, Sigma: stepSD, Src: rand.NewPCG(seed, seed+1)},
	}
}

func (w *RandomWalk) Next() tracking.Position {
	w.x = reflect(w.x + w.step.Rand())
	w.y = reflect(w.y + w.step.Rand())
	return tracking.Position{X: float32(w.x), Y: float32(w.y), Width: w.size, Height: w.size}
}

// reflect folds v back into [0, 1].
func reflect(v float64) float64 {
	v = math.Mod(math.Abs(v), 2)
	if v > 1 {
		v = 2 - v
	}
	return v
}

func newTrajectory(kind string, radius, stepSD float64, period int, size float32, seed uint64) (Trajectory, error) {
	switch kind {
	case "circle":
		return &Circle{CX: 0.5, CY: 0.5, Radius: radius, Period: period, Size: size}, nil
	case "walk":
		return NewRandomWalk(stepSD, size, seed), nil
	}
	return nil, fmt.Errorf("unknown trajectory %q (want circle or walk)", kind)
}
