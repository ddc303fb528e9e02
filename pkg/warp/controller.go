package warp

import (
	"github.com/sirupsen/logrus"

	"kmsplay/pkg/input"
)

const (
	coarseStep = 0.01
	fineStep   = 0.001
	cornerMax  = 2
)

// Action tells the playback loop what a key did.
type Action int

const (
	ActionNone Action = iota
	ActionUpdated
	ActionQuit
)

var cornerNames = [4]string{"top-left", "top-right", "bottom-left", "bottom-right"}

// Controller maps key events onto a Transform and its persisted file.
type Controller struct {
	transform *Transform
	path      string
	selected  int
	fine      bool
}

// NewController edits t and saves to or loads from path.
func NewController(t *Transform, path string) *Controller {
	return &Controller{transform: t, path: path}
}

// Selected is the index of the corner the arrow keys move.
func (c *Controller) Selected() int {
	return c.selected
}

func (c *Controller) Fine() bool {
	return c.fine
}

// Handle applies one key. File errors are returned with ActionNone; the warp
// itself is left as it was.
func (c *Controller) Handle(ev input.Event) (Action, error) {
	switch ev.Key {
	case input.KeyEscape:
		return ActionQuit, nil
	case input.KeyUp:
		return c.move(0, 1), nil
	case input.KeyDown:
		return c.move(0, -1), nil
	case input.KeyLeft:
		return c.move(-1, 0), nil
	case input.KeyRight:
		return c.move(1, 0), nil
	case input.KeyRune:
	default:
		return ActionNone, nil
	}

	switch ev.Rune {
	case 'q', 'Q':
		return ActionQuit, nil
	case 'r', 'R':
		c.transform.Reset()
		logrus.WithField("function", "Controller.Handle").Info("Warp reset to identity")
		return ActionUpdated, nil
	case 'f', 'F':
		c.fine = !c.fine
		logrus.WithFields(logrus.Fields{
			"function": "Controller.Handle",
			"fine":     c.fine,
		}).Info("Adjustment step changed")
	case '1', '2', '3', '4':
		c.selected = int(ev.Rune - '1')
		logrus.WithFields(logrus.Fields{
			"function": "Controller.Handle",
			"corner":   cornerNames[c.selected],
		}).Info("Corner selected")
	case 's', 'S':
		if err := SaveFile(c.path, c.transform.Params()); err != nil {
			return ActionNone, err
		}
		logrus.WithFields(logrus.Fields{
			"function": "Controller.Handle",
			"path":     c.path,
		}).Info("Warp saved")
	case 'l', 'L':
		p, err := LoadFile(c.path)
		if err != nil {
			return ActionNone, err
		}
		if err := c.transform.Apply(p); err != nil {
			return ActionNone, err
		}
		logrus.WithFields(logrus.Fields{
			"function": "Controller.Handle",
			"path":     c.path,
			"mode":     p.Mode.String(),
		}).Info("Warp loaded")
		return ActionUpdated, nil
	}
	return ActionNone, nil
}

// move nudges the selected corner, switching to corner mode. Moves that would
// fold the quad are dropped.
func (c *Controller) move(dx, dy float32) Action {
	step := float32(coarseStep)
	if c.fine {
		step = fineStep
	}

	corners := c.transform.Params().Corners
	p := &corners[c.selected]
	p.X = clamp(p.X+dx*step, -cornerMax, cornerMax)
	p.Y = clamp(p.Y+dy*step, -cornerMax, cornerMax)

	if err := c.transform.SetCorners(corners); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Controller.move",
			"corner":   cornerNames[c.selected],
			"error":    err.Error(),
		}).Debug("Ignoring move")
		return ActionNone
	}
	return ActionUpdated
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
