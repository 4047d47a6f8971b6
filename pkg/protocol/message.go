package protocol

import (
	"errors"
	"fmt"
	"math"
)

// Command names understood by the viewport server
const (
	CmdRequestUpdate = "req-update"
	CmdGrab          = "grab"
	CmdUngrab        = "ungrab"
	CmdMove          = "move"

	// CmdUpdate is the only message the server pushes to peers
	CmdUpdate = "update"
)

// ErrMalformed is returned for input that is not a [name, ...args] tuple.
var ErrMalformed = errors.New("malformed message")

// Message is a tagged tuple, encoded on the wire as [name, arg0, arg1, ...].
type Message struct {
	Name string
	Args []any
}

// NewMessage builds a message from a command name and its arguments.
func NewMessage(name string, args ...any) Message {
	return Message{Name: name, Args: args}
}

// Arg returns the i-th argument, or nil when absent.
func (m Message) Arg(i int) any {
	if i < 0 || i >= len(m.Args) {
		return nil
	}
	return m.Args[i]
}

func (m Message) tuple() []any {
	out := make([]any, 0, len(m.Args)+1)
	out = append(out, m.Name)
	return append(out, m.Args...)
}

// fromTuple validates a decoded array and splits off the tag.
func fromTuple(items []any) (Message, error) {
	if len(items) == 0 {
		return Message{}, fmt.Errorf("%w: empty tuple", ErrMalformed)
	}
	name, ok := items[0].(string)
	if !ok || name == "" {
		return Message{}, fmt.Errorf("%w: tag is not a string", ErrMalformed)
	}
	return Message{Name: name, Args: items[1:]}, nil
}

// Vector is a 2D position or displacement.
type Vector struct {
	X float64 `json:"x" cbor:"x"`
	Y float64 `json:"y" cbor:"y"`
}

// Add returns v translated by d.
func (v Vector) Add(d Vector) Vector {
	return Vector{X: v.X + d.X, Y: v.Y + d.Y}
}

// Finite reports whether both components are finite numbers.
func (v Vector) Finite() bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) && !math.IsNaN(v.Y) && !math.IsInf(v.Y, 0)
}

// ParseVector accepts either {"x": n, "y": n} or [x, y].
func ParseVector(arg any) (Vector, error) {
	switch val := arg.(type) {
	case map[string]any:
		x, err := toFloat(val["x"])
		if err != nil {
			return Vector{}, fmt.Errorf("%w: x: %v", ErrMalformed, err)
		}
		y, err := toFloat(val["y"])
		if err != nil {
			return Vector{}, fmt.Errorf("%w: y: %v", ErrMalformed, err)
		}
		return Vector{X: x, Y: y}, nil
	case []any:
		if len(val) != 2 {
			return Vector{}, fmt.Errorf("%w: vector needs 2 components, got %d", ErrMalformed, len(val))
		}
		x, err := toFloat(val[0])
		if err != nil {
			return Vector{}, fmt.Errorf("%w: x: %v", ErrMalformed, err)
		}
		y, err := toFloat(val[1])
		if err != nil {
			return Vector{}, fmt.Errorf("%w: y: %v", ErrMalformed, err)
		}
		return Vector{X: x, Y: y}, nil
	default:
		return Vector{}, fmt.Errorf("%w: vector of type %T", ErrMalformed, arg)
	}
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("not finite")
	}
	return f, nil
}
