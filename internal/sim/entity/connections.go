package entity

import (
	"fmt"
	"sort"
)

const (
	WireRed   = "red"
	WireGreen = "green"
)

type ConnectionData struct {
	EntityID  int `json:"entity_id"`
	CircuitID int `json:"circuit_id,omitempty"`
}

type ConnectionPoint struct {
	Red   []ConnectionData `json:"red,omitempty"`
	Green []ConnectionData `json:"green,omitempty"`
}

func (p *ConnectionPoint) wire(color string) *[]ConnectionData {
	if color == WireGreen {
		return &p.Green
	}
	return &p.Red
}

// Connections maps a connection point id ("1", "2") to its wires.
type Connections map[string]*ConnectionPoint

func (c Connections) IsEmpty() bool {
	for _, p := range c {
		if p != nil && (len(p.Red) > 0 || len(p.Green) > 0) {
			return false
		}
	}
	return true
}

func (c Connections) Clone() Connections {
	if c == nil {
		return nil
	}
	out := make(Connections, len(c))
	for k, p := range c {
		if p == nil {
			continue
		}
		out[k] = &ConnectionPoint{
			Red:   append([]ConnectionData(nil), p.Red...),
			Green: append([]ConnectionData(nil), p.Green...),
		}
	}
	return out
}

// Add appends a wire; duplicates are ignored.
func (c *Connections) Add(point, color string, d ConnectionData) {
	if *c == nil {
		*c = Connections{}
	}
	p := (*c)[point]
	if p == nil {
		p = &ConnectionPoint{}
		(*c)[point] = p
	}
	w := p.wire(color)
	for _, x := range *w {
		if x == d {
			return
		}
	}
	*w = append(*w, d)
}

func (c Connections) Has(point, color string, d ConnectionData) bool {
	p := c[point]
	if p == nil {
		return false
	}
	for _, x := range *p.wire(color) {
		if x == d {
			return true
		}
	}
	return false
}

// Each calls fn for every wire in a stable order.
func (c Connections) Each(fn func(point, color string, d ConnectionData)) {
	points := make([]string, 0, len(c))
	for k := range c {
		points = append(points, k)
	}
	sort.Strings(points)
	for _, k := range points {
		p := c[k]
		if p == nil {
			continue
		}
		for _, d := range p.Red {
			fn(k, WireRed, d)
		}
		for _, d := range p.Green {
			fn(k, WireGreen, d)
		}
	}
}

// EntityIDs returns the distinct entity numbers c points at.
func (c Connections) EntityIDs() []int {
	seen := map[int]struct{}{}
	var out []int
	c.Each(func(_, _ string, d ConnectionData) {
		if _, ok := seen[d.EntityID]; ok {
			return
		}
		seen[d.EntityID] = struct{}{}
		out = append(out, d.EntityID)
	})
	sort.Ints(out)
	return out
}

// Remap rewrites every referenced entity number through m. An id missing
// from m is an error.
func (c Connections) Remap(m map[int]int) (Connections, error) {
	if c == nil {
		return nil, nil
	}
	var out Connections
	var err error
	c.Each(func(point, color string, d ConnectionData) {
		if err != nil {
			return
		}
		to, ok := m[d.EntityID]
		if !ok {
			err = fmt.Errorf("connection to unmapped entity number %d", d.EntityID)
			return
		}
		out.Add(point, color, ConnectionData{EntityID: to, CircuitID: d.CircuitID})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c Connections) Equal(o Connections) bool {
	n := 0
	eq := true
	c.Each(func(point, color string, d ConnectionData) {
		n++
		if !o.Has(point, color, d) {
			eq = false
		}
	})
	if !eq {
		return false
	}
	m := 0
	o.Each(func(_, _ string, _ ConnectionData) { m++ })
	return n == m
}
