package model

import (
	"errors"
	"fmt"
)

// Node is one node of a regression tree. Leaves have Feature < 0.
//
// Value is the mean residual of the training rows that reached the node; for
// a leaf it is the leaf output. Internal values are kept so a prediction can
// be decomposed along its decision path.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
	Gain      float64 `json:"g,omitempty"`
	Cover     int     `json:"c,omitempty"`
}

// IsLeaf reports whether n has no children.
func (n Node) IsLeaf() bool { return n.Feature < 0 }

// Tree is a binary regression tree stored as a flat node slice rooted at 0.
// Rows with x[Feature] <= Threshold go left.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Leaf returns the index of the leaf reached by x.
func (t Tree) Leaf(x []float64) int {
	i := 0
	for {
		n := t.Nodes[i]
		if n.IsLeaf() {
			return i
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Predict returns the tree output for x.
func (t Tree) Predict(x []float64) float64 {
	return t.Nodes[t.Leaf(x)].Value
}

// contribute adds scale times the change in node value at every split on the
// path of x to the split feature's entry in out. The root value is the bias.
func (t Tree) contribute(x []float64, scale float64, out []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.IsLeaf() {
			return scale * t.Nodes[0].Value
		}
		next := n.Right
		if x[n.Feature] <= n.Threshold {
			next = n.Left
		}
		out[n.Feature] += scale * (t.Nodes[next].Value - n.Value)
		i = next
	}
}

func (t Tree) validate(nFeatures int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.IsLeaf() {
			continue
		}
		if n.Feature >= nFeatures {
			return fmt.Errorf("node %d splits on feature %d of %d", i, n.Feature, nFeatures)
		}
		// Children always follow their parent, which also rules out cycles.
		for _, c := range []int{n.Left, n.Right} {
			if c <= i || c >= len(t.Nodes) {
				return fmt.Errorf("node %d has child %d out of range", i, c)
			}
		}
	}
	return nil
}

// Ensemble is an additive gradient-boosted tree model:
// Base + LearningRate * sum of tree outputs.
type Ensemble struct {
	Base         float64 `json:"base"`
	LearningRate float64 `json:"learning_rate"`
	Trees        []Tree  `json:"trees"`
}

// Predict returns the raw, unclamped ensemble output for x.
func (e *Ensemble) Predict(x []float64) float64 {
	s := e.Base
	for _, t := range e.Trees {
		s += e.LearningRate * t.Predict(x)
	}
	return s
}

// Contributions decomposes Predict(x) into a bias plus one term per feature
// (Saabas path attribution): bias + sum(contrib) == Predict(x).
func (e *Ensemble) Contributions(x []float64) (bias float64, contrib []float64) {
	contrib = make([]float64, len(x))
	bias = e.Base
	for _, t := range e.Trees {
		bias += t.contribute(x, e.LearningRate, contrib)
	}
	return bias, contrib
}

// Validate checks the structure of every tree against the feature count.
func (e *Ensemble) Validate(nFeatures int) error {
	for i, t := range e.Trees {
		if err := t.validate(nFeatures); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}
