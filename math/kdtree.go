// math/kdtree.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package math

import (
	gomath "math"
	"slices"
)

// KDNode is a node in a 2D KD-tree for Point2LL. Index records the
// position of Location in the slice the tree was built from.
type KDNode struct {
	Location Point2LL
	Index    int
	Left     *KDNode
	Right    *KDNode
	axis     int
}

type kdItem struct {
	p     Point2LL
	index int
}

// BuildKDTree constructs a balanced KD-tree from a slice of points.
// The tree alternates splitting by X (longitude) and Y (latitude) at each
// level. Invalid points are skipped; the provided slice is not modified.
func BuildKDTree(points []Point2LL) *KDNode {
	items := make([]kdItem, 0, len(points))
	for i, p := range points {
		if p.IsValid() {
			items = append(items, kdItem{p: p, index: i})
		}
	}
	if len(items) == 0 {
		return nil
	}
	return buildKDTreeRecursive(items, 0)
}

func buildKDTreeRecursive(items []kdItem, depth int) *KDNode {
	if len(items) == 0 {
		return nil
	}

	// Alternate between X (depth even) and Y (depth odd)
	axis := depth % 2
	if len(items) == 1 {
		return &KDNode{Location: items[0].p, Index: items[0].index, axis: axis}
	}

	// Sort by the splitting axis and find median
	slices.SortFunc(items, func(a, b kdItem) int {
		if a.p[axis] < b.p[axis] {
			return -1
		} else if a.p[axis] > b.p[axis] {
			return 1
		}
		return a.index - b.index
	})

	median := len(items) / 2

	return &KDNode{
		Location: items[median].p,
		Index:    items[median].index,
		Left:     buildKDTreeRecursive(items[:median], depth+1),
		Right:    buildKDTreeRecursive(items[median+1:], depth+1),
		axis:     axis,
	}
}

// Nearest returns the index and great-circle distance in metres of the
// point in the tree closest to p. The index is -1 for an empty tree or an
// invalid p.
func (tree *KDNode) Nearest(p Point2LL) (int, float64) {
	if tree == nil || !p.IsValid() {
		return -1, gomath.Inf(1)
	}

	best, bestDist := -1, gomath.Inf(1)
	tree.nearest(p, &best, &bestDist)
	return best, bestDist
}

func (node *KDNode) nearest(p Point2LL, best *int, bestDist *float64) {
	if node == nil {
		return
	}

	if d := DistanceMeters(p, node.Location); d < *bestDist || (d == *bestDist && node.Index < *best) {
		*best, *bestDist = node.Index, d
	}

	near, far := node.Left, node.Right
	if p[node.axis] >= node.Location[node.axis] {
		near, far = far, near
	}

	near.nearest(p, best, bestDist)
	if node.boundToSplit(p) <= *bestDist {
		far.nearest(p, best, bestDist)
	}
}

// boundToSplit returns a lower bound on the distance from p to any point
// on the far side of the node's splitting plane.
func (node *KDNode) boundToSplit(p Point2LL) float64 {
	if node.axis == 1 {
		// Any path must cross the latitude difference along a meridian
		return EarthRadius * Radians(Abs(p[1]-node.Location[1]))
	}

	// Points on the other side of a meridian can also be reached by
	// crossing the antimeridian.
	dlon := min(Abs(p[0]-node.Location[0]), 180-Abs(p[0]))
	if dlon >= 90 {
		return 0
	}
	return EarthRadius * SafeASin(gomath.Sin(Radians(dlon))*gomath.Cos(Radians(p[1])))
}
