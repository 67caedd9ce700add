package planning

import (
	"container/heap"
	"context"
	"fmt"
	"math"

	"github.com/coop-transport/controller/pkg/geometry"
)

// maxGridCells bounds the occupancy grid so a bad resolution cannot exhaust
// memory.
const maxGridCells = 4_000_000

// GridPlanner is an A* planner over an occupancy grid covering
// [Lower, Upper] in both axes. Its goal is the nearest reachable staging
// point in front of one of the four box faces.
type GridPlanner struct {
	// SimplifyTolerance is the Douglas-Peucker tolerance in metres. Zero uses
	// the request clearance, or half the resolution when that is zero too.
	SimplifyTolerance float64
}

// NewGridPlanner creates a grid planner with default settings.
func NewGridPlanner() *GridPlanner {
	return &GridPlanner{}
}

// StagingPoints returns the four candidate points facing the box, one per
// face, at half-extent + robot radius + standoff from the box centre.
func StagingPoints(req Request) []geometry.Waypoint {
	reach := req.RobotRadius + req.Standoff
	along := req.Box.Length/2 + reach
	across := req.Box.Width/2 + reach

	local := [][2]float64{{along, 0}, {-along, 0}, {0, across}, {0, -across}}
	points := make([]geometry.Waypoint, 0, len(local))
	for _, p := range local {
		x, y := req.Box.ToWorld(p[0], p[1])
		points = append(points, geometry.Waypoint{X: x, Y: y})
	}
	return points
}

// Plan implements Planner.
func (g *GridPlanner) Plan(ctx context.Context, req Request) (geometry.Path, error) {
	if req.Resolution <= 0 {
		return nil, fmt.Errorf("%w: non-positive resolution %v", ErrPlanningFailure, req.Resolution)
	}
	if req.Upper <= req.Lower {
		return nil, fmt.Errorf("%w: empty workspace [%v, %v]", ErrPlanningFailure, req.Lower, req.Upper)
	}

	staging := StagingPoints(req)
	for _, p := range staging {
		if geometry.Distance(req.Start.X, req.Start.Y, p.X, p.Y) <= req.Resolution {
			return geometry.Path{}, nil
		}
	}

	grid, err := newOccupancyGrid(req)
	if err != nil {
		return nil, err
	}

	start, ok := grid.cellOf(req.Start.X, req.Start.Y)
	if !ok {
		return nil, fmt.Errorf("%w: start (%.3f, %.3f) outside workspace", ErrPlanningFailure, req.Start.X, req.Start.Y)
	}

	goals := make(map[int]geometry.Waypoint)
	for _, p := range staging {
		c, ok := grid.cellOf(p.X, p.Y)
		if !ok || grid.blocked[c] {
			continue
		}
		if _, seen := goals[c]; !seen {
			goals[c] = p
		}
	}
	if len(goals) == 0 {
		return nil, fmt.Errorf("%w: every staging point is outside the workspace or obstructed", ErrPlanningFailure)
	}

	cells, err := grid.search(ctx, start, goals)
	if err != nil {
		return nil, err
	}

	points := make(geometry.Path, len(cells))
	for i, c := range cells {
		points[i] = grid.centre(c)
	}
	points[0] = geometry.Waypoint{X: req.Start.X, Y: req.Start.Y}
	points[len(points)-1] = goals[cells[len(cells)-1]]

	tolerance := g.SimplifyTolerance
	if tolerance <= 0 {
		tolerance = req.Clearance
	}
	if tolerance <= 0 {
		tolerance = req.Resolution / 2
	}
	simplified := simplifyPath(points, tolerance)

	// The robot is already at the first point.
	return simplified[1:], nil
}

type occupancyGrid struct {
	lower      float64
	resolution float64
	size       int
	blocked    []bool
}

func newOccupancyGrid(req Request) (*occupancyGrid, error) {
	// Sized in float64 so a tiny resolution cannot overflow the cell count.
	n := math.Floor((req.Upper-req.Lower)/req.Resolution) + 1
	if math.IsNaN(n) || n*n > maxGridCells {
		return nil, fmt.Errorf("%w: grid of %.0fx%.0f cells exceeds limit", ErrPlanningFailure, n, n)
	}
	size := int(n)

	g := &occupancyGrid{
		lower:      req.Lower,
		resolution: req.Resolution,
		size:       size,
		blocked:    make([]bool, size*size),
	}
	inflate := req.RobotRadius + req.Clearance
	for c := range g.blocked {
		p := g.centre(c)
		for _, obs := range req.Obstacles {
			if obs.Contains(p.X, p.Y, inflate) {
				g.blocked[c] = true
				break
			}
		}
	}
	return g, nil
}

func (g *occupancyGrid) cellOf(x, y float64) (int, bool) {
	fi := math.Round((x - g.lower) / g.resolution)
	fj := math.Round((y - g.lower) / g.resolution)
	limit := float64(g.size)
	if !(fi >= 0 && fi < limit && fj >= 0 && fj < limit) {
		return 0, false
	}
	return int(fj)*g.size + int(fi), true
}

func (g *occupancyGrid) centre(c int) geometry.Waypoint {
	return geometry.Waypoint{
		X: g.lower + float64(c%g.size)*g.resolution,
		Y: g.lower + float64(c/g.size)*g.resolution,
	}
}

var directions = [8][2]int{
	{0, 1}, {1, 0}, {0, -1}, {-1, 0},
	{1, 1}, {1, -1}, {-1, 1}, {-1, -1},
}

// search runs A* from start until any goal cell is expanded. The start cell
// is always traversable so a robot grazing an inflated obstacle can leave it.
func (g *occupancyGrid) search(ctx context.Context, start int, goals map[int]geometry.Waypoint) ([]int, error) {
	heuristic := func(c int) float64 {
		p := g.centre(c)
		best := math.Inf(1)
		for gc := range goals {
			q := g.centre(gc)
			best = math.Min(best, geometry.Distance(p.X, p.Y, q.X, q.Y))
		}
		return best
	}

	gScore := map[int]float64{start: 0}
	parent := map[int]int{}
	closed := make(map[int]bool)

	open := &priorityQueue{}
	heap.Push(open, &node{cell: start, f: heuristic(start)})

	for expanded := 0; open.Len() > 0; expanded++ {
		if expanded%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		current := heap.Pop(open).(*node)
		if closed[current.cell] {
			continue
		}
		if _, ok := goals[current.cell]; ok {
			return reconstruct(parent, start, current.cell), nil
		}
		closed[current.cell] = true

		ci, cj := current.cell%g.size, current.cell/g.size
		for _, d := range directions {
			ni, nj := ci+d[0], cj+d[1]
			if ni < 0 || ni >= g.size || nj < 0 || nj >= g.size {
				continue
			}
			next := nj*g.size + ni
			if g.blocked[next] || closed[next] {
				continue
			}
			// No corner cutting past a blocked cell.
			if d[0] != 0 && d[1] != 0 && (g.blocked[cj*g.size+ni] || g.blocked[nj*g.size+ci]) {
				continue
			}

			step := g.resolution
			if d[0] != 0 && d[1] != 0 {
				step *= math.Sqrt2
			}
			tentative := gScore[current.cell] + step
			if old, ok := gScore[next]; ok && tentative >= old {
				continue
			}
			gScore[next] = tentative
			parent[next] = current.cell
			heap.Push(open, &node{cell: next, f: tentative + heuristic(next)})
		}
	}

	return nil, fmt.Errorf("%w: no collision-free route to a staging point", ErrPlanningFailure)
}

func reconstruct(parent map[int]int, start, goal int) []int {
	cells := []int{goal}
	for c := goal; c != start; {
		c = parent[c]
		cells = append(cells, c)
	}
	for i, j := 0, len(cells)-1; i < j; i, j = i+1, j-1 {
		cells[i], cells[j] = cells[j], cells[i]
	}
	if len(cells) == 1 {
		// Start and goal share a cell.
		cells = append(cells, goal)
	}
	return cells
}

type node struct {
	cell  int
	f     float64
	index int
}

type priorityQueue []*node

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool { return pq[i].f < pq[j].f }

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x interface{}) {
	n := x.(*node)
	n.index = len(*pq)
	*pq = append(*pq, n)
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	last := len(old) - 1
	n := old[last]
	old[last] = nil
	n.index = -1
	*pq = old[:last]
	return n
}

// simplifyPath is Douglas-Peucker over the waypoint list; the endpoints are
// always kept.
func simplifyPath(path geometry.Path, epsilon float64) geometry.Path {
	if len(path) < 3 {
		return path
	}

	dmax, index := 0.0, 0
	first, last := path[0], path[len(path)-1]
	for i := 1; i < len(path)-1; i++ {
		if d := segmentDistance(path[i], first, last); d > dmax {
			dmax, index = d, i
		}
	}

	if dmax > epsilon {
		left := simplifyPath(path[:index+1], epsilon)
		right := simplifyPath(path[index:], epsilon)
		out := make(geometry.Path, 0, len(left)+len(right)-1)
		out = append(out, left[:len(left)-1]...)
		return append(out, right...)
	}
	return geometry.Path{first, last}
}

func segmentDistance(p, a, b geometry.Waypoint) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	if dx == 0 && dy == 0 {
		return geometry.Distance(p.X, p.Y, a.X, a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))
	return geometry.Distance(p.X, p.Y, a.X+t*dx, a.Y+t*dy)
}
