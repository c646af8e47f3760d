package tracker

import (
	"math"
	"sort"

	hg "github.com/charles-haynes/munkres"
)

// MatchFunc assigns detections to tracks. The result has one entry per track
// holding the index of its centroid, or -1 when the track got no detection.
// Every centroid is assigned to at most one track.
type MatchFunc func(tracks []*Track, centroids []Point) []int

// Distance is the Euclidean distance between two centroids.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// BuildDistanceMatrix sets up the cost matrix shared by the matchers:
// rows are tracks, columns are centroids, cost is centroid distance.
func BuildDistanceMatrix(tracks []*Track, centroids []Point) [][]float64 {
	mtx := make([][]float64, len(tracks))
	for i, tr := range tracks {
		last := tr.Centroid()
		row := make([]float64, len(centroids))
		for j, c := range centroids {
			row[j] = Distance(last, c)
		}
		mtx[i] = row
	}
	return mtx
}

func unmatched(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = -1
	}
	return out
}

type candidate struct {
	track, det int
	trackID    int
	dist       float64
}

// GreedyMatcher repeatedly takes the closest remaining (track, centroid) pair.
// Ties go to the lowest track ID, then the lowest centroid index.
func GreedyMatcher(tracks []*Track, centroids []Point) []int {
	matches := unmatched(len(tracks))
	if len(tracks) == 0 || len(centroids) == 0 {
		return matches
	}
	mtx := BuildDistanceMatrix(tracks, centroids)
	pairs := make([]candidate, 0, len(tracks)*len(centroids))
	for i, row := range mtx {
		for j, d := range row {
			pairs = append(pairs, candidate{track: i, det: j, trackID: tracks[i].ID, dist: d})
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		if pairs[a].dist != pairs[b].dist {
			return pairs[a].dist < pairs[b].dist
		}
		if pairs[a].trackID != pairs[b].trackID {
			return pairs[a].trackID < pairs[b].trackID
		}
		return pairs[a].det < pairs[b].det
	})

	usedDets := make(map[int]struct{}, len(centroids))
	for _, p := range pairs {
		if matches[p.track] != -1 {
			continue
		}
		if _, used := usedDets[p.det]; used {
			continue
		}
		matches[p.track] = p.det
		usedDets[p.det] = struct{}{}
		if len(usedDets) == len(centroids) {
			break
		}
	}
	return matches
}

// HungarianMatcher finds the assignment with the smallest total distance
// via Munkres' method. If the solver cannot be built it falls back to GreedyMatcher.
func HungarianMatcher(tracks []*Track, centroids []Point) []int {
	if len(tracks) == 0 || len(centroids) == 0 {
		return unmatched(len(tracks))
	}
	mtx := BuildDistanceMatrix(tracks, centroids)
	HA, err := hg.NewHungarianAlgorithm(mtx)
	if err != nil {
		return GreedyMatcher(tracks, centroids)
	}
	matches := HA.Execute()
	out := unmatched(len(tracks))
	for i := range out {
		if i < len(matches) && matches[i] >= 0 && matches[i] < len(centroids) {
			out[i] = matches[i]
		}
	}
	return out
}

// MatcherByName maps the "matcher" config attribute to a MatchFunc.
func MatcherByName(name string) (MatchFunc, bool) {
	switch name {
	case "", "greedy":
		return GreedyMatcher, true
	case "hungarian":
		return HungarianMatcher, true
	default:
		return nil, false
	}
}
