package community

import (
	"sort"

	"github.com/soundprediction/chronograph/pkg/types"
)

// MaxIterations bounds label propagation.
const MaxIterations = 100

// projection maps each node to its neighbors weighted by edge count.
type projection map[string][]types.Neighbor

// buildProjection builds the neighbor projection of a snapshot. Self loops
// and edges touching nodes outside the snapshot are ignored.
func buildProjection(nodes []*types.EntityNode, edges []*types.EntityEdge) projection {
	proj := make(projection, len(nodes))
	for _, n := range nodes {
		proj[n.Uuid] = nil
	}

	counts := make(map[string]map[string]int)
	for _, e := range edges {
		if e.SourceNodeID == e.TargetNodeID {
			continue
		}
		if _, ok := proj[e.SourceNodeID]; !ok {
			continue
		}
		if _, ok := proj[e.TargetNodeID]; !ok {
			continue
		}
		for _, pair := range [][2]string{{e.SourceNodeID, e.TargetNodeID}, {e.TargetNodeID, e.SourceNodeID}} {
			if counts[pair[0]] == nil {
				counts[pair[0]] = make(map[string]int)
			}
			counts[pair[0]][pair[1]]++
		}
	}

	for id, neighbors := range counts {
		list := make([]types.Neighbor, 0, len(neighbors))
		for other, n := range neighbors {
			list = append(list, types.Neighbor{NodeUUID: other, EdgeCount: n})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].NodeUUID < list[j].NodeUUID })
		proj[id] = list
	}
	return proj
}

// degree returns the number of edges touching id.
func (p projection) degree(id string) int {
	d := 0
	for _, n := range p[id] {
		d += n.EdgeCount
	}
	return d
}

// labelPropagation partitions the projection. Every node starts in its own
// community and repeatedly adopts the community with the most edge weight
// among its neighbors. Nodes are visited in id order and updated in place,
// so pairs cannot swap labels forever. Only clusters with more than one
// member are returned, each sorted by id.
func labelPropagation(proj projection) [][]string {
	if len(proj) == 0 {
		return nil
	}

	ids := make([]string, 0, len(proj))
	for id := range proj {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	communityMap := make(map[string]int, len(ids))
	for i, id := range ids {
		communityMap[id] = i
	}

	type communityScore struct {
		community int
		count     int
	}

	for iteration := 0; iteration < MaxIterations; iteration++ {
		noChange := true
		for _, id := range ids {
			current := communityMap[id]

			candidates := make(map[int]int)
			for _, n := range proj[id] {
				candidates[communityMap[n.NodeUUID]] += n.EdgeCount
			}

			scores := make([]communityScore, 0, len(candidates))
			for c, count := range candidates {
				scores = append(scores, communityScore{community: c, count: count})
			}
			sort.Slice(scores, func(i, j int) bool {
				if scores[i].count != scores[j].count {
					return scores[i].count > scores[j].count
				}
				return scores[i].community > scores[j].community
			})

			chosen := current
			if len(scores) > 0 {
				top := scores[0]
				if top.count > 1 {
					chosen = top.community
				} else if top.community > current {
					chosen = top.community
				}
			}

			if chosen != current {
				communityMap[id] = chosen
				noChange = false
			}
		}

		if noChange {
			break
		}
	}

	grouped := make(map[int][]string)
	for _, id := range ids {
		c := communityMap[id]
		grouped[c] = append(grouped[c], id)
	}

	var clusters [][]string
	for _, members := range grouped {
		if len(members) > 1 {
			clusters = append(clusters, members)
		}
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i][0] < clusters[j][0] })
	return clusters
}
