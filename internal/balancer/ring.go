package balancer

import (
	"sort"
	"strconv"
	"strings"

	"vpc-gateway/internal/registry"
)

// ringReplicas is the number of virtual points each endpoint contributes.
// More points smooth the key distribution; 100 keeps rebuild cost trivial
// for the endpoint counts a route realistically has.
const ringReplicas = 100

// ring is a consistent-hash ring over one candidate set. Points map back
// to candidate indexes, which stay valid as long as the fingerprint (the
// ordered endpoint ids) matches the set being selected from.
type ring struct {
	fingerprint string
	points      []ringPoint
}

type ringPoint struct {
	hash  uint32
	index int
}

func fingerprintOf(candidates []*registry.Endpoint) string {
	var sb strings.Builder
	for i, ep := range candidates {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(ep.ID)
	}
	return sb.String()
}

func buildRing(candidates []*registry.Endpoint, fingerprint string) *ring {
	points := make([]ringPoint, 0, len(candidates)*ringReplicas)
	for i, ep := range candidates {
		for r := 0; r < ringReplicas; r++ {
			h := hash32(ep.ID + ":" + strconv.Itoa(r))
			points = append(points, ringPoint{hash: h, index: i})
		}
	}
	sort.Slice(points, func(a, b int) bool {
		if points[a].hash != points[b].hash {
			return points[a].hash < points[b].hash
		}
		return points[a].index < points[b].index
	})
	return &ring{fingerprint: fingerprint, points: points}
}

// lookup returns the candidate index owning the key: the first ring point
// at or clockwise of the key's hash, wrapping past the top.
func (r *ring) lookup(key string) int {
	h := hash32(key)
	i := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].hash >= h
	})
	if i == len(r.points) {
		i = 0
	}
	return r.points[i].index
}
