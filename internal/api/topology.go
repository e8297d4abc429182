package server

import (
	"net/http"
	"sort"

	"github.com/CogniPilot/dendrite/pkg/models"
)

// TopologyNode is one device's entry in the derived topology graph.
// Parent/child relationships are resolved from Device.ParentID on
// every request rather than stored, per the registry's "no persistent
// graph, only ID references" design.
type TopologyNode struct {
	ID       models.DeviceId   `json:"id"`
	Name     string            `json:"name"`
	Board    *string           `json:"board,omitempty"`
	IsParent bool              `json:"is_parent"`
	Port     *uint8            `json:"port,omitempty"`
	Children []models.DeviceId `json:"children"`
	Position *[6]float64       `json:"position,omitempty"`
}

// Topology is the response body for GET /api/topology.
type Topology struct {
	Nodes []TopologyNode  `json:"nodes"`
	Root  *models.DeviceId `json:"root,omitempty"`
}

func (s *Server) handleTopology(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	childrenOf := make(map[models.DeviceId][]models.DeviceId)
	var roots []models.DeviceId
	for _, d := range devices {
		if d.ParentID != nil {
			childrenOf[*d.ParentID] = append(childrenOf[*d.ParentID], d.ID)
		} else {
			roots = append(roots, d.ID)
		}
	}

	nodes := make([]TopologyNode, 0, len(devices))
	for _, d := range devices {
		children := childrenOf[d.ID]
		if children == nil {
			children = []models.DeviceId{}
		}
		nodes = append(nodes, TopologyNode{
			ID:       d.ID,
			Name:     d.Name,
			Board:    d.Info.Board,
			IsParent: len(children) > 0,
			Port:     d.Discovery.SwitchPort,
			Children: children,
			Position: d.Pose,
		})
	}

	topo := Topology{Nodes: nodes}
	if len(roots) == 1 {
		topo.Root = &roots[0]
	}
	writeJSON(w, http.StatusOK, topo)
}
