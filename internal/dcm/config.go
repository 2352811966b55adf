package dcm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Topology is the controller-startup manifest describing every node in
// the rack: how many cores and how much memory each carries, so
// register_node calls don't need the information hardcoded.
type Topology struct {
	Nodes []NodeTopology `yaml:"nodes"`
}

// LoadTopology reads a Topology manifest from path.
func LoadTopology(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("dcm: read topology %s: %w", path, err)
	}
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Topology{}, fmt.Errorf("dcm: parse topology %s: %w", path, err)
	}
	for i, n := range t.Nodes {
		if n.Cores <= 0 {
			return Topology{}, fmt.Errorf("dcm: node %d (index %d): cores must be positive", n.NodeID, i)
		}
	}
	return t, nil
}
