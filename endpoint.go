package agentlink

import "fmt"

// EnvironmentName is the name of the scene-level endpoint.
const EnvironmentName = "environment"

// Endpoint is one listening slot of a [Hub].
type Endpoint struct {
	Name string

	// Index of the agent, -1 for the environment endpoint.
	Index int
	Port  int
}

// IsEnvironment reports whether ep carries scene-level control.
func (ep Endpoint) IsEnvironment() bool {
	return ep.Index < 0
}

// AgentName is the endpoint name of the agent at index.
func AgentName(index int) string {
	return fmt.Sprintf("agent-%d", index)
}

// AgentPort is the port of the agent at index: the environment endpoint
// sits on basePort and agents follow it. A zero basePort keeps every port
// ephemeral.
func AgentPort(basePort, index int) int {
	if basePort == 0 {
		return 0
	}
	return basePort + index + 1
}

// Layout lists the environment endpoint followed by one endpoint per agent.
func Layout(basePort, agents int) []Endpoint {
	eps := make([]Endpoint, 0, agents+1)
	eps = append(eps, Endpoint{Name: EnvironmentName, Index: -1, Port: basePort})
	for i := 0; i < agents; i++ {
		eps = append(eps, Endpoint{Name: AgentName(i), Index: i, Port: AgentPort(basePort, i)})
	}
	return eps
}
