package domain

type Destination string

const (
	DestinationLocal    Destination = "local"
	DestinationCloud    Destination = "cloud"
	DestinationWorkflow Destination = "workflow"
	DestinationCache    Destination = "cache"
)

func (d Destination) Valid() bool {
	switch d {
	case DestinationLocal, DestinationCloud, DestinationWorkflow, DestinationCache:
		return true
	default:
		return false
	}
}

// RoutingDecision names where one item is dispatched and why.
type RoutingDecision struct {
	RouteTo          Destination      `json:"route_to"`
	Model            string           `json:"model"`
	Reasoning        string           `json:"reasoning"`
	FallbackToCloud  bool             `json:"fallback_to_cloud,omitempty"`
	Rule             string           `json:"rule,omitempty"`
	OriginalDecision *RoutingDecision `json:"original_decision,omitempty"`
}
