package troubleshoot

import "wan-doctor/pkg/model"

// StepRegistry is the ordered catalog of diagnostic steps. The order is the
// execution order: each check only makes sense once the ones before it pass.
var StepRegistry = []model.StepDefinition{
	{
		ID:          model.StepTypeWAN,
		Name:        "WAN Link",
		Description: "Checks that the WAN interface is enabled and the physical link is up",
	},
	{
		ID:          model.StepTypeGateway,
		Name:        "Gateway",
		Description: "Pings the upstream gateway",
	},
	{
		ID:          model.StepTypeInternet,
		Name:        "Internet",
		Description: "Pings an external address to verify internet reachability",
	},
	{
		ID:          model.StepTypeDNS,
		Name:        "DNS",
		Description: "Resolves a well-known domain through the device resolver",
	},
	{
		ID:          model.StepTypeNAT,
		Name:        "NAT",
		Description: "Verifies a masquerade rule exists and is enabled for LAN egress",
	},
}

// NewSteps builds the run-time step list for a fresh session, all pending.
func NewSteps() []*model.Step {
	steps := make([]*model.Step, 0, len(StepRegistry))
	for _, def := range StepRegistry {
		steps = append(steps, &model.Step{Definition: def, Status: model.StepStatusPending})
	}
	return steps
}

// StepDefinitionByID returns the catalog entry for id, if registered.
func StepDefinitionByID(id model.StepType) (model.StepDefinition, bool) {
	for _, def := range StepRegistry {
		if def.ID == id {
			return def, true
		}
	}
	return model.StepDefinition{}, false
}

// SupportedStepIDs lists the registered step ids in execution order.
func SupportedStepIDs() []model.StepType {
	out := make([]model.StepType, 0, len(StepRegistry))
	for _, def := range StepRegistry {
		out = append(out, def.ID)
	}
	return out
}
