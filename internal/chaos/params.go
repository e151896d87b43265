package chaos

import (
	"github.com/mitchellh/mapstructure"

	"cluster-chaos/internal/stability"
)

var factories = map[Kind]func() Action{
	KindResolvePartition: func() Action { return &ResolvePartition{} },
	KindInduceQuorumLoss: func() Action { return &InduceQuorumLoss{Mode: QuorumReplicas} },
	KindInduceDataLoss:   func() Action { return &InduceDataLoss{Mode: PartialDataLoss} },
	KindRestartPartition: func() Action { return &RestartPartition{Mode: AllReplicasOrInstances} },
	KindMovePrimary:      func() Action { return &MovePrimary{} },
	KindMoveSecondary:    func() Action { return &MoveSecondary{} },
	KindRestartNode:      func() Action { return &RestartNode{Completion: Verify} },
	KindStartNode:        func() Action { return &StartNode{Completion: Verify} },
	KindStopNode:         func() Action { return &StopNode{Completion: Verify} },
	KindRestartReplica:   func() Action { return &RestartReplica{Completion: Verify} },
	KindRemoveReplica:    func() Action { return &RemoveReplica{Completion: Verify} },
	KindRestartDeployedCodePackage: func() Action {
		return &RestartDeployedCodePackage{Completion: Verify}
	},
	KindValidateService:     func() Action { return &ValidateService{Checks: stability.DefaultChecks()} },
	KindValidateApplication: func() Action { return &ValidateApplication{Checks: stability.DefaultChecks()} },
	KindValidateCluster:     func() Action { return &ValidateCluster{Checks: stability.DefaultChecks()} },
}

// Decode builds the action of the given kind from loosely typed parameters,
// as they arrive from JSON bodies or command-line flags. Durations may be
// strings like "90s". Unknown keys are rejected.
func Decode(kind Kind, params map[string]interface{}) (Action, error) {
	newAction, ok := factories[kind]
	if !ok {
		return nil, &ActionError{Code: CodeUnknownAction, Message: string(kind)}
	}
	action := newAction()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Squash:           true,
		Result:           action,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(params); err != nil {
		return nil, &ActionError{Code: CodeInvalidParameters, Message: string(kind), Cause: err}
	}
	return action, nil
}
