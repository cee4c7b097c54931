package async

import (
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-tcp/api"
)

// Env bundles the collaborators shared by connections of one runtime.
// Stack and Scheduler are required.
type Env struct {
	Stack     api.Stack
	Scheduler api.Scheduler
	Resolver  api.Resolver
	Clock     api.Clock
	Metrics   api.Metrics
	Logger    *zerolog.Logger
}

func (e *Env) normalized() *Env {
	n := *e
	if n.Stack == nil || n.Scheduler == nil {
		panic("async: Env requires a Stack and a Scheduler")
	}
	if n.Clock == nil {
		n.Clock = api.SystemClock{}
	}
	if n.Metrics == nil {
		n.Metrics = api.NopMetrics{}
	}
	if n.Logger == nil {
		nop := zerolog.Nop()
		n.Logger = &nop
	}
	return &n
}
