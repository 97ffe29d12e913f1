package analyzer

import (
	"github.com/bdougie/videoqa/internal/artifact"
	"github.com/bdougie/videoqa/internal/resilient"
	"github.com/bdougie/videoqa/internal/schema"
)

// Role fixes the system prompt and output shape of one call site.
// Vision roles receive the video; the others are text-only.
type Role struct {
	Name         string
	SystemPrompt string
	Schema       schema.Schema
	Vision       bool
}

// Roles lists the seven call sites of a run
type Roles struct {
	Answer    Role
	Captions  Role
	Targets   Role
	Scoped    Role
	Reconcile Role
	Questions Role
	Final     Role
}

// DefaultRoles returns the call sites with subinstruction appended to the
// answer and final system prompts.
func DefaultRoles(subinstruction string) Roles {
	return Roles{
		Answer: Role{
			Name:         "answer",
			SystemPrompt: answerPrompt + subinstruction,
			Schema:       schema.Object(schema.String("reasoning"), schema.String("answer")),
			Vision:       true,
		},
		Captions: Role{
			Name:         "captions",
			SystemPrompt: captionsPrompt,
			Schema:       schema.Object(schema.StringArray("timeframes")),
			Vision:       true,
		},
		Targets: Role{
			Name:         "targets",
			SystemPrompt: targetsPrompt,
			Schema:       schema.Object(schema.StringArray("targets")),
			Vision:       true,
		},
		Scoped: Role{
			Name:         "scoped",
			SystemPrompt: scopedPrompt,
			Schema:       schema.Object(schema.String("answer")),
			Vision:       true,
		},
		Reconcile: Role{
			Name:         "reconcile",
			SystemPrompt: reconcilePrompt,
			Schema:       schema.Object(schema.String("reasoning"), schema.Boolean("disagree")),
		},
		Questions: Role{
			Name:         "questions",
			SystemPrompt: questionsPrompt,
			Schema:       schema.Object(schema.StringArray("questions")),
		},
		Final: Role{
			Name:         "final",
			SystemPrompt: finalPrompt + subinstruction,
			Schema:       schema.Object(schema.String("reasoning"), schema.String("answer")),
		},
	}
}

// Clients holds one resilient client per call site
type Clients struct {
	Answer    *resilient.Client
	Captions  *resilient.Client
	Targets   *resilient.Client
	Scoped    *resilient.Client
	Reconcile *resilient.Client
	Questions *resilient.Client
	Final     *resilient.Client
}

// NewClients builds a client per role. All clients share cache and backoff.
func NewClients(roles Roles, newService func(Role) resilient.Service, cache *artifact.Cache, backoff *resilient.Backoff, opts ...resilient.Option) Clients {
	build := func(r Role) *resilient.Client {
		o := append([]resilient.Option{resilient.WithSchema(r.Schema)}, opts...)
		return resilient.NewClient(r.Name, newService(r), cache, backoff, o...)
	}
	return Clients{
		Answer:    build(roles.Answer),
		Captions:  build(roles.Captions),
		Targets:   build(roles.Targets),
		Scoped:    build(roles.Scoped),
		Reconcile: build(roles.Reconcile),
		Questions: build(roles.Questions),
		Final:     build(roles.Final),
	}
}
