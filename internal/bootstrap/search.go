package bootstrap

import (
	"context"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
	"github.com/mickgian/pratikoai-retrieval/internal/core/ports"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/llm"
	"github.com/mickgian/pratikoai-retrieval/internal/infrastructure/resilience"
)

const searchOperationSuffix = ".search"

// guardedSearch routes a search backend through the resilience executor so a
// failing index trips its own breaker.
type guardedSearch struct {
	operation string
	next      ports.SearchBackend
	executor  *resilience.Executor
}

func guardSearch(name string, next ports.SearchBackend, executor *resilience.Executor) ports.SearchBackend {
	if executor == nil {
		return next
	}
	return &guardedSearch{operation: name + searchOperationSuffix, next: next, executor: executor}
}

func (g *guardedSearch) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchHit, error) {
	var hits []domain.SearchHit
	err := g.executor.Execute(ctx, g.operation, func(callCtx context.Context) error {
		var err error
		hits, err = g.next.Search(callCtx, req)
		return err
	}, llm.ClassifyError)
	if err != nil {
		return nil, err
	}
	return hits, nil
}
