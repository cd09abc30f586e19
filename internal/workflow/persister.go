package workflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/zulandar/jigged/internal/layout"
	"github.com/zulandar/jigged/internal/routing"
	"gorm.io/gorm"
)

// Persister is the write strategy behind editor gestures.
type Persister interface {
	AddNode(ctx context.Context, operationTypeID string, pos layout.Point) (routing.Ref, error)
	UpdateNode(ctx context.Context, ref routing.Ref, fields routing.NodeFields) error
	MoveNode(ctx context.Context, ref routing.Ref, pos layout.Point) error
	DeleteNode(ctx context.Context, ref routing.Ref) error
	AddEdge(ctx context.Context, source, target routing.Ref) (routing.Ref, error)
	DeleteEdge(ctx context.Context, ref routing.Ref) error
}

// storePersister writes every gesture through to the database.
type storePersister struct {
	db        *gorm.DB
	companyID string
	routingID string
}

func (p *storePersister) AddNode(ctx context.Context, operationTypeID string, pos layout.Point) (routing.Ref, error) {
	n, err := routing.AddNode(p.db.WithContext(ctx), p.companyID, p.routingID, routing.AddNodeOpts{
		OperationTypeID: operationTypeID,
		Position:        pos,
	})
	if err != nil {
		return routing.Ref{}, err
	}
	return routing.Existing(n.ID), nil
}

func (p *storePersister) UpdateNode(ctx context.Context, ref routing.Ref, fields routing.NodeFields) error {
	_, err := routing.UpdateNode(p.db.WithContext(ctx), p.companyID, p.routingID, ref.ID(), fields)
	return err
}

func (p *storePersister) MoveNode(ctx context.Context, ref routing.Ref, pos layout.Point) error {
	return routing.MoveNode(p.db.WithContext(ctx), p.companyID, p.routingID, ref.ID(), pos)
}

func (p *storePersister) DeleteNode(ctx context.Context, ref routing.Ref) error {
	return routing.DeleteNode(p.db.WithContext(ctx), p.companyID, p.routingID, ref.ID())
}

func (p *storePersister) AddEdge(ctx context.Context, source, target routing.Ref) (routing.Ref, error) {
	e, err := routing.AddEdge(p.db.WithContext(ctx), p.companyID, p.routingID, source.ID(), target.ID())
	if err != nil {
		return routing.Ref{}, err
	}
	return routing.Existing(e.ID), nil
}

func (p *storePersister) DeleteEdge(ctx context.Context, ref routing.Ref) error {
	return routing.DeleteEdge(p.db.WithContext(ctx), p.companyID, p.routingID, ref.ID())
}

// memoryPersister accepts every gesture without I/O; new entities get
// temporary ids.
type memoryPersister struct{}

func (memoryPersister) AddNode(context.Context, string, layout.Point) (routing.Ref, error) {
	return routing.New(uuid.NewString()), nil
}

func (memoryPersister) UpdateNode(context.Context, routing.Ref, routing.NodeFields) error { return nil }

func (memoryPersister) MoveNode(context.Context, routing.Ref, layout.Point) error { return nil }

func (memoryPersister) DeleteNode(context.Context, routing.Ref) error { return nil }

func (memoryPersister) AddEdge(context.Context, routing.Ref, routing.Ref) (routing.Ref, error) {
	return routing.New(uuid.NewString()), nil
}

func (memoryPersister) DeleteEdge(context.Context, routing.Ref) error { return nil }
