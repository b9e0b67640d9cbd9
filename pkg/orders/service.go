package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cajaflow/cajaflow/pkg/model"
)

var ErrOrderNotFound = errors.New("order not found")

// Repository is implemented by postgres.OrderRepository.
type Repository interface {
	GetByID(ctx context.Context, tenantID, orderID uuid.UUID) (*model.Order, error)
}

// OrderTotal is the collaborator view the payment engine consumes from order
// management: the total owed and whether the order is closed for collection.
type OrderTotal struct {
	AmountCents int64
	IsClosed    bool
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetOrderTotal(ctx context.Context, tenantID, orderID uuid.UUID) (OrderTotal, error) {
	order, err := s.repo.GetByID(ctx, tenantID, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OrderTotal{}, ErrOrderNotFound
		}
		return OrderTotal{}, err
	}
	return OrderTotal{
		AmountCents: order.TotalCents,
		IsClosed:    order.Status == model.OrderClosed,
	}, nil
}
