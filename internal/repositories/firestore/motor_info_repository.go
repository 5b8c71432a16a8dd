package firestore

import (
	"context"
	"errors"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	pfirestore "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/firestore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

const motorInfoCollection = "orderMotorInfo"

// MotorInfoRepository stores motor rows under the order id so the one-to-one relation is the key.
type MotorInfoRepository struct {
	base *pfirestore.Collection[motorInfoDocument]
}

var _ repositories.MotorInfoRepository = (*MotorInfoRepository)(nil)

func NewMotorInfoRepository(provider *pfirestore.Provider) (*MotorInfoRepository, error) {
	if provider == nil {
		return nil, errors.New("motor info repository requires firestore provider")
	}
	return &MotorInfoRepository{
		base: pfirestore.NewCollection[motorInfoDocument](provider, motorInfoCollection),
	}, nil
}

func (r *MotorInfoRepository) FindByOrder(ctx context.Context, orderID string) (domain.OrderMotorInfo, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.OrderMotorInfo{}, err
	}
	return decodeMotorInfo(doc.ID, doc.Data), nil
}

func (r *MotorInfoRepository) Upsert(ctx context.Context, info domain.OrderMotorInfo) error {
	return r.base.Set(ctx, info.OrderID, encodeMotorInfo(info))
}
