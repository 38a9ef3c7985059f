package repository

import (
	"context"
	"sync"

	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/utils"
)

type memoryCursorRepository struct {
	mu     sync.Mutex
	states map[string]*models.CursorState
}

func NewMemoryCursorRepository() interfaces.CursorStore {
	return &memoryCursorRepository{states: make(map[string]*models.CursorState)}
}

func (r *memoryCursorRepository) Load(ctx context.Context, subscriptionID string) (*models.CursorState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[subscriptionID]
	if !ok {
		return &models.CursorState{SubscriptionID: subscriptionID}, nil
	}
	return state.Clone(), nil
}

func (r *memoryCursorRepository) Save(ctx context.Context, state *models.CursorState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	saved := state.Clone()
	saved.UpdatedAt = utils.Now()
	r.states[state.SubscriptionID] = saved
	return nil
}
