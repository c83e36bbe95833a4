package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatgate/internal/domain"
	redisstore "github.com/gosuda/chatgate/internal/store/redis"
)

// IssueTask persists a dispatch task for a live session and broadcasts it to
// every gateway process.
func (s *Service) IssueTask(ctx context.Context, sessionID uuid.UUID, action domain.TaskAction) (*domain.Task, error) {
	sess, err := s.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.IssueTask: %w", err)
	}
	if sess.Finished() {
		return nil, fmt.Errorf("gateway.Service.IssueTask: session already finished: %w", domain.ErrConflict)
	}

	task := &domain.Task{
		ID:        uuid.New(),
		SessionID: sessionID,
		Action:    action,
		CreatedAt: time.Now(),
	}
	if err := s.repos.Tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("gateway.Service.IssueTask: %w", err)
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.IssueTask: marshal: %w", err)
	}
	if err := s.pubsub.Publish(ctx, redisstore.DispatchChannel(), payload); err != nil {
		return nil, fmt.Errorf("gateway.Service.IssueTask: publish: %w", err)
	}

	return task, nil
}

// DispatchTasks subscribes to the dispatch stream. The returned channel is
// closed when ctx ends or the subscription drops.
func (s *Service) DispatchTasks(ctx context.Context) (<-chan domain.Task, func(), error) {
	messages, cleanup, err := s.pubsub.Subscribe(ctx, redisstore.DispatchChannel())
	if err != nil {
		return nil, nil, fmt.Errorf("gateway.Service.DispatchTasks: %w", err)
	}

	out := make(chan domain.Task)
	go func() {
		defer close(out)
		for msg := range messages {
			var task domain.Task
			if err := json.Unmarshal(msg, &task); err != nil {
				log.Warn().Err(err).Msg("gateway.Service.DispatchTasks: malformed task dropped")
				continue
			}
			select {
			case out <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cleanup, nil
}

// FinishTask acknowledges a dispatch task.
func (s *Service) FinishTask(ctx context.Context, taskID uuid.UUID) error {
	if err := s.repos.Tasks.Finish(ctx, taskID); err != nil {
		return fmt.Errorf("gateway.Service.FinishTask: %w", err)
	}
	return nil
}
